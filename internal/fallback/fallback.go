// Package fallback orchestrates the web-search-then-synthesize escalation
// used when internal knowledge cannot answer a question. The orchestrator
// never returns an error: every failure is absorbed into a labeled, human
// readable outcome so the turn controller can always respond.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/marindock/shipmate/internal/engine"
	"github.com/marindock/shipmate/internal/websearch"
)

// Source labels for fallback outcomes.
const (
	SourceDisabled       = "Web Search Disabled"
	SourceNoResults      = "Web Search No Results"
	SourceSynthesisEmpty = "Web Search Synthesis Failed (Empty)"
	SourceSynthesis      = "Web Search Synthesis (Ship Focused)"
	SourceError          = "Error"
)

// synthesisTemperature keeps web result synthesis grounded in the snippets.
const synthesisTemperature = 0.2

const synthesisPromptTemplate = `You are an expert AI Assistant specializing **exclusively in Ship Maintenance and Troubleshooting**.
A user asked the following question related to a ship system:
"%s"
An initial search of the internal knowledge base did not provide a sufficiently specific or actionable answer.
Your task is to analyze the following web search results and synthesize a *concise, actionable, and relevant* answer **specifically for a maritime/ship context**.
**Instructions for Synthesis:**
1.  **Filter Relevance:** Discard any information clearly not applicable to ships, marine environments, or industrial equipment typically found on vessels. Focus on results mentioning specific ship components, marine standards, or common maritime issues.
2.  **Extract Actions:** Identify potential diagnostic steps, repair procedures, or safety precautions relevant to the user's query. If steps are found, list them clearly (e.g., using numbered points). **Select the most credible and actionable solution path if multiple options exist.**
3.  **Synthesize, Don't List:** Do not just list snippets from the search results. Combine the relevant information into a coherent response.
4.  **Prioritize Safety:** If the query involves potentially hazardous systems (electrical, hydraulic, fuel, high pressure), emphasize safety precautions mentioned in the results or add standard warnings (e.g., "Ensure the system is de-energized/depressurized before work," "Follow lock-out/tag-out procedures").
5.  **Acknowledge Source:** Begin your response by clearly stating that the information is based on external web search results (e.g., "Based on information gathered from web sources related to ship systems...").
6.  **Advise Caution:** Conclude by advising the user to consult the official ship/equipment manuals or a qualified marine engineer/technician, especially if the problem persists or the task is complex.
7.  **Be Concise:** Provide the necessary information without unnecessary jargon or lengthy explanations, unless explaining a critical concept.
--- WEB SEARCH RESULTS ---
%s
--- END WEB SEARCH RESULTS ---
Synthesized Answer (following all instructions above) for the ship maintenance query "%s":`

// Searcher runs a web search for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]websearch.Result, error)
}

// Chatter generates a completion from a prompt.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema, opts engine.ChatOptions) (string, error)
}

// Orchestrator runs the search-then-synthesize sequence. A nil Searcher
// means web search is not configured; a nil Chatter means no model is
// available for synthesis.
type Orchestrator struct {
	search   Searcher
	chat     Chatter
	model    string
	maxChars int
}

// New creates an Orchestrator synthesizing with the given chat model.
func New(search Searcher, chat Chatter, model string) *Orchestrator {
	return &Orchestrator{
		search:   search,
		chat:     chat,
		model:    model,
		maxChars: websearch.DefaultMaxChars,
	}
}

// SetMaxChars overrides the character budget for the formatted search
// results passed to the synthesis model. Values <= 0 are ignored.
func (o *Orchestrator) SetMaxChars(n int) {
	if n > 0 {
		o.maxChars = n
	}
}

// Enabled reports whether a web-search collaborator is configured.
func (o *Orchestrator) Enabled() bool {
	return o != nil && o.search != nil
}

// Run searches the web for the query and synthesizes a ship-focused answer
// from the results. It returns the answer text and its source label.
func (o *Orchestrator) Run(ctx context.Context, query string) (answer, source string) {
	slog.Info("initiating web search and synthesis", "query", query)

	if !o.Enabled() {
		slog.Warn("web search requested but no search client is configured")
		return "Web search is currently disabled.", SourceDisabled
	}
	if o.chat == nil {
		slog.Error("no model available for web search synthesis")
		return "Sorry, the AI model is not available to process web search results.", SourceError
	}

	results, err := o.search.Search(ctx, query)
	if err != nil {
		return o.failure(err)
	}
	slog.Info("web search returned results", "count", len(results))
	if len(results) == 0 {
		return "I searched the web, but couldn't find any relevant results for your query.", SourceNoResults
	}

	formatted := websearch.FormatForModel(results, o.maxChars)
	prompt := fmt.Sprintf(synthesisPromptTemplate, query, formatted, query)

	text, err := o.chat.Chat(ctx, o.model, []engine.Message{{Role: "user", Content: prompt}}, nil, engine.ChatOptions{Temperature: synthesisTemperature})
	if err != nil {
		return o.failure(err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		slog.Warn("synthesis produced an empty answer")
		return "I processed the web search results, but could not synthesize a specific answer based on them.", SourceSynthesisEmpty
	}

	slog.Info("synthesized ship-focused answer from web results", "length", len(text))
	return text, SourceSynthesis
}

func (o *Orchestrator) failure(err error) (string, string) {
	slog.Error("web search or synthesis failed", "error", err)
	if strings.Contains(strings.ToLower(err.Error()), "api key") {
		return "There seems to be an issue with the API key required for web search or processing.", SourceError
	}
	msg := fmt.Sprintf("Sorry, I encountered an error (%s) while trying to search the web or process the results for ship information.", errorKind(err))
	return msg, SourceError
}

// errorKind names the failure class for the user-facing message.
func errorKind(err error) string {
	var coded interface{ HTTPStatus() int }
	switch {
	case errors.As(err, &coded) && coded.HTTPStatus() == http.StatusTooManyRequests:
		return "RateLimited"
	case errors.As(err, &coded):
		return fmt.Sprintf("HTTP %d", coded.HTTPStatus())
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	default:
		return "RequestFailed"
	}
}
