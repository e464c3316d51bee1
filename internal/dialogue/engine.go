// Package dialogue is the turn controller for the assistant: it selects
// exactly one response strategy per user turn (forced web search, the
// troubleshooting state machine, or knowledge base answering with a
// web-search fallback) and always produces a complete, labeled response.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/marindock/shipmate/internal/catalog"
	"github.com/marindock/shipmate/internal/engine"
	"github.com/marindock/shipmate/internal/fallback"
	"github.com/marindock/shipmate/internal/intent"
	"github.com/marindock/shipmate/internal/sufficiency"
)

// Knowledge answers a question from the internal knowledge base.
type Knowledge interface {
	Answer(ctx context.Context, prompt string, history []engine.Message) (string, error)
}

// Fallback runs the web-search-then-synthesize escalation.
type Fallback interface {
	Enabled() bool
	Run(ctx context.Context, query string) (answer, source string)
}

// Engine evaluates the response strategies for each turn. Strategies are
// mutually exclusive: the first one whose conditions hold handles the turn.
type Engine struct {
	catalog   *catalog.Handle
	knowledge Knowledge
	fallback  Fallback
}

// NewEngine wires the turn controller to its collaborators. fb may be nil
// when web search is not configured.
func NewEngine(handle *catalog.Handle, knowledge Knowledge, fb Fallback) *Engine {
	return &Engine{
		catalog:   handle,
		knowledge: knowledge,
		fallback:  fb,
	}
}

// ProcessTurn evaluates one user turn and returns the complete response.
// It never panics outward: any internal fault becomes a server-error
// response with the state reset. The returned history is the request
// history plus the user turn and the assistant turn.
func (e *Engine) ProcessTurn(ctx context.Context, req Request) (resp Response) {
	resp = Response{
		Answer:   "Sorry, something went wrong processing your request.",
		Source:   "Error",
		State:    req.State,
		Strategy: "rag",
	}
	resp.History = append(append([]Turn{}, req.History...), Turn{Role: "user", Content: req.Prompt})

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing turn", "panic", r)
			resp.Answer = fmt.Sprintf("An unexpected server error occurred: %T", r)
			resp.Source = "Server Error"
			resp.State = State{}
			resp.OfferWebSearch = false
		}
		if resp.Answer == "" {
			slog.Error("assistant response was empty before final assembly")
			resp.Answer = "Sorry, I encountered an issue and couldn't generate a response."
			resp.Source = "Error"
		}
		resp.History = append(resp.History, Turn{Role: "assistant", Content: resp.Answer})
	}()

	e.run(ctx, req, &resp)
	return resp
}

func (e *Engine) run(ctx context.Context, req Request, resp *Response) {
	if req.ForceWebSearch {
		slog.Info("forcing web search based on request flag")
		resp.Strategy = "forced_web_search"
		resp.State = State{}
		if !e.webSearchEnabled() {
			resp.Answer = "Web search was requested, but it is currently disabled (missing API key or initialization error)."
			resp.Source = "Web Search Disabled"
			return
		}
		resp.Answer, resp.Source = e.fallback.Run(ctx, req.Prompt)
		return
	}

	contextualPrompt := req.Prompt

	if req.State.IsActive && req.State.CurrentProblem != "" {
		resp.Problem = req.State.CurrentProblem
		switch {
		case intent.IsProblemSolved(req.Prompt):
			e.solved(resp, req.State.CurrentProblem)
			return
		case intent.IsProblemNotSolved(req.Prompt):
			e.nextStep(resp, req.State)
			return
		default:
			// A question mid-troubleshooting: answer it from the knowledge
			// base with the session as context, keeping the state as is.
			contextualPrompt = fmt.Sprintf(
				"Context: Currently troubleshooting ship problem '%s' (last suggested step was %d). User asks: %s",
				req.State.CurrentProblem, req.State.CurrentStep, req.Prompt,
			)
			resp.Strategy = "rag_troubleshooting_context"
			resp.ContextPrompt = contextualPrompt
		}
	} else if !req.State.IsActive {
		if cat := e.catalog.Get(); cat.Len() > 0 {
			if problem, ok := intent.DetectProblem(req.Prompt, cat); ok && intent.IsAskingForHelp(req.Prompt) {
				e.start(resp, problem)
				return
			}
		}
	}

	e.answerFromKnowledge(ctx, req, contextualPrompt, resp)
}

func (e *Engine) solved(resp *Response, problem string) {
	resp.Strategy = "solved"
	resp.Answer = fmt.Sprintf("Excellent! Glad to hear the issue with **'%s'** is resolved. How else can I help?", problem)
	resp.Source = "Troubleshooting Solved"
	resp.State = State{}
}

func (e *Engine) nextStep(resp *Response, state State) {
	resp.Strategy = "next_step"
	n, text, _, ok := e.catalog.Get().NextStep(state.CurrentProblem, state.CurrentStep)
	if ok {
		resp.State = State{IsActive: true, CurrentProblem: state.CurrentProblem, CurrentStep: n}
		resp.Answer = fmt.Sprintf(
			"Okay, let's try the next step for **'%s'**:\n\n**Step %d: %s**\n\nPlease try this and let me know if it solved the problem.",
			state.CurrentProblem, n, text,
		)
		resp.Source = "Troubleshooting Step"
		return
	}

	resp.Answer = fmt.Sprintf(
		"We've tried all the documented steps for **'%s'**.\n\nI couldn't resolve it with the internal guide.",
		state.CurrentProblem,
	)
	resp.Source = "Troubleshooting End"
	if e.webSearchEnabled() {
		resp.OfferWebSearch = true
		resp.Answer += "\n\nWould you like me to search the web for additional insights?"
	}
	resp.State = State{}
}

func (e *Engine) start(resp *Response, problem string) {
	resp.Strategy = "start_troubleshooting"
	resp.Problem = problem

	rec, ok := e.catalog.Get().Get(problem)
	if !ok {
		// The catalog changed between detection and fetch.
		resp.Answer = "I recognized the problem, but encountered an internal error retrieving the steps."
		resp.Source = "Error"
		resp.State = State{}
		return
	}

	n, text, stepOK := rec.NextStep(0)
	if !stepOK {
		resp.Answer = fmt.Sprintf("I found **'%s'** in the guide, but there are no specific solution steps listed.", problem)
		resp.Source = "Troubleshooting No Steps"
		if e.webSearchEnabled() {
			resp.OfferWebSearch = true
			resp.Answer += "\n\nWould you like me to search the web?"
		}
		resp.State = State{}
		return
	}

	resp.State = State{IsActive: true, CurrentProblem: problem, CurrentStep: n}
	causeText := ""
	if c := rec.PossibleCause; c != "" && c != "N/A" {
		causeText = fmt.Sprintf("(Possible Cause: *%s*)", c)
	}
	resp.Answer = fmt.Sprintf(
		"Okay, let's start troubleshooting for **'%s'**. %s\n\n**Step %d: %s**\n\nPlease perform this step and tell me if it solved the problem.",
		problem, causeText, n, text,
	)
	resp.Source = "Troubleshooting Start"
}

// answerFromKnowledge runs the knowledge base call and, when the answer is
// insufficient, the web-search fallback. The fallback always receives the
// original prompt, never the troubleshooting-context annotation.
func (e *Engine) answerFromKnowledge(ctx context.Context, req Request, contextualPrompt string, resp *Response) {
	slog.Info("performing knowledge base call", "prompt", contextualPrompt)
	ragAnswer, err := e.knowledge.Answer(ctx, contextualPrompt, toMessages(req.History))
	if err != nil {
		// A failed retrieval blocks the fallback: a busy or broken backend
		// would fail the synthesis step too.
		f := Classify(err)
		if f.Kind == RateLimited {
			resp.Answer = "The AI service is temporarily busy due to high demand." + f.RetryHint()
			resp.Source = "Error (Rate Limited)"
			return
		}
		slog.Error("knowledge base call failed", "kind", f.Detail, "error", err)
		resp.Answer = fmt.Sprintf("Sorry, an error occurred while retrieving information from the knowledge base (%s).", f.Detail)
		resp.Source = "Error (RAG Failure)"
		return
	}

	ragAnswer = strings.TrimSpace(ragAnswer)
	if ragAnswer != "" && sufficiency.IsSufficient(ragAnswer) {
		resp.Answer = ragAnswer
		resp.Source = "Internal Knowledge (RAG)"
		return
	}

	if ragAnswer == "" {
		slog.Warn("knowledge base returned an empty answer, attempting web search fallback")
	}

	if !e.webSearchEnabled() {
		slog.Warn("knowledge base answer insufficient and web search is disabled")
		if ragAnswer != "" {
			resp.Answer = ragAnswer + "\n\n_(Internal knowledge was limited, and web search is currently unavailable.)_"
		} else {
			resp.Answer = "I couldn't find specific information in the internal guide, and web search is currently unavailable."
		}
		resp.Source = "Internal Knowledge (Limited)"
		return
	}

	webAnswer, webSource := e.fallback.Run(ctx, req.Prompt)
	combine(resp, ragAnswer, webAnswer, webSource)
}

// combine merges an insufficient knowledge base answer with the fallback
// outcome into the final answer and source label.
func combine(resp *Response, ragAnswer, webAnswer, webSource string) {
	switch webSource {
	case fallback.SourceSynthesis:
		if webAnswer != "" {
			resp.Answer = webAnswer
			resp.Source = webSource
			return
		}
		// Success label without text; treat as an unusable result.
		unusableResult(resp, ragAnswer, webSource)

	case fallback.SourceNoResults, fallback.SourceSynthesisEmpty, fallback.SourceDisabled:
		resp.Source = webSource
		if ragAnswer != "" {
			resp.Answer = ragAnswer + "\n\n" + webAnswer
		} else {
			resp.Answer = webAnswer
		}

	case fallback.SourceError, "Error (Rate Limited)":
		if ragAnswer != "" {
			resp.Answer = fmt.Sprintf("%s\n\n_(%s)_", ragAnswer, webAnswer)
			resp.Source = "Internal Knowledge (Limited)"
		} else {
			resp.Answer = "I couldn't find information internally. " + webAnswer
			resp.Source = "Error"
		}

	default:
		slog.Error("unexpected fallback outcome", "source", webSource)
		unusableResult(resp, ragAnswer, webSource)
	}
}

func unusableResult(resp *Response, ragAnswer, webSource string) {
	if ragAnswer != "" {
		resp.Answer = fmt.Sprintf(
			"%s\n\n_(Internal knowledge was limited. Web search fallback did not produce a usable result [State: %s])_",
			ragAnswer, webSource,
		)
	} else {
		resp.Answer = fmt.Sprintf(
			"I couldn't find information internally, and the web search fallback did not produce a usable result [State: %s].",
			webSource,
		)
	}
	resp.Source = "Internal Knowledge (Limited)"
}

func (e *Engine) webSearchEnabled() bool {
	return e.fallback != nil && e.fallback.Enabled()
}

func toMessages(history []Turn) []engine.Message {
	if len(history) == 0 {
		return nil
	}
	msgs := make([]engine.Message, len(history))
	for i, t := range history {
		msgs[i] = engine.Message{Role: t.Role, Content: t.Content}
	}
	return msgs
}
