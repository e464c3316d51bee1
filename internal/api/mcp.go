package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marindock/shipmate/internal/catalog"
	"github.com/marindock/shipmate/internal/dialogue"
	"github.com/marindock/shipmate/internal/retrieval"
	"github.com/marindock/shipmate/internal/storage"
)

// Searcher abstracts semantic knowledge base search for the MCP layer.
// *retrieval.Retriever implements it.
type Searcher interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.ContextChunk, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Assistant Assistant
	KB        KB
	Searcher  Searcher
	Catalog   *catalog.Handle

	EngineReady      bool
	WebSearchEnabled bool
	TavilyKeySet     bool
}

// NewMCPServer creates an MCP server exposing the assistant's tools and
// resources over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"shipmate",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("shipmate is a ship maintenance troubleshooting assistant backed by a local knowledge base."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("troubleshoot",
			mcp.WithDescription("Ask the ship maintenance assistant a question or continue a guided troubleshooting session."),
			mcp.WithString("prompt", mcp.Description("User question, or the reply to the last suggested step"), mcp.Required()),
			mcp.WithString("problem", mcp.Description("Active troubleshooting problem when resuming a guided session")),
			mcp.WithNumber("step", mcp.Description("Last suggested step number of the active session")),
		),
		mcpTroubleshoot(deps),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Semantically search the ship knowledge base and return scored chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("list_problems",
			mcp.WithDescription("List the troubleshooting guide problems with their possible causes and step counts."),
		),
		mcpListProblems(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"kb://status",
			"Knowledge Base Status",
			mcp.WithResourceDescription("Operational status of the assistant and its knowledge base"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"log://recent",
			"Recent Interactions",
			mcp.WithResourceDescription("Last 10 processed chat turns (prompts truncated)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpTroubleshoot(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}

		turn := dialogue.Request{Prompt: prompt}
		if problem := req.GetString("problem", ""); problem != "" {
			turn.State = dialogue.State{
				IsActive:       true,
				CurrentProblem: problem,
				CurrentStep:    req.GetInt("step", 0),
			}
		}

		resp := deps.Assistant.ProcessTurn(ctx, turn)

		out := struct {
			Answer         string         `json:"answer"`
			Source         string         `json:"final_answer_source"`
			State          dialogue.State `json:"troubleshooting_state"`
			OfferWebSearch bool           `json:"offer_web_search"`
		}{resp.Answer, resp.Source, resp.State, resp.OfferWebSearch}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 20 {
			limit = 20
		}

		chunks, err := deps.Searcher.Retrieve(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			ID         string  `json:"id"`
			SourceType string  `json:"source_type"`
			SourceID   string  `json:"source_id"`
			Problem    string  `json:"problem,omitempty"`
			Title      string  `json:"title,omitempty"`
			Text       string  `json:"text"`
			Score      float32 `json:"score"`
		}

		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{
				ID:         c.ID,
				SourceType: c.SourceType,
				SourceID:   c.SourceID,
				Problem:    c.Problem,
				Title:      c.Title,
				Text:       c.Text,
				Score:      c.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListProblems(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		type problemEntry struct {
			Problem       string `json:"problem"`
			PossibleCause string `json:"possible_cause,omitempty"`
			Steps         int    `json:"steps"`
		}

		records := deps.Catalog.Get().Records()
		entries := make([]problemEntry, len(records))
		for i, rec := range records {
			entries[i] = problemEntry{
				Problem:       rec.Problem,
				PossibleCause: rec.PossibleCause,
				Steps:         rec.StepCount(),
			}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal problems: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		status, kb := buildStatus(deps.KB, deps.EngineReady, deps.WebSearchEnabled, deps.TavilyKeySet)

		out := struct {
			StatusResponse
			Chunks   int `json:"chunks"`
			Problems int `json:"problems"`
		}{status, kb.Chunks, kb.Problems}

		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Store.GetRecentInteractions(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Prompt    string `json:"prompt"`
			Source    string `json:"final_answer_source"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			prompt := ix.Prompt
			if utf8.RuneCountInString(prompt) > 200 {
				runes := []rune(prompt)
				prompt = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Prompt:    prompt,
				Source:    ix.Source,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
