package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marindock/shipmate/internal/engine"
	"github.com/marindock/shipmate/internal/retrieval"
)

const (
	defaultMaxContextTokens = 4000
	defaultMaxHistoryTokens = 1000
)

const systemInstruction = `You are an expert Ship Maintenance AI Assistant.
Use the retrieved internal documents to answer the user's question accurately and concisely.
If the documents don't contain the answer, state that clearly.
Prioritize safety procedures and standard operating protocols mentioned in the documents.`

const contextHeader = "\n\n[Retrieved Internal Documents]\n"

// Composer assembles the chat messages for a knowledge-base answer from
// retrieved context chunks, recent conversation history, and the user's
// question. Retrieved documents ride in the system message under a token
// budget; history gets its own smaller budget so long conversations cannot
// crowd out the context.
type Composer struct {
	MaxContextTokens int
	MaxHistoryTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{
		MaxContextTokens: maxContextTokens,
		MaxHistoryTokens: defaultMaxHistoryTokens,
	}
}

// Compose builds the message sequence for one answer: a system message
// carrying the assistant instruction plus the retrieved documents, the most
// recent history turns that fit the history budget, and finally the user's
// question.
func (c *Composer) Compose(prompt string, history []engine.Message, chunks []retrieval.ContextChunk) []engine.Message {
	msgs := []engine.Message{
		{Role: "system", Content: c.buildSystemMessage(chunks)},
	}
	msgs = append(msgs, recentHistory(history, c.MaxHistoryTokens)...)
	msgs = append(msgs, engine.Message{
		Role:    "user",
		Content: "User Question: " + prompt,
	})
	return msgs
}

// buildSystemMessage appends the retrieved documents to the base instruction,
// respecting the token budget by dropping lowest-scoring chunks first.
func (c *Composer) buildSystemMessage(chunks []retrieval.ContextChunk) string {
	var sb strings.Builder
	sb.WriteString(systemInstruction)

	if len(chunks) == 0 {
		return sb.String()
	}

	// Sort chunks by score descending.
	sorted := make([]retrieval.ContextChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	// Budget: instruction plus injected documents must stay under
	// MaxContextTokens.
	remaining := c.MaxContextTokens - EstimateTokens(sb.String()) - EstimateTokens(contextHeader)

	var selected []string
	for _, ch := range sorted {
		entry := formatChunk(ch)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	if len(selected) > 0 {
		sb.WriteString(contextHeader)
		for _, entry := range selected {
			sb.WriteString(entry)
		}
	}

	return sb.String()
}

// recentHistory returns the most recent user/assistant turns that fit the
// token budget, in chronological order.
func recentHistory(history []engine.Message, budget int) []engine.Message {
	if budget <= 0 || len(history) == 0 {
		return nil
	}

	var kept []engine.Message
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		tokens := EstimateTokens(msg.Content)
		if used+tokens > budget {
			break
		}
		kept = append(kept, msg)
		used += tokens
	}

	// kept is newest-first; restore chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

func formatChunk(ch retrieval.ContextChunk) string {
	label := ch.Title
	if label == "" {
		label = ch.SourceID
	}
	return fmt.Sprintf("(Score: %.2f, Source: %s: %s)\n%s\n\n", ch.Score, ch.SourceType, label, ch.Text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
