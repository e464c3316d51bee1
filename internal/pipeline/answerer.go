package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/marindock/shipmate/internal/composer"
	"github.com/marindock/shipmate/internal/engine"
	"github.com/marindock/shipmate/internal/reranking"
	"github.com/marindock/shipmate/internal/retrieval"
)

// answerTemperature keeps knowledge base answers grounded in the retrieved
// documents.
const answerTemperature = 0.2

const defaultTopK = 4

// Answerer runs the retrieval pipeline for a single question: retrieve
// context chunks, rerank them, compose the chat prompt, and generate
// the answer.
type Answerer struct {
	retriever *retrieval.Retriever
	reranker  reranking.Reranker
	composer  *composer.Composer
	engine    engine.Engine
	chatModel string
	topK      int
}

// NewAnswerer wires the pipeline components. topK controls how many context
// chunks are retrieved (default 4 if <= 0).
func NewAnswerer(
	retriever *retrieval.Retriever,
	reranker reranking.Reranker,
	comp *composer.Composer,
	eng engine.Engine,
	chatModel string,
	topK int,
) *Answerer {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Answerer{
		retriever: retriever,
		reranker:  reranker,
		composer:  comp,
		engine:    eng,
		chatModel: chatModel,
		topK:      topK,
	}
}

// Answer generates a knowledge base answer for the prompt. Retrieval and
// generation errors propagate to the caller, which classifies them for the
// user-facing reply.
func (a *Answerer) Answer(ctx context.Context, prompt string, history []engine.Message) (string, error) {
	chunks, err := a.retriever.Retrieve(ctx, prompt, a.topK)
	if err != nil {
		return "", fmt.Errorf("retrieving context: %w", err)
	}

	ranked, err := a.reranker.Rerank(ctx, prompt, chunks)
	if err != nil {
		slog.Warn("reranking failed, keeping retrieval order", "error", err)
		ranked = chunks
	}

	msgs := a.composer.Compose(prompt, history, ranked)
	answer, err := a.engine.Chat(ctx, a.chatModel, msgs, nil, engine.ChatOptions{Temperature: answerTemperature})
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}

	return strings.TrimSpace(answer), nil
}
