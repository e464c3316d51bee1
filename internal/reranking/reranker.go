// Package reranking re-orders retrieved knowledge base chunks by lexical
// relevance to the query, on top of their vector similarity scores.
package reranking

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/marindock/shipmate/internal/retrieval"
)

// Scoring weights. The vector score dominates; lexical signals break near
// ties between chunks with similar embeddings.
const (
	// minKeywordOverlap is how many query words must appear in a chunk
	// before the overlap contributes anything.
	minKeywordOverlap = 2
	overlapWeight     = 0.05
	problemBonus      = 0.15
)

// wordPattern tokenizes text into words of 3+ characters, the same shape
// the intent classifiers use. Short function words carry no signal.
var wordPattern = regexp.MustCompile(`\b\w{3,}\b`)

// Reranker re-scores retrieved context chunks by query relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []retrieval.ContextChunk) ([]retrieval.ContextChunk, error)
}

// NewReranker returns a LexicalReranker if enabled, NoOpReranker otherwise.
func NewReranker(enabled bool) Reranker {
	if !enabled {
		return &NoOpReranker{}
	}
	return &LexicalReranker{}
}

// LexicalReranker boosts chunks whose content shares words with the query
// and chunks whose problem name appears verbatim in the query. Purely
// deterministic: no model call, no timeout, identical input gives identical
// order.
type LexicalReranker struct{}

// Rerank returns the chunks sorted by combined score descending. Chunks
// that tie keep their retrieval order.
func (r *LexicalReranker) Rerank(_ context.Context, query string, chunks []retrieval.ContextChunk) ([]retrieval.ContextChunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	queryLower := strings.ToLower(query)
	queryWords := wordSet(queryLower)

	rescored := make([]retrieval.ContextChunk, len(chunks))
	for i, ch := range chunks {
		rescored[i] = ch
		rescored[i].Score = combinedScore(ch, queryLower, queryWords)
	}

	sort.SliceStable(rescored, func(i, j int) bool {
		return rescored[i].Score > rescored[j].Score
	})

	return rescored, nil
}

func combinedScore(ch retrieval.ContextChunk, queryLower string, queryWords map[string]struct{}) float32 {
	score := ch.Score

	if len(queryWords) > 0 {
		overlap := 0
		for w := range wordSet(strings.ToLower(ch.Text)) {
			if _, ok := queryWords[w]; ok {
				overlap++
			}
		}
		if overlap >= minKeywordOverlap {
			score += overlapWeight * float32(overlap)
		}
	}

	if p := strings.ToLower(ch.Problem); p != "" && strings.Contains(queryLower, p) {
		score += problemBonus
	}

	return score
}

func wordSet(s string) map[string]struct{} {
	words := wordPattern.FindAllString(s, -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// NoOpReranker passes chunks through unchanged. Used when reranking is disabled.
type NoOpReranker struct{}

func (n *NoOpReranker) Rerank(_ context.Context, _ string, chunks []retrieval.ContextChunk) ([]retrieval.ContextChunk, error) {
	return chunks, nil
}
