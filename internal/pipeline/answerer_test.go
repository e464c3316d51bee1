package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marindock/shipmate/internal/composer"
	"github.com/marindock/shipmate/internal/engine"
	"github.com/marindock/shipmate/internal/reranking"
	"github.com/marindock/shipmate/internal/retrieval"
	"github.com/marindock/shipmate/internal/storage"
)

// mockEngine implements engine.Engine for pipeline tests.
type mockEngine struct {
	chatFn      func(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema, opts engine.ChatOptions) (string, error)
	embedFn     func(ctx context.Context, model, text string) ([]float32, error)
	isRunningFn func(ctx context.Context) bool
}

func (m *mockEngine) Chat(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema, opts engine.ChatOptions) (string, error) {
	if m.chatFn != nil {
		return m.chatFn(ctx, model, messages, schema, opts)
	}
	return "", nil
}

func (m *mockEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, model, text)
	}
	return makeVector(8, 0.1), nil
}

func (m *mockEngine) IsRunning(ctx context.Context) bool {
	if m.isRunningFn != nil {
		return m.isRunningFn(ctx)
	}
	return true
}

func (m *mockEngine) ListModels(context.Context) ([]string, error) { return nil, nil }
func (m *mockEngine) HasModel(context.Context, string) bool        { return true }
func (m *mockEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

func makeVector(dim int, base float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = base + float32(i)*0.01
	}
	return v
}

// openTestStorage opens a migrated store in a temp dir and returns it with a
// vector store over the same database.
func openTestStorage(t *testing.T) (*storage.Store, *retrieval.SQLiteStore) {
	t.Helper()
	st, err := storage.Open(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, retrieval.NewSQLiteStore(st.DB())
}

func newTestAnswerer(t *testing.T, eng *mockEngine, vectors retrieval.VectorStore) *Answerer {
	t.Helper()
	embedder := retrieval.NewEmbedder(eng, "nomic-embed-text")
	retriever := retrieval.NewRetriever(embedder, vectors)
	return NewAnswerer(retriever, reranking.NewReranker(true), composer.New(0), eng, "mistral-nemo", 4)
}

func TestAnswer_UsesRetrievedContext(t *testing.T) {
	_, vectors := openTestStorage(t)
	if err := vectors.Insert([]retrieval.Record{{
		ID:         "c1",
		SourceType: retrieval.SourceCatalog,
		SourceID:   "Engine Overheating",
		Problem:    "Engine Overheating",
		Title:      "Engine Overheating",
		Text:       "Problem: Engine Overheating\nSolution Step 1: Check coolant level.",
		Embedding:  makeVector(8, 0.1),
	}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	var chatCalled bool
	eng := &mockEngine{
		chatFn: func(_ context.Context, model string, messages []engine.Message, schema *engine.Schema, opts engine.ChatOptions) (string, error) {
			chatCalled = true
			if model != "mistral-nemo" {
				t.Errorf("model = %q, want mistral-nemo", model)
			}
			if schema != nil {
				t.Error("expected free-form chat, got schema request")
			}
			if opts.Temperature != 0.2 {
				t.Errorf("temperature = %g, want 0.2", opts.Temperature)
			}
			if !strings.Contains(messages[0].Content, "Check coolant level.") {
				t.Errorf("system message missing retrieved chunk: %s", messages[0].Content)
			}
			last := messages[len(messages)-1]
			if last.Content != "User Question: why does my engine overheat" {
				t.Errorf("final message = %q", last.Content)
			}
			return "  Check the coolant level first.  ", nil
		},
	}

	a := newTestAnswerer(t, eng, vectors)
	answer, err := a.Answer(context.Background(), "why does my engine overheat", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !chatCalled {
		t.Fatal("chat was never called")
	}
	if answer != "Check the coolant level first." {
		t.Errorf("answer = %q, want trimmed reply", answer)
	}
}

func TestAnswer_EmptyKnowledgeBase(t *testing.T) {
	_, vectors := openTestStorage(t)

	eng := &mockEngine{
		chatFn: func(_ context.Context, _ string, messages []engine.Message, _ *engine.Schema, _ engine.ChatOptions) (string, error) {
			if strings.Contains(messages[0].Content, "[Retrieved Internal Documents]") {
				t.Errorf("context header present with empty knowledge base: %s", messages[0].Content)
			}
			return "I don't have information on that.", nil
		},
	}

	a := newTestAnswerer(t, eng, vectors)
	answer, err := a.Answer(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer != "I don't have information on that." {
		t.Errorf("answer = %q", answer)
	}
}

func TestAnswer_RetrievalErrorPropagates(t *testing.T) {
	_, vectors := openTestStorage(t)

	embedErr := errors.New("connection refused")
	eng := &mockEngine{
		embedFn: func(context.Context, string, string) ([]float32, error) {
			return nil, embedErr
		},
		chatFn: func(context.Context, string, []engine.Message, *engine.Schema, engine.ChatOptions) (string, error) {
			t.Fatal("chat must not run when retrieval fails")
			return "", nil
		},
	}

	a := newTestAnswerer(t, eng, vectors)
	if _, err := a.Answer(context.Background(), "q", nil); !errors.Is(err, embedErr) {
		t.Errorf("error = %v, want wrapped %v", err, embedErr)
	}
}

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return "busy" }
func (e *statusErr) HTTPStatus() int { return e.code }

func TestAnswer_ChatErrorKeepsStatus(t *testing.T) {
	_, vectors := openTestStorage(t)

	eng := &mockEngine{
		chatFn: func(context.Context, string, []engine.Message, *engine.Schema, engine.ChatOptions) (string, error) {
			return "", &statusErr{code: 429}
		},
	}

	a := newTestAnswerer(t, eng, vectors)
	_, err := a.Answer(context.Background(), "q", nil)
	if err == nil {
		t.Fatal("expected error")
	}

	// Callers classify errors by HTTP status, so wrapping must preserve it.
	var se *statusErr
	if !errors.As(err, &se) || se.HTTPStatus() != 429 {
		t.Errorf("status lost through wrapping: %v", err)
	}
}

func TestNewAnswerer_DefaultTopK(t *testing.T) {
	a := NewAnswerer(nil, reranking.NewReranker(false), composer.New(0), &mockEngine{}, "m", 0)
	if a.topK != 4 {
		t.Errorf("topK = %d, want 4", a.topK)
	}
}
