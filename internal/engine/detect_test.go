package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetect_PrefersOllama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.Write([]byte(`{"models":[]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	e, err := Detect(context.Background(), DetectConfig{OllamaBaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("Detect returned %T, want *OllamaEngine", e)
	}
}

func TestDetect_FallsBackToOpenAICompat(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()

	compat := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			return
		}
		http.NotFound(w, r)
	}))
	defer compat.Close()

	e, err := Detect(context.Background(), DetectConfig{
		OllamaBaseURL:   down.URL,
		OpenAICompatURL: compat.URL,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OpenAIEngine); !ok {
		t.Errorf("Detect returned %T, want *OpenAIEngine", e)
	}
}

func TestDetect_NothingReachable(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()

	_, err := Detect(context.Background(), DetectConfig{OllamaBaseURL: down.URL})
	if !errors.Is(err, ErrNoEngine) {
		t.Errorf("err = %v, want ErrNoEngine", err)
	}
}
