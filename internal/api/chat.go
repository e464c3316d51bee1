package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/marindock/shipmate/internal/dialogue"
	"github.com/marindock/shipmate/internal/pipeline"
	"github.com/marindock/shipmate/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// chatTimeout bounds one full turn including retrieval, generation, and a
// possible web-search escalation on slow local models.
const chatTimeout = 120 * time.Second

// Assistant processes one chat turn. *dialogue.Engine implements it.
type Assistant interface {
	ProcessTurn(ctx context.Context, req dialogue.Request) dialogue.Response
}

// KB manages the knowledge base lifecycle. *pipeline.Manager implements it.
type KB interface {
	Load(ctx context.Context) (string, error)
	Delete(ctx context.Context) error
	Status() pipeline.Status
}

// Deps holds the HTTP handler dependencies and the capability flags
// surfaced by /status.
type Deps struct {
	Store     *storage.Store
	Assistant Assistant
	KB        KB
	Token     string // management API bearer token; empty disables auth

	EngineReady      bool // an inference engine responded at startup
	WebSearchEnabled bool
	TavilyKeySet     bool // a key was configured, even if the client failed to init
}

// NewHandler returns the assistant's REST API. Health and status stay
// outside the auth group so probes work without credentials.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/status", handleStatus(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/chat", handleChat(deps))
		r.Post("/load_kb", handleLoadKB(deps))
		r.Delete("/delete_kb", handleDeleteKB(deps))
		r.Post("/manuals", handleUploadManual(deps))
		r.Get("/manuals", handleListManuals(deps))
		r.Get("/interactions", handleListInteractions(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// StatusResponse is the GET /status payload.
type StatusResponse struct {
	Status           string `json:"status"`
	KBLoaded         bool   `json:"kb_loaded"`
	WebSearchEnabled bool   `json:"web_search_enabled"`
	Message          string `json:"message,omitempty"`
}

// SimpleResponse acknowledges a knowledge base operation.
type SimpleResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// buildStatus computes the /status payload. The second return value carries
// the raw knowledge base counters for callers that expose them.
func buildStatus(kb KB, engineReady, webSearchEnabled, tavilyKeySet bool) (StatusResponse, pipeline.Status) {
	st := kb.Status()

	resp := StatusResponse{
		Status:           "Ready",
		KBLoaded:         st.Loaded,
		WebSearchEnabled: webSearchEnabled,
	}
	switch {
	case !engineReady:
		resp.Status = "Error: no inference engine detected"
		resp.KBLoaded = false
	case !st.Loaded:
		resp.Status = "Knowledge Base not loaded. Use /load_kb endpoint."
	}
	if tavilyKeySet && !webSearchEnabled {
		resp.Message = "Tavily API Key missing or invalid."
	}
	return resp, st
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, _ := buildStatus(deps.KB, deps.EngineReady, deps.WebSearchEnabled, deps.TavilyKeySet)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.EngineReady || !deps.KB.Status().Loaded {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"detail": "AI Assistant is not ready. Knowledge Base might not be loaded or initialized correctly.",
			})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req dialogue.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), chatTimeout)
		defer cancel()

		start := time.Now()
		resp := deps.Assistant.ProcessTurn(ctx, req)
		saveInteraction(deps.Store, req.Prompt, resp, time.Since(start))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// saveInteraction records the processed turn for operator review. A logging
// failure never blocks the chat response.
func saveInteraction(store *storage.Store, prompt string, resp dialogue.Response, took time.Duration) {
	if store == nil {
		return
	}
	err := store.SaveInteraction(storage.Interaction{
		ID:            uuid.New().String(),
		Prompt:        prompt,
		ContextPrompt: resp.ContextPrompt,
		Answer:        resp.Answer,
		Source:        resp.Source,
		Strategy:      resp.Strategy,
		Problem:       resp.Problem,
		DurationMS:    took.Milliseconds(),
	})
	if err != nil {
		slog.Warn("saving interaction", "error", err)
	}
}

func handleLoadKB(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := deps.KB.Load(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load knowledge base: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SimpleResponse{Success: true, Message: msg})
	}
}

func handleDeleteKB(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.KB.Delete(r.Context())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "knowledge base not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete knowledge base: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SimpleResponse{Success: true, Message: "Knowledge base deleted."})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
