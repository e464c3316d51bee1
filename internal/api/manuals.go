package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marindock/shipmate/internal/ingest"
	"github.com/marindock/shipmate/internal/storage"
)

const maxManualBodySize = 25 << 20 // 25MB

// ManualUploadRequest is the POST /manuals payload. Data carries the
// base64-encoded PDF document.
type ManualUploadRequest struct {
	Title    string `json:"title"`
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

func handleUploadManual(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxManualBodySize)
		defer r.Body.Close()

		var req ManualUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Data == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "data is required")
			return
		}

		data, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 data")
			return
		}
		if !bytes.HasPrefix(data, []byte("%PDF")) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "data is not a PDF document")
			return
		}

		id := uuid.New().String()
		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = strings.TrimSuffix(req.Filename, ".pdf")
		}
		if title == "" {
			title = "Untitled manual"
		}
		filename := req.Filename
		if filename == "" {
			filename = id + ".pdf"
		}

		manual := storage.Manual{
			ID:       id,
			Filename: filename,
			Title:    title,
			Data:     data,
		}
		if err := deps.Store.SaveManual(manual); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save manual: %v", err)
			return
		}

		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobTypeManualIndex,
			PayloadJSON: ingest.IndexPayload(id),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue indexing job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"id":     id,
			"status": "pending",
		})
	}
}

// manualSummary is a Manual without the PDF blob.
type manualSummary struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Title      string    `json:"title"`
	Pages      int       `json:"pages"`
	SizeBytes  int64     `json:"size_bytes"`
	Status     string    `json:"status"`
	ChunkCount int       `json:"chunk_count"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func handleListManuals(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)

		manuals, err := deps.Store.ListManuals(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list manuals: %v", err)
			return
		}

		views := make([]manualSummary, len(manuals))
		for i, m := range manuals {
			views[i] = manualSummary{
				ID:         m.ID,
				Filename:   m.Filename,
				Title:      m.Title,
				Pages:      m.Pages,
				SizeBytes:  m.SizeBytes,
				Status:     m.Status,
				ChunkCount: m.ChunkCount,
				LastError:  m.LastError,
				CreatedAt:  m.CreatedAt,
				UpdatedAt:  m.UpdatedAt,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

type interactionView struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Prompt        string    `json:"prompt"`
	ContextPrompt string    `json:"context_prompt,omitempty"`
	Answer        string    `json:"answer"`
	Source        string    `json:"final_answer_source"`
	Strategy      string    `json:"strategy"`
	Problem       string    `json:"problem,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		interactions, err := deps.Store.GetRecentInteractions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}

		views := make([]interactionView, len(interactions))
		for i, ix := range interactions {
			views[i] = interactionView{
				ID:            ix.ID,
				CreatedAt:     ix.CreatedAt,
				Prompt:        ix.Prompt,
				ContextPrompt: ix.ContextPrompt,
				Answer:        ix.Answer,
				Source:        ix.Source,
				Strategy:      ix.Strategy,
				Problem:       ix.Problem,
				DurationMS:    ix.DurationMS,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
