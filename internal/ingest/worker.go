// Package ingest runs the background worker that turns uploaded PDF manuals
// into searchable knowledge base chunks: text extraction, chunking,
// embedding, and vector storage, driven by the SQLite job queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/marindock/shipmate/internal/retrieval"
	"github.com/marindock/shipmate/internal/storage"
)

// JobTypeManualIndex indexes one uploaded manual into the knowledge base.
const JobTypeManualIndex = "manual_index"

// JobStore abstracts the job queue and manual lookups.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetManual(id string) (storage.Manual, error)
	UpdateManualStatus(id, status string, pages, chunkCount int, lastError string) error
}

// Embedder generates embedding vectors for text chunks.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorReplacer swaps all vector records belonging to one source document.
type VectorReplacer interface {
	ReplaceSourceID(sourceID string, records []retrieval.Record) error
}

// Worker processes manual indexing jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	embedder Embedder
	vectors  VectorReplacer
	types    []string
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder Embedder, vectors VectorReplacer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		types:    []string{JobTypeManualIndex},
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(w.types)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case JobTypeManualIndex:
		return w.indexManual(ctx, job)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

type manualIndexPayload struct {
	ManualID string `json:"manual_id"`
}

// IndexPayload builds the payload JSON for a manual_index job.
func IndexPayload(manualID string) string {
	payload, _ := json.Marshal(manualIndexPayload{ManualID: manualID})
	return string(payload)
}

func (w *Worker) indexManual(ctx context.Context, job *storage.Job) error {
	var payload manualIndexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	manual, err := w.store.GetManual(payload.ManualID)
	if err != nil {
		return fmt.Errorf("loading manual %s: %w", payload.ManualID, err)
	}

	pages, err := extractPages(manual.Data)
	if err != nil {
		return w.failManual(manual.ID, fmt.Errorf("extracting text: %w", err))
	}

	var texts []string
	var titles []string
	for _, page := range pages {
		for _, chunk := range splitChunks(page.text) {
			texts = append(texts, chunk)
			titles = append(titles, fmt.Sprintf("%s (p.%d)", manual.Title, page.number))
		}
	}
	if len(texts) == 0 {
		return w.failManual(manual.ID, fmt.Errorf("no extractable text in %s", manual.Filename))
	}

	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return w.failManual(manual.ID, fmt.Errorf("embedding %d chunks: %w", len(texts), err))
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(texts))
	for i, text := range texts {
		records[i] = retrieval.Record{
			ID:         uuid.NewString(),
			SourceType: retrieval.SourceManual,
			SourceID:   manual.ID,
			Title:      titles[i],
			Text:       text,
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
	}

	// Replacing rather than inserting makes re-indexing the same manual safe.
	if err := w.vectors.ReplaceSourceID(manual.ID, records); err != nil {
		return w.failManual(manual.ID, fmt.Errorf("storing %d vectors: %w", len(records), err))
	}

	if err := w.store.UpdateManualStatus(manual.ID, "indexed", len(pages), len(records), ""); err != nil {
		return fmt.Errorf("marking manual indexed: %w", err)
	}

	w.logger.Info("manual indexed",
		"manual_id", manual.ID, "title", manual.Title,
		"pages", len(pages), "chunks", len(records))
	return nil
}

// failManual records the failure on the manual row and passes the cause back
// so the job is failed too.
func (w *Worker) failManual(id string, cause error) error {
	if err := w.store.UpdateManualStatus(id, "failed", 0, 0, cause.Error()); err != nil {
		w.logger.Error("failed to mark manual as failed", "manual_id", id, "error", err)
	}
	return cause
}
