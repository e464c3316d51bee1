package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marindock/shipmate/internal/catalog"
	"github.com/marindock/shipmate/internal/engine"
	"github.com/marindock/shipmate/internal/retrieval"
	"github.com/marindock/shipmate/internal/storage"
)

// Knowledge base metadata keys.
const (
	metaLoadedAt     = "loaded_at"
	metaChunkCount   = "chunk_count"
	metaProblemCount = "problem_count"
)

// Manager owns the knowledge base lifecycle: loading the troubleshooting
// catalog into the vector store, deleting the knowledge base, and reporting
// its status. All operations serialize on one mutex so a delete cannot race
// a load.
type Manager struct {
	mu       sync.Mutex
	engine   engine.Engine
	embedder *retrieval.Embedder
	vectors  retrieval.VectorStore
	store    *storage.Store
	handle   *catalog.Handle
	csvPath  string
}

// NewManager wires the knowledge base lifecycle components. csvPath points
// at the troubleshooting guide CSV.
func NewManager(
	eng engine.Engine,
	embedder *retrieval.Embedder,
	vectors retrieval.VectorStore,
	store *storage.Store,
	handle *catalog.Handle,
	csvPath string,
) *Manager {
	return &Manager{
		engine:   eng,
		embedder: embedder,
		vectors:  vectors,
		store:    store,
		handle:   handle,
		csvPath:  csvPath,
	}
}

// Status reports the knowledge base state.
type Status struct {
	Loaded   bool
	Chunks   int
	Problems int
	LoadedAt time.Time
}

// Load parses the troubleshooting CSV, embeds every record document, and
// swaps the result into the vector store and the in-memory catalog handle.
// Returns a human-readable success message including the elapsed time.
func (m *Manager) Load(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()

	if !m.engine.IsRunning(ctx) {
		return "", errors.New("inference engine is not running")
	}

	cat, skipped, err := catalog.Load(m.csvPath)
	if err != nil {
		return "", fmt.Errorf("loading catalog: %w", err)
	}
	if cat.Len() == 0 {
		return "", fmt.Errorf("no usable records in %s", m.csvPath)
	}

	recs := cat.Records()
	docs := make([]string, len(recs))
	for i, r := range recs {
		docs[i] = r.Document()
	}

	vectors, err := m.embedder.EmbedBatch(ctx, docs)
	if err != nil {
		return "", fmt.Errorf("embedding catalog documents: %w", err)
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(recs))
	for i, r := range recs {
		records[i] = retrieval.Record{
			ID:         uuid.NewString(),
			SourceType: retrieval.SourceCatalog,
			SourceID:   r.Problem,
			Problem:    r.Problem,
			Title:      r.Problem,
			Text:       docs[i],
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
	}

	if err := m.vectors.ReplaceSourceType(retrieval.SourceCatalog, records); err != nil {
		return "", fmt.Errorf("replacing catalog vectors: %w", err)
	}

	if err := m.saveMeta(len(records), cat.Len(), now); err != nil {
		return "", fmt.Errorf("saving knowledge base metadata: %w", err)
	}

	m.handle.Replace(cat)

	elapsed := time.Since(start).Seconds()
	slog.Info("knowledge base loaded",
		"problems", cat.Len(),
		"chunks", len(records),
		"skipped_rows", skipped,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return fmt.Sprintf("Knowledge Base loaded successfully in %.2f seconds.", elapsed), nil
}

// Restore rebuilds the in-memory catalog after a restart when a previous
// run left a loaded knowledge base behind. Vector records already persist
// in SQLite, so nothing is re-embedded. Returns false when there is no
// knowledge base to restore.
func (m *Manager) Restore() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.GetKBMeta(metaLoadedAt); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking knowledge base metadata: %w", err)
	}

	cat, skipped, err := catalog.Load(m.csvPath)
	if err != nil {
		return false, fmt.Errorf("loading catalog: %w", err)
	}
	if cat.Len() == 0 {
		return false, fmt.Errorf("no usable records in %s", m.csvPath)
	}

	m.handle.Replace(cat)
	slog.Info("knowledge base restored from previous run",
		"problems", cat.Len(),
		"skipped_rows", skipped,
	)
	return true, nil
}

// Delete removes the knowledge base: all vector records, uploaded manuals,
// and metadata. The in-memory catalog handle is cleared only after storage
// is clean. Returns storage.ErrNotFound when no knowledge base was loaded.
func (m *Manager) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.GetKBMeta(metaLoadedAt); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("checking knowledge base metadata: %w", err)
	}

	if err := m.vectors.Clear(); err != nil {
		return fmt.Errorf("clearing vector records: %w", err)
	}
	if err := m.store.DeleteAllManuals(); err != nil {
		return fmt.Errorf("deleting manuals: %w", err)
	}
	if err := m.store.ClearKBMeta(); err != nil {
		return fmt.Errorf("clearing knowledge base metadata: %w", err)
	}

	m.handle.Clear()
	slog.Info("knowledge base deleted")
	return nil
}

// Status reports whether the knowledge base is loaded in this process, the
// live chunk count, the number of catalog problems, and the last load time.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var st Status
	cat := m.handle.Get()
	st.Problems = cat.Len()
	st.Loaded = cat.Len() > 0

	count, err := m.vectors.Count()
	if err != nil {
		slog.Warn("counting knowledge base chunks", "error", err)
	} else {
		st.Chunks = count
	}

	if v, err := m.store.GetKBMeta(metaLoadedAt); err == nil {
		if t, perr := time.Parse(time.RFC3339, v); perr == nil {
			st.LoadedAt = t
		}
	}

	return st
}

func (m *Manager) saveMeta(chunks, problems int, loadedAt time.Time) error {
	if err := m.store.SetKBMeta(metaLoadedAt, loadedAt.Format(time.RFC3339)); err != nil {
		return err
	}
	if err := m.store.SetKBMeta(metaChunkCount, strconv.Itoa(chunks)); err != nil {
		return err
	}
	return m.store.SetKBMeta(metaProblemCount, strconv.Itoa(problems))
}
