package retrieval

import "time"

// Source types for knowledge base records.
const (
	SourceCatalog = "catalog"
	SourceManual  = "manual"
)

// VectorStore is the interface for knowledge base vector storage and
// similarity search backends. The current implementation uses SQLite with
// brute-force cosine similarity. Future implementations may use an
// ANN-capable vector database when the chunk count grows beyond what a
// linear scan can serve.
//
// Migration notes:
//   - All record data uses the same Record/ScoredRecord types regardless of backend.
//   - Embeddings are []float32, little-endian encoded in the SQLite backend.
//   - Writes happen per source (a whole catalog reload, a single manual
//     re-index), never per chunk, so the interface exposes source-level
//     replaces that must be atomic: a failed reload keeps the old records.
type VectorStore interface {
	// Insert adds records to the store.
	Insert(records []Record) error

	// Search performs vector similarity search, returning the top-K most similar records.
	Search(vector []float32, topK int) ([]ScoredRecord, error)

	// ReplaceSourceType atomically swaps all records of one source type
	// for the given records. Empty records acts as a delete.
	ReplaceSourceType(sourceType string, records []Record) error

	// ReplaceSourceID atomically swaps all records originating from one
	// source for the given records. Empty records acts as a delete.
	ReplaceSourceID(sourceID string, records []Record) error

	// Clear removes all records.
	Clear() error

	// Count returns the number of records in the store.
	Count() (int, error)
}

// Record represents a knowledge base chunk in the vector store.
type Record struct {
	ID         string
	SourceType string // "catalog" or "manual"
	SourceID   string // problem name for catalog chunks, manual ID for manual chunks
	Problem    string // catalog problem name; empty for manual chunks
	Title      string // manual title; empty for catalog chunks
	Text       string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
