package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one processed chat turn, kept for operator review.
type Interaction struct {
	ID            string
	CreatedAt     time.Time
	Prompt        string
	ContextPrompt string // prompt after troubleshooting-context annotation, if any
	Answer        string
	Source        string // final answer source label
	Strategy      string
	Problem       string // active troubleshooting problem, if any
	DurationMS    int64
}

// Manual is an uploaded PDF manual tracked through ingestion. Data holds the
// raw PDF bytes until the background worker has extracted and indexed the
// text; ListManuals omits it.
type Manual struct {
	ID         string
	Filename   string
	Title      string
	Pages      int
	SizeBytes  int64
	Status     string // "pending", "indexed", "failed"
	ChunkCount int
	LastError  string
	Data       []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Job is a queued background task.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
