package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CacheEntry is one persisted classification keyed by content hash. Entries
// survive across runs so a re-run never re-scores unchanged text.
type CacheEntry struct {
	ContentHash string
	Score       int
	Explanation string
	KeyPhrases  string // JSON array stored as text
	Model       string
	CreatedAt   time.Time
}

// BatchJob tracks one provider-side batch through its lifecycle.
type BatchJob struct {
	ID           string
	InputFileID  string
	ProviderID   string
	Status       string // "created", "submitted", "in_progress", "completed", "failed", "merged"
	RequestCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastError    string
}
