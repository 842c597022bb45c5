package retrieval

import (
	"context"
	"time"
)

// VectorStore is the interface for vector storage and similarity search backends.
// The current implementation uses SQLite with brute-force cosine similarity.
//
// Implementations must tolerate concurrent Search calls. Writes may be
// serialized internally.
type VectorStore interface {
	// Upsert adds records. A record whose ID already exists is left untouched.
	Upsert(ctx context.Context, records []Record) error

	// Search returns the topK records most similar to vector, nearest first.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// Record represents a row in the vector store.
type Record struct {
	ID            string
	Body          string
	HasResolution bool
	Embedding     []float32
	CreatedAt     time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
