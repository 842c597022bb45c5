package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TriageEntry records one successful triage for later review.
type TriageEntry struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	BugID      string    `json:"bugId"`
	Title      string    `json:"title"`
	Persona    string    `json:"persona"`
	Priority   string    `json:"predictedPriority"`
	Suggestion string    `json:"suggestion"`
	Model      string    `json:"model"`
	ContextIDs []string  `json:"contextIds"`
	DurationMs int64     `json:"durationMs"`
}
