package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// timeLayout is fixed-width so that created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

const triageColumns = `id, created_at, bug_id, title, persona, priority, suggestion, model, context_ids, duration_ms`

// SaveTriage appends e to the triage log. A zero CreatedAt means now.
func (s *Store) SaveTriage(ctx context.Context, e TriageEntry) error {
	contextIDs := e.ContextIDs
	if contextIDs == nil {
		contextIDs = []string{}
	}
	ids, err := json.Marshal(contextIDs)
	if err != nil {
		return fmt.Errorf("marshalling context ids: %w", err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO triage_log (`+triageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, createdAt.UTC().Format(timeLayout), e.BugID, e.Title, e.Persona,
		e.Priority, e.Suggestion, e.Model, string(ids), e.DurationMs)
	if err != nil {
		return fmt.Errorf("saving triage %s: %w", e.ID, err)
	}
	return nil
}

// GetTriage returns the entry with the given id, or ErrNotFound.
func (s *Store) GetTriage(ctx context.Context, id string) (TriageEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+triageColumns+` FROM triage_log WHERE id = ?`, id)
	e, err := scanTriage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TriageEntry{}, ErrNotFound
	}
	return e, err
}

// ListTriages pages through the log, newest first. An empty page is nil.
func (s *Store) ListTriages(ctx context.Context, limit, offset int) ([]TriageEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+triageColumns+` FROM triage_log ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing triages: %w", err)
	}
	defer rows.Close()

	var out []TriageEntry
	for rows.Next() {
		e, err := scanTriage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountTriages returns the number of entries in the triage log.
func (s *Store) CountTriages(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM triage_log`).Scan(&n)
	return n, err
}

func scanTriage(row interface{ Scan(...any) error }) (TriageEntry, error) {
	var (
		e         TriageEntry
		createdAt string
		ids       string
	)
	err := row.Scan(&e.ID, &createdAt, &e.BugID, &e.Title, &e.Persona, &e.Priority,
		&e.Suggestion, &e.Model, &ids, &e.DurationMs)
	if err != nil {
		return TriageEntry{}, err
	}
	if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return TriageEntry{}, fmt.Errorf("parsing created_at for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(ids), &e.ContextIDs); err != nil {
		return TriageEntry{}, fmt.Errorf("parsing context_ids for %s: %w", e.ID, err)
	}
	return e, nil
}
