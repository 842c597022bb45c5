// Package storage owns the service's SQLite database: the bug vector table
// read by the similarity store and the log of triage suggestions.
package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database that backs the bug vector index and the
// triage log.
type Store struct {
	db *sql.DB
}

// MemoryDir opens a private in-memory database instead of a file.
const MemoryDir = ":memory:"

// dsn builds the modernc connection string for the database in dataDir.
// Pragmas go in the DSN so every pooled connection gets them.
func dsn(dataDir string) (string, error) {
	if dataDir == MemoryDir {
		return MemoryDir, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + filepath.Join(dataDir, "bugtriage.db") + "?" + q.Encode(), nil
}

// Open opens or creates bugtriage.db in dataDir and applies pending
// migrations. MemoryDir gives a throwaway database for tests.
func Open(dataDir string) (*Store, error) {
	source, err := dsn(dataDir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", source)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: writers never see "database is locked", and an
	// in-memory database stays a single database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for the vector index.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
