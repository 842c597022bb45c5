package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/bugtriage/internal/engine"
	"golang.org/x/sync/singleflight"
)

// ErrUnavailable reports that the similarity store cannot be used, typically
// because no embedding credential is configured. Once seen it is permanent
// for the life of the Store.
var ErrUnavailable = errors.New("similarity store unavailable")

// Values reported by Store.Status.
const (
	StatusUninitialized = "uninitialized"
	StatusReady         = "ready"
	StatusUnavailable   = "unavailable"
)

// Backend is the embedder and index produced by a successful initialization.
type Backend struct {
	Embedder *Embedder
	Vectors  VectorStore
}

// Factory builds the backend on first use. An error wrapping ErrUnavailable
// marks the store permanently unavailable; any other error is retried on the
// next call.
type Factory func(ctx context.Context) (*Backend, error)

// NewFactory returns a Factory that indexes into db using the embedder built
// by newEmbedder. A constructor error (missing credential, unknown provider)
// makes the store unavailable.
func NewFactory(db *sql.DB, newEmbedder func() (engine.Embedder, error)) Factory {
	return func(ctx context.Context) (*Backend, error) {
		emb, err := newEmbedder()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return &Backend{Embedder: NewEmbedder(emb), Vectors: NewSQLiteStore(db)}, nil
	}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for initialization events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTimeout bounds every embedding and index call made by the Store.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// Store is the similarity store: a lazily initialised index of past bug
// reports that answers nearest-neighbour queries. All methods are safe for
// concurrent use and report failures as errors instead of panicking.
type Store struct {
	factory Factory
	logger  *slog.Logger
	timeout time.Duration

	group singleflight.Group

	mu          sync.Mutex
	backend     *Backend
	unavailable bool
}

// NewStore returns a Store that calls factory on first use.
func NewStore(factory Factory, opts ...Option) *Store {
	s := &Store{factory: factory, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Unavailable returns a Store that never initialises.
func Unavailable() *Store {
	return NewStore(func(context.Context) (*Backend, error) {
		return nil, ErrUnavailable
	})
}

// Initialize builds the backend if it has not been built yet. Concurrent
// first calls share one attempt.
func (s *Store) Initialize(ctx context.Context) error {
	_, err := s.ensure(ctx)
	return err
}

// Status reports whether the store is ready, unavailable, or not yet used.
func (s *Store) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.backend != nil:
		return StatusReady
	case s.unavailable:
		return StatusUnavailable
	default:
		return StatusUninitialized
	}
}

func (s *Store) ensure(ctx context.Context) (*Backend, error) {
	if b, done, err := s.memoized(); done {
		return b, err
	}

	v, err, _ := s.group.Do("init", func() (any, error) {
		if b, done, err := s.memoized(); done {
			return b, err
		}

		b, err := s.factory(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		switch {
		case errors.Is(err, ErrUnavailable):
			s.unavailable = true
			s.logger.Warn("similarity store unavailable, suggestions will run without history", "error", err)
			return nil, ErrUnavailable
		case err != nil:
			return nil, fmt.Errorf("initializing similarity store: %w", err)
		case b == nil:
			return nil, errors.New("initializing similarity store: factory returned no backend")
		}
		s.backend = b
		s.logger.Info("similarity store ready")
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Backend), nil
}

// memoized returns the settled outcome, if any.
func (s *Store) memoized() (*Backend, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		return s.backend, true, nil
	}
	if s.unavailable {
		return nil, true, ErrUnavailable
	}
	return nil, false, nil
}

func (s *Store) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Upsert embeds and stores one record. Re-inserting an existing id is a no-op.
func (s *Store) Upsert(ctx context.Context, rec BugRecord) error {
	return s.UpsertBatch(ctx, []BugRecord{rec})
}

// UpsertBatch embeds and stores records. Records already present are skipped.
func (s *Store) UpsertBatch(ctx context.Context, recs []BugRecord) error {
	if len(recs) == 0 {
		return nil
	}
	b, err := s.ensure(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	texts := make([]string, len(recs))
	for i, r := range recs {
		texts[i] = r.Body
	}
	vecs, err := b.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("upserting %d records: %w", len(recs), err)
	}

	now := time.Now()
	records := make([]Record, len(recs))
	for i, r := range recs {
		records[i] = Record{
			ID:            r.ID,
			Body:          r.Body,
			HasResolution: r.HasResolution,
			Embedding:     vecs[i],
			CreatedAt:     now,
		}
	}
	if err := b.Vectors.Upsert(ctx, records); err != nil {
		return fmt.Errorf("upserting %d records: %w", len(recs), err)
	}
	return nil
}

// Query returns up to k stored records nearest to text, nearest first.
// An empty store yields an empty slice.
func (s *Store) Query(ctx context.Context, text string, k int) ([]Neighbor, error) {
	if k <= 0 {
		return []Neighbor{}, nil
	}
	b, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	vec, err := b.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("querying similarity store: %w", err)
	}
	scored, err := b.Vectors.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("querying similarity store: %w", err)
	}

	out := make([]Neighbor, len(scored))
	for i, r := range scored {
		out[i] = Neighbor{
			ID:            r.ID,
			Body:          r.Body,
			HasResolution: r.HasResolution,
			Score:         r.Score,
		}
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	b, err := s.ensure(ctx)
	if err != nil {
		return 0, err
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return b.Vectors.Count(ctx)
}
