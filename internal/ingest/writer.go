package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/bugtriage/internal/retrieval"
	"github.com/kalambet/bugtriage/internal/storage"
)

// RecordUpserter persists bug records in the similarity store.
type RecordUpserter interface {
	Upsert(ctx context.Context, rec retrieval.BugRecord) error
}

// TriageSaver appends entries to the triage log.
type TriageSaver interface {
	SaveTriage(ctx context.Context, e storage.TriageEntry) error
}

// Entry is one unit of deferred persistence. Triage is nil when the record
// only seeds history.
type Entry struct {
	Record retrieval.BugRecord
	Triage *storage.TriageEntry
}

// Hooks observe writer activity. Nil fields are skipped.
type Hooks struct {
	OnDropped func()
	OnWritten func(stage string, err error)
}

// Option configures a Writer.
type Option func(*Writer)

func WithLogger(l *slog.Logger) Option { return func(w *Writer) { w.logger = l } }

// WithTimeout bounds the persistence of a single entry.
func WithTimeout(d time.Duration) Option { return func(w *Writer) { w.timeout = d } }

func WithHooks(h Hooks) Option { return func(w *Writer) { w.hooks = h } }

// Writer persists entries on a single background goroutine so request
// handlers never wait on embedding or disk I/O.
type Writer struct {
	records RecordUpserter
	triages TriageSaver
	logger  *slog.Logger
	timeout time.Duration
	hooks   Hooks

	queue chan Entry
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewWriter starts a writer with a queue of queueSize entries.
// If queueSize is <= 0, it defaults to 64.
func NewWriter(records RecordUpserter, triages TriageSaver, queueSize int, opts ...Option) *Writer {
	if queueSize <= 0 {
		queueSize = 64
	}
	w := &Writer{
		records: records,
		triages: triages,
		logger:  slog.Default(),
		timeout: 30 * time.Second,
		queue:   make(chan Entry, queueSize),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	go w.run()
	return w
}

// Commit enqueues e without blocking. It reports false if the queue is full
// or the writer is closed; the entry is then dropped.
func (w *Writer) Commit(e Entry) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.logger.Warn("writer closed, dropping entry", "record_id", e.Record.ID)
		return false
	}
	select {
	case w.queue <- e:
		return true
	default:
		w.logger.Warn("writer queue full, dropping entry", "record_id", e.Record.ID, "capacity", cap(w.queue))
		if w.hooks.OnDropped != nil {
			w.hooks.OnDropped()
		}
		return false
	}
}

// Close stops intake and waits until queued entries are written.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.queue {
		w.process(e)
	}
}

func (w *Writer) process(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	err := w.records.Upsert(ctx, e.Record)
	switch {
	case errors.Is(err, retrieval.ErrUnavailable):
		w.logger.Debug("similarity store unavailable, record not indexed", "record_id", e.Record.ID)
	case err != nil:
		w.logger.Warn("indexing bug record failed", "record_id", e.Record.ID, "error", err)
	}
	w.observe("record", err)

	if e.Triage == nil {
		return
	}
	err = w.triages.SaveTriage(ctx, *e.Triage)
	if err != nil {
		w.logger.Warn("saving triage log entry failed", "triage_id", e.Triage.ID, "error", err)
	}
	w.observe("triage", err)
}

func (w *Writer) observe(stage string, err error) {
	if w.hooks.OnWritten != nil {
		w.hooks.OnWritten(stage, err)
	}
}
