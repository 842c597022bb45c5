package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/bugtriage/internal/cache"
	"github.com/kalambet/bugtriage/internal/composer"
	"github.com/kalambet/bugtriage/internal/engine"
	"github.com/kalambet/bugtriage/internal/ingest"
	"github.com/kalambet/bugtriage/internal/retrieval"
	"github.com/kalambet/bugtriage/internal/storage"
	"github.com/kalambet/bugtriage/internal/suggestion"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/kalambet/bugtriage/internal/pipeline")

// BugReport is an incoming request for a triage suggestion.
type BugReport struct {
	Title       string
	Description string
	Resolution  string
	Persona     composer.Persona
}

// Validate trims the text fields and checks that title and description are set.
func (r *BugReport) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.Resolution = strings.TrimSpace(r.Resolution)
	if r.Title == "" {
		return &InputError{Field: "title", Reason: "must not be empty"}
	}
	if r.Description == "" {
		return &InputError{Field: "description", Reason: "must not be empty"}
	}
	return nil
}

// SimilarityStore answers nearest-neighbour queries over past reports.
type SimilarityStore interface {
	Query(ctx context.Context, text string, k int) ([]retrieval.Neighbor, error)
}

// Committer accepts entries for deferred persistence without blocking.
type Committer interface {
	Commit(e ingest.Entry) bool
}

// Config tunes a Suggester.
type Config struct {
	// TopK is the number of neighbours retrieved (default 3 if <= 0).
	TopK int
	// LLMTimeout bounds the model call (default 60s if <= 0).
	LLMTimeout time.Duration
	MaxTokens  int
}

// Result is a produced suggestion plus the identifiers it was filed under.
type Result struct {
	Suggestion suggestion.Suggestion
	RecordID   string
	TriageID   string
	Neighbors  []retrieval.Neighbor
	Cached     bool
}

// Option configures a Suggester.
type Option func(*Suggester)

func WithLogger(l *slog.Logger) Option { return func(s *Suggester) { s.logger = l } }

func WithHooks(h Hooks) Option { return func(s *Suggester) { s.hooks = h } }

// WithCache enables suggestion caching keyed by persona and record id.
func WithCache(c cache.Cache) Option { return func(s *Suggester) { s.cache = c } }

// Suggester produces triage suggestions: retrieve similar history, build the
// prompt, call the model, validate the reply and queue the report for storage.
type Suggester struct {
	completer engine.Completer
	store     SimilarityStore
	writer    Committer
	cache     cache.Cache
	hooks     Hooks
	logger    *slog.Logger
	cfg       Config
}

// New creates a Suggester. completer may be nil, in which case every call
// fails with ConfigurationError. A nil store behaves as an unavailable one.
func New(completer engine.Completer, store SimilarityStore, writer Committer, cfg Config, opts ...Option) *Suggester {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 60 * time.Second
	}
	if store == nil {
		store = retrieval.Unavailable()
	}
	s := &Suggester{
		completer: completer,
		store:     store,
		writer:    writer,
		cache:     cache.Nop{},
		logger:    slog.Default(),
		cfg:       cfg,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Configured reports whether a completion backend is available.
func (s *Suggester) Configured() bool {
	return s.completer != nil
}

// Suggest runs the full pipeline for one report. Retrieval, cache and storage
// failures are logged and never returned; model, parse and validation
// failures are.
func (s *Suggester) Suggest(ctx context.Context, report BugReport) (Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "suggester.Suggest", trace.WithAttributes(
		attribute.String("bugtriage.persona", report.Persona.Name()),
	))
	defer span.End()

	res, err := s.suggest(ctx, report, start)

	outcome := Outcome(err)
	span.SetAttributes(
		attribute.String("bugtriage.outcome", outcome),
		attribute.Bool("bugtriage.cached", res.Cached),
		attribute.Int("bugtriage.neighbors", len(res.Neighbors)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if s.hooks.OnComplete != nil {
		s.hooks.OnComplete(outcome, time.Since(start).Seconds())
	}
	return res, err
}

func (s *Suggester) suggest(ctx context.Context, report BugReport, start time.Time) (Result, error) {
	if err := report.Validate(); err != nil {
		return Result{}, err
	}
	if s.completer == nil {
		return Result{}, &ConfigurationError{Reason: "no language model credential configured"}
	}

	persona := report.Persona
	recordID := retrieval.RecordID(report.Title, report.Description, report.Resolution)
	res := Result{RecordID: recordID}

	res.Neighbors = s.retrieve(ctx, retrieval.QueryText(report.Title, report.Description))

	prompt := composer.Build(persona, composer.Input{
		FormatInstructions: suggestion.FormatInstructions(),
		Title:              report.Title,
		Description:        report.Description,
		Resolution:         report.Resolution,
		Context:            composer.RenderContext(res.Neighbors),
	})

	cacheKey := cache.Key(persona.Name(), recordID)
	if cached, ok := s.lookup(ctx, cacheKey); ok {
		res.Suggestion = cached
		res.Cached = true
	} else {
		raw, err := s.complete(ctx, prompt)
		if err != nil {
			return Result{}, err
		}
		sugg, err := suggestion.Parse(raw)
		if err != nil {
			s.logger.Warn("model reply rejected", "record_id", recordID, "error", err, "raw", raw)
			return Result{}, err
		}
		res.Suggestion = sugg
		if err := s.cache.Set(ctx, cacheKey, sugg); err != nil {
			s.logger.Warn("caching suggestion failed", "key", cacheKey, "error", err)
		}
	}

	res.TriageID = s.commit(report, res, time.Since(start))
	return res, nil
}

// retrieve returns neighbours for text; any store failure yields none.
func (s *Suggester) retrieve(ctx context.Context, text string) []retrieval.Neighbor {
	ctx, span := tracer.Start(ctx, "similarity.query")
	defer span.End()

	start := time.Now()
	neighbors, err := s.store.Query(ctx, text, s.cfg.TopK)
	if s.hooks.OnRetrieval != nil {
		s.hooks.OnRetrieval(len(neighbors), time.Since(start).Seconds(), err)
	}
	switch {
	case errors.Is(err, retrieval.ErrUnavailable):
		span.SetAttributes(attribute.Bool("bugtriage.store_unavailable", true))
		return nil
	case err != nil:
		s.logger.Warn("similarity query failed, continuing without history", "error", err)
		span.RecordError(err)
		return nil
	}
	span.SetAttributes(attribute.Int("bugtriage.neighbors", len(neighbors)))
	return neighbors
}

func (s *Suggester) lookup(ctx context.Context, key string) (suggestion.Suggestion, bool) {
	cached, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("suggestion cache lookup failed", "key", key, "error", err)
		hit = false
	}
	if s.hooks.OnCache != nil {
		s.hooks.OnCache(hit)
	}
	return cached, hit
}

func (s *Suggester) complete(ctx context.Context, prompt composer.Prompt) (string, error) {
	model := s.completer.Model()
	ctx, span := tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.prompt_tokens_estimate", composer.EstimateTokens(prompt.System+prompt.User)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()

	start := time.Now()
	raw, err := s.completer.Complete(ctx, engine.Request{
		System:    prompt.System,
		User:      prompt.User,
		MaxTokens: s.cfg.MaxTokens,
	})
	if s.hooks.OnLLMCall != nil {
		s.hooks.OnLLMCall(model, time.Since(start).Seconds(), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &UpstreamError{Model: model, Err: err}
	}
	return raw, nil
}

// commit hands the report to the writer and returns the triage log id.
func (s *Suggester) commit(report BugReport, res Result, elapsed time.Duration) string {
	if s.writer == nil {
		return ""
	}
	contextIDs := make([]string, len(res.Neighbors))
	for i, n := range res.Neighbors {
		contextIDs[i] = n.ID
	}
	entry := &storage.TriageEntry{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		BugID:      res.RecordID,
		Title:      report.Title,
		Persona:    report.Persona.Name(),
		Priority:   string(res.Suggestion.Priority),
		Suggestion: res.Suggestion.Text,
		Model:      s.completer.Model(),
		ContextIDs: contextIDs,
		DurationMs: elapsed.Milliseconds(),
	}
	record := retrieval.NewBugRecord(report.Title, report.Description, report.Resolution)
	if !s.writer.Commit(ingest.Entry{Record: record, Triage: entry}) {
		return ""
	}
	return entry.ID
}
