package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kalambet/bugtriage/internal/ingest"
	"github.com/kalambet/bugtriage/internal/pipeline"
	"github.com/kalambet/bugtriage/internal/retrieval"
	"github.com/kalambet/bugtriage/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ServiceName is reported by the health endpoint.
const ServiceName = "AI Suggestion Service"

// Suggester produces triage suggestions.
type Suggester interface {
	Suggest(ctx context.Context, report pipeline.BugReport) (pipeline.Result, error)
	Configured() bool
}

// SimilarityIndex answers nearest-neighbour queries and reports readiness.
type SimilarityIndex interface {
	Query(ctx context.Context, text string, k int) ([]retrieval.Neighbor, error)
	Status() string
}

// TriageLog reads past suggestions and reports on the database holding them.
type TriageLog interface {
	GetTriage(ctx context.Context, id string) (storage.TriageEntry, error)
	ListTriages(ctx context.Context, limit, offset int) ([]storage.TriageEntry, error)
	CountTriages(ctx context.Context) (int, error)
	AppliedMigrations() ([]int, error)
}

// Committer queues records for deferred persistence.
type Committer interface {
	Commit(e ingest.Entry) bool
}

// Deps holds the collaborators of the HTTP surface. Metrics may be nil.
type Deps struct {
	Suggester   Suggester
	Similarity  SimilarityIndex
	Triages     TriageLog
	Writer      Committer
	Metrics     http.Handler
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewHandler returns the service's http.Handler with CORS and tracing applied.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(accessLog(deps.Logger))

	r.Get("/health", handleHealth(deps))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/ai", func(r chi.Router) {
		r.Post("/suggest", handleSuggest(deps))
		r.Post("/bugs", handleSeedBugs(deps))
		r.Get("/similar", handleSimilar(deps))
		r.Get("/triages", handleListTriages(deps))
		r.Get("/triages/{id}", handleGetTriage(deps))
	})

	return otelhttp.NewHandler(r, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"detail": fmt.Sprintf(format, args...)})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
