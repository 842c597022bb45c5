package pipeline

import (
	"errors"

	"github.com/kalambet/bugtriage/internal/ingest"
	"github.com/kalambet/bugtriage/internal/retrieval"
	"github.com/prometheus/client_golang/prometheus"
)

// Hooks observe the stages of a suggestion. Nil fields are skipped.
type Hooks struct {
	OnRetrieval func(neighbors int, duration float64, err error)
	OnLLMCall   func(model string, duration float64, err error)
	OnCache     func(hit bool)
	OnComplete  func(outcome string, duration float64)
}

// Metrics holds Prometheus metrics for the suggestion pipeline.
type Metrics struct {
	SuggestionsTotal   *prometheus.CounterVec
	SuggestionDuration *prometheus.HistogramVec
	RetrievalDuration  prometheus.Histogram
	RetrievalNeighbors prometheus.Histogram
	RetrievalErrors    prometheus.Counter
	// RetrievalSkipped counts queries answered without history because the
	// similarity store is unavailable.
	RetrievalSkipped prometheus.Counter
	LLMCallsTotal      *prometheus.CounterVec
	LLMDuration        *prometheus.HistogramVec
	CacheLookupsTotal  *prometheus.CounterVec
	WriterDropped      prometheus.Counter
	WriterErrors       *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SuggestionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bugtriage_suggestions_total",
			Help: "Total suggestion requests by outcome.",
		}, []string{"outcome"}),
		SuggestionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bugtriage_suggestion_duration_seconds",
			Help:    "End-to-end suggestion latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"outcome"}),
		RetrievalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bugtriage_retrieval_duration_seconds",
			Help:    "Similarity query latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}),
		RetrievalNeighbors: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bugtriage_retrieval_neighbors",
			Help:    "Neighbours returned per similarity query.",
			Buckets: prometheus.LinearBuckets(0, 1, 11), // 0 .. 10
		}),
		RetrievalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bugtriage_retrieval_errors_total",
			Help: "Similarity queries that failed and were treated as empty.",
		}),
		RetrievalSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bugtriage_retrieval_skipped_total",
			Help: "Similarity queries skipped because the store is unavailable.",
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bugtriage_llm_calls_total",
			Help: "Language model calls by model and status.",
		}, []string{"model", "status"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bugtriage_llm_call_duration_seconds",
			Help:    "Duration of language model calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s .. 64s
		}, []string{"model"}),
		CacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bugtriage_cache_lookups_total",
			Help: "Suggestion cache lookups by result.",
		}, []string{"result"}),
		WriterDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bugtriage_writer_dropped_total",
			Help: "Entries dropped because the writer queue was full.",
		}),
		WriterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bugtriage_writer_errors_total",
			Help: "Writer persistence failures by stage.",
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.SuggestionsTotal,
		m.SuggestionDuration,
		m.RetrievalDuration,
		m.RetrievalNeighbors,
		m.RetrievalErrors,
		m.RetrievalSkipped,
		m.LLMCallsTotal,
		m.LLMDuration,
		m.CacheLookupsTotal,
		m.WriterDropped,
		m.WriterErrors,
	)

	return m
}

// Hooks returns pipeline Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnRetrieval: func(neighbors int, duration float64, err error) {
			if errors.Is(err, retrieval.ErrUnavailable) {
				m.RetrievalSkipped.Inc()
				return
			}
			m.RetrievalDuration.Observe(duration)
			if err != nil {
				m.RetrievalErrors.Inc()
				return
			}
			m.RetrievalNeighbors.Observe(float64(neighbors))
		},
		OnLLMCall: func(model string, duration float64, err error) {
			status := "success"
			if err != nil {
				status = "error"
			}
			m.LLMCallsTotal.WithLabelValues(model, status).Inc()
			m.LLMDuration.WithLabelValues(model).Observe(duration)
		},
		OnCache: func(hit bool) {
			result := "miss"
			if hit {
				result = "hit"
			}
			m.CacheLookupsTotal.WithLabelValues(result).Inc()
		},
		OnComplete: func(outcome string, duration float64) {
			m.SuggestionsTotal.WithLabelValues(outcome).Inc()
			m.SuggestionDuration.WithLabelValues(outcome).Observe(duration)
		},
	}
}

// WriterHooks returns ingest.Hooks that count drops and persistence failures.
func (m *Metrics) WriterHooks() ingest.Hooks {
	return ingest.Hooks{
		OnDropped: m.WriterDropped.Inc,
		OnWritten: func(stage string, err error) {
			if err != nil {
				m.WriterErrors.WithLabelValues(stage).Inc()
			}
		},
	}
}
