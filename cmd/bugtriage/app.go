package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kalambet/bugtriage/internal/cache"
	"github.com/kalambet/bugtriage/internal/config"
	"github.com/kalambet/bugtriage/internal/engine"
	"github.com/kalambet/bugtriage/internal/ingest"
	"github.com/kalambet/bugtriage/internal/pipeline"
	"github.com/kalambet/bugtriage/internal/retrieval"
	"github.com/kalambet/bugtriage/internal/storage"
)

// app holds the wired components shared by serve and mcp.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *storage.Store
	similarity *retrieval.Store
	writer     *ingest.Writer
	cache      cache.Cache
	suggester  *pipeline.Suggester
	registry   *prometheus.Registry
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		LLMProvider:       cfg.LLM.Provider,
		LLMModel:          cfg.LLM.Model,
		LLMBaseURL:        cfg.LLM.BaseURL,
		EmbeddingProvider: cfg.Embedding.Provider,
		EmbeddingModel:    cfg.Embedding.Model,
		OllamaBaseURL:     cfg.Ollama.BaseURL,
		OpenAIAPIKey:      cfg.Secrets.OpenAIAPIKey,
		AnthropicAPIKey:   cfg.Secrets.AnthropicAPIKey,
	}
}

// newSimilarityStore builds the lazily initialised similarity store over db.
func newSimilarityStore(cfg config.Config, db *storage.Store, logger *slog.Logger) *retrieval.Store {
	ecfg := engineConfig(cfg)
	factory := retrieval.NewFactory(db.DB(), func() (engine.Embedder, error) {
		return engine.NewEmbedder(ecfg)
	})
	return retrieval.NewStore(factory,
		retrieval.WithLogger(logger),
		retrieval.WithTimeout(cfg.Embedding.Timeout),
	)
}

// buildApp opens storage and wires every component. A missing model
// credential is logged and leaves the suggester unconfigured.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	if err := prepareOllama(ctx, cfg, logger); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pipeline.NewMetrics(reg)

	similarity := newSimilarityStore(cfg, store, logger)
	writer := ingest.NewWriter(similarity, store, cfg.Writer.QueueSize,
		ingest.WithLogger(logger),
		ingest.WithHooks(metrics.WriterHooks()),
	)

	var c cache.Cache = cache.Nop{}
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedis(cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			logger.Warn("suggestion cache disabled", "error", err)
		} else if err := rc.Ping(ctx); err != nil {
			logger.Warn("suggestion cache unreachable, disabled", "error", err)
			rc.Close()
		} else {
			logger.Info("suggestion cache enabled", "ttl", cfg.Cache.TTL)
			c = rc
		}
	}

	completer, err := engine.NewCompleter(engineConfig(cfg))
	switch {
	case errors.Is(err, engine.ErrNoCredential):
		logger.Warn("no language model credential, suggestions disabled", "provider", cfg.LLM.Provider)
		completer = nil
	case err != nil:
		writer.Close()
		store.Close()
		return nil, fmt.Errorf("creating completion engine: %w", err)
	}

	suggester := pipeline.New(completer, similarity, writer, pipeline.Config{
		TopK:       cfg.Retrieval.TopK,
		LLMTimeout: cfg.LLM.Timeout,
		MaxTokens:  cfg.LLM.MaxTokens,
	},
		pipeline.WithLogger(logger),
		pipeline.WithHooks(metrics.Hooks()),
		pipeline.WithCache(c),
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		similarity: similarity,
		writer:     writer,
		cache:      c,
		suggester:  suggester,
		registry:   reg,
	}, nil
}

// warmUp initialises the similarity store so the first request does not pay
// for it. Unavailability is logged, never fatal.
func (a *app) warmUp(ctx context.Context) {
	if err := a.similarity.Initialize(ctx); err != nil {
		a.logger.Warn("similarity store not ready", "error", err)
		return
	}
	if n, err := a.similarity.Count(ctx); err == nil {
		a.logger.Info("similarity store loaded", "records", n)
	}
}

// Close drains the writer before closing the database.
func (a *app) Close() {
	a.writer.Close()
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("closing cache", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing storage", "error", err)
	}
}

// ollamaEngine returns an engine for the models configured on Ollama, or
// nil when neither role uses it.
func ollamaEngine(cfg config.Config) *engine.OllamaEngine {
	var chatModel, embedModel string
	if cfg.LLM.Provider == engine.ProviderOllama {
		chatModel = cfg.LLM.Model
	}
	if cfg.Embedding.Provider == engine.ProviderOllama {
		embedModel = cfg.Embedding.Model
	}
	if chatModel == "" && embedModel == "" {
		return nil
	}

	baseURL := cfg.Ollama.BaseURL
	if cfg.LLM.Provider == engine.ProviderOllama && cfg.LLM.BaseURL != "" {
		baseURL = cfg.LLM.BaseURL
	}
	return engine.NewOllamaEngine(baseURL, chatModel, embedModel)
}

// prepareOllama checks the local server and pulls missing models when
// either role uses Ollama.
func prepareOllama(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	eng := ollamaEngine(cfg)
	if eng == nil {
		return nil
	}
	if err := eng.EnsureReady(ctx, os.Stderr); err != nil {
		return fmt.Errorf("preparing ollama: %w", err)
	}
	logger.Info("ollama ready", "base_url", eng.BaseURL())
	return nil
}

// ollamaStatus describes the Ollama server for the status command. It is
// empty when neither role uses Ollama.
func ollamaStatus(ctx context.Context, cfg config.Config) string {
	eng := ollamaEngine(cfg)
	if eng == nil {
		return ""
	}
	if !eng.IsRunning(ctx) {
		return "not running at " + eng.BaseURL()
	}
	return "running at " + eng.BaseURL()
}
