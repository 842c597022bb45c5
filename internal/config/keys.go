package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key      string
	typ      keyType
	env      string
	fallback string // secondary env var, consulted when env is unset
	secret   bool
	apply    func(cfg *Config, v any)
	extract  func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "BUGTRIAGE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.cors_origins", typ: kString, env: "BUGTRIAGE_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigins },
	},
	{
		key: "llm.provider", typ: kString, env: "BUGTRIAGE_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "BUGTRIAGE_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.base_url", typ: kString, env: "BUGTRIAGE_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.timeout", typ: kDuration, env: "BUGTRIAGE_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "llm.max_tokens", typ: kInt, env: "BUGTRIAGE_LLM_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokens },
	},
	{
		key: "embedding.provider", typ: kString, env: "BUGTRIAGE_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "BUGTRIAGE_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.timeout", typ: kDuration, env: "BUGTRIAGE_EMBEDDING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Embedding.Timeout },
	},
	{
		key: "ollama.base_url", typ: kString, env: "BUGTRIAGE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "BUGTRIAGE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "BUGTRIAGE_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "cache.redis_url", typ: kString, env: "BUGTRIAGE_CACHE_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisURL },
	},
	{
		key: "cache.ttl", typ: kDuration, env: "BUGTRIAGE_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "writer.queue_size", typ: kInt, env: "BUGTRIAGE_WRITER_QUEUE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Writer.QueueSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Writer.QueueSize },
	},
	{
		key: "log.level", typ: kString, env: "BUGTRIAGE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "BUGTRIAGE_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "otel.endpoint", typ: kString, env: "BUGTRIAGE_OTEL_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.OTel.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.OTel.Endpoint },
	},
	{
		key: "secrets.openai_api_key", typ: kString, env: "BUGTRIAGE_OPENAI_API_KEY", fallback: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.OpenAIAPIKey },
	},
	{
		key: "secrets.anthropic_api_key", typ: kString, env: "BUGTRIAGE_ANTHROPIC_API_KEY", fallback: "ANTHROPIC_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.AnthropicAPIKey },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("invalid duration for %s: %w", s.key, err)
				}
				s.apply(cfg, d)
			}
		}
	}
	return nil
}

func lookupEnv(s keySpec) string {
	if raw := os.Getenv(s.env); raw != "" {
		return raw
	}
	if s.fallback != "" {
		return os.Getenv(s.fallback)
	}
	return ""
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := lookupEnv(s)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
