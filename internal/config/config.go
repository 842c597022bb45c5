package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Cache     CacheConfig
	Writer    WriterConfig
	Log       LogConfig
	OTel      OTelConfig
	Secrets   SecretsConfig
}

type ServerConfig struct {
	Port        int
	CORSOrigins string
}

// Origins splits the comma-separated CORS origin list.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type LLMConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

type EmbeddingConfig struct {
	Provider string
	Model    string
	Timeout  time.Duration
}

type OllamaConfig struct {
	BaseURL string
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	TopK int
}

type CacheConfig struct {
	RedisURL string
	TTL      time.Duration
}

type WriterConfig struct {
	QueueSize int
}

type LogConfig struct {
	Level  string
	Format string
}

type OTelConfig struct {
	Endpoint string
}

// SecretsConfig holds provider credentials. They are read from the
// environment only and never written to the config file.
type SecretsConfig struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

var knownProviders = map[string]bool{"openai": true, "anthropic": true, "ollama": true}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        5001,
			CORSOrigins: "*",
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			Timeout:   60 * time.Second,
			MaxTokens: 1024,
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
			Timeout:  15 * time.Second,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK: 3,
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		Writer: WriterConfig{
			QueueSize: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration in increasing priority: built-in defaults, the
// YAML file at $XDG_CONFIG_HOME/bugtriage/config.yaml, then BUGTRIAGE_*
// environment variables. A .env file in the working directory is loaded
// into the environment first without overriding variables already set.
//
// Provider credentials come from the environment only. A missing
// credential is not an error; the service starts and reports itself as
// unconfigured.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if !knownProviders[c.LLM.Provider] {
		return fmt.Errorf("unknown llm.provider %q (want openai, anthropic or ollama)", c.LLM.Provider)
	}
	if !knownProviders[c.Embedding.Provider] || c.Embedding.Provider == "anthropic" {
		return fmt.Errorf("unknown embedding.provider %q (want openai or ollama)", c.Embedding.Provider)
	}
	if c.LLM.Timeout <= 0 || c.Embedding.Timeout <= 0 {
		return errors.New("llm.timeout and embedding.timeout must be positive")
	}
	if c.Retrieval.TopK < 0 {
		return fmt.Errorf("invalid retrieval.top_k %d", c.Retrieval.TopK)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q (want text or json)", c.Log.Format)
	}
	return nil
}

// HasLLMCredential reports whether the selected LLM provider can be used.
func (c Config) HasLLMCredential() bool {
	switch c.LLM.Provider {
	case "openai":
		return c.Secrets.OpenAIAPIKey != ""
	case "anthropic":
		return c.Secrets.AnthropicAPIKey != ""
	default:
		return true
	}
}
