package engine

import (
	"fmt"
	"strings"
)

// Provider names accepted by llm.provider and embedding.provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config selects and parameterises the completion and embedding backends.
type Config struct {
	LLMProvider string
	LLMModel    string
	// LLMBaseURL overrides the endpoint of the LLM provider. When both roles
	// use OpenAI it applies to embeddings too.
	LLMBaseURL string

	EmbeddingProvider string
	EmbeddingModel    string

	OllamaBaseURL string

	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// NewCompleter returns the completion backend for cfg.LLMProvider.
// It returns ErrNoCredential when the provider needs a key that is absent.
func NewCompleter(cfg Config) (Completer, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case ProviderOpenAI, "":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("llm provider openai: %w", ErrNoCredential)
		}
		return NewOpenAIEngine(cfg.OpenAIAPIKey, cfg.LLMBaseURL, cfg.LLMModel, ""), nil
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("llm provider anthropic: %w", ErrNoCredential)
		}
		return NewAnthropicEngine(cfg.AnthropicAPIKey, cfg.LLMBaseURL, cfg.LLMModel), nil
	case ProviderOllama:
		baseURL := cfg.OllamaBaseURL
		if cfg.LLMBaseURL != "" {
			baseURL = cfg.LLMBaseURL
		}
		return NewOllamaEngine(baseURL, cfg.LLMModel, ""), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

// NewEmbedder returns the embedding backend for cfg.EmbeddingProvider.
// It returns ErrNoCredential when the provider needs a key that is absent.
func NewEmbedder(cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.EmbeddingProvider) {
	case ProviderOpenAI, "":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("embedding provider openai: %w", ErrNoCredential)
		}
		var baseURL string
		if strings.EqualFold(cfg.LLMProvider, ProviderOpenAI) {
			baseURL = cfg.LLMBaseURL
		}
		return NewOpenAIEngine(cfg.OpenAIAPIKey, baseURL, "", cfg.EmbeddingModel), nil
	case ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL, "", cfg.EmbeddingModel), nil
	case ProviderAnthropic:
		return nil, fmt.Errorf("embedding provider anthropic is not supported")
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}
