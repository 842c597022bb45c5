package engine

import (
	"errors"
	"testing"
)

func TestNewCompleter_MissingCredential(t *testing.T) {
	for _, provider := range []string{"openai", "anthropic", ""} {
		_, err := NewCompleter(Config{LLMProvider: provider, LLMModel: "m"})
		if !errors.Is(err, ErrNoCredential) {
			t.Errorf("provider %q: err = %v, want ErrNoCredential", provider, err)
		}
	}
}

func TestNewCompleter_Providers(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{LLMProvider: "openai", LLMModel: "gpt-4o-mini", OpenAIAPIKey: "k"}, "*engine.OpenAIEngine"},
		{Config{LLMProvider: "Anthropic", LLMModel: "claude", AnthropicAPIKey: "k"}, "*engine.AnthropicEngine"},
		{Config{LLMProvider: "ollama", LLMModel: "llama3.1", OllamaBaseURL: "http://localhost:11434"}, "*engine.OllamaEngine"},
	}
	for _, tt := range tests {
		c, err := NewCompleter(tt.cfg)
		if err != nil {
			t.Fatalf("NewCompleter(%s): %v", tt.cfg.LLMProvider, err)
		}
		if got := typeName(c); got != tt.want {
			t.Errorf("NewCompleter(%s) = %s, want %s", tt.cfg.LLMProvider, got, tt.want)
		}
		if c.Model() != tt.cfg.LLMModel {
			t.Errorf("Model() = %q, want %q", c.Model(), tt.cfg.LLMModel)
		}
	}
}

func TestNewCompleter_Unknown(t *testing.T) {
	_, err := NewCompleter(Config{LLMProvider: "bard"})
	if err == nil || errors.Is(err, ErrNoCredential) {
		t.Errorf("err = %v, want unknown provider error", err)
	}
}

func TestNewEmbedder(t *testing.T) {
	if _, err := NewEmbedder(Config{EmbeddingProvider: "openai"}); !errors.Is(err, ErrNoCredential) {
		t.Errorf("openai without key: err = %v, want ErrNoCredential", err)
	}
	if _, err := NewEmbedder(Config{EmbeddingProvider: "anthropic", AnthropicAPIKey: "k"}); err == nil {
		t.Error("anthropic embedder: want error")
	}
	e, err := NewEmbedder(Config{EmbeddingProvider: "ollama", EmbeddingModel: "nomic-embed-text"})
	if err != nil {
		t.Fatalf("ollama embedder: %v", err)
	}
	if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("ollama embedder type = %T", e)
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *OpenAIEngine:
		return "*engine.OpenAIEngine"
	case *AnthropicEngine:
		return "*engine.AnthropicEngine"
	case *OllamaEngine:
		return "*engine.OllamaEngine"
	}
	return "unknown"
}
