package engine

import (
	"context"
	"errors"
)

// ErrNoCredential is returned by the constructors when the selected provider
// needs an API key and none is configured.
var ErrNoCredential = errors.New("no API credential configured")

// Request is a single-turn completion: one system prompt, one user prompt.
type Request struct {
	System    string
	User      string
	MaxTokens int
}

// Completer abstracts a chat-completion backend (OpenAI, Anthropic or Ollama).
// Implementations run with temperature 0 so identical prompts produce
// stable output where the backend allows it.
type Completer interface {
	// Complete sends the request and returns the assistant's text reply.
	Complete(ctx context.Context, req Request) (string, error)

	// Model reports the model name used for completions.
	Model() string
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by backends that embed several texts in one
// request. Vectors come back in input order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
