package engine

import (
	"context"
	"io"

	"github.com/kalambet/bugtriage/internal/ollama"
)

var (
	_ Completer     = (*OllamaEngine)(nil)
	_ Embedder      = (*OllamaEngine)(nil)
	_ BatchEmbedder = (*OllamaEngine)(nil)
)

// OllamaEngine adapts the internal/ollama.Client to Completer and Embedder.
// It needs no credential.
type OllamaEngine struct {
	client     *ollama.Client
	chatModel  string
	embedModel string
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
// Either model may be empty when the engine serves only one role.
func NewOllamaEngine(baseURL, chatModel, embedModel string) *OllamaEngine {
	return &OllamaEngine{
		client:     ollama.New(baseURL),
		chatModel:  chatModel,
		embedModel: embedModel,
	}
}

func (e *OllamaEngine) Model() string { return e.chatModel }

func (e *OllamaEngine) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]ollama.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: req.User})

	return e.client.Chat(ctx, e.chatModel, msgs, ollama.ChatOptions{
		Temperature: 0,
		MaxTokens:   req.MaxTokens,
		JSON:        true,
	})
}

func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.client.Embed(ctx, e.embedModel, text)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OllamaEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.client.Embed(ctx, e.embedModel, texts...)
}

// BaseURL returns the address of the Ollama server.
func (e *OllamaEngine) BaseURL() string {
	return e.client.BaseURL()
}

// IsRunning reports whether the Ollama server is reachable.
func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

// EnsureReady pulls any of the engine's models that the server lacks.
func (e *OllamaEngine) EnsureReady(ctx context.Context, w io.Writer) error {
	return ollama.EnsureReady(ctx, e.client, []string{e.chatModel, e.embedModel}, w)
}
