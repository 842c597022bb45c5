package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	_ Completer     = (*OpenAIEngine)(nil)
	_ Embedder      = (*OpenAIEngine)(nil)
	_ BatchEmbedder = (*OpenAIEngine)(nil)
)

// OpenAIEngine serves completions and embeddings from the OpenAI API or any
// server that speaks its protocol.
type OpenAIEngine struct {
	client     openai.Client
	chatModel  string
	embedModel string
}

// NewOpenAIEngine builds an engine for the given models. baseURL may be empty.
// Extra request options are appended after the key and base URL.
func NewOpenAIEngine(apiKey, baseURL, chatModel, embedModel string, opts ...option.RequestOption) *OpenAIEngine {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &OpenAIEngine{
		client:     openai.NewClient(reqOpts...),
		chatModel:  chatModel,
		embedModel: embedModel,
	}
}

func (e *OpenAIEngine) Model() string { return e.chatModel }

func (e *OpenAIEngine) Complete(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: e.chatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(0),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion: no choices in response")
	}

	slog.DebugContext(ctx, "chat completed",
		"provider", "openai",
		"model", e.chatModel,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason)

	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts}, len(texts))
}

// embed places each returned vector at its reported index and fails unless
// exactly want vectors arrive.
func (e *OpenAIEngine) embed(ctx context.Context, input openai.EmbeddingNewParamsInputUnion, want int) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: input,
		Model: openai.EmbeddingModel(e.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}
	if len(resp.Data) != want {
		return nil, fmt.Errorf("openai embedding: got %d vectors for %d inputs", len(resp.Data), want)
	}

	vecs := make([][]float32, want)
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= want || vecs[d.Index] != nil {
			return nil, fmt.Errorf("openai embedding: unexpected index %d", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		vecs[d.Index] = vec
	}
	return vecs, nil
}
