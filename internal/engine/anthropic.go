package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var _ Completer = (*AnthropicEngine)(nil)

// defaultAnthropicMaxTokens applies when the request leaves MaxTokens unset;
// the Messages API requires a value.
const defaultAnthropicMaxTokens = 1024

// AnthropicEngine serves completions from the Anthropic Messages API.
// Anthropic has no embeddings endpoint, so it only implements Completer.
type AnthropicEngine struct {
	client anthropic.Client
	model  string
}

// NewAnthropicEngine builds an engine for model. baseURL may be empty.
func NewAnthropicEngine(apiKey, baseURL, model string, opts ...option.RequestOption) *AnthropicEngine {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &AnthropicEngine{
		client: anthropic.NewClient(reqOpts...),
		model:  model,
	}
}

func (e *AnthropicEngine) Model() string { return e.model }

func (e *AnthropicEngine) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
		Temperature: anthropic.Float(0),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	slog.DebugContext(ctx, "chat completed",
		"provider", "anthropic",
		"model", e.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason)

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic messages: no text content in response")
	}
	return b.String(), nil
}
