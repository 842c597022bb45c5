package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/bugtriage/internal/engine"
	"golang.org/x/sync/errgroup"
)

// Embedder wraps an engine.Embedder with batch support.
type Embedder struct {
	engine engine.Embedder
}

// NewEmbedder creates an Embedder using the given backend.
func NewEmbedder(e engine.Embedder) *Embedder {
	return &Embedder{engine: e}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding text: backend returned an empty vector")
	}
	return vec, nil
}

// EmbedBatch returns one vector per text, in order. Backends with a batch
// endpoint get a single call; others are fanned out at most four at a time.
// Empty input yields nil.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if b, ok := e.engine.(engine.BatchEmbedder); ok {
		return e.native(ctx, b, texts)
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Embedder) native(ctx context.Context, b engine.BatchEmbedder, texts []string) ([][]float32, error) {
	vecs, err := b.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding %d texts: backend returned %d vectors", len(texts), len(vecs))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("text %d: backend returned an empty vector", i)
		}
	}
	return vecs, nil
}
