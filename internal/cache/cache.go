// Package cache stores produced suggestions so that re-submitting an
// identical report under the same persona skips the model call.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/bugtriage/internal/suggestion"
	"github.com/redis/go-redis/v9"
)

// Cache looks up and stores suggestions by key.
type Cache interface {
	// Get returns the cached suggestion and true on a hit.
	Get(ctx context.Context, key string) (suggestion.Suggestion, bool, error)
	Set(ctx context.Context, key string, s suggestion.Suggestion) error
	Close() error
}

// Key builds the cache key for a persona and content-derived record id.
func Key(persona, recordID string) string {
	return persona + ":" + recordID
}

// Nop never hits.
type Nop struct{}

func (Nop) Get(context.Context, string) (suggestion.Suggestion, bool, error) {
	return suggestion.Suggestion{}, false, nil
}
func (Nop) Set(context.Context, string, suggestion.Suggestion) error { return nil }
func (Nop) Close() error                                             { return nil }

const keyPrefix = "bugtriage:suggestion:"

// Redis keeps suggestions as JSON strings with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects lazily to the server at url (redis://...).
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return NewRedisWithClient(redis.NewClient(opts), ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (suggestion.Suggestion, bool, error) {
	raw, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return suggestion.Suggestion{}, false, nil
	}
	if err != nil {
		return suggestion.Suggestion{}, false, fmt.Errorf("reading cached suggestion: %w", err)
	}

	var stored suggestion.Suggestion
	if err := json.Unmarshal(raw, &stored); err != nil {
		return suggestion.Suggestion{}, false, fmt.Errorf("decoding cached suggestion: %w", err)
	}
	s, err := suggestion.New(stored.Text, string(stored.Priority))
	if err != nil {
		return suggestion.Suggestion{}, false, fmt.Errorf("cached suggestion invalid: %w", err)
	}
	return s, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, s suggestion.Suggestion) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, keyPrefix+key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("writing cached suggestion: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
