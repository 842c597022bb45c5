package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
)

func newOpenAITestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", got)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		handler(w, r, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEngine_Complete(t *testing.T) {
	srv := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if body["model"] != "gpt-4o-mini" {
			t.Errorf("model = %v", body["model"])
		}
		if temp, ok := body["temperature"]; !ok || temp != float64(0) {
			t.Errorf("temperature = %v (present=%v), want 0", temp, ok)
		}
		if body["max_tokens"] != float64(256) {
			t.Errorf("max_tokens = %v, want 256", body["max_tokens"])
		}
		msgs, _ := body["messages"].([]any)
		if len(msgs) != 2 {
			t.Fatalf("got %d messages, want 2", len(msgs))
		}
		if role := msgs[0].(map[string]any)["role"]; role != "system" {
			t.Errorf("first role = %v, want system", role)
		}
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"suggestion\":\"ok\",\"predictedPriority\":\"LOW\"}"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	})

	e := NewOpenAIEngine("test-key", srv.URL+"/v1", "gpt-4o-mini", "", option.WithMaxRetries(0))
	out, err := e.Complete(context.Background(), Request{System: "sys", User: "usr", MaxTokens: 256})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(out, `"predictedPriority":"LOW"`) {
		t.Errorf("Complete = %q", out)
	}
}

func TestOpenAIEngine_Complete_NoChoices(t *testing.T) {
	srv := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	})

	e := NewOpenAIEngine("test-key", srv.URL, "m", "", option.WithMaxRetries(0))
	if _, err := e.Complete(context.Background(), Request{User: "u"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOpenAIEngine_Complete_ServerError(t *testing.T) {
	srv := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})

	e := NewOpenAIEngine("test-key", srv.URL, "m", "", option.WithMaxRetries(0))
	_, err := e.Complete(context.Background(), Request{User: "u"})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "openai chat completion") {
		t.Errorf("error = %q, want wrapped context", err)
	}
}

func TestOpenAIEngine_Embed(t *testing.T) {
	srv := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		if body["model"] != "text-embedding-3-small" {
			t.Errorf("model = %v", body["model"])
		}
		if body["input"] != "Login button not working" {
			t.Errorf("input = %v", body["input"])
		}
		w.Write([]byte(`{
			"object": "list",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.5, 0.25, -1]}],
			"model": "text-embedding-3-small",
			"usage": {"prompt_tokens": 4, "total_tokens": 4}
		}`))
	})

	e := NewOpenAIEngine("test-key", srv.URL, "", "text-embedding-3-small", option.WithMaxRetries(0))
	vec, err := e.Embed(context.Background(), "Login button not working")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	want := []float32{0.5, 0.25, -1}
	if len(vec) != len(want) {
		t.Fatalf("got %d dims, want %d", len(vec), len(want))
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("vec[%d] = %v, want %v", i, vec[i], want[i])
		}
	}
}

func TestOpenAIEngine_EmbedBatch_OrdersByIndex(t *testing.T) {
	srv := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		input, ok := body["input"].([]any)
		if !ok || len(input) != 2 {
			t.Errorf("input = %v, want two strings", body["input"])
		}
		w.Write([]byte(`{
			"object": "list",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [2]},
				{"object": "embedding", "index": 0, "embedding": [1]}
			],
			"model": "text-embedding-3-small",
			"usage": {"prompt_tokens": 4, "total_tokens": 4}
		}`))
	})

	e := NewOpenAIEngine("test-key", srv.URL, "", "text-embedding-3-small", option.WithMaxRetries(0))
	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("vecs = %v, want [[1] [2]]", vecs)
	}
}

func TestOpenAIEngine_EmbedBatch_CountMismatch(t *testing.T) {
	srv := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[1]}],"model":"m","usage":{"prompt_tokens":1,"total_tokens":1}}`))
	})

	e := NewOpenAIEngine("test-key", srv.URL, "", "m", option.WithMaxRetries(0))
	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error when fewer vectors than inputs come back")
	}
}
