package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/bugtriage/internal/engine"
	"github.com/kalambet/bugtriage/internal/ingest"
	"github.com/kalambet/bugtriage/internal/pipeline"
	"github.com/kalambet/bugtriage/internal/retrieval"
	"github.com/kalambet/bugtriage/internal/storage"
	"github.com/kalambet/bugtriage/internal/suggestion"
)

// --- mocks ---

type mockCompleter struct {
	completeFn func(ctx context.Context, req engine.Request) (string, error)
}

func (m *mockCompleter) Complete(ctx context.Context, req engine.Request) (string, error) {
	return m.completeFn(ctx, req)
}

func (m *mockCompleter) Model() string { return "test-model" }

type mockSuggester struct {
	mu         sync.Mutex
	configured bool
	last       pipeline.BugReport
	suggestFn  func(ctx context.Context, r pipeline.BugReport) (pipeline.Result, error)
}

func (m *mockSuggester) Suggest(ctx context.Context, r pipeline.BugReport) (pipeline.Result, error) {
	m.mu.Lock()
	m.last = r
	m.mu.Unlock()
	return m.suggestFn(ctx, r)
}

func (m *mockSuggester) Configured() bool { return m.configured }

type mockIndex struct {
	status  string
	queryFn func(ctx context.Context, text string, k int) ([]retrieval.Neighbor, error)
}

func (m *mockIndex) Query(ctx context.Context, text string, k int) ([]retrieval.Neighbor, error) {
	if m.queryFn == nil {
		return nil, nil
	}
	return m.queryFn(ctx, text, k)
}

func (m *mockIndex) Status() string { return m.status }

type mockCommitter struct {
	mu       sync.Mutex
	entries  []ingest.Entry
	capacity int
}

func (m *mockCommitter) Commit(e ingest.Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capacity > 0 && len(m.entries) >= m.capacity {
		return false
	}
	m.entries = append(m.entries, e)
	return true
}

// --- helpers ---

const loginReply = `{"suggestion": "Check onClick binding", "predictedPriority": "high"}`

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestHandler(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	if deps.Triages == nil {
		deps.Triages = openStore(t)
	}
	if deps.Similarity == nil {
		deps.Similarity = &mockIndex{status: retrieval.StatusReady}
	}
	if deps.Writer == nil {
		deps.Writer = &mockCommitter{}
	}
	return NewHandler(deps)
}

func do(h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeDetail(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body["detail"]
}

// --- /ai/suggest ---

func TestSuggest_LoginScenario(t *testing.T) {
	llm := &mockCompleter{completeFn: func(context.Context, engine.Request) (string, error) {
		return loginReply, nil
	}}
	writer := &mockCommitter{}
	s := pipeline.New(llm, &mockIndex{}, writer, pipeline.Config{})
	h := newTestHandler(t, Deps{Suggester: s, Writer: writer})

	rr := do(h, http.MethodPost, "/ai/suggest",
		`{"title":"Login button not working","description":"Click produces no response on homepage.","userType":"developer"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got["suggestion"] != "Check onClick binding" {
		t.Errorf("suggestion = %q", got["suggestion"])
	}
	if got["predictedPriority"] != "HIGH" {
		t.Errorf("predictedPriority = %q, want HIGH", got["predictedPriority"])
	}
	if len(got) != 2 {
		t.Errorf("response has extra fields: %v", got)
	}
	if len(writer.entries) != 1 {
		t.Errorf("writer received %d entries, want 1", len(writer.entries))
	}
}

func TestSuggest_MissingCredential(t *testing.T) {
	s := pipeline.New(nil, &mockIndex{}, &mockCommitter{}, pipeline.Config{})
	h := newTestHandler(t, Deps{Suggester: s})

	rr := do(h, http.MethodPost, "/ai/suggest", `{"title":"t","description":"d"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if detail := decodeDetail(t, rr); !strings.Contains(detail, "not configured") {
		t.Errorf("detail = %q", detail)
	}

	rr = do(h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rr.Code)
	}
	var health HealthResponse
	json.NewDecoder(rr.Body).Decode(&health)
	if health.Status != "healthy" || health.LLMConfigured {
		t.Errorf("health = %+v", health)
	}
}

func TestSuggest_InvalidInput(t *testing.T) {
	llm := &mockCompleter{completeFn: func(context.Context, engine.Request) (string, error) {
		t.Error("completer should not be called")
		return "", nil
	}}
	s := pipeline.New(llm, &mockIndex{}, &mockCommitter{}, pipeline.Config{})
	h := newTestHandler(t, Deps{Suggester: s})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"title":`},
		{"wrong type", `{"title":5,"description":"d"}`},
		{"missing title", `{"description":"d"}`},
		{"blank description", `{"title":"t","description":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(h, http.MethodPost, "/ai/suggest", tt.body)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422; body = %s", rr.Code, rr.Body.String())
			}
			if decodeDetail(t, rr) == "" {
				t.Error("missing detail")
			}
		})
	}
}

func TestSuggest_ErrorMapping(t *testing.T) {
	const raw = "SECRET raw model output"
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"upstream", &pipeline.UpstreamError{Model: "m", Err: errors.New("quota " + raw)}, http.StatusInternalServerError},
		{"malformed", &suggestion.MalformedResponseError{Raw: raw}, http.StatusInternalServerError},
		{"validation", &suggestion.ValidationError{Field: "predictedPriority", Reason: "bad", Raw: raw}, http.StatusInternalServerError},
		{"configuration", &pipeline.ConfigurationError{Reason: "no key"}, http.StatusInternalServerError},
		{"input", &pipeline.InputError{Field: "title", Reason: "must not be empty"}, http.StatusUnprocessableEntity},
		{"unknown", errors.New(raw), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSuggester{configured: true, suggestFn: func(context.Context, pipeline.BugReport) (pipeline.Result, error) {
				return pipeline.Result{}, tt.err
			}}
			h := newTestHandler(t, Deps{Suggester: s})

			rr := do(h, http.MethodPost, "/ai/suggest", `{"title":"t","description":"d"}`)
			if rr.Code != tt.code {
				t.Fatalf("status = %d, want %d", rr.Code, tt.code)
			}
			detail := decodeDetail(t, rr)
			if detail == "" {
				t.Error("missing detail")
			}
			if strings.Contains(detail, "SECRET") {
				t.Errorf("detail leaks raw output: %q", detail)
			}
		})
	}
}

func TestSuggest_UserTypeSelectsPersona(t *testing.T) {
	s := &mockSuggester{configured: true, suggestFn: func(context.Context, pipeline.BugReport) (pipeline.Result, error) {
		return pipeline.Result{Suggestion: suggestion.Suggestion{Text: "x", Priority: suggestion.PriorityLow}}, nil
	}}
	h := newTestHandler(t, Deps{Suggester: s})

	for userType, want := range map[string]string{
		"business":  "business",
		"Developer": "developer",
		"":          "developer",
		"manager":   "developer",
	} {
		body := `{"title":"t","description":"d","resolution":"r","userType":"` + userType + `"}`
		rr := do(h, http.MethodPost, "/ai/suggest", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("userType %q: status = %d", userType, rr.Code)
		}
		if got := s.last.Persona.Name(); got != want {
			t.Errorf("userType %q: persona = %q, want %q", userType, got, want)
		}
		if s.last.Resolution != "r" {
			t.Errorf("resolution not forwarded: %q", s.last.Resolution)
		}
	}
}

// --- /health ---

func TestHealth(t *testing.T) {
	s := &mockSuggester{configured: true}
	h := newTestHandler(t, Deps{Suggester: s, Similarity: &mockIndex{status: retrieval.StatusUninitialized}})

	rr := do(h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	want := HealthResponse{
		Status:          "healthy",
		Service:         ServiceName,
		LLMConfigured:   true,
		SimilarityStore: retrieval.StatusUninitialized,
		SchemaVersion:   1,
	}
	if got != want {
		t.Errorf("health = %+v, want %+v", got, want)
	}
}

func TestHealth_ReportsTriageCount(t *testing.T) {
	store := openStore(t)
	for _, id := range []string{"t1", "t2"} {
		err := store.SaveTriage(context.Background(), storage.TriageEntry{
			ID:        id,
			CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			BugID:     "bug-" + id,
			Title:     "Bug " + id,
			Persona:   "developer",
			Priority:  "LOW",
		})
		if err != nil {
			t.Fatalf("SaveTriage: %v", err)
		}
	}
	h := newTestHandler(t, Deps{Suggester: &mockSuggester{}, Triages: store})

	rr := do(h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.TriageCount != 2 || got.SchemaVersion != 1 {
		t.Errorf("health = %+v, want triageCount 2 and schemaVersion 1", got)
	}
}

func TestHealth_ClosedDatabaseStillHealthy(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	store.Close()
	h := newTestHandler(t, Deps{Suggester: &mockSuggester{}, Triages: store})

	rr := do(h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got HealthResponse
	json.NewDecoder(rr.Body).Decode(&got)
	if got.Status != "healthy" || got.TriageCount != 0 || got.SchemaVersion != 0 {
		t.Errorf("health = %+v", got)
	}
}

func TestCORS_AllowsConfiguredOrigin(t *testing.T) {
	h := newTestHandler(t, Deps{Suggester: &mockSuggester{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	h := newTestHandler(t, Deps{Suggester: &mockSuggester{}, CORSOrigins: []string{"http://app.example.com"}})

	for origin, want := range map[string]string{
		"http://app.example.com":  "http://app.example.com",
		"http://evil.example.com": "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %s: Access-Control-Allow-Origin = %q, want %q", origin, got, want)
		}
	}
}

// --- /ai/bugs ---

func TestSeedBugs_Accepted(t *testing.T) {
	writer := &mockCommitter{}
	h := newTestHandler(t, Deps{Suggester: &mockSuggester{}, Writer: writer})

	body := `{"bugs":[
		{"title":"Crash on save","description":"App exits when saving","resolution":"Null check added"},
		{"title":"Slow search","description":"Search takes 10s"}
	]}`
	rr := do(h, http.MethodPost, "/ai/bugs", body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body = %s", rr.Code, rr.Body.String())
	}

	var resp SeedResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	want := []string{
		retrieval.RecordID("Crash on save", "App exits when saving", "Null check added"),
		retrieval.RecordID("Slow search", "Search takes 10s", ""),
	}
	if len(resp.IDs) != 2 || resp.IDs[0] != want[0] || resp.IDs[1] != want[1] {
		t.Errorf("ids = %v, want %v", resp.IDs, want)
	}
	if len(writer.entries) != 2 {
		t.Fatalf("committed %d entries, want 2", len(writer.entries))
	}
	for _, e := range writer.entries {
		if e.Triage != nil {
			t.Error("seeded bugs must not create triage log entries")
		}
	}
	if !writer.entries[0].Record.HasResolution || writer.entries[1].Record.HasResolution {
		t.Error("HasResolution not set from resolution field")
	}
}

func TestSeedBugs_Invalid(t *testing.T) {
	writer := &mockCommitter{}
	h := newTestHandler(t, Deps{Suggester: &mockSuggester{}, Writer: writer})

	for _, body := range []string{
		`not json`,
		`{"bugs":[]}`,
		`{"bugs":[{"title":"ok","description":"ok"},{"title":"","description":"d"}]}`,
	} {
		rr := do(h, http.MethodPost, "/ai/bugs", body)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("body %s: status = %d, want 422", body, rr.Code)
		}
	}
	if len(writer.entries) != 0 {
		t.Error("invalid batches must not be partially committed")
	}
}

func TestSeedBugs_QueueFull(t *testing.T) {
	writer := &mockCommitter{capacity: 1}
	h := newTestHandler(t, Deps{Suggester: &mockSuggester{}, Writer: writer})

	rr := do(h, http.MethodPost, "/ai/bugs", `{"bugs":[{"title":"a","description":"a"},{"title":"b","description":"b"}]}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}
	var resp SeedResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.IDs) != 1 || resp.Dropped != 1 {
		t.Errorf("resp = %+v, want 1 id and 1 dropped", resp)
	}

	rr = do(h, http.MethodPost, "/ai/bugs", `{"bugs":[{"title":"c","description":"c"}]}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when nothing was accepted", rr.Code)
	}
}

// --- /ai/similar ---

func TestSimilar(t *testing.T) {
	var gotText string
	var gotK int
	idx := &mockIndex{status: retrieval.StatusReady, queryFn: func(_ context.Context, text string, k int) ([]retrieval.Neighbor, error) {
		gotText, gotK = text, k
		return []retrieval.Neighbor{{ID: "a", Body: "Crash on save", HasResolution: true, Score: 0.9}}, nil
	}}
	h := newTestHandler(t, Deps{Suggester: &mockSuggester{}, Similarity: idx})

	rr := do(h, http.MethodGet, "/ai/similar?q=save+crash&k=50", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if gotText != "save crash" || gotK != maxSimilarK {
		t.Errorf("query = (%q, %d), want (%q, %d)", gotText, gotK, "save crash", maxSimilarK)
	}
	var neighbors []retrieval.Neighbor
	json.NewDecoder(rr.Body).Decode(&neighbors)
	if len(neighbors) != 1 || neighbors[0].ID != "a" || !neighbors[0].HasResolution {
		t.Errorf("neighbors = %+v", neighbors)
	}

	do(h, http.MethodGet, "/ai/similar?q=x", "")
	if gotK != defaultSimilarK {
		t.Errorf("default k = %d, want %d", gotK, defaultSimilarK)
	}
}

func TestSimilar_Errors(t *testing.T) {
	unavailable := &mockIndex{status: retrieval.StatusUnavailable, queryFn: func(context.Context, string, int) ([]retrieval.Neighbor, error) {
		return nil, retrieval.ErrUnavailable
	}}
	failing := &mockIndex{status: retrieval.StatusReady, queryFn: func(context.Context, string, int) ([]retrieval.Neighbor, error) {
		return nil, errors.New("embed failed")
	}}

	h := newTestHandler(t, Deps{Suggester: &mockSuggester{}, Similarity: unavailable})
	if rr := do(h, http.MethodGet, "/ai/similar", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing q: status = %d, want 422", rr.Code)
	}
	if rr := do(h, http.MethodGet, "/ai/similar?q=x", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("unavailable: status = %d, want 503", rr.Code)
	}

	h = newTestHandler(t, Deps{Suggester: &mockSuggester{}, Similarity: failing})
	if rr := do(h, http.MethodGet, "/ai/similar?q=x", ""); rr.Code != http.StatusInternalServerError {
		t.Errorf("failing: status = %d, want 500", rr.Code)
	}
}

func TestSimilar_EmptyIsArray(t *testing.T) {
	h := newTestHandler(t, Deps{Suggester: &mockSuggester{}})
	rr := do(h, http.MethodGet, "/ai/similar?q=x", "")
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

// --- /ai/triages ---

func TestTriages(t *testing.T) {
	store := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"t1", "t2", "t3"} {
		err := store.SaveTriage(context.Background(), storage.TriageEntry{
			ID:         id,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			BugID:      "bug-" + id,
			Title:      "Bug " + id,
			Persona:    "developer",
			Priority:   "LOW",
			Suggestion: "Investigate",
			Model:      "test-model",
			ContextIDs: []string{},
		})
		if err != nil {
			t.Fatalf("SaveTriage: %v", err)
		}
	}
	h := newTestHandler(t, Deps{Suggester: &mockSuggester{}, Triages: store})

	rr := do(h, http.MethodGet, "/ai/triages?limit=2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var entries []storage.TriageEntry
	json.NewDecoder(rr.Body).Decode(&entries)
	if len(entries) != 2 || entries[0].ID != "t3" {
		t.Errorf("entries = %+v, want newest first, limited to 2", entries)
	}

	rr = do(h, http.MethodGet, "/ai/triages/t1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rr.Code)
	}
	var entry storage.TriageEntry
	json.NewDecoder(rr.Body).Decode(&entry)
	if entry.BugID != "bug-t1" || entry.Priority != "LOW" {
		t.Errorf("entry = %+v", entry)
	}

	rr = do(h, http.MethodGet, "/ai/triages/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rr.Code)
	}
}

func TestTriages_EmptyIsArray(t *testing.T) {
	h := newTestHandler(t, Deps{Suggester: &mockSuggester{}})
	rr := do(h, http.MethodGet, "/ai/triages", "")
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

// --- /metrics ---

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := pipeline.NewMetrics(reg)
	llm := &mockCompleter{completeFn: func(context.Context, engine.Request) (string, error) {
		return loginReply, nil
	}}
	s := pipeline.New(llm, &mockIndex{}, &mockCommitter{}, pipeline.Config{}, pipeline.WithHooks(m.Hooks()))
	h := newTestHandler(t, Deps{
		Suggester: s,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	if rr := do(h, http.MethodPost, "/ai/suggest", `{"title":"t","description":"d"}`); rr.Code != http.StatusOK {
		t.Fatalf("suggest status = %d", rr.Code)
	}

	rr := do(h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{"bugtriage_suggestions_total", "bugtriage_llm_calls_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	h := newTestHandler(t, Deps{Suggester: &mockSuggester{}})
	if rr := do(h, http.MethodGet, "/metrics", ""); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when metrics are not wired", rr.Code)
	}
}
