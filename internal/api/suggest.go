package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kalambet/bugtriage/internal/composer"
	"github.com/kalambet/bugtriage/internal/pipeline"
	"github.com/kalambet/bugtriage/internal/retrieval"
	"github.com/kalambet/bugtriage/internal/suggestion"
)

// SuggestRequest is the body of POST /ai/suggest.
type SuggestRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Resolution  string `json:"resolution,omitempty"`
	UserType    string `json:"userType,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Service         string `json:"service"`
	LLMConfigured   bool   `json:"llmConfigured"`
	SimilarityStore string `json:"similarityStore"`
	// TriageCount and SchemaVersion are zero when the database cannot be read.
	TriageCount   int `json:"triageCount"`
	SchemaVersion int `json:"schemaVersion"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:          "healthy",
			Service:         ServiceName,
			LLMConfigured:   deps.Suggester != nil && deps.Suggester.Configured(),
			SimilarityStore: retrieval.StatusUnavailable,
		}
		if deps.Similarity != nil {
			resp.SimilarityStore = deps.Similarity.Status()
		}
		if deps.Triages != nil {
			if n, err := deps.Triages.CountTriages(r.Context()); err != nil {
				deps.Logger.Warn("health: counting triages failed", "error", err)
			} else {
				resp.TriageCount = n
			}
			if versions, err := deps.Triages.AppliedMigrations(); err != nil {
				deps.Logger.Warn("health: reading schema version failed", "error", err)
			} else if len(versions) > 0 {
				resp.SchemaVersion = versions[len(versions)-1]
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleSuggest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SuggestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusUnprocessableEntity, "invalid request body: %v", err)
			return
		}

		res, err := deps.Suggester.Suggest(r.Context(), pipeline.BugReport{
			Title:       req.Title,
			Description: req.Description,
			Resolution:  req.Resolution,
			Persona:     composer.ParsePersona(req.UserType),
		})
		if err != nil {
			code, detail := suggestFailure(err)
			if code >= http.StatusInternalServerError {
				deps.Logger.Error("suggestion failed", "outcome", pipeline.Outcome(err), "error", err)
			}
			httpError(w, code, "%s", detail)
			return
		}

		writeJSON(w, http.StatusOK, res.Suggestion)
	}
}

// suggestFailure maps a pipeline error to a status code and a client-safe
// detail. Raw model output never leaves the server.
func suggestFailure(err error) (int, string) {
	var (
		inputErr     *pipeline.InputError
		configErr    *pipeline.ConfigurationError
		upstreamErr  *pipeline.UpstreamError
		malformedErr *suggestion.MalformedResponseError
		validErr     *suggestion.ValidationError
	)
	switch {
	case errors.As(err, &inputErr):
		return http.StatusUnprocessableEntity, inputErr.Error()
	case errors.As(err, &configErr):
		return http.StatusInternalServerError, "AI suggestions are not configured: " + configErr.Reason
	case errors.As(err, &upstreamErr):
		return http.StatusInternalServerError, "language model request failed"
	case errors.As(err, &malformedErr):
		return http.StatusInternalServerError, "language model returned a malformed response"
	case errors.As(err, &validErr):
		return http.StatusInternalServerError, "language model response failed validation: " + validErr.Error()
	default:
		return http.StatusInternalServerError, "unexpected error"
	}
}
