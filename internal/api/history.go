package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/bugtriage/internal/ingest"
	"github.com/kalambet/bugtriage/internal/retrieval"
	"github.com/kalambet/bugtriage/internal/storage"
)

const (
	maxSeedBodySize = 10 << 20 // 10MB
	maxSeedBugs     = 500
	defaultSimilarK = 3
	maxSimilarK     = 20
)

// SeedBug is one historical report submitted to POST /ai/bugs.
type SeedBug struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Resolution  string `json:"resolution,omitempty"`
}

// SeedRequest is the body of POST /ai/bugs.
type SeedRequest struct {
	Bugs []SeedBug `json:"bugs"`
}

// SeedResponse lists the ids of accepted reports. Dropped counts reports
// the writer queue could not take.
type SeedResponse struct {
	IDs     []string `json:"ids"`
	Dropped int      `json:"dropped,omitempty"`
}

// ValidateSeedBug trims b and checks that title and description are set.
func ValidateSeedBug(b *SeedBug) error {
	b.Title = strings.TrimSpace(b.Title)
	b.Description = strings.TrimSpace(b.Description)
	b.Resolution = strings.TrimSpace(b.Resolution)
	switch {
	case b.Title == "":
		return errors.New("title must not be empty")
	case b.Description == "":
		return errors.New("description must not be empty")
	}
	return nil
}

func handleSeedBugs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSeedBodySize)
		defer r.Body.Close()

		var req SeedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusUnprocessableEntity, "invalid request body: %v", err)
			return
		}
		if len(req.Bugs) == 0 {
			httpError(w, http.StatusUnprocessableEntity, "bugs is required and must not be empty")
			return
		}
		if len(req.Bugs) > maxSeedBugs {
			httpError(w, http.StatusUnprocessableEntity, "at most %d bugs per request", maxSeedBugs)
			return
		}
		for i := range req.Bugs {
			if err := ValidateSeedBug(&req.Bugs[i]); err != nil {
				httpError(w, http.StatusUnprocessableEntity, "bugs[%d]: %v", i, err)
				return
			}
		}
		if deps.Writer == nil {
			httpError(w, http.StatusServiceUnavailable, "history storage is not available")
			return
		}

		resp := SeedResponse{IDs: make([]string, 0, len(req.Bugs))}
		for _, b := range req.Bugs {
			rec := retrieval.NewBugRecord(b.Title, b.Description, b.Resolution)
			if !deps.Writer.Commit(ingest.Entry{Record: rec}) {
				resp.Dropped++
				continue
			}
			resp.IDs = append(resp.IDs, rec.ID)
		}
		if len(resp.IDs) == 0 {
			httpError(w, http.StatusServiceUnavailable, "writer queue is full, retry later")
			return
		}
		writeJSON(w, http.StatusAccepted, resp)
	}
}

func handleSimilar(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusUnprocessableEntity, "q is required")
			return
		}
		k := parseIntParam(r, "k", defaultSimilarK, maxSimilarK)
		if deps.Similarity == nil {
			httpError(w, http.StatusServiceUnavailable, "similarity store is not available")
			return
		}

		neighbors, err := deps.Similarity.Query(r.Context(), q, k)
		if errors.Is(err, retrieval.ErrUnavailable) {
			httpError(w, http.StatusServiceUnavailable, "similarity store is not available")
			return
		}
		if err != nil {
			deps.Logger.Error("similarity query failed", "error", err)
			httpError(w, http.StatusInternalServerError, "similarity query failed")
			return
		}
		if neighbors == nil {
			neighbors = []retrieval.Neighbor{}
		}
		writeJSON(w, http.StatusOK, neighbors)
	}
}

func handleListTriages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		entries, err := deps.Triages.ListTriages(r.Context(), limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to list triages: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.TriageEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleGetTriage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		entry, err := deps.Triages.GetTriage(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "triage %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to get triage: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}
