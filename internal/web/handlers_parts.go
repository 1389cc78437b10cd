package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/partregistry/internal/core"
	"github.com/JonMunkholm/partregistry/internal/store"
)

// handleCandidates returns catalog parts that may match ?name=.
func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		respondError(w, r, err)
		return
	}

	parts, err := s.service.Candidates(r.Context(), core.CandidateQuery{
		Name:              q.Get("name"),
		InternalReference: q.Get("internal_reference"),
		ItemType:          q.Get("item_type"),
		Limit:             limit,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, parts)
}

type bulkCandidatesRequest struct {
	Queries     []core.CandidateQuery `json:"queries"`
	GlobalLimit int                   `json:"global_limit"`
}

// handleCandidatesBulk runs several candidate queries; the response is
// aligned with the request's queries.
func (s *Server) handleCandidatesBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkCandidatesRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	queries := make([]store.CandidateQuery, len(req.Queries))
	for i, q := range req.Queries {
		queries[i] = store.CandidateQuery{
			Name:              q.Name,
			InternalReference: q.InternalReference,
			ItemType:          q.ItemType,
			Limit:             q.Limit,
		}
	}

	results, err := s.service.CandidatesBulk(r.Context(), queries, req.GlobalLimit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleListParts returns parts newest first.
func (s *Server) handleListParts(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", core.DefaultListLimit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		respondError(w, r, err)
		return
	}

	parts, err := s.service.ListParts(r.Context(), limit, offset)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, parts)
}

// handleCreateParts inserts a batch of parts; 409 when any ID exists.
func (s *Server) handleCreateParts(w http.ResponseWriter, r *http.Request) {
	var parts []store.Part
	if err := s.decodeJSON(w, r, &parts); err != nil {
		respondError(w, r, err)
		return
	}

	n, err := s.service.CreateParts(r.Context(), parts)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "created": n})
}

// handleUpdatePart replaces a part's mutable fields. The path wins over any
// external_id in the body.
func (s *Server) handleUpdatePart(w http.ResponseWriter, r *http.Request) {
	var p store.Part
	if err := s.decodeJSON(w, r, &p); err != nil {
		respondError(w, r, err)
		return
	}
	p.ExternalID = chi.URLParam(r, "externalID")

	updated, err := s.service.UpdatePart(r.Context(), p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeletePart permanently deletes a part.
func (s *Server) handleDeletePart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "externalID")
	if err := s.service.DeletePart(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "external_id": id})
}

// intParam parses an optional integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &core.ValidationError{Field: name, Value: raw, Message: "must be an integer"}
	}
	return n, nil
}
