package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListCategories returns the item categories.
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	names, err := s.service.ListCategories(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// handleAddCategory adds {"name": ...}.
func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.service.AddCategory(r.Context(), req.Name); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRemoveCategory deletes the category named in the path.
func (s *Server) handleRemoveCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveCategory(r.Context(), chi.URLParam(r, "name")); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type lastPrefixBody struct {
	LastPrefix string `json:"last_prefix"`
}

// handleGetLastPrefix returns the prefix last used for ?module=.
func (s *Server) handleGetLastPrefix(w http.ResponseWriter, r *http.Request) {
	prefix, err := s.service.LastPrefix(r.Context(), r.URL.Query().Get("module"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lastPrefixBody{LastPrefix: prefix})
}

// handleSetLastPrefix stores the prefix for ?module=.
func (s *Server) handleSetLastPrefix(w http.ResponseWriter, r *http.Request) {
	var req lastPrefixBody
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	prefix, err := s.service.SetLastPrefix(r.Context(), r.URL.Query().Get("module"), req.LastPrefix)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lastPrefixBody{LastPrefix: prefix})
}
