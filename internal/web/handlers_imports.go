package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/partregistry/internal/core"
)

// handleStartImport classifies the posted rows and opens a session.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	var req core.ImportRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	imp, err := s.service.StartImport(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, imp)
}

// handleGetImport returns a session.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	imp, err := s.service.GetImport(r.Context(), chi.URLParam(r, "importID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imp)
}

// handleDiscardImport drops a session.
func (s *Server) handleDiscardImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "importID")
	if err := s.service.DiscardImport(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded", "id": id})
}

// handleDecideRow records {"decision": "REJECT" | "<external id>" | ""}.
func (s *Server) handleDecideRow(w http.ResponseWriter, r *http.Request) {
	n, err := rowParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req struct {
		Decision string `json:"decision"`
	}
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	row, err := s.service.DecideRow(r.Context(), chi.URLParam(r, "importID"), n, req.Decision)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// handleUpdateRow applies a partial row edit.
func (s *Server) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	n, err := rowParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var upd core.RowUpdate
	if err := s.decodeJSON(w, r, &upd); err != nil {
		respondError(w, r, err)
		return
	}

	row, err := s.service.UpdateRow(r.Context(), chi.URLParam(r, "importID"), n, upd)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// handleApplyPrefix sets {"prefix": ...} and renames non-standard rows.
func (s *Server) handleApplyPrefix(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prefix string `json:"prefix"`
	}
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	imp, changed, err := s.service.ApplyImportPrefix(r.Context(), chi.URLParam(r, "importID"), req.Prefix)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"renamed": changed, "import": imp})
}

// handleAssignIDs reserves IDs for every row that needs one.
func (s *Server) handleAssignIDs(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.AssignImportIDs(r.Context(), chi.URLParam(r, "importID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCommitImport writes the session's rows to the catalog.
func (s *Server) handleCommitImport(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.CommitImport(r.Context(), chi.URLParam(r, "importID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func rowParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "row")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &core.ValidationError{Field: "row", Value: raw, Message: "must be a row number"}
	}
	return n, nil
}
