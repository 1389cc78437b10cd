package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/partregistry/internal/core"
)

// healthResponse reports liveness, the store and the import limiter.
type healthResponse struct {
	Status  string                   `json:"status"`
	Store   string                   `json:"store"`
	Imports int                      `json:"imports"`
	Limiter core.ImportLimiterStatus `json:"limiter"`
}

// handleHealth returns 200 while the store answers, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:  "ok",
		Store:   "ok",
		Imports: s.service.ActiveImports(),
		Limiter: s.service.Limiter().Status(),
	}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type reserveRequest struct {
	Prefix string `json:"prefix"`
	Count  int    `json:"count"`
}

// handleReserveIDs reserves a block of identifiers.
func (s *Server) handleReserveIDs(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	ids, err := s.service.ReserveIDs(r.Context(), req.Prefix, req.Count)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

// handleResetCounters deletes every prefix counter. Disabled unless
// ADMIN_ALLOW_RESET is set.
func (s *Server) handleResetCounters(w http.ResponseWriter, r *http.Request) {
	res, err := s.resetter.ResetAll(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"deleted":           res.Counters,
		"imports_discarded": res.Imports,
	})
}
