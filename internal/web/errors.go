package web

// errors.go provides unified error response handling for the API.
//
// Every error is:
//   - Logged with full technical details and the request id (server-side)
//   - Returned to the client as JSON with a user message, an action and a
//     support code from core.MapError
//
// The status code follows from the error itself, so handlers only call
// respondError(w, r, err).

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/partregistry/internal/core"
	"github.com/JonMunkholm/partregistry/internal/logging"
	"github.com/JonMunkholm/partregistry/internal/pipeline"
	"github.com/JonMunkholm/partregistry/internal/store"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error    string             `json:"error"`
	Message  string             `json:"message"`
	Action   string             `json:"action,omitempty"`
	Code     string             `json:"code"`
	Problems []pipeline.Problem `json:"problems,omitempty"`
}

// statusKind maps a sentinel to an HTTP status.
type statusKind struct {
	target error
	status int
}

// statusKinds is checked in order.
var statusKinds = []statusKind{
	{pipeline.ErrNotReady, http.StatusPreconditionFailed},
	{core.ErrPrecondition, http.StatusPreconditionFailed},
	{pipeline.ErrInvalidDecision, http.StatusBadRequest},
	{pipeline.ErrInvalidPrefix, http.StatusBadRequest},
	{core.ErrValidation, http.StatusBadRequest},
	{core.ErrNotFound, http.StatusNotFound},
	{store.ErrNotFound, http.StatusNotFound},
	{core.ErrConflict, http.StatusConflict},
	{store.ErrDuplicate, http.StatusConflict},
	{core.ErrResetDisabled, http.StatusForbidden},
	{core.ErrTooManyImports, http.StatusTooManyRequests},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
}

// statusFor returns the HTTP status for err.
func statusFor(err error) int {
	for _, k := range statusKinds {
		if errors.Is(err, k.target) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// respondError logs err server-side and writes the mapped JSON response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request rejected", attrs...)
	}

	resp := ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}
	// Client errors carry their own detail; server errors stay generic.
	if status < http.StatusInternalServerError {
		resp.Error = err.Error()
	}
	var notReady *pipeline.NotReadyError
	if errors.As(err, &notReady) {
		resp.Problems = notReady.Problems
	}

	w.Header().Set("Content-Type", "application/json")
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		w.Header().Set("X-Request-Id", reqID)
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// respondErrorJSON writes msg without logging; for middleware that has
// already decided the status.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}
