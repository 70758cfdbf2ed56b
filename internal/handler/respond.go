package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/set-night/dermassist/internal/domain"
	"github.com/set-night/dermassist/internal/telemetry"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func badRequest(w http.ResponseWriter, detail string) {
	writeDetail(w, http.StatusBadRequest, detail)
}

// writeError maps a service error onto a status code and a client-facing detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if detail, ok := inputDetail(err); ok {
		telemetry.Logger(r.Context()).Info("request rejected", "error", err)
		badRequest(w, detail)
		return
	}

	var upErr *domain.UpstreamError
	switch {
	case errors.Is(err, domain.ErrSessionBusy):
		writeDetail(w, http.StatusConflict, "Session is busy with another message")
		return
	case errors.Is(err, domain.ErrSessionNotFound):
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	case errors.As(err, &upErr):
		telemetry.Logger(r.Context()).Error("completion api error",
			"status", upErr.Status,
			"body", upErr.Body,
		)
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("API Error: %d", upErr.Status))
		return
	}

	telemetry.Logger(r.Context()).Error("request failed", "error", err)
	writeDetail(w, http.StatusInternalServerError, "Unexpected Error: "+summarize(err))
}

// inputDetail returns the fixed client message for a rejected input.
// The wrapped chain stays in the log.
func inputDetail(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrEmptyInput):
		return "Empty file", true
	case errors.Is(err, domain.ErrInvalidImage):
		return "Invalid image format", true
	case errors.Is(err, domain.ErrEmptyQuery):
		return "query is required", true
	case errors.Is(err, domain.ErrEmptyMessage):
		return "user_message is required", true
	}
	return "", false
}

func summarize(err error) string {
	switch {
	case errors.Is(err, domain.ErrTransport):
		return "completion service unreachable"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return "internal server error"
	}
}
