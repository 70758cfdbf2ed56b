package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/set-night/dermassist/internal/domain"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"empty file", domain.ErrEmptyInput, http.StatusBadRequest, "Empty file"},
		{"invalid image", fmt.Errorf("ingest image: %w: png: invalid format", domain.ErrInvalidImage), http.StatusBadRequest, "Invalid image format"},
		{"empty query", domain.ErrEmptyQuery, http.StatusBadRequest, "query is required"},
		{"empty message", domain.ErrEmptyMessage, http.StatusBadRequest, "user_message is required"},
		{"unknown session", domain.ErrSessionNotFound, http.StatusNotFound, "Session not found"},
		{"busy session", domain.ErrSessionBusy, http.StatusConflict, "Session is busy with another message"},
		{"upstream", fmt.Errorf("initial analysis: %w", &domain.UpstreamError{Status: 429, Body: "rate limited"}), http.StatusInternalServerError, "API Error: 429"},
		{"transport", &domain.TransportError{Err: errors.New("dial tcp: refused")}, http.StatusInternalServerError, "Unexpected Error: completion service unreachable"},
		{"cancelled", fmt.Errorf("follow-up chat: %w", context.Canceled), http.StatusInternalServerError, "Unexpected Error: request cancelled"},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, "Unexpected Error: internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, httptest.NewRequest(http.MethodPost, "/interactive_chat", nil), tt.err)

			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["detail"] != tt.detail {
				t.Errorf("expected detail %q, got %q", tt.detail, body["detail"])
			}
		})
	}
}
