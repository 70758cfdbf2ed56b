package handler

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/set-night/dermassist/internal/domain"
	"github.com/set-night/dermassist/internal/middleware"
	"github.com/set-night/dermassist/internal/service"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Consultations is the part of the consultation service the HTTP API needs.
type Consultations interface {
	Analyze(ctx context.Context, in service.AnalyzeInput) (*service.AnalyzeOutput, error)
	Chat(ctx context.Context, in service.ChatInput) (*service.ChatOutput, error)
	GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	CloseSession(ctx context.Context, id domain.SessionID) error
	SessionCount() int
}

// Handler serves the consultation HTTP API and the upload page.
type Handler struct {
	svc            Consultations
	maxUploadBytes int64
	defaultDetail  string
	index          *template.Template
}

// Deps contains everything required to construct a Handler.
type Deps struct {
	Consultations      Consultations
	MaxUploadBytes     int64
	DefaultDetailLevel string
}

func New(deps Deps) (*Handler, error) {
	index, err := template.ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse index template: %w", err)
	}
	return &Handler{
		svc:            deps.Consultations,
		maxUploadBytes: deps.MaxUploadBytes,
		defaultDetail:  deps.DefaultDetailLevel,
		index:          index,
	}, nil
}

// Routes returns the API with recovery, request ids, access logs and CORS applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("POST /upload_and_query", h.handleUploadAndQuery)
	mux.HandleFunc("POST /interactive_chat", h.handleInteractiveChat)
	mux.HandleFunc("GET /sessions/{id}", h.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", h.handleDeleteSession)

	return middleware.Chain(mux,
		middleware.Recover,
		middleware.RequestID,
		middleware.Logging,
		middleware.CORS,
	)
}
