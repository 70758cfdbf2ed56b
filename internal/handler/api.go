package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/set-night/dermassist/internal/config"
	"github.com/set-night/dermassist/internal/domain"
	"github.com/set-night/dermassist/internal/service"
	"github.com/set-night/dermassist/internal/telemetry"
)

// Chat forms carry two short fields.
const maxChatFormBytes = 1 << 20

type analyzeResponse struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Answer string `json:"answer"`
	Final  bool   `json:"final"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

type usageResponse struct {
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	Cost             decimal.Decimal `json:"cost"`
}

type turnResponse struct {
	UserMessage string    `json:"user_message"`
	BotAnswer   string    `json:"bot_answer"`
	Final       bool      `json:"final"`
	CreatedAt   time.Time `json:"created_at"`
}

type sessionResponse struct {
	SessionID       string         `json:"session_id"`
	DetailLevel     string         `json:"detail_level"`
	ImageMIME       string         `json:"image_mime"`
	InitialAnalysis string         `json:"initial_analysis"`
	ChatHistory     []turnResponse `json:"chat_history"`
	Usage           usageResponse  `json:"usage"`
	CreatedAt       time.Time      `json:"created_at"`
	LastActive      time.Time      `json:"last_active"`
}

func (h *Handler) handleUploadAndQuery(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUploadBytes {
		writeDetail(w, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(config.MultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
			return
		}
		badRequest(w, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("image")
	if err != nil {
		badRequest(w, "image is required")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "could not read uploaded image")
		return
	}

	query := r.FormValue("query")
	if strings.TrimSpace(query) == "" {
		badRequest(w, "query is required")
		return
	}

	out, err := h.svc.Analyze(r.Context(), service.AnalyzeInput{
		Image:       raw,
		Query:       query,
		DetailLevel: r.FormValue("detail_level"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{Answer: out.Answer, SessionID: string(out.SessionID)})
}

func (h *Handler) handleInteractiveChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatFormBytes)
	if err := parseForm(r); err != nil {
		badRequest(w, "invalid form")
		return
	}

	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		badRequest(w, "session_id is required")
		return
	}
	message := r.FormValue("user_message")
	if strings.TrimSpace(message) == "" {
		badRequest(w, "user_message is required")
		return
	}

	out, err := h.svc.Chat(r.Context(), service.ChatInput{
		SessionID: domain.SessionID(sessionID),
		Message:   message,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Answer: out.Answer, Final: out.Final})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.GetSession(r.Context(), domain.SessionID(r.PathValue("id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CloseSession(r.Context(), domain.SessionID(r.PathValue("id"))); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: h.svc.SessionCount()})
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct{ DefaultDetailLevel string }{h.defaultDetail}
	if err := h.index.Execute(w, data); err != nil {
		telemetry.Logger(r.Context()).Error("render index", "error", err)
	}
}

// parseForm accepts both urlencoded and multipart bodies.
func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(maxChatFormBytes)
	}
	return r.ParseForm()
}

func toSessionResponse(s *domain.Session) sessionResponse {
	history := make([]turnResponse, 0, len(s.ChatHistory))
	for _, t := range s.ChatHistory {
		history = append(history, turnResponse{
			UserMessage: t.UserMessage,
			BotAnswer:   t.BotAnswer,
			Final:       t.Final,
			CreatedAt:   t.CreatedAt,
		})
	}
	return sessionResponse{
		SessionID:       string(s.ID),
		DetailLevel:     s.DetailLevel,
		ImageMIME:       s.Image.MIME,
		InitialAnalysis: s.InitialAnalysis,
		ChatHistory:     history,
		Usage: usageResponse{
			PromptTokens:     s.Usage.PromptTokens,
			CompletionTokens: s.Usage.CompletionTokens,
			Cost:             s.Usage.Cost,
		},
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive,
	}
}
