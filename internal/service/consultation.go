package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/set-night/dermassist/internal/config"
	"github.com/set-night/dermassist/internal/domain"
	"github.com/set-night/dermassist/internal/telemetry"
)

// Completer sends one chat-completion request.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Archive receives a write-only copy of consultations.
type Archive interface {
	RecordAnalysis(ctx context.Context, sess *domain.Session) error
	RecordTurn(ctx context.Context, id domain.SessionID, index int, turn domain.Turn) error
	RecordClosed(ctx context.Context, id domain.SessionID, at time.Time) error
}

// Alerter reports failures to an operator channel.
type Alerter interface {
	LogError(err error, context string)
}

type nopArchive struct{}

func (nopArchive) RecordAnalysis(context.Context, *domain.Session) error                { return nil }
func (nopArchive) RecordTurn(context.Context, domain.SessionID, int, domain.Turn) error { return nil }
func (nopArchive) RecordClosed(context.Context, domain.SessionID, time.Time) error      { return nil }

type ConsultationConfig struct {
	Model              string
	DefaultDetailLevel string
	Pricing            Pricing
	// TurnWait bounds how long a follow-up waits for the turn before
	// failing with ErrSessionBusy. Zero means config.TurnLockTimeout.
	TurnWait time.Duration
}

type ConsultationOption func(*ConsultationService)

func WithArchive(a Archive) ConsultationOption {
	return func(s *ConsultationService) { s.archive = a }
}

func WithAlerter(a Alerter) ConsultationOption {
	return func(s *ConsultationService) { s.alerts = a }
}

type ConsultationService struct {
	images    *ImageIngestor
	prompts   *PromptBuilder
	completer Completer
	sessions  *SessionStore
	archive   Archive
	writer    *archiveWriter
	alerts    Alerter
	cfg       ConsultationConfig

	analyses metric.Int64Counter
	turns    metric.Int64Counter
	finals   metric.Int64Counter
}

func NewConsultationService(
	images *ImageIngestor,
	prompts *PromptBuilder,
	completer Completer,
	sessions *SessionStore,
	cfg ConsultationConfig,
	opts ...ConsultationOption,
) (*ConsultationService, error) {
	if cfg.DefaultDetailLevel == "" {
		cfg.DefaultDetailLevel = "medium"
	}
	if cfg.TurnWait <= 0 {
		cfg.TurnWait = config.TurnLockTimeout
	}

	meter := otel.Meter(instrumentationName)
	analyses, err := meter.Int64Counter("consultation.analyses", metric.WithDescription("Initial analyses by outcome"))
	if err != nil {
		return nil, fmt.Errorf("analyses counter: %w", err)
	}
	turns, err := meter.Int64Counter("consultation.turns", metric.WithDescription("Follow-up turns by outcome"))
	if err != nil {
		return nil, fmt.Errorf("turns counter: %w", err)
	}
	finals, err := meter.Int64Counter("consultation.final_reports", metric.WithDescription("Turns flagged as final reports"))
	if err != nil {
		return nil, fmt.Errorf("final reports counter: %w", err)
	}

	s := &ConsultationService{
		images:    images,
		prompts:   prompts,
		completer: completer,
		sessions:  sessions,
		archive:   nopArchive{},
		cfg:       cfg,
		analyses:  analyses,
		turns:     turns,
		finals:    finals,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, ok := s.archive.(nopArchive); !ok {
		s.writer = newArchiveWriter(config.ArchiveQueueSize)
	}
	return s, nil
}

type AnalyzeInput struct {
	Image       []byte
	Query       string
	DetailLevel string
}

type AnalyzeOutput struct {
	Answer    string
	SessionID domain.SessionID
	Usage     domain.Usage
}

// Analyze runs the initial analysis and opens a session for follow-ups.
// Nothing is stored unless the completion succeeds.
func (s *ConsultationService) Analyze(ctx context.Context, in AnalyzeInput) (*AnalyzeOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	detail := strings.TrimSpace(in.DetailLevel)
	if detail == "" {
		detail = s.cfg.DefaultDetailLevel
	}

	img, err := s.images.Ingest(in.Image)
	if err != nil {
		s.analyses.Add(ctx, 1, outcome("rejected"))
		return nil, fmt.Errorf("ingest image: %w", err)
	}

	messages, err := s.prompts.Analysis(detail, query, img)
	if err != nil {
		return nil, fmt.Errorf("build analysis prompt: %w", err)
	}

	comp, err := s.completer.Complete(ctx, CompletionRequest{
		Model:     s.cfg.Model,
		Messages:  messages,
		MaxTokens: config.AnalysisMaxTokens,
	})
	if err != nil {
		s.analyses.Add(ctx, 1, outcome("error"))
		s.alert(err, "initial analysis")
		return nil, fmt.Errorf("initial analysis: %w", err)
	}

	usage := s.cfg.Pricing.Price(comp.Usage)
	sess := s.sessions.Create(*img, detail, comp.Text, usage)
	s.analyses.Add(ctx, 1, outcome("ok"))

	telemetry.Logger(ctx).Info("analysis completed",
		"session_id", sess.ID,
		"detail_level", detail,
		"image_mime", img.MIME,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"cost", usage.Cost.String(),
	)

	s.archiveAsync(ctx, "record analysis", func(ctx context.Context) error {
		return s.archive.RecordAnalysis(ctx, sess)
	})

	return &AnalyzeOutput{Answer: comp.Text, SessionID: sess.ID, Usage: usage}, nil
}

type ChatInput struct {
	SessionID domain.SessionID
	Message   string
}

type ChatOutput struct {
	Answer string
	Final  bool
	// Turn is the 1-based position of this exchange in the history.
	Turn  int
	Usage domain.Usage
}

// Chat answers a follow-up question. Turns on one session run one at a time
// so every turn sees the history of the turns before it.
func (s *ConsultationService) Chat(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, domain.ErrEmptyMessage
	}
	if in.SessionID == "" {
		return nil, domain.ErrSessionNotFound
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.TurnWait)
	release, err := s.sessions.Acquire(waitCtx, in.SessionID)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, domain.ErrSessionBusy
		}
		return nil, err
	}
	defer release()

	sess, err := s.sessions.Get(in.SessionID)
	if err != nil {
		return nil, err
	}

	messages, err := s.prompts.FollowUp(sess, message)
	if err != nil {
		return nil, fmt.Errorf("build follow-up prompt: %w", err)
	}

	comp, err := s.completer.Complete(ctx, CompletionRequest{
		Model:     s.cfg.Model,
		Messages:  messages,
		MaxTokens: config.ChatMaxTokens,
	})
	if err != nil {
		s.turns.Add(ctx, 1, outcome("error"))
		s.alert(err, "follow-up chat")
		return nil, fmt.Errorf("follow-up chat: %w", err)
	}

	turn := domain.Turn{
		UserMessage: message,
		BotAnswer:   comp.Text,
		Final:       DetectFinalReport(comp.Text),
		Usage:       s.cfg.Pricing.Price(comp.Usage),
	}
	turn, err = s.sessions.AppendTurn(in.SessionID, turn)
	if err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}

	index := len(sess.ChatHistory)
	s.turns.Add(ctx, 1, outcome("ok"))
	if turn.Final {
		s.finals.Add(ctx, 1)
	}

	telemetry.Logger(ctx).Info("chat turn completed",
		"session_id", in.SessionID,
		"turn", index+1,
		"final", turn.Final,
		"prompt_tokens", turn.Usage.PromptTokens,
		"completion_tokens", turn.Usage.CompletionTokens,
	)

	s.archiveAsync(ctx, "record turn", func(ctx context.Context) error {
		return s.archive.RecordTurn(ctx, in.SessionID, index, turn)
	})

	return &ChatOutput{Answer: comp.Text, Final: turn.Final, Turn: index + 1, Usage: turn.Usage}, nil
}

func (s *ConsultationService) GetSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	return s.sessions.Get(id)
}

// CloseSession forgets the session. Later chats on id fail with ErrSessionNotFound.
func (s *ConsultationService) CloseSession(ctx context.Context, id domain.SessionID) error {
	if err := s.sessions.Delete(id); err != nil {
		return err
	}
	telemetry.Logger(ctx).Info("session closed", "session_id", id)

	closedAt := time.Now()
	s.archiveAsync(ctx, "record close", func(ctx context.Context) error {
		return s.archive.RecordClosed(ctx, id, closedAt)
	})
	return nil
}

func (s *ConsultationService) SessionCount() int {
	return s.sessions.Len()
}

// archiveAsync queues fn on the archive writer. Failures are only logged.
func (s *ConsultationService) archiveAsync(ctx context.Context, op string, fn func(context.Context) error) {
	if s.writer == nil {
		return
	}
	s.writer.submit(ctx, op, fn)
}

// Close flushes pending archive writes, waiting until ctx is done.
func (s *ConsultationService) Close(ctx context.Context) error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close(ctx)
}

func (s *ConsultationService) alert(err error, where string) {
	if s.alerts == nil {
		return
	}
	// Bad input is the caller's problem, not an operator's.
	if errors.Is(err, domain.ErrEmptyInput) || errors.Is(err, domain.ErrInvalidImage) || errors.Is(err, domain.ErrEmptyQuery) {
		return
	}
	go s.alerts.LogError(err, where)
}

func outcome(status string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", status))
}
