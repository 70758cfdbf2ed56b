package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/joho/godotenv"

	dermassist "github.com/set-night/dermassist"
	"github.com/set-night/dermassist/internal/config"
	"github.com/set-night/dermassist/internal/handler"
	"github.com/set-night/dermassist/internal/repository"
	"github.com/set-night/dermassist/internal/service"
	"github.com/set-night/dermassist/internal/telegram"
	"github.com/set-night/dermassist/internal/telemetry"
)

var version = "dev"

func main() {
	// A missing .env is fine, the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	_, closeLog, err := telemetry.InitLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		slog.Error("failed to init logger", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg.TelemetryDir, version)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry()

	completion, err := service.NewCompletionClient(cfg.GroqAPIKey, cfg.CompletionURL, cfg.RequestTimeout)
	if err != nil {
		slog.Error("failed to create completion client", "error", err)
		os.Exit(1)
	}
	checkModel(ctx, completion, cfg.Model)

	templates, err := service.LoadPromptTemplates(cfg.PromptsFile)
	if err != nil {
		slog.Error("failed to load prompt templates", "error", err)
		os.Exit(1)
	}
	prompts, err := service.NewPromptBuilder(templates, service.PromptOptions{
		Language:              cfg.PromptLanguage,
		AttachImageOnFollowUp: cfg.FollowUpAttachImage,
	})
	if err != nil {
		slog.Error("failed to build prompts", "error", err)
		os.Exit(1)
	}

	sessions := service.NewSessionStore(cfg.SessionTTL, cfg.MaxSessions)
	go sessions.Run(ctx, config.SessionSweepInterval)

	var opts []service.ConsultationOption
	if cfg.ArchiveEnabled() {
		archive, closeArchive, err := openArchive(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open consultation archive", "error", err)
			os.Exit(1)
		}
		defer closeArchive()
		opts = append(opts, service.WithArchive(archive))
	}

	// The bot comes first: the service sends its alerts through it.
	var (
		b        *bot.Bot
		frontend *telegram.Frontend
	)
	if cfg.BotEnabled() {
		frontend = telegram.NewFrontend(nil, cfg.MaxUploadBytes)
		b, err = bot.New(cfg.BotToken, frontend.Options()...)
		if err != nil {
			slog.Error("failed to create bot", "error", err)
			os.Exit(1)
		}
		if alerts := telegram.NewAlertLogger(b, cfg.LogTelegramChatID, cfg.LogTopicError); alerts != nil {
			opts = append(opts, service.WithAlerter(alerts))
		}
	}

	consultations, err := service.NewConsultationService(
		service.NewImageIngestor(),
		prompts,
		completion,
		sessions,
		service.ConsultationConfig{
			Model:              cfg.Model,
			DefaultDetailLevel: cfg.DefaultDetailLevel,
			Pricing: service.Pricing{
				PromptPerMTok:     cfg.PromptPricePerMTok,
				CompletionPerMTok: cfg.CompletionPricePerMTok,
			},
		},
		opts...,
	)
	if err != nil {
		slog.Error("failed to create consultation service", "error", err)
		os.Exit(1)
	}

	if b != nil {
		frontend.Bind(consultations)
		frontend.Register(b)
		go func() {
			slog.Info("starting telegram bot")
			b.Start(ctx)
			slog.Info("telegram bot stopped")
		}()
	}

	h, err := handler.New(handler.Deps{
		Consultations:      consultations,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		DefaultDetailLevel: cfg.DefaultDetailLevel,
	})
	if err != nil {
		slog.Error("failed to create http handler", "error", err)
		os.Exit(1)
	}

	// A follow-up may wait for the previous turn before its own upstream call.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h.Routes(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.TurnLockTimeout + cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:       config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr, "model", cfg.Model, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown", "error", err)
	}
	if err := consultations.Close(shutdownCtx); err != nil {
		slog.Error("flush archive writes", "error", err)
	}
	slog.Info("server stopped gracefully")
}

// checkModel warns when the configured model is not in the provider's listing.
// The listing is advisory, so failures never stop startup.
func checkModel(ctx context.Context, c *service.CompletionClient, model string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	m, err := c.GetModel(ctx, model)
	switch {
	case err == nil && !m.Active:
		slog.Warn("configured model is inactive", "model", model)
	case err == nil:
		slog.Info("model available", "model", m.ID, "owned_by", m.OwnedBy, "context_window", m.ContextWindow)
	default:
		slog.Warn("could not verify model", "model", model, "error", err)
	}
}

func openArchive(ctx context.Context, databaseURL string) (*repository.ConsultationArchive, func(), error) {
	migrationsFS, err := fs.Sub(dermassist.MigrationsFS, "migrations")
	if err != nil {
		return nil, nil, err
	}
	if err := repository.RunMigrations(databaseURL, migrationsFS); err != nil {
		return nil, nil, err
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("consultation archive enabled")
	return repository.NewConsultationArchive(pool), pool.Close, nil
}
