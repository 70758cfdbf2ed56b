package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"

	"github.com/set-night/dermassist/internal/config"
	"github.com/set-night/dermassist/internal/domain"
	"github.com/set-night/dermassist/internal/service"
	"github.com/set-night/dermassist/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	imagePath := flag.String("image", "", "path to the skin image")
	query := flag.String("query", "", "question about the image")
	detail := flag.String("detail", "", "detail level of the analysis")
	compareModel := flag.String("compare-model", "", "also ask this model the query without the image")
	flag.Parse()

	if *imagePath == "" || strings.TrimSpace(*query) == "" {
		flag.Usage()
		return errors.New("-image and -query are required")
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logs go to the file only, stdout belongs to the conversation.
	if cfg.LogFile != "" {
		_, closeLog, err := telemetry.InitLogger(cfg.LogLevel, cfg.LogFile)
		if err != nil {
			return err
		}
		defer closeLog()
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	}

	raw, err := os.ReadFile(*imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	svc, completion, err := newService(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out, err := svc.Analyze(ctx, service.AnalyzeInput{Image: raw, Query: *query, DetailLevel: *detail})
	if err != nil {
		return err
	}
	if *compareModel != "" {
		fmt.Printf("== %s ==\n", cfg.Model)
	}
	fmt.Println(out.Answer)
	fmt.Println()

	if *compareModel != "" {
		fmt.Printf("== %s (text only) ==\n", *compareModel)
		answer, err := compareTextOnly(ctx, completion, *compareModel, *query)
		if err != nil {
			slog.Error("comparison request failed", "model", *compareModel, "error", err)
			answer = fmt.Sprintf("error from %s: %v", *compareModel, err)
		}
		fmt.Println(answer)
		fmt.Println()
	}

	return repl(ctx, svc, out.SessionID)
}

func newService(cfg *config.Config) (*service.ConsultationService, *service.CompletionClient, error) {
	completion, err := service.NewCompletionClient(cfg.GroqAPIKey, cfg.CompletionURL, cfg.RequestTimeout)
	if err != nil {
		return nil, nil, err
	}
	templates, err := service.LoadPromptTemplates(cfg.PromptsFile)
	if err != nil {
		return nil, nil, err
	}
	prompts, err := service.NewPromptBuilder(templates, service.PromptOptions{
		Language:              cfg.PromptLanguage,
		AttachImageOnFollowUp: cfg.FollowUpAttachImage,
	})
	if err != nil {
		return nil, nil, err
	}
	svc, err := service.NewConsultationService(
		service.NewNormalizingIngestor(config.StandaloneCanvas),
		prompts,
		completion,
		service.NewSessionStore(0, 1),
		service.ConsultationConfig{
			Model:              cfg.Model,
			DefaultDetailLevel: cfg.DefaultDetailLevel,
			Pricing: service.Pricing{
				PromptPerMTok:     cfg.PromptPricePerMTok,
				CompletionPerMTok: cfg.CompletionPricePerMTok,
			},
		},
	)
	return svc, completion, err
}

// compareTextOnly sends query to model as a bare question, without the image
// or the consultation prompts, so its answer can be set against the analysis.
func compareTextOnly(ctx context.Context, c service.Completer, model, query string) (string, error) {
	comp, err := c.Complete(ctx, service.CompletionRequest{
		Model:     model,
		Messages:  []domain.ChatMessage{{Role: domain.RoleUser, Content: query}},
		MaxTokens: config.CompareMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return comp.Text, nil
}

func repl(ctx context.Context, svc *service.ConsultationService, id domain.SessionID) error {
	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or interrupt
			return nil
		}
		line = strings.TrimSpace(line)

		switch line {
		case "":
			continue
		case ":quit", ":q":
			return nil
		case ":session":
			printSession(ctx, svc, id)
			continue
		}

		out, err := svc.Chat(ctx, service.ChatInput{SessionID: id, Message: line})
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		fmt.Println(out.Answer)
		fmt.Println()
		if out.Final {
			fmt.Println("-- final report received, :quit to exit --")
		}
	}
}

func printSession(ctx context.Context, svc *service.ConsultationService, id domain.SessionID) {
	sess, err := svc.GetSession(ctx, id)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("session %s, started %s, %d turns, %d tokens, $%s\n",
		sess.ID, sess.CreatedAt.Format(time.Kitchen), len(sess.ChatHistory),
		sess.Usage.TotalTokens(), sess.Usage.Cost.StringFixed(6))
	for i, t := range sess.ChatHistory {
		fmt.Printf("%d. you: %s\n   bot: %s\n", i+1, t.UserMessage, t.BotAnswer)
	}
}
