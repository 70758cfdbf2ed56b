package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Completion API
	GroqAPIKey     string        `env:"GROQ_API_KEY,required,notEmpty"`
	CompletionURL  string        `env:"COMPLETION_URL" envDefault:"https://api.groq.com/openai/v1/chat/completions"`
	Model          string        `env:"MODEL_NAME" envDefault:"meta-llama/llama-4-scout-17b-16e-instruct"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// Server
	Host           string `env:"HOST" envDefault:"127.0.0.1"`
	Port           int    `env:"PORT" envDefault:"8000"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`

	// Prompting
	PromptsFile         string `env:"PROMPTS_FILE"`
	PromptLanguage      string `env:"PROMPT_LANGUAGE"`
	DefaultDetailLevel  string `env:"DEFAULT_DETAIL_LEVEL" envDefault:"medium"`
	FollowUpAttachImage bool   `env:"FOLLOWUP_ATTACH_IMAGE" envDefault:"true"`

	// Sessions
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"2h"`
	MaxSessions int           `env:"MAX_SESSIONS" envDefault:"10000"`

	// Usage pricing, USD per 1M tokens
	PromptPricePerMTok     decimal.Decimal `env:"PROMPT_PRICE_PER_MTOK" envDefault:"0.11"`
	CompletionPricePerMTok decimal.Decimal `env:"COMPLETION_PRICE_PER_MTOK" envDefault:"0.34"`

	// Consultation archive (optional)
	DatabaseURL string `env:"DATABASE_URL"`

	// Telegram frontend (optional)
	BotToken          string `env:"BOT_TOKEN"`
	LogTelegramChatID int64  `env:"LOG_TELEGRAM_CHAT_ID"`
	LogTopicError     int    `env:"LOG_TOPIC_ERROR"`

	// Observability
	LogLevel     slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	LogFile      string     `env:"LOG_FILE"`
	TelemetryDir string     `env:"TELEMETRY_DIR"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.GroqAPIKey) == "" {
		return fmt.Errorf("GROQ_API_KEY is blank")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) ArchiveEnabled() bool {
	return c.DatabaseURL != ""
}

func (c *Config) BotEnabled() bool {
	return c.BotToken != ""
}
