package config

import "time"

const (
	// Token budgets per flow
	AnalysisMaxTokens = 1200
	ChatMaxTokens     = 1500
	CompareMaxTokens  = 1000

	// Follow-up questions the model is asked to stay within.
	// Only used in prompt text, turns are not capped.
	MaxChatQuestions = 5

	// Default answer language of the prompts
	DefaultLanguage = "Modern Standard Arabic"

	// Standalone flow resizes uploads to a square canvas
	StandaloneCanvas = 512

	// Uploads declaring more pixels than this are rejected before decoding
	MaxImagePixels = 40_000_000

	// Session janitor
	SessionSweepInterval = 5 * time.Minute

	// Model listing cache
	ModelCacheDuration = 1 * time.Hour

	// Upstream error bodies are truncated to this many bytes
	MaxUpstreamErrorBody = 2048

	// HTTP server
	ReadHeaderTimeout = 10 * time.Second
	IdleTimeout       = 60 * time.Second
	ShutdownTimeout   = 30 * time.Second

	// Multipart forms keep this much in memory before spilling to disk
	MultipartMemory = 8 << 20

	// Archive writes run detached from requests, in order, on one writer
	ArchiveWriteTimeout = 5 * time.Second
	ArchiveQueueSize    = 1024

	// Longest a follow-up waits for the previous turn on its session
	TurnLockTimeout = 30 * time.Second

	// Telegram limits
	MaxTelegramMessageLen = 4096
	TelegramAlertTimeout  = 10 * time.Second
)
