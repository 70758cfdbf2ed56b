package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.DefaultDetailLevel != "medium" {
		t.Errorf("expected detail level medium, got %q", cfg.DefaultDetailLevel)
	}
	if cfg.Addr() != "127.0.0.1:8000" {
		t.Errorf("unexpected addr %q", cfg.Addr())
	}
	if !cfg.PromptPricePerMTok.Equal(decimal.RequireFromString("0.11")) {
		t.Errorf("unexpected prompt price %s", cfg.PromptPricePerMTok)
	}
	if cfg.ArchiveEnabled() || cfg.BotEnabled() {
		t.Errorf("archive and bot must be disabled by default")
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for empty GROQ_API_KEY")
	}
}

func TestLoadRejectsBlankAPIKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "   ")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for blank GROQ_API_KEY")
	}
}

func TestLoadRejectsNonPositiveLimits(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("MAX_SESSIONS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for MAX_SESSIONS=0")
	}
}
