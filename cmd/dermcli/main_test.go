package main

import (
	"context"
	"errors"
	"testing"

	"github.com/set-night/dermassist/internal/config"
	"github.com/set-night/dermassist/internal/domain"
	"github.com/set-night/dermassist/internal/service"
)

type fakeCompleter struct {
	got  service.CompletionRequest
	text string
	err  error
}

func (f *fakeCompleter) Complete(_ context.Context, req service.CompletionRequest) (*service.Completion, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &service.Completion{Text: f.text}, nil
}

func TestCompareTextOnly(t *testing.T) {
	c := &fakeCompleter{text: "Probably eczema."}

	answer, err := compareTextOnly(context.Background(), c, "llama-3.3-70b-versatile", "What is this rash?")
	if err != nil {
		t.Fatalf("compareTextOnly failed: %v", err)
	}
	if answer != "Probably eczema." {
		t.Errorf("unexpected answer %q", answer)
	}

	if c.got.Model != "llama-3.3-70b-versatile" || c.got.MaxTokens != config.CompareMaxTokens {
		t.Errorf("unexpected request %+v", c.got)
	}
	if len(c.got.Messages) != 1 {
		t.Fatalf("expected a single message, got %d", len(c.got.Messages))
	}
	msg := c.got.Messages[0]
	if msg.Role != domain.RoleUser || msg.Content != "What is this rash?" {
		t.Errorf("expected the bare query as a text-only user message, got %#v", msg)
	}
}

func TestCompareTextOnlyError(t *testing.T) {
	upErr := &domain.UpstreamError{Status: 404, Body: "model not found"}
	_, err := compareTextOnly(context.Background(), &fakeCompleter{err: upErr}, "gone", "q")
	if !errors.Is(err, domain.ErrUpstream) {
		t.Errorf("expected upstream error, got %v", err)
	}
}
