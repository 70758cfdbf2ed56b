package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/set-night/dermassist/internal/domain"
)

// stubUpstream serves a fixed status and body on /chat/completions and counts calls.
type stubUpstream struct {
	*httptest.Server
	calls    atomic.Int32
	lastBody atomic.Value
	lastAuth atomic.Value
}

func newStubUpstream(t *testing.T, status int, body string) *stubUpstream {
	t.Helper()
	s := &stubUpstream{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		s.lastBody.Store(raw)
		s.lastAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *stubUpstream) endpoint() string {
	return s.URL + "/openai/v1/chat/completions"
}

func newTestClient(t *testing.T, endpoint string, timeout time.Duration) *CompletionClient {
	t.Helper()
	c, err := NewCompletionClient("gsk_test", endpoint, timeout)
	if err != nil {
		t.Fatalf("NewCompletionClient failed: %v", err)
	}
	return c
}

func TestNewCompletionClientRequiresKey(t *testing.T) {
	if _, err := NewCompletionClient(" ", "http://localhost", time.Second); err == nil {
		t.Fatal("expected error for blank api key")
	}
}

func TestCompleteSuccess(t *testing.T) {
	up := newStubUpstream(t, http.StatusOK,
		`{"model":"m","choices":[{"message":{"content":"Report: ..."}}],"usage":{"prompt_tokens":10,"completion_tokens":4}}`)
	c := newTestClient(t, up.endpoint(), 5*time.Second)

	out, err := c.Complete(context.Background(), CompletionRequest{
		Model:     "m",
		Messages:  []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
		MaxTokens: 1200,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out.Text != "Report: ..." {
		t.Errorf("unexpected text %q", out.Text)
	}
	if out.Usage.PromptTokens != 10 || out.Usage.CompletionTokens != 4 {
		t.Errorf("unexpected usage %+v", out.Usage)
	}

	if up.calls.Load() != 1 {
		t.Errorf("expected exactly one request, got %d", up.calls.Load())
	}
	if auth := up.lastAuth.Load().(string); auth != "Bearer gsk_test" {
		t.Errorf("unexpected authorization header %q", auth)
	}

	var sent map[string]any
	if err := json.Unmarshal(up.lastBody.Load().([]byte), &sent); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if sent["model"] != "m" || sent["max_tokens"] != float64(1200) {
		t.Errorf("unexpected request body %v", sent)
	}
	if _, ok := sent["messages"].([]any); !ok {
		t.Errorf("request body misses messages")
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	up := newStubUpstream(t, http.StatusTooManyRequests, `{"error":"rate limited"}`)
	c := newTestClient(t, up.endpoint(), 5*time.Second)

	_, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})

	var upErr *domain.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.Status != http.StatusTooManyRequests || upErr.Body != `{"error":"rate limited"}` {
		t.Errorf("unexpected upstream error %+v", upErr)
	}
	if !errors.Is(err, domain.ErrUpstream) {
		t.Errorf("expected errors.Is ErrUpstream")
	}
	if up.calls.Load() != 1 {
		t.Errorf("expected no retries, got %d calls", up.calls.Load())
	}
}

func TestCompleteMalformedBody(t *testing.T) {
	cases := map[string]string{
		"not json":   `<html>oops</html>`,
		"no choices": `{"choices":[]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			up := newStubUpstream(t, http.StatusOK, body)
			c := newTestClient(t, up.endpoint(), 5*time.Second)

			_, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})
			if !errors.Is(err, domain.ErrTransport) {
				t.Fatalf("expected ErrTransport, got %v", err)
			}
		})
	}
}

func TestCompleteConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL + "/chat/completions"
	srv.Close()

	c := newTestClient(t, endpoint, time.Second)
	_, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestCompleteTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := newTestClient(t, srv.URL+"/chat/completions", 50*time.Millisecond)
	_, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport on timeout, got %v", err)
	}
}

func TestUpstreamErrorBodyIsTruncated(t *testing.T) {
	long := make([]byte, 10_000)
	for i := range long {
		long[i] = 'x'
	}
	up := newStubUpstream(t, http.StatusInternalServerError, string(long))
	c := newTestClient(t, up.endpoint(), 5*time.Second)

	_, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})
	var upErr *domain.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if len(upErr.Body) >= len(long) {
		t.Errorf("expected truncated body, got %d bytes", len(upErr.Body))
	}
}

func TestGetModelUsesCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/v1/models" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		_, _ = io.WriteString(w, `{"data":[{"id":"llama","owned_by":"Meta","active":true,"context_window":131072}]}`)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL+"/openai/v1/chat/completions", time.Second)

	m, err := c.GetModel(context.Background(), "llama")
	if err != nil {
		t.Fatalf("GetModel failed: %v", err)
	}
	if m.OwnedBy != "Meta" || m.ContextWindow != 131072 || !m.Active {
		t.Errorf("unexpected model %+v", m)
	}

	if _, err := c.GetModel(context.Background(), "llama"); err != nil {
		t.Fatalf("GetModel failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected listing to be cached, got %d calls", calls.Load())
	}

	// A miss on a cached listing refetches once.
	if _, err := c.GetModel(context.Background(), "missing"); !errors.Is(err, domain.ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected one refetch on a miss, got %d calls", calls.Load())
	}
}

func TestGetModelRefetchesStaleListing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = io.WriteString(w, `{"data":[{"id":"old"}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"id":"old"},{"id":"new","owned_by":"Meta"}]}`)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL+"/chat/completions", time.Second)

	if _, err := c.ListModels(context.Background()); err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	m, err := c.GetModel(context.Background(), "new")
	if err != nil {
		t.Fatalf("expected model added after caching to be found, got %v", err)
	}
	if m.ID != "new" || m.OwnedBy != "Meta" || !m.Active {
		t.Errorf("unexpected model %+v", m)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 listing calls, got %d", calls.Load())
	}
}

func TestModelsCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewModelsCache(time.Minute)
	c.now = func() time.Time { return now }

	c.Set([]domain.AIModel{{ID: "a"}})
	if got := c.Get(); len(got) != 1 {
		t.Fatalf("expected cached listing")
	}

	now = now.Add(2 * time.Minute)
	if got := c.Get(); got != nil {
		t.Errorf("expected expired listing, got %v", got)
	}

	c.Set([]domain.AIModel{{ID: "b"}})
	c.Invalidate()
	if got := c.Get(); got != nil {
		t.Errorf("expected invalidated listing, got %v", got)
	}
}
