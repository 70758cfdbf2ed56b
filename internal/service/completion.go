package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/set-night/dermassist/internal/config"
	"github.com/set-night/dermassist/internal/domain"
)

const instrumentationName = "github.com/set-night/dermassist/internal/service"

// CompletionClient talks to an OpenAI-compatible chat-completion endpoint.
// Every Complete call is exactly one HTTP request; nothing is retried.
type CompletionClient struct {
	apiKey     string
	endpoint   string
	modelsURL  string
	httpClient *http.Client
	cache      *ModelsCache

	tracer  trace.Tracer
	latency metric.Float64Histogram
}

func NewCompletionClient(apiKey, endpoint string, timeout time.Duration) (*CompletionClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("completion client: api key is required")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("completion client: endpoint is required")
	}

	latency, err := otel.Meter(instrumentationName).Float64Histogram(
		"completion.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of chat-completion requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("completion client: latency histogram: %w", err)
	}

	return &CompletionClient{
		apiKey:     apiKey,
		endpoint:   endpoint,
		modelsURL:  strings.TrimSuffix(endpoint, "/chat/completions") + "/models",
		httpClient: &http.Client{Timeout: timeout},
		cache:      NewModelsCache(config.ModelCacheDuration),
		tracer:     otel.Tracer(instrumentationName),
		latency:    latency,
	}, nil
}

type CompletionRequest struct {
	Model     string               `json:"model"`
	Messages  []domain.ChatMessage `json:"messages"`
	MaxTokens int                  `json:"max_tokens"`
}

type Completion struct {
	Text  string
	Model string
	Usage domain.Usage
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *CompletionClient) Complete(ctx context.Context, creq CompletionRequest) (_ *Completion, err error) {
	ctx, span := c.tracer.Start(ctx, "completion.Complete", trace.WithAttributes(
		attribute.String("llm.model", creq.Model),
		attribute.Int("llm.max_tokens", creq.MaxTokens),
		attribute.Int("llm.messages", len(creq.Messages)),
	))
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.latency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("status", status)))
		span.End()
	}()

	payload, err := json.Marshal(creq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Err: fmt.Errorf("chat request: %w", err)}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.UpstreamError{Status: resp.StatusCode, Body: truncate(body, config.MaxUpstreamErrorBody)}
	}

	var chatResp completionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, &domain.TransportError{Err: fmt.Errorf("parse response: %w", err)}
	}
	if len(chatResp.Choices) == 0 {
		return nil, &domain.TransportError{Err: fmt.Errorf("parse response: no choices")}
	}

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", chatResp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", chatResp.Usage.CompletionTokens),
	)

	return &Completion{
		Text:  chatResp.Choices[0].Message.Content,
		Model: chatResp.Model,
		Usage: domain.Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
		},
	}, nil
}

// ListModels returns the provider's model listing, cached for config.ModelCacheDuration.
func (c *CompletionClient) ListModels(ctx context.Context) ([]domain.AIModel, error) {
	if cached := c.cache.Get(); cached != nil {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.modelsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Err: fmt.Errorf("fetch models: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.UpstreamError{Status: resp.StatusCode, Body: truncate(body, config.MaxUpstreamErrorBody)}
	}

	var result struct {
		Data []struct {
			ID            string `json:"id"`
			OwnedBy       string `json:"owned_by"`
			Active        *bool  `json:"active"`
			ContextWindow int    `json:"context_window"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &domain.TransportError{Err: fmt.Errorf("parse models: %w", err)}
	}

	models := make([]domain.AIModel, 0, len(result.Data))
	for _, m := range result.Data {
		active := true
		if m.Active != nil {
			active = *m.Active
		}
		models = append(models, domain.AIModel{
			ID:            m.ID,
			OwnedBy:       m.OwnedBy,
			ContextWindow: m.ContextWindow,
			Active:        active,
		})
	}

	c.cache.Set(models)
	return models, nil
}

// GetModel looks modelID up in the listing. A miss against a cached listing
// drops the cache and refetches once, since the listing may predate the model.
func (c *CompletionClient) GetModel(ctx context.Context, modelID string) (*domain.AIModel, error) {
	cached := c.cache.Get() != nil

	models, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	if m := findModel(models, modelID); m != nil {
		return m, nil
	}
	if !cached {
		return nil, domain.ErrModelNotFound
	}

	c.cache.Invalidate()
	models, err = c.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	if m := findModel(models, modelID); m != nil {
		return m, nil
	}
	return nil, domain.ErrModelNotFound
}

func findModel(models []domain.AIModel, id string) *domain.AIModel {
	for i := range models {
		if models[i].ID == id {
			return &models[i]
		}
	}
	return nil
}

func truncate(body []byte, max int) string {
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
