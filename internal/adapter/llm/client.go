package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/observability"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// Client speaks the OpenAI-compatible chat completions API with strict
// json_schema response formatting. Sampling is pinned low (temperature,
// top_p 1.0, fixed seed) so the same case file yields stable analyses.
type Client struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	RetryAttempts int
	RetryDelay    time.Duration

	HTTPClient *http.Client
	Breaker    *CircuitBreaker
}

// NewClient constructs a transport client with its own http.Client honoring
// the configured timeout.
func NewClient(provider, baseURL, apiKey, model string, maxTokens int, temperature float64, timeout time.Duration, attempts int, delay time.Duration, breaker *CircuitBreaker) *Client {
	if attempts <= 0 {
		attempts = 3
	}
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	if temperature > 0.2 {
		temperature = 0.2
	}
	return &Client{
		Provider:      provider,
		BaseURL:       baseURL,
		APIKey:        apiKey,
		Model:         model,
		MaxTokens:     maxTokens,
		Temperature:   temperature,
		Timeout:       timeout,
		RetryAttempts: attempts,
		RetryDelay:    delay,
		HTTPClient:    &http.Client{Timeout: timeout},
		Breaker:       breaker,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature"`
	TopP           float64        `json:"top_p"`
	Seed           int            `json:"seed"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one schema-constrained chat request and returns the raw
// message content. The circuit breaker is consulted before every outbound
// attempt and fed every attempt's failure; retries use exponential backoff
// with jitter and only retry transport failures and 5xx.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	tracer := otel.Tracer("llm.client")
	ctx, span := tracer.Start(ctx, "llm.complete")
	span.SetAttributes(attribute.String("llm.provider", c.Provider), attribute.String("llm.model", c.Model))
	defer span.End()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.RetryDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0

	// The breaker counts individual HTTP failures, not Complete calls: five
	// consecutive failed attempts open it even mid-retry, and the remaining
	// retries fast-fail without touching the wire.
	var content string
	start := time.Now()
	err := backoff.Retry(func() error {
		if c.Breaker != nil {
			if berr := c.Breaker.Allow(); berr != nil {
				return backoff.Permanent(berr)
			}
		}
		var callErr error
		content, callErr = c.call(ctx, system, user)
		if callErr != nil && c.Breaker != nil {
			c.Breaker.RecordFailure()
		}
		return callErr
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.RetryAttempts-1)), ctx))
	observability.LLMRequestDuration.WithLabelValues(c.Provider).Observe(time.Since(start).Seconds())

	if err != nil {
		result := "error"
		if errors.Is(err, domain.ErrBreakerOpen) {
			result = "breaker_open"
		}
		observability.LLMRequestsTotal.WithLabelValues(c.Provider, result).Inc()
		span.RecordError(err)
		return "", fmt.Errorf("op=llm.Complete: %w", err)
	}
	if c.Breaker != nil {
		c.Breaker.RecordSuccess()
	}
	observability.LLMRequestsTotal.WithLabelValues(c.Provider, "ok").Inc()
	return content, nil
}

func (c *Client) call(ctx context.Context, system, user string) (string, error) {
	reqBody := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		TopP:        1.0,
		Seed:        7,
		ResponseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   SchemaName,
				"strict": true,
				"schema": AnalysisSchema(),
			},
		},
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Transport failure or timeout: retryable.
		return "", fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", domain.ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// handled below
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d", domain.ErrTransient, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		// Quota exhaustion. Retrying against a spent quota only burns the
		// attempt budget.
		return "", backoff.Permanent(fmt.Errorf("%w: status 429 quota exhausted", domain.ErrPermanent))
	default:
		return "", backoff.Permanent(fmt.Errorf("%w: status %d: %s", domain.ErrPermanent, resp.StatusCode, truncate(string(body), 200)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: decode envelope: %v", domain.ErrPermanent, err))
	}
	if parsed.Error != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: provider error: %s", domain.ErrPermanent, parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", backoff.Permanent(fmt.Errorf("%w: empty choices", domain.ErrPermanent))
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
