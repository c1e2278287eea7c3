// Package ml is the HTTP client for the external fraud-scoring service.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
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

// Client calls the scoring service. Errors are classified at the boundary:
// timeouts and 5xx become transient (the attempt is retried with jittered
// backoff up to RetryMax, then surfaces as ErrTransient to the dispatcher),
// while a malformed or out-of-range response is permanent.
type Client struct {
	BaseURL    string
	Timeout    time.Duration
	RetryMax   int
	HTTPClient *http.Client
}

// NewClient builds a scoring client with its own timeout-bounded transport.
func NewClient(baseURL string, timeout time.Duration, retryMax int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retryMax < 0 {
		retryMax = 2
	}
	return &Client{
		BaseURL:    baseURL,
		Timeout:    timeout,
		RetryMax:   retryMax,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	RequestID         string    `json:"request_id"`
	Features          []float64 `json:"features"`
	FeatureNames      []string  `json:"feature_names"`
	FeatureSetVersion string    `json:"feature_set_version"`
}

// Score posts the feature vector and returns the calibrated model output.
func (c *Client) Score(ctx domain.Context, requestID string, fv domain.FeatureVector) (domain.MLOutput, error) {
	tracer := otel.Tracer("ml.client")
	ctx, span := tracer.Start(ctx, "ml.score")
	span.SetAttributes(attribute.String("request.id", requestID))
	defer span.End()

	buf, err := json.Marshal(scoreRequest{
		RequestID:         requestID,
		Features:          fv.Values,
		FeatureNames:      fv.Names,
		FeatureSetVersion: fv.FeatureSetVersion,
	})
	if err != nil {
		return domain.MLOutput{}, fmt.Errorf("op=ml.Score: %w: %v", domain.ErrPermanent, err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0

	var out domain.MLOutput
	err = backoff.Retry(func() error {
		var callErr error
		out, callErr = c.score(ctx, buf)
		return callErr
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.RetryMax)), ctx))
	if err != nil {
		observability.MLRequestsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		return domain.MLOutput{}, fmt.Errorf("op=ml.Score: %w", err)
	}
	observability.MLRequestsTotal.WithLabelValues("ok").Inc()
	return out, nil
}

func (c *Client) score(ctx context.Context, body []byte) (domain.MLOutput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return domain.MLOutput{}, backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrPermanent, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return domain.MLOutput{}, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.MLOutput{}, fmt.Errorf("%w: read body: %v", domain.ErrTransient, err)
	}
	if resp.StatusCode >= 500 {
		return domain.MLOutput{}, fmt.Errorf("%w: status %d", domain.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.MLOutput{}, backoff.Permanent(fmt.Errorf("%w: status %d", domain.ErrPermanent, resp.StatusCode))
	}

	var out domain.MLOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.MLOutput{}, backoff.Permanent(fmt.Errorf("%w: decode: %v", domain.ErrPermanent, err))
	}
	if out.ConfidenceScore < 0 || out.ConfidenceScore > 1 {
		return domain.MLOutput{}, backoff.Permanent(fmt.Errorf("%w: confidence_score %v out of [0,1]", domain.ErrPermanent, out.ConfidenceScore))
	}
	return out, nil
}

// Health probes the scoring service.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=ml.Health: %w: %v", domain.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("op=ml.Health: %w: status %d", domain.ErrUnavailable, resp.StatusCode)
	}
	return nil
}
