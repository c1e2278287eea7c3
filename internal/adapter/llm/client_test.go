package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

func chatOK(content string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}, "finish_reason": "stop"},
			},
		})
	}
}

func newClientFor(url string, breaker *CircuitBreaker) *Client {
	return NewClient("test", url, "sk-test", "gpt-4o-mini", 1000, 0.1, 2*time.Second, 3, 5*time.Millisecond, breaker)
}

func TestCompleteSendsSchemaConstrainedRequest(t *testing.T) {
	t.Parallel()
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		chatOK(`{"ok":true}`)(w, r)
	}))
	defer srv.Close()

	out, err := newClientFor(srv.URL, nil).Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, out)

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	assert.Equal(t, 1.0, captured.TopP)
	assert.LessOrEqual(t, captured.Temperature, 0.2)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)

	rf := captured.ResponseFormat
	require.NotNil(t, rf)
	assert.Equal(t, "json_schema", rf["type"])
	js, ok := rf["json_schema"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, SchemaName, js["name"])
	assert.Equal(t, true, js["strict"])
}

func TestCompleteRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		chatOK(`{"ok":1}`)(w, r)
	}))
	defer srv.Close()

	_, err := newClientFor(srv.URL, nil).Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteDoesNotRetryAuthFailure(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newClientFor(srv.URL, nil).Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermanent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteDoesNotRetryQuotaFailure(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newClientFor(srv.URL, nil).Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermanent)
	assert.Equal(t, int32(1), calls.Load(), "a spent quota is not worth the retry budget")
}

func TestBreakerOpensOnFifthConsecutiveServerError(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := NewCircuitBreaker("test:"+srv.URL, 5, time.Minute)
	c := newClientFor(srv.URL, cb)

	// Every HTTP attempt feeds the breaker, not every Complete call: the
	// first Complete burns three attempts, the second opens the breaker on
	// the fifth 500 and fast-fails its last retry.
	_, err := c.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Equal(t, BreakerClosed, cb.State())
	assert.Equal(t, int32(3), calls.Load())

	_, err = c.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, domain.ErrBreakerOpen)
	assert.Equal(t, BreakerOpen, cb.State())
	assert.Equal(t, int32(5), calls.Load())

	_, err = c.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, domain.ErrBreakerOpen)
	assert.Equal(t, int32(5), calls.Load(), "an open breaker stops all traffic")
}

func TestCompleteBreakerOpenSkipsNetwork(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cb := NewCircuitBreaker("test:"+srv.URL, 1, time.Minute)
	cb.RecordFailure()
	c := newClientFor(srv.URL, cb)

	_, err := c.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, domain.ErrBreakerOpen)
	assert.Zero(t, calls.Load(), "an open breaker never touches the wire")
}

func TestCompleteProviderErrorEnvelope(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "model overloaded", "type": "server_error"},
		})
	}))
	defer srv.Close()

	_, err := newClientFor(srv.URL, nil).Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermanent)
}
