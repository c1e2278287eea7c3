package ml

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

func testVector() domain.FeatureVector {
	return domain.FeatureVector{
		Names:             []string{"age", "sin_valid"},
		Values:            []float64{40, 1},
		FeatureSetVersion: "features-v1",
	}
}

func newTestClient(url string) *Client {
	c := NewClient(url, 2*time.Second, 2)
	// Keep test retries fast.
	return c
}

func TestScoreHappyPath(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/score", r.URL.Path)

		var req scoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "req-1", req.RequestID)
		assert.Equal(t, "features-v1", req.FeatureSetVersion)

		_ = json.NewEncoder(w).Encode(domain.MLOutput{
			ConfidenceScore: 0.42,
			ModelVersion:    "xgb-7",
			TopFeatures:     []domain.TopFeature{{Name: "age", Importance: 0.3}},
		})
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).Score(context.Background(), "req-1", testVector())
	require.NoError(t, err)
	assert.Equal(t, 0.42, out.ConfidenceScore)
	assert.Equal(t, "xgb-7", out.ModelVersion)
}

func TestScoreRetriesServerErrorsThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.MLOutput{ConfidenceScore: 0.9})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	out, err := c.Score(context.Background(), "req-1", testVector())
	require.NoError(t, err)
	assert.Equal(t, 0.9, out.ConfidenceScore)
	assert.Equal(t, int32(3), calls.Load())
}

func TestScoreExhaustedRetriesAreTransient(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Score(context.Background(), "req-1", testVector())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestScoreMalformedResponseIsPermanent(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Score(context.Background(), "req-1", testVector())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermanent)
	assert.Equal(t, int32(1), calls.Load(), "permanent failures are not retried")
}

func TestScoreOutOfRangeConfidenceIsPermanent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.MLOutput{ConfidenceScore: 1.5})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Score(context.Background(), "req-1", testVector())
	assert.ErrorIs(t, err, domain.ErrPermanent)
}

func TestScoreBadRequestIsPermanent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Score(context.Background(), "req-1", testVector())
	assert.ErrorIs(t, err, domain.ErrPermanent)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	assert.NoError(t, c.Health(context.Background()))

	srv.Close()
	assert.Error(t, c.Health(context.Background()))
}
