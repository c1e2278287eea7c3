package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

func newTestBreaker(t *testing.T) (*CircuitBreaker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("openai:https://api.test/v1", 5, 300*time.Second)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		assert.NoError(t, cb.Allow())
	}
	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), domain.ErrBreakerOpen)
}

func TestBreakerSuccessZeroesCounter(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()
	// Four more failures must not trip it; the streak restarted.
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerHalfOpensAfterResetTimeout(t *testing.T) {
	t.Parallel()
	cb, now := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.ErrorIs(t, cb.Allow(), domain.ErrBreakerOpen)

	*now = now.Add(301 * time.Second)
	assert.NoError(t, cb.Allow())
	assert.Equal(t, BreakerHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	t.Parallel()
	cb, now := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	*now = now.Add(301 * time.Second)
	require.NoError(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), domain.ErrBreakerOpen)
}

func TestBreakerWindowExpiryForgetsOldFailures(t *testing.T) {
	t.Parallel()
	cb, now := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	// The streak ages out of the rolling window.
	*now = now.Add(301 * time.Second)
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerManagerKeysByProviderAndEndpoint(t *testing.T) {
	t.Parallel()
	m := NewBreakerManager(5, 300*time.Second)
	a := m.For("openai", "https://a")
	b := m.For("openai", "https://b")
	assert.NotSame(t, a, b)
	assert.Same(t, a, m.For("openai", "https://a"))
}
