package llm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/observability"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// BreakerState is the circuit state for one provider endpoint.
type BreakerState int

const (
	// BreakerClosed allows requests through.
	BreakerClosed BreakerState = iota
	// BreakerOpen fast-fails requests until the reset timeout elapses.
	BreakerOpen
	// BreakerHalfOpen lets a single probe request through after the timeout.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one (provider, endpoint) pair. It opens after
// failureThreshold consecutive failures inside the rolling window and stays
// open for resetTimeout; a success in half-open state closes it and zeroes
// the counter.
type CircuitBreaker struct {
	mu               sync.Mutex
	key              string
	failureThreshold int
	window           time.Duration
	resetTimeout     time.Duration
	now              func() time.Time

	state        BreakerState
	failureCount int
	windowStart  time.Time
	openedAt     time.Time
}

// NewCircuitBreaker builds a breaker with the given thresholds. A zero
// threshold or timeout falls back to the documented defaults (5 failures,
// 300s reset).
func NewCircuitBreaker(key string, failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 300 * time.Second
	}
	return &CircuitBreaker{
		key:              key,
		failureThreshold: failureThreshold,
		window:           resetTimeout,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		state:            BreakerClosed,
	}
}

// Allow reports whether an outbound call may proceed. When the breaker is
// open past its reset timeout it transitions to half-open and admits one
// probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
			cb.state = BreakerHalfOpen
			observability.SetBreakerState(cb.key, float64(BreakerHalfOpen))
			slog.Info("circuit breaker half-open", "key", cb.key)
			return nil
		}
		return domain.ErrBreakerOpen
	}
	return domain.ErrBreakerOpen
}

// RecordSuccess closes the breaker and zeroes the failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerClosed {
		slog.Info("circuit breaker closed", "key", cb.key)
	}
	cb.state = BreakerClosed
	cb.failureCount = 0
	observability.SetBreakerState(cb.key, float64(BreakerClosed))
}

// RecordFailure counts a failure inside the rolling window; crossing the
// threshold (or failing the half-open probe) opens the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	if cb.windowStart.IsZero() || now.Sub(cb.windowStart) > cb.window {
		cb.windowStart = now
		cb.failureCount = 0
	}
	cb.failureCount++

	if cb.state == BreakerHalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.state = BreakerOpen
		cb.openedAt = now
		observability.SetBreakerState(cb.key, float64(BreakerOpen))
		slog.Warn("circuit breaker opened",
			"key", cb.key,
			"failure_count", cb.failureCount,
			"threshold", cb.failureThreshold)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerManager hands out one breaker per (provider, endpoint) pair.
type BreakerManager struct {
	mu               sync.Mutex
	breakers         map[string]*CircuitBreaker
	failureThreshold int
	resetTimeout     time.Duration
}

// NewBreakerManager constructs a manager applying the same thresholds to
// every breaker it creates.
func NewBreakerManager(failureThreshold int, resetTimeout time.Duration) *BreakerManager {
	return &BreakerManager{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
}

// For returns the breaker for a provider endpoint, creating it on first use.
func (m *BreakerManager) For(provider, endpoint string) *CircuitBreaker {
	key := provider + ":" + endpoint
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[key]; ok {
		return cb
	}
	cb := NewCircuitBreaker(key, m.failureThreshold, m.resetTimeout)
	m.breakers[key] = cb
	return cb
}
