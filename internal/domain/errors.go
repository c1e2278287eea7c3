package domain

import "errors"

// Error taxonomy (sentinels). Ingress auth errors surface as 400 with a
// machine code; pipeline errors steer retry/dead-letter classification.
var (
	ErrAuthMissing     = errors.New("auth missing")
	ErrStale           = errors.New("stale timestamp")
	ErrReplay          = errors.New("replay")
	ErrBadSignature    = errors.New("bad signature")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrNotFound        = errors.New("not found")
	ErrUnavailable     = errors.New("store unavailable")
	ErrTransient       = errors.New("transient failure")
	ErrPermanent       = errors.New("permanent failure")
	ErrBreakerOpen     = errors.New("circuit breaker open")
	ErrSchemaViolation = errors.New("schema violation")
	ErrTimeout         = errors.New("timeout")
)

// IsTransient reports whether err should be retried with backoff.
// Breaker-open and timeout failures are transient by classification.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrBreakerOpen) || errors.Is(err, ErrTimeout)
}
