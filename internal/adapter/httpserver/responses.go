// Package httpserver contains the ingress HTTP handlers and middleware:
// signed submission intake, decision polling, and health reporting.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

type errorEnvelope struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain taxonomy to HTTP status plus a machine code.
// Auth and validation failures are all 400 per the intake contract; only the
// code distinguishes them.
func writeError(w http.ResponseWriter, err error, details interface{}) {
	status := http.StatusInternalServerError
	code := "Internal"
	switch {
	case errors.Is(err, domain.ErrAuthMissing):
		status, code = http.StatusBadRequest, "AuthMissing"
	case errors.Is(err, domain.ErrStale):
		status, code = http.StatusBadRequest, "Stale"
	case errors.Is(err, domain.ErrReplay):
		status, code = http.StatusBadRequest, "Replay"
	case errors.Is(err, domain.ErrBadSignature):
		status, code = http.StatusBadRequest, "BadSignature"
	case errors.Is(err, domain.ErrInvalidPayload):
		status, code = http.StatusBadRequest, "InvalidPayload"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NotFound"
	case errors.Is(err, domain.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "Unavailable"
	}
	msg := err.Error()
	if code == "Internal" {
		// Internal failure text stays in the logs, not the response.
		msg = "internal error"
	}
	writeJSON(w, status, errorEnvelope{Error: code, Message: msg, Details: details})
}
