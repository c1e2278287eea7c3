package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/config"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/usecase"
)

// Version is stamped at build time and surfaced by the health endpoint.
var Version = "dev"

const maxBodyBytes = 1 << 20 // 1MB is generous for a loan application

// Server aggregates handler dependencies.
type Server struct {
	Cfg     config.Config
	Auth    *Authenticator
	Submit  usecase.SubmitService
	Status  usecase.StatusService
	DBCheck func(ctx context.Context) error
	// QueueCounts returns (queued, failed) for the health thresholds.
	QueueCounts func(ctx context.Context) (int, int, error)
	MLCheck     func(ctx context.Context) error
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() {
		vld = validator.New()
		// Report JSON field names in validation errors, not Go field names.
		vld.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return vld
}

// SubmitHandler accepts a signed application submission.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, fmt.Errorf("%w: body read: %v", domain.ErrInvalidPayload, err), nil)
			return
		}

		ctx := r.Context()
		creds, err := s.Auth.Verify(ctx, r, body)
		if err != nil {
			LoggerFrom(r).Warn("submission rejected", "reason", err.Error())
			writeError(w, err, nil)
			return
		}

		var app domain.Application
		if err := json.Unmarshal(body, &app); err != nil {
			writeError(w, fmt.Errorf("%w: invalid json", domain.ErrInvalidPayload), nil)
			return
		}
		if err := getValidator().Struct(app); err != nil {
			writeError(w, fmt.Errorf("%w: validation failed", domain.ErrInvalidPayload), fieldErrors(err))
			return
		}

		id, err := s.Submit.Accept(ctx, app, usecase.SubmitMeta{
			APIKey:    creds.APIKey,
			Nonce:     creds.Nonce,
			ClientIP:  clientIP(r),
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			writeError(w, err, nil)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"job_id":               id,
			"status":               string(domain.StatusQueued),
			"polling_url":          "/v1/decision/" + id,
			"estimated_completion": time.Now().UTC().Add(2 * time.Minute).Format(time.RFC3339),
		})
	}
}

// PollHandler returns the decision projection for a job id.
func (s *Server) PollHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, fmt.Errorf("%w: id missing", domain.ErrInvalidPayload), nil)
			return
		}
		m, err := s.Status.Fetch(r.Context(), id)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// HealthHandler reports service health including queue pressure.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		services := map[string]string{}
		overall := "healthy"

		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				services["database"] = "unhealthy"
				overall = "degraded"
			} else {
				services["database"] = "healthy"
			}
		}
		if s.QueueCounts != nil {
			queued, failed, err := s.QueueCounts(ctx)
			switch {
			case err != nil:
				services["queue"] = "unknown"
				overall = "degraded"
			case queued >= s.Cfg.QueueHealthyMaxQueued:
				services["queue"] = "overloaded"
				overall = "degraded"
			case failed >= s.Cfg.QueueHealthyMaxFailed:
				services["queue"] = "degraded"
				overall = "degraded"
			default:
				services["queue"] = "healthy"
			}
		}
		if s.MLCheck != nil {
			if err := s.MLCheck(ctx); err != nil {
				services["ml_service"] = "unhealthy"
				overall = "degraded"
			} else {
				services["ml_service"] = "healthy"
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":    overall,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   Version,
			"services":  services,
		})
	}
}

// fieldErrors flattens validator errors to a field -> tag map keyed by the
// JSON path of the failing field.
func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			// Namespace looks like Application.contact.email; drop the root.
			ns := fe.Namespace()
			if i := strings.Index(ns, "."); i >= 0 {
				ns = ns[i+1:]
			}
			out[ns] = fe.Tag()
		}
	}
	return out
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
