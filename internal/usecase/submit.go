// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// SubmitService persists an authenticated submission and its queue entry.
type SubmitService struct {
	Requests domain.RequestRepository
	Nonces   domain.NonceStore
}

// NewSubmitService constructs a SubmitService with its dependencies.
func NewSubmitService(r domain.RequestRepository, n domain.NonceStore) SubmitService {
	return SubmitService{Requests: r, Nonces: n}
}

// SubmitMeta carries request metadata captured at the edge.
type SubmitMeta struct {
	APIKey    string
	Nonce     string
	ClientIP  string
	UserAgent string
}

// Accept claims the nonce, then inserts the request and queue entry in one
// transaction. The nonce is burned first: if the insert fails afterwards the
// client must re-sign with a new nonce, which is the safe direction for
// replay defense.
func (s SubmitService) Accept(ctx domain.Context, app domain.Application, meta SubmitMeta) (string, error) {
	now := time.Now().UTC()
	fresh, err := s.Nonces.SeenAndRemember(ctx, meta.APIKey, meta.Nonce, now)
	if err != nil {
		return "", err
	}
	if !fresh {
		return "", fmt.Errorf("op=submit.accept: %w", domain.ErrReplay)
	}

	id, err := s.Requests.CreateRequest(ctx, domain.ApplicationRequest{
		Payload:    app,
		APIKey:     meta.APIKey,
		ClientIP:   meta.ClientIP,
		UserAgent:  meta.UserAgent,
		Status:     domain.StatusQueued,
		ReceivedAt: now,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
