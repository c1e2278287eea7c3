package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

type claimStore struct {
	fresh  bool
	err    error
	claims int
}

func (c *claimStore) SeenAndRemember(domain.Context, string, string, time.Time) (bool, error) {
	c.claims++
	return c.fresh, c.err
}

type createRepo struct {
	id      string
	err     error
	creates int
}

func (r *createRepo) CreateRequest(_ domain.Context, req domain.ApplicationRequest) (string, error) {
	r.creates++
	if r.err != nil {
		return "", r.err
	}
	return r.id, nil
}

func (r *createRepo) LoadRequest(domain.Context, string) (domain.ApplicationRequest, error) {
	return domain.ApplicationRequest{}, domain.ErrNotFound
}

func (r *createRepo) MarkProcessing(domain.Context, string) error { return nil }

func TestAcceptClaimsNonceThenPersists(t *testing.T) {
	t.Parallel()
	store := &claimStore{fresh: true}
	repo := &createRepo{id: "job-1"}
	svc := NewSubmitService(repo, store)

	id, err := svc.Accept(context.Background(), domain.Application{}, SubmitMeta{APIKey: "k", Nonce: "n"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	assert.Equal(t, 1, store.claims)
	assert.Equal(t, 1, repo.creates)
}

func TestAcceptDuplicateNonceIsReplay(t *testing.T) {
	t.Parallel()
	store := &claimStore{fresh: false}
	repo := &createRepo{id: "job-1"}
	svc := NewSubmitService(repo, store)

	_, err := svc.Accept(context.Background(), domain.Application{}, SubmitMeta{APIKey: "k", Nonce: "n"})
	assert.ErrorIs(t, err, domain.ErrReplay)
	assert.Zero(t, repo.creates, "a replayed nonce never reaches the store")
}

func TestAcceptNonceStoreErrorBlocksSubmission(t *testing.T) {
	t.Parallel()
	store := &claimStore{err: errors.New("redis down")}
	repo := &createRepo{}
	svc := NewSubmitService(repo, store)

	_, err := svc.Accept(context.Background(), domain.Application{}, SubmitMeta{})
	require.Error(t, err)
	assert.Zero(t, repo.creates)
}

func TestAcceptInsertFailureAfterClaim(t *testing.T) {
	t.Parallel()
	// The nonce stays burned when the insert fails; the client must re-sign
	// with a fresh nonce.
	store := &claimStore{fresh: true}
	repo := &createRepo{err: errors.New("db down")}
	svc := NewSubmitService(repo, store)

	_, err := svc.Accept(context.Background(), domain.Application{}, SubmitMeta{})
	require.Error(t, err)
	assert.Equal(t, 1, store.claims)
}
