// Package redisnonce implements the replay-nonce store on Redis.
//
// SET NX with a TTL gives the atomic claim-or-reject semantic the signature
// check needs, and the TTL doubles as the eviction policy for the replay
// window.
package redisnonce

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// Store records used (api_key, nonce) pairs with expiry.
type Store struct {
	rdb    *redis.Client
	window time.Duration
}

// New constructs a Store. window must cover at least the timestamp skew the
// ingress accepts, otherwise a replay inside the skew could slip through.
func New(rdb *redis.Client, window time.Duration) *Store {
	if window < 5*time.Minute {
		window = 5 * time.Minute
	}
	return &Store{rdb: rdb, window: window}
}

func key(apiKey, nonce string) string {
	return "nonce:" + apiKey + ":" + nonce
}

// SeenAndRemember atomically claims the pair. Returns true when the pair was
// fresh; false means a duplicate inside the window.
func (s *Store) SeenAndRemember(ctx domain.Context, apiKey, nonce string, now time.Time) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key(apiKey, nonce), now.Unix(), s.window).Result()
	if err != nil {
		return false, fmt.Errorf("op=nonce.claim: %w: %v", domain.ErrUnavailable, err)
	}
	return ok, nil
}

// Seen reports membership without claiming. Ingress uses it to order the
// Replay check ahead of signature verification; the claim still goes through
// SeenAndRemember.
func (s *Store) Seen(ctx domain.Context, apiKey, nonce string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key(apiKey, nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("op=nonce.seen: %w: %v", domain.ErrUnavailable, err)
	}
	return n > 0, nil
}

// Ping reports store reachability for readiness checks.
func (s *Store) Ping(ctx domain.Context) error {
	return s.rdb.Ping(ctx).Err()
}
