package httpserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

const maxNonceLen = 255

// NonceChecker is the read-only membership probe used during validation.
// The atomic claim happens later, once every check has passed.
type NonceChecker interface {
	Seen(ctx domain.Context, apiKey, nonce string) (bool, error)
}

// Authenticator verifies the HMAC request signature and replay headers.
// Validation stops at the first failure, in the declared order: header
// presence, timestamp skew, nonce membership, signature.
type Authenticator struct {
	Secret []byte
	Nonces NonceChecker
	Skew   time.Duration
	Now    func() time.Time
}

// NewAuthenticator constructs an Authenticator with defaults applied.
func NewAuthenticator(secret string, nonces NonceChecker, skew time.Duration) *Authenticator {
	if skew <= 0 {
		skew = 300 * time.Second
	}
	return &Authenticator{Secret: []byte(secret), Nonces: nonces, Skew: skew, Now: time.Now}
}

// Credentials are the verified auth headers of an accepted submission.
type Credentials struct {
	APIKey    string
	Nonce     string
	Timestamp time.Time
}

// Verify checks the four auth headers against the raw body. The body must be
// the exact bytes read from the wire; the signature covers
// method || path || body || timestamp || nonce.
func (a *Authenticator) Verify(ctx domain.Context, r *http.Request, body []byte) (Credentials, error) {
	apiKey := r.Header.Get("X-Api-Key")
	ts := r.Header.Get("X-Timestamp")
	nonce := r.Header.Get("X-Nonce")
	sig := r.Header.Get("X-Signature")
	if apiKey == "" || ts == "" || nonce == "" || sig == "" {
		return Credentials{}, fmt.Errorf("op=auth.verify: %w", domain.ErrAuthMissing)
	}
	if len(nonce) > maxNonceLen {
		return Credentials{}, fmt.Errorf("op=auth.verify: nonce too long: %w", domain.ErrAuthMissing)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Credentials{}, fmt.Errorf("op=auth.verify: bad timestamp: %w", domain.ErrStale)
	}
	sent := time.Unix(unix, 0)
	now := a.Now()
	if d := now.Sub(sent); d > a.Skew || d < -a.Skew {
		return Credentials{}, fmt.Errorf("op=auth.verify: skew %s: %w", d, domain.ErrStale)
	}

	seen, err := a.Nonces.Seen(ctx, apiKey, nonce)
	if err != nil {
		return Credentials{}, err
	}
	if seen {
		return Credentials{}, fmt.Errorf("op=auth.verify: %w", domain.ErrReplay)
	}

	want := a.Sign(r.Method, r.URL.Path, body, ts, nonce)
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(got, want) {
		return Credentials{}, fmt.Errorf("op=auth.verify: %w", domain.ErrBadSignature)
	}

	return Credentials{APIKey: apiKey, Nonce: nonce, Timestamp: sent}, nil
}

// Sign computes the raw HMAC-SHA256 over the canonical signing string.
func (a *Authenticator) Sign(method, path string, body []byte, timestamp, nonce string) []byte {
	mac := hmac.New(sha256.New, a.Secret)
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(nonce))
	return mac.Sum(nil)
}
