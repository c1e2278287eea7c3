package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// RequestRepo persists application requests. Creating a request also inserts
// its queue entry and identifier hashes in the same transaction so a request
// row without a queue entry can only mean a terminal status.
type RequestRepo struct {
	Pool PgxPool
	// Hash produces the salted identifier hash used for reuse queries.
	Hash func(kind, value string) string
}

// NewRequestRepo constructs a RequestRepo with the given pool and hasher.
func NewRequestRepo(p PgxPool, hash func(kind, value string) string) *RequestRepo {
	return &RequestRepo{Pool: p, Hash: hash}
}

// CreateRequest inserts the request, its queue entry, and its identifier
// hashes in one transaction and returns the generated request id.
func (r *RequestRepo) CreateRequest(ctx domain.Context, req domain.ApplicationRequest) (string, error) {
	tracer := otel.Tracer("repo.requests")
	ctx, span := tracer.Start(ctx, "requests.Create")
	defer span.End()

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return "", fmt.Errorf("op=request.create marshal: %w", err)
	}
	now := time.Now().UTC()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("op=request.create begin: %w: %v", domain.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `INSERT INTO requests (id, payload, api_key, client_ip, user_agent, status, error, received_at, updated_at,
		email_hash, phone_hash, vin_hash, dealer_id)
		VALUES ($1,$2,$3,$4,$5,$6,'',$7,$7,$8,$9,$10,$11)`
	_, err = tx.Exec(ctx, q, id, payload, req.APIKey, req.ClientIP, req.UserAgent, domain.StatusQueued, now,
		r.Hash("email", req.Payload.Contact.Email),
		r.Hash("phone", req.Payload.Contact.Phone),
		r.Hash("vin", req.Payload.Vehicle.VIN),
		req.Payload.Dealer.ID)
	if err != nil {
		return "", fmt.Errorf("op=request.create: %w: %v", domain.ErrUnavailable, err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO queue (job_id, attempts, available_at) VALUES ($1, 0, $2)`, id, now)
	if err != nil {
		return "", fmt.Errorf("op=request.create queue: %w: %v", domain.ErrUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("op=request.create commit: %w: %v", domain.ErrUnavailable, err)
	}
	return id, nil
}

// LoadRequest loads a request by id.
func (r *RequestRepo) LoadRequest(ctx domain.Context, id string) (domain.ApplicationRequest, error) {
	tracer := otel.Tracer("repo.requests")
	ctx, span := tracer.Start(ctx, "requests.Load")
	defer span.End()

	q := `SELECT id, payload, api_key, client_ip, user_agent, status, COALESCE(error,''), received_at, updated_at FROM requests WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var req domain.ApplicationRequest
	var payload []byte
	if err := row.Scan(&req.ID, &payload, &req.APIKey, &req.ClientIP, &req.UserAgent, &req.Status, &req.Error, &req.ReceivedAt, &req.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ApplicationRequest{}, fmt.Errorf("op=request.load: %w", domain.ErrNotFound)
		}
		return domain.ApplicationRequest{}, fmt.Errorf("op=request.load: %w", err)
	}
	if err := json.Unmarshal(payload, &req.Payload); err != nil {
		return domain.ApplicationRequest{}, fmt.Errorf("op=request.load unmarshal: %w", err)
	}
	return req, nil
}

// MarkProcessing advances a queued request to processing. Terminal rows are
// left untouched.
func (r *RequestRepo) MarkProcessing(ctx domain.Context, id string) error {
	q := `UPDATE requests SET status=$2, updated_at=$3 WHERE id=$1 AND status NOT IN ('decided','failed')`
	_, err := r.Pool.Exec(ctx, q, id, domain.StatusProcessing, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=request.mark_processing: %w", err)
	}
	return nil
}

// CountRecentByIdentifier counts prior requests in the reuse window carrying
// the same salted identifier hash.
func (r *RequestRepo) CountRecentByIdentifier(ctx domain.Context, kind, hash string, since time.Time) (int, error) {
	col, ok := map[string]string{"email": "email_hash", "phone": "phone_hash", "vin": "vin_hash"}[kind]
	if !ok {
		return 0, fmt.Errorf("op=request.count_reuse: unknown kind %q", kind)
	}
	q := fmt.Sprintf(`SELECT COUNT(*) FROM requests WHERE %s=$1 AND received_at >= $2`, col)
	var n int
	if err := r.Pool.QueryRow(ctx, q, hash, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=request.count_reuse: %w", err)
	}
	return n, nil
}

// CountDealerRecent counts requests originated by a dealer since the cutoff.
func (r *RequestRepo) CountDealerRecent(ctx domain.Context, dealerID string, since time.Time) (int, error) {
	q := `SELECT COUNT(*) FROM requests WHERE dealer_id=$1 AND received_at >= $2`
	var n int
	if err := r.Pool.QueryRow(ctx, q, dealerID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=request.count_dealer: %w", err)
	}
	return n, nil
}
