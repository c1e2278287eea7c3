package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// DecisionRepo writes the terminal outcome. Finalize runs the decision
// insert, the status flip, and the queue delete in one transaction so the
// "queue entry exists iff not terminal" invariant holds at every commit point.
type DecisionRepo struct{ Pool PgxPool }

// NewDecisionRepo constructs a DecisionRepo with the given pool.
func NewDecisionRepo(p PgxPool) *DecisionRepo { return &DecisionRepo{Pool: p} }

// Finalize marks the request terminal. Pass a decision for the decided state
// or a failure reason for the failed state. The decision insert uses
// ON CONFLICT DO NOTHING so a redelivered attempt finalizing after a crash is
// idempotent: the first writer wins and later calls only clean up the queue.
func (r *DecisionRepo) Finalize(ctx domain.Context, requestID string, d *domain.Decision, failure string) error {
	tracer := otel.Tracer("repo.decisions")
	ctx, span := tracer.Start(ctx, "decisions.Finalize")
	defer span.End()

	now := time.Now().UTC()
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=decision.finalize begin: %w: %v", domain.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status := domain.StatusFailed
	if d != nil {
		status = domain.StatusDecided
		reasons, err := json.Marshal(d.Reasons)
		if err != nil {
			return fmt.Errorf("op=decision.finalize marshal reasons: %w", err)
		}
		stips, err := json.Marshal(d.Stipulations)
		if err != nil {
			return fmt.Errorf("op=decision.finalize marshal stipulations: %w", err)
		}
		timings, err := json.Marshal(d.TimingsMS)
		if err != nil {
			return fmt.Errorf("op=decision.finalize marshal timings: %w", err)
		}
		q := `INSERT INTO decisions (request_id, final_decision, reasons, stipulations, policy_version, timings_ms, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (request_id) DO NOTHING`
		if _, err := tx.Exec(ctx, q, requestID, d.Final, reasons, stips, d.PolicyVersion, timings, now); err != nil {
			return fmt.Errorf("op=decision.finalize insert: %w", err)
		}
	}

	q := `UPDATE requests SET status=$2, error=$3, updated_at=$4 WHERE id=$1 AND status NOT IN ('decided','failed')`
	if _, err := tx.Exec(ctx, q, requestID, status, failure, now); err != nil {
		return fmt.Errorf("op=decision.finalize status: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM queue WHERE job_id=$1`, requestID); err != nil {
		return fmt.Errorf("op=decision.finalize dequeue: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=decision.finalize commit: %w", err)
	}
	return nil
}

// GetDecision loads the decision for a request.
func (r *DecisionRepo) GetDecision(ctx domain.Context, requestID string) (domain.Decision, error) {
	tracer := otel.Tracer("repo.decisions")
	ctx, span := tracer.Start(ctx, "decisions.Get")
	defer span.End()

	q := `SELECT request_id, final_decision, reasons, stipulations, policy_version, timings_ms, created_at FROM decisions WHERE request_id=$1`
	row := r.Pool.QueryRow(ctx, q, requestID)
	var d domain.Decision
	var reasons, stips, timings []byte
	if err := row.Scan(&d.RequestID, &d.Final, &reasons, &stips, &d.PolicyVersion, &timings, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Decision{}, fmt.Errorf("op=decision.get: %w", domain.ErrNotFound)
		}
		return domain.Decision{}, fmt.Errorf("op=decision.get: %w", err)
	}
	if err := json.Unmarshal(reasons, &d.Reasons); err != nil {
		return domain.Decision{}, fmt.Errorf("op=decision.get reasons: %w", err)
	}
	if err := json.Unmarshal(stips, &d.Stipulations); err != nil {
		return domain.Decision{}, fmt.Errorf("op=decision.get stipulations: %w", err)
	}
	if err := json.Unmarshal(timings, &d.TimingsMS); err != nil {
		return domain.Decision{}, fmt.Errorf("op=decision.get timings: %w", err)
	}
	return d, nil
}
