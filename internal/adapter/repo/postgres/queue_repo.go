package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// QueueRepo implements the durable queue on the queue table. Reservation uses
// FOR UPDATE SKIP LOCKED so concurrent workers never reserve the same entry.
type QueueRepo struct {
	Pool PgxPool
	// Visibility is how long a reservation lasts before a crashed worker's
	// entry becomes claimable again. Must exceed the pipeline timeout.
	Visibility time.Duration
}

// NewQueueRepo constructs a QueueRepo with the given pool and visibility
// timeout.
func NewQueueRepo(p PgxPool, visibility time.Duration) *QueueRepo {
	if visibility <= 0 {
		visibility = 330 * time.Second
	}
	return &QueueRepo{Pool: p, Visibility: visibility}
}

// ReserveNext claims the oldest available queue entry for workerID. The
// returned attempt count includes this reservation. The second return is
// false when no entry is available.
func (r *QueueRepo) ReserveNext(ctx domain.Context, workerID string, now time.Time) (domain.QueueEntry, bool, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.ReserveNext")
	defer span.End()

	visibility := now.Add(r.Visibility)
	q := `WITH next AS (
		SELECT job_id FROM queue
		WHERE available_at <= $2 AND (reserved_until IS NULL OR reserved_until <= $2)
		ORDER BY available_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	)
	UPDATE queue SET reserved_until = $3, reserved_by = $1, attempts = queue.attempts + 1
	FROM next WHERE queue.job_id = next.job_id
	RETURNING queue.job_id, queue.attempts, queue.available_at, queue.reserved_until`

	var e domain.QueueEntry
	row := r.Pool.QueryRow(ctx, q, workerID, now, visibility)
	if err := row.Scan(&e.JobID, &e.Attempts, &e.AvailableAt, &e.ReservedUntil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.QueueEntry{}, false, nil
		}
		return domain.QueueEntry{}, false, fmt.Errorf("op=queue.reserve: %w: %v", domain.ErrTransient, err)
	}
	e.ReservedBy = workerID
	return e, true, nil
}

// Requeue clears the reservation and re-arms the entry at availableAt.
func (r *QueueRepo) Requeue(ctx domain.Context, jobID string, availableAt time.Time) error {
	q := `UPDATE queue SET reserved_until = NULL, reserved_by = NULL, available_at = $2 WHERE job_id = $1`
	_, err := r.Pool.Exec(ctx, q, jobID, availableAt)
	if err != nil {
		return fmt.Errorf("op=queue.requeue: %w", err)
	}
	return nil
}

// Counts returns the queue depth and the number of failed requests, used by
// the health endpoint thresholds.
func (r *QueueRepo) Counts(ctx domain.Context) (int, int, error) {
	var queued, failed int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue`).Scan(&queued); err != nil {
		return 0, 0, fmt.Errorf("op=queue.counts: %w", err)
	}
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM requests WHERE status='failed'`).Scan(&failed); err != nil {
		return 0, 0, fmt.Errorf("op=queue.counts failed: %w", err)
	}
	return queued, failed, nil
}
