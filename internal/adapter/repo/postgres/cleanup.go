package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// CleanupService enforces data retention and sweeps stuck jobs.
type CleanupService struct {
	Pool          PgxPool
	RetentionDays int
	// MaxProcessingAge bounds how long a request may sit in processing with
	// no live reservation before it is failed by the sweeper.
	MaxProcessingAge time.Duration
}

// NewCleanupService creates a cleanup service with defaults applied.
func NewCleanupService(pool PgxPool, retentionDays int, maxProcessingAge time.Duration) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 15 * time.Minute
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays, MaxProcessingAge: maxProcessingAge}
}

// CleanupOldData removes terminal requests (and their stage records and
// decisions) older than the retention period.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old := `SELECT id FROM requests WHERE received_at < $1 AND status IN ('decided','failed')`
	if _, err := tx.Exec(ctx, `DELETE FROM decisions WHERE request_id IN (`+old+`)`, cutoff); err != nil {
		return fmt.Errorf("cleanup decisions: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM stage_records WHERE request_id IN (`+old+`)`, cutoff); err != nil {
		return fmt.Errorf("cleanup stage_records: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM requests WHERE received_at < $1 AND status IN ('decided','failed')`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup requests: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}
	slog.Info("retention cleanup done", slog.Int64("requests_deleted", tag.RowsAffected()), slog.Time("cutoff", cutoff))
	return nil
}

// FailStuck marks requests stuck in processing with no queue entry as failed.
// A live pipeline always holds a queue entry, so an orphaned processing row
// means a worker died between reservation expiry and Finalize.
func (s *CleanupService) FailStuck(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.MaxProcessingAge)
	q := `UPDATE requests SET status='failed', error='timeout: job exceeded processing window', updated_at=NOW()
		WHERE status='processing' AND updated_at < $1
		AND id NOT IN (SELECT job_id FROM queue)`
	tag, err := s.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return fmt.Errorf("fail stuck: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Warn("stuck jobs failed by sweeper", slog.Int64("count", n))
	}
	return nil
}

// RunPeriodic runs cleanup and the stuck sweep on the given interval until
// the context is cancelled.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("cleanup failed", slog.Any("error", err))
			}
			if err := s.FailStuck(ctx); err != nil {
				slog.Error("stuck sweep failed", slog.Any("error", err))
			}
		}
	}
}
