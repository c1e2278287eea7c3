package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// StageRepo appends per-stage audit records. Records are never updated;
// replays write new rows and readers take the latest per stage.
type StageRepo struct{ Pool PgxPool }

// NewStageRepo constructs a StageRepo with the given pool.
func NewStageRepo(p PgxPool) *StageRepo { return &StageRepo{Pool: p} }

// AppendStage writes one stage record.
func (r *StageRepo) AppendStage(ctx domain.Context, rec domain.StageRecord) error {
	tracer := otel.Tracer("repo.stages")
	ctx, span := tracer.Start(ctx, "stages.Append")
	defer span.End()

	q := `INSERT INTO stage_records (request_id, stage, version, attempt, started_at, ended_at, duration_ms, output, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.Pool.Exec(ctx, q, rec.RequestID, rec.Stage, rec.Version, rec.Attempt,
		rec.StartedAt, rec.EndedAt, rec.DurationMS, rec.Output, rec.Error)
	if err != nil {
		return fmt.Errorf("op=stage.append: %w", err)
	}
	return nil
}

// LatestStages returns the most recent record per stage for a request.
func (r *StageRepo) LatestStages(ctx domain.Context, requestID string) (map[string]domain.StageRecord, error) {
	tracer := otel.Tracer("repo.stages")
	ctx, span := tracer.Start(ctx, "stages.Latest")
	defer span.End()

	q := `SELECT DISTINCT ON (stage) request_id, stage, version, attempt, started_at, ended_at, duration_ms, output, COALESCE(error,'')
		FROM stage_records WHERE request_id=$1 ORDER BY stage, ended_at DESC`
	rows, err := r.Pool.Query(ctx, q, requestID)
	if err != nil {
		return nil, fmt.Errorf("op=stage.latest: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.StageRecord)
	for rows.Next() {
		var rec domain.StageRecord
		var started, ended time.Time
		if err := rows.Scan(&rec.RequestID, &rec.Stage, &rec.Version, &rec.Attempt, &started, &ended, &rec.DurationMS, &rec.Output, &rec.Error); err != nil {
			return nil, fmt.Errorf("op=stage.latest scan: %w", err)
		}
		rec.StartedAt, rec.EndedAt = started, ended
		out[rec.Stage] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=stage.latest rows: %w", err)
	}
	return out, nil
}
