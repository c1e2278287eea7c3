// Package dispatcher runs the worker pool that drains the durable queue:
// reserve, run the pipeline, finalize or re-queue with backoff.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/observability"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/config"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// PipelineRunner is the processing dependency; satisfied by
// *pipeline.Runner and by test fakes.
type PipelineRunner interface {
	Run(ctx domain.Context, entry domain.QueueEntry) (*domain.Decision, error)
}

// Dispatcher owns the worker pool. Delivery is at-least-once: a job may be
// picked up again after a crash, and Finalize's idempotency absorbs the
// duplicate.
type Dispatcher struct {
	Cfg       config.Config
	Queue     domain.QueueRepository
	Decisions domain.DecisionRepository
	Runner    PipelineRunner
	Publisher domain.DecisionPublisher
	Now       func() time.Time
}

// New wires a dispatcher.
func New(cfg config.Config, q domain.QueueRepository, d domain.DecisionRepository, r PipelineRunner, pub domain.DecisionPublisher) *Dispatcher {
	return &Dispatcher{Cfg: cfg, Queue: q, Decisions: d, Runner: r, Publisher: pub, Now: time.Now}
}

// Run blocks until ctx is canceled, operating WorkerCount concurrent
// workers. In-flight jobs finish their current attempt before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	n := d.Cfg.WorkerCount
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("worker-%s", ulid.Make().String())
		go func() {
			defer wg.Done()
			d.workLoop(ctx, workerID)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) workLoop(ctx context.Context, workerID string) {
	log := slog.With("worker_id", workerID)
	log.Info("worker started")
	idle := d.Cfg.WorkerPollIdle
	if idle <= 0 {
		idle = 500 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		default:
		}

		entry, ok, err := d.Queue.ReserveNext(ctx, workerID, d.Now().UTC())
		if err != nil {
			log.Error("queue reservation failed", "error", err)
			sleepCtx(ctx, idle)
			continue
		}
		if !ok {
			sleepCtx(ctx, idle)
			continue
		}
		d.process(ctx, log, entry)
	}
}

// process runs one attempt under the pipeline deadline and settles the job:
// decided, re-queued with backoff, or dead-lettered.
func (d *Dispatcher) process(ctx context.Context, log *slog.Logger, entry domain.QueueEntry) {
	observability.JobsProcessing.Inc()
	defer observability.JobsProcessing.Dec()

	timeout := d.Cfg.PipelineTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log = log.With("request_id", entry.JobID, "attempt", entry.Attempts)
	dec, err := d.Runner.Run(runCtx, entry)

	switch {
	case err == nil && dec == nil:
		// A competing attempt already finalized the request; drop the
		// stale queue entry.
		if ferr := d.Decisions.Finalize(ctx, entry.JobID, nil, "superseded by completed attempt"); ferr != nil {
			log.Error("stale entry cleanup failed", "error", ferr)
		}
	case err == nil:
		d.finalizeDecided(ctx, log, entry, dec)
	case runCtx.Err() != nil && ctx.Err() == nil:
		// Attempt deadline hit; classify as transient.
		d.settleFailure(ctx, log, entry, fmt.Errorf("%w: attempt deadline exceeded", domain.ErrTimeout))
	default:
		d.settleFailure(ctx, log, entry, err)
	}
}

func (d *Dispatcher) finalizeDecided(ctx context.Context, log *slog.Logger, entry domain.QueueEntry, dec *domain.Decision) {
	if err := d.Decisions.Finalize(ctx, entry.JobID, dec, ""); err != nil {
		log.Error("finalize failed, reservation will lapse and retry", "error", err)
		return
	}
	observability.ObserveDecision(string(dec.Final))
	log.Info("request decided", "final_decision", dec.Final, "policy_version", dec.PolicyVersion)

	if d.Publisher != nil {
		ev := domain.DecisionEvent{
			RequestID:     dec.RequestID,
			Final:         dec.Final,
			Reasons:       dec.Reasons,
			PolicyVersion: dec.PolicyVersion,
			DecidedAt:     dec.CreatedAt,
		}
		if err := d.Publisher.PublishDecision(ctx, ev); err != nil {
			// Best-effort: the decision is durable, the event is not.
			log.Warn("decision event publish failed", "error", err)
		}
	}
}

// settleFailure re-queues transient failures until the attempt budget is
// spent, then dead-letters. Permanent failures dead-letter immediately.
func (d *Dispatcher) settleFailure(ctx context.Context, log *slog.Logger, entry domain.QueueEntry, err error) {
	if domain.IsTransient(err) && entry.Attempts < d.Cfg.MaxTries {
		delay := d.Cfg.Backoff(entry.Attempts)
		next := d.Now().UTC().Add(delay)
		if rerr := d.Queue.Requeue(ctx, entry.JobID, next); rerr != nil {
			log.Error("requeue failed, reservation will lapse", "error", rerr)
			return
		}
		observability.JobsRetriedTotal.Inc()
		log.Warn("attempt failed, re-queued", "error", err, "retry_in", delay)
		return
	}

	reason := failureReason(err)
	if ferr := d.Decisions.Finalize(ctx, entry.JobID, nil, reason); ferr != nil {
		log.Error("dead-letter finalize failed", "error", ferr)
		return
	}
	observability.JobsFailedTotal.Inc()
	log.Error("request dead-lettered", "error", err, "attempts", entry.Attempts)
}

// failureReason sanitizes the stored message: classification only, never
// payload fragments that might carry applicant data.
func failureReason(err error) string {
	if domain.IsTransient(err) {
		return "processing failed after retries"
	}
	return "processing failed permanently"
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
