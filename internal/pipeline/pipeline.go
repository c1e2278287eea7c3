package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/observability"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// Runner executes the five stages in fixed order for one reserved job.
// Every stage execution appends an audit record whether it succeeded or not;
// retried attempts append again rather than overwrite.
type Runner struct {
	Requests  domain.RequestRepository
	Stages    domain.StageRepository
	Rules     *RuleEvaluator
	Features  *Extractor
	ML        domain.MLScorer
	Adj       domain.Adjudicator
	Assembler *Assembler
	Now       func() time.Time
}

// Run loads the request, walks the stages, and returns the assembled
// decision. A returned error means the attempt did not reach a decision;
// the dispatcher classifies it for retry or dead-letter.
func (r *Runner) Run(ctx domain.Context, entry domain.QueueEntry) (*domain.Decision, error) {
	tracer := otel.Tracer("pipeline.runner")
	ctx, span := tracer.Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("request.id", entry.JobID), attribute.Int("attempt", entry.Attempts))
	defer span.End()

	req, err := r.Requests.LoadRequest(ctx, entry.JobID)
	if err != nil {
		return nil, fmt.Errorf("op=pipeline.Run: %w", err)
	}
	if req.Status.Terminal() {
		// A competing attempt already finalized this request.
		return nil, nil
	}
	if err := r.Requests.MarkProcessing(ctx, req.ID); err != nil {
		return nil, fmt.Errorf("op=pipeline.Run: %w", err)
	}

	timings := map[string]int64{}
	log := slog.With("request_id", req.ID, "attempt", entry.Attempts)

	// Stage 1: rules. Pure and infallible; a hard fail short-circuits the
	// rest of the pipeline.
	rules := r.runRules(ctx, req, entry.Attempts, timings)
	if rules.HardFail {
		log.Info("hard fail, short-circuiting", "flags", rules.RuleFlags)
		return r.assemble(ctx, req, entry.Attempts, rules, nil, nil, nil, timings), nil
	}

	// Stage 2: features.
	fv := r.runFeatures(ctx, req, entry.Attempts, timings)

	// Stage 3: external scoring. Errors abort the attempt with their
	// transient/permanent classification intact.
	ml, err := r.runML(ctx, req, entry.Attempts, fv, timings)
	if err != nil {
		return nil, err
	}

	// Stage 4: adjudication, only for ambiguous cases. A fast-failing
	// breaker degrades to the deterministic fallback instead of aborting.
	var analysis *domain.LLMAnalysis
	var adj *domain.AdjudicationOutcome
	if r.Adj != nil && r.Adj.ShouldRun(ml) {
		analysis, adj, err = r.runLLM(ctx, req, entry.Attempts, rules, ml, timings)
		if err != nil {
			if errors.Is(err, domain.ErrBreakerOpen) {
				log.Warn("adjudicator unavailable, falling back to deterministic combine")
				analysis, adj = nil, nil
			} else {
				return nil, err
			}
		}
	}

	return r.assemble(ctx, req, entry.Attempts, rules, ml, analysis, adj, timings), nil
}

func (r *Runner) runRules(ctx domain.Context, req domain.ApplicationRequest, attempt int, timings map[string]int64) domain.RulesOutput {
	start := r.now()
	out := r.Rules.Evaluate(req.Payload)
	r.record(ctx, req.ID, domain.StageRules, r.Rules.Pack.Version, attempt, start, out, nil, timings)
	return out
}

func (r *Runner) runFeatures(ctx domain.Context, req domain.ApplicationRequest, attempt int, timings map[string]int64) domain.FeatureVector {
	start := r.now()
	fv := r.Features.Extract(ctx, req.Payload, req.ClientIP)
	r.record(ctx, req.ID, domain.StageFeatures, FeatureSetVersion, attempt, start, fv, nil, timings)
	return fv
}

func (r *Runner) runML(ctx domain.Context, req domain.ApplicationRequest, attempt int, fv domain.FeatureVector, timings map[string]int64) (*domain.MLOutput, error) {
	start := r.now()
	out, err := r.ML.Score(ctx, req.ID, fv)
	if err != nil {
		r.record(ctx, req.ID, domain.StageML, "", attempt, start, nil, err, timings)
		return nil, err
	}
	r.record(ctx, req.ID, domain.StageML, out.ModelVersion, attempt, start, out, nil, timings)
	return &out, nil
}

func (r *Runner) runLLM(ctx domain.Context, req domain.ApplicationRequest, attempt int, rules domain.RulesOutput, ml *domain.MLOutput, timings map[string]int64) (*domain.LLMAnalysis, *domain.AdjudicationOutcome, error) {
	start := r.now()
	analysis, adj, err := r.Adj.Adjudicate(ctx, req.Payload, rules, ml)
	if err != nil {
		r.record(ctx, req.ID, domain.StageLLM, "", attempt, start, nil, err, timings)
		return nil, nil, err
	}
	// analysis may be nil when the model's output was unrecoverable and the
	// stage degraded to a review routing.
	var output any = analysis
	if analysis == nil {
		output = adj
	}
	version := ""
	if analysis != nil {
		version = analysis.PromptTemplateVersion
	}
	r.record(ctx, req.ID, domain.StageLLM, version, attempt, start, output, nil, timings)
	return analysis, adj, nil
}

func (r *Runner) assemble(ctx domain.Context, req domain.ApplicationRequest, attempt int, rules domain.RulesOutput, ml *domain.MLOutput, analysis *domain.LLMAnalysis, adj *domain.AdjudicationOutcome, timings map[string]int64) *domain.Decision {
	start := r.now()
	d := r.Assembler.Assemble(req.ID, rules, ml, analysis, adj, timings)
	r.record(ctx, req.ID, domain.StageDecision, r.Assembler.PolicyVersion, attempt, start, d, nil, timings)
	d.TimingsMS = timings
	return &d
}

// record persists one stage audit row and feeds the stage metrics. Audit
// write failures are logged, not fatal: losing one audit row must not lose
// the decision.
func (r *Runner) record(ctx domain.Context, requestID, stage, version string, attempt int, start time.Time, output any, stageErr error, timings map[string]int64) {
	end := r.now()
	dur := end.Sub(start)
	timings[stage] = dur.Milliseconds()
	observability.ObserveStage(stage, dur)

	rec := domain.StageRecord{
		RequestID:  requestID,
		Stage:      stage,
		Version:    version,
		Attempt:    attempt,
		StartedAt:  start.UTC(),
		EndedAt:    end.UTC(),
		DurationMS: dur.Milliseconds(),
	}
	if stageErr != nil {
		rec.Error = stageErr.Error()
		observability.StageErrorsTotal.WithLabelValues(stage, errClass(stageErr)).Inc()
	} else if output != nil {
		raw, err := json.Marshal(output)
		if err != nil {
			slog.Error("stage output marshal failed", "stage", stage, "error", err)
		} else {
			rec.Output = raw
		}
	}
	if err := r.Stages.AppendStage(ctx, rec); err != nil {
		slog.Error("stage audit write failed", "stage", stage, "request_id", requestID, "error", err)
	}
}

func errClass(err error) string {
	switch {
	case errors.Is(err, domain.ErrBreakerOpen):
		return "breaker_open"
	case errors.Is(err, domain.ErrSchemaViolation):
		return "schema"
	case domain.IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
