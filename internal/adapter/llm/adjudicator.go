// Package llm implements the schema-constrained adjudicator stage: prompt
// construction over a PII-free case file, an OpenAI-compatible transport
// guarded by a circuit breaker, response recovery, and the pure decide()
// routing that turns a validated analysis into an outcome.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// Completer is the transport dependency; satisfied by *Client and by test
// fakes.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Adjudicator runs the LLM analysis stage.
type Adjudicator struct {
	Client  Completer
	Prompts *PromptBuilder
	Cleaner *ResponseCleaner
	Policy  Policy

	ModelID string

	// Trigger band: the adjudicator runs when ML confidence falls inside
	// [TriggerMin, TriggerMax], when confidence is below ConfidenceFloor,
	// or when no ML output is available at all.
	TriggerMin      float64
	TriggerMax      float64
	ConfidenceFloor float64

	Now func() time.Time
}

// NewAdjudicator wires the stage with its defaults.
func NewAdjudicator(client Completer, policy Policy, modelID string, triggerMin, triggerMax float64) *Adjudicator {
	return &Adjudicator{
		Client:          client,
		Prompts:         &PromptBuilder{MaxPromptTokens: 6000},
		Cleaner:         NewResponseCleaner(),
		Policy:          policy,
		ModelID:         modelID,
		TriggerMin:      triggerMin,
		TriggerMax:      triggerMax,
		ConfidenceFloor: 0.8,
		Now:             time.Now,
	}
}

// ShouldRun reports whether the adjudicator must analyze this case. Clear
// cases (high-confidence scores outside the ambiguity band) skip the model.
func (a *Adjudicator) ShouldRun(ml *domain.MLOutput) bool {
	if ml == nil {
		return true
	}
	if ml.ConfidenceScore < a.ConfidenceFloor {
		return true
	}
	return ml.ConfidenceScore >= a.TriggerMin && ml.ConfidenceScore <= a.TriggerMax
}

// Adjudicate builds the case file, calls the model, validates the response,
// and routes it. A response that is not valid JSON gets one recovery pass
// and one re-ask; a second failure yields a review outcome rather than an
// error so the pipeline can still decide the case.
func (a *Adjudicator) Adjudicate(ctx domain.Context, app domain.Application, rules domain.RulesOutput, ml *domain.MLOutput) (*domain.LLMAnalysis, *domain.AdjudicationOutcome, error) {
	cf := BuildCaseFile(app, rules, ml, a.Now())
	user, err := a.Prompts.Build(cf)
	if err != nil {
		return nil, nil, err
	}

	analysis, err := a.askOnce(ctx, user)
	if err != nil {
		if errors.Is(err, domain.ErrSchemaViolation) {
			slog.Warn("adjudicator response invalid, re-asking once", "error", Redact(err.Error()))
			analysis, err = a.askOnce(ctx, user)
			if err != nil && errors.Is(err, domain.ErrSchemaViolation) {
				out := &domain.AdjudicationOutcome{
					Outcome:     domain.OutcomeReview,
					Reasons:     []string{"LLM invalid JSON"},
					QueueReview: true,
				}
				return nil, out, nil
			}
		}
		if err != nil {
			return nil, nil, err
		}
	}

	analysis.ModelID = a.ModelID
	analysis.PromptTemplateVersion = PromptTemplateVersion
	analysis.Reasoning = Redact(analysis.Reasoning)
	analysis.PrimaryConcerns = RedactAll(analysis.PrimaryConcerns)
	analysis.RedFlags = RedactAll(analysis.RedFlags)
	analysis.MitigatingFactors = RedactAll(analysis.MitigatingFactors)

	out := Decide(*analysis, a.Policy)
	return analysis, &out, nil
}

func (a *Adjudicator) askOnce(ctx context.Context, user string) (*domain.LLMAnalysis, error) {
	raw, err := a.Client.Complete(ctx, systemPrompt, user)
	if err != nil {
		return nil, err
	}

	cleaned, ok := a.Cleaner.Recover(raw)
	if !ok {
		return nil, fmt.Errorf("op=llm.askOnce: %w: unrecoverable response", domain.ErrSchemaViolation)
	}
	var analysis domain.LLMAnalysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return nil, fmt.Errorf("op=llm.askOnce: %w: %v", domain.ErrSchemaViolation, err)
	}
	if err := ValidateAnalysis(analysis); err != nil {
		return nil, fmt.Errorf("op=llm.askOnce: %w", err)
	}
	return &analysis, nil
}
