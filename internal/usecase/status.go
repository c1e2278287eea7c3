package usecase

import (
	"encoding/json"
	"errors"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// StatusService assembles the poll projection for a request.
type StatusService struct {
	Requests  domain.RequestRepository
	Stages    domain.StageRepository
	Decisions domain.DecisionRepository
}

// NewStatusService constructs a StatusService with the given repositories.
func NewStatusService(r domain.RequestRepository, s domain.StageRepository, d domain.DecisionRepository) StatusService {
	return StatusService{Requests: r, Stages: s, Decisions: d}
}

// Band buckets a score: <0.3 low, <0.7 medium, >=0.7 high. A nil score maps
// to unknown (the stage did not run or produced nothing).
func Band(score *float64) string {
	if score == nil {
		return "unknown"
	}
	switch {
	case *score < 0.3:
		return "low"
	case *score < 0.7:
		return "medium"
	default:
		return "high"
	}
}

// Fetch returns the status projection for a request id. Terminal decided
// requests include the decision block, banded scores, rule flags, top
// features, adjudicator rationale, and timing totals. Failed requests expose
// only a sanitized error message.
func (s StatusService) Fetch(ctx domain.Context, id string) (map[string]any, error) {
	req, err := s.Requests.LoadRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	m := map[string]any{
		"id":           req.ID,
		"status":       string(req.Status),
		"submitted_at": req.ReceivedAt,
	}

	switch req.Status {
	case domain.StatusFailed:
		m["error_message"] = req.Error
		return m, nil
	case domain.StatusDecided:
		// fallthrough below
	default:
		return m, nil
	}

	dec, err := s.Decisions.GetDecision(ctx, id)
	if err != nil {
		return nil, err
	}
	m["decision"] = map[string]any{
		"final_decision": string(dec.Final),
		"reasons":        dec.Reasons,
		"stipulations":   dec.Stipulations,
		"policy_version": dec.PolicyVersion,
	}
	m["timings_ms"] = dec.TimingsMS

	stages, err := s.Stages.LatestStages(ctx, id)
	if err != nil {
		return nil, err
	}

	var ruleScore, mlScore, llmScore *float64
	if rec, ok := stages[domain.StageRules]; ok && rec.Error == "" {
		var rules domain.RulesOutput
		if json.Unmarshal(rec.Output, &rules) == nil {
			ruleScore = &rules.RuleScore
			m["rule_flags"] = rules.RuleFlags
		}
	}
	if rec, ok := stages[domain.StageML]; ok && rec.Error == "" {
		var ml domain.MLOutput
		if json.Unmarshal(rec.Output, &ml) == nil {
			mlScore = &ml.ConfidenceScore
			m["top_features"] = ml.TopFeatures
		}
	}
	if rec, ok := stages[domain.StageLLM]; ok && rec.Error == "" && len(rec.Output) > 0 {
		var an domain.LLMAnalysis
		if json.Unmarshal(rec.Output, &an) == nil {
			llmScore = &an.FraudProbability
			m["adjudicator"] = map[string]any{
				"risk_tier":      string(an.RiskTier),
				"recommendation": string(an.Recommendation),
				"reasoning":      an.Reasoning,
			}
		}
	}
	m["score_bands"] = map[string]string{
		"rule_score":        Band(ruleScore),
		"ml_confidence":     Band(mlScore),
		"fraud_probability": Band(llmScore),
	}
	return m, nil
}

// IsNotFound reports whether the fetch error means an unknown job id.
func IsNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
