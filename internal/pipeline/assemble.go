package pipeline

import (
	"time"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// maxReasons caps the decision's reason list; the stage records keep the
// full detail.
const maxReasons = 5

// Assembler folds the stage outputs into the single final decision.
type Assembler struct {
	PolicyVersion string
	// Fallback thresholds for cases the adjudicator never analyzed: the
	// combined score max(rule_score, ml_confidence) routes decline at or
	// above FallbackDecline, review at or above FallbackReview, else
	// approve.
	FallbackDecline float64
	FallbackReview  float64
	Now             func() time.Time
}

// NewAssembler builds an assembler with the documented fallback thresholds.
func NewAssembler(policyVersion string) *Assembler {
	return &Assembler{
		PolicyVersion:   policyVersion,
		FallbackDecline: 0.8,
		FallbackReview:  0.6,
		Now:             time.Now,
	}
}

// Assemble produces the final decision. Precedence: a rules hard fail
// declines unconditionally; otherwise a completed adjudication dictates the
// outcome; otherwise the rules+ML combine decides. Reasons are composed in
// provenance order (rule flags, ML top features, adjudicator reasons) and
// capped.
func (a *Assembler) Assemble(requestID string, rules domain.RulesOutput, ml *domain.MLOutput, analysis *domain.LLMAnalysis, adj *domain.AdjudicationOutcome, timings map[string]int64) domain.Decision {
	d := domain.Decision{
		RequestID:     requestID,
		PolicyVersion: a.PolicyVersion,
		TimingsMS:     timings,
		CreatedAt:     a.Now().UTC(),
		Stipulations:  []domain.Stipulation{},
	}

	switch {
	case rules.HardFail:
		d.Final = domain.OutcomeDecline
		d.Reasons = capReasons(composeReasons(rules, nil, nil))
	case adj != nil:
		d.Final = adj.Outcome
		if len(adj.Stipulations) > 0 {
			d.Stipulations = adj.Stipulations
		}
		d.Reasons = capReasons(composeReasons(rules, ml, adj))
	default:
		// No adjudication available: combine the deterministic signals.
		score := rules.RuleScore
		if ml != nil && ml.ConfidenceScore > score {
			score = ml.ConfidenceScore
		}
		switch {
		case score >= a.FallbackDecline:
			d.Final = domain.OutcomeDecline
		case score >= a.FallbackReview:
			d.Final = domain.OutcomeReview
		default:
			d.Final = domain.OutcomeApprove
		}
		d.Reasons = capReasons(composeReasons(rules, ml, nil))
	}

	if len(d.Reasons) == 0 {
		d.Reasons = []string{"No adverse signals"}
	}
	return d
}

func composeReasons(rules domain.RulesOutput, ml *domain.MLOutput, adj *domain.AdjudicationOutcome) []string {
	var rs []string
	rs = append(rs, rules.RuleFlags...)
	if ml != nil {
		for _, tf := range ml.TopFeatures {
			rs = append(rs, "model signal: "+tf.Name)
		}
	}
	if adj != nil {
		rs = append(rs, adj.Reasons...)
	}
	return rs
}

func capReasons(rs []string) []string {
	if len(rs) > maxReasons {
		return rs[:maxReasons]
	}
	return rs
}
