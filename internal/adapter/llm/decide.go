package llm

import (
	"fmt"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// Policy holds the thresholds decide() routes against. It is explicit state
// handed to the adjudicator at construction, never read from globals.
type Policy struct {
	MinConfidenceForAuto  float64
	FraudDeclineThreshold float64
	FraudReviewThreshold  float64
	PTICap                float64
	TDSCap                float64
	LTVCap                float64
}

// Decide routes a validated analysis to one of the four outcomes. It is a
// pure function of the analysis and the policy: same inputs, same output.
//
// Thresholds are strict: fraud_probability equal to the decline threshold
// routes to review, and confidence equal to the auto floor does not trip the
// low-confidence branch.
func Decide(a domain.LLMAnalysis, p Policy) domain.AdjudicationOutcome {
	if a.Signals.FraudHardFail {
		return domain.AdjudicationOutcome{
			Outcome: domain.OutcomeDecline,
			Reasons: []string{"Hard fraud signal"},
		}
	}
	if a.Confidence < p.MinConfidenceForAuto {
		return domain.AdjudicationOutcome{
			Outcome:     domain.OutcomeReview,
			Reasons:     []string{fmt.Sprintf("Confidence %.2f below auto threshold %.2f", a.Confidence, p.MinConfidenceForAuto)},
			QueueReview: true,
		}
	}
	if a.FraudProbability > p.FraudDeclineThreshold {
		return domain.AdjudicationOutcome{
			Outcome: domain.OutcomeDecline,
			Reasons: []string{fmt.Sprintf("Fraud probability %.2f above decline threshold", a.FraudProbability)},
		}
	}
	if a.FraudProbability > p.FraudReviewThreshold {
		return domain.AdjudicationOutcome{
			Outcome: domain.OutcomeReview,
			Reasons: []string{fmt.Sprintf("Fraud probability %.2f above review threshold", a.FraudProbability)},
		}
	}

	ptiOK := a.Credit.PTI <= p.PTICap
	tdsOK := a.Credit.TDS <= p.TDSCap
	ltvOK := a.Credit.LTV <= p.LTVCap
	structureOK := a.Credit.StructureOK

	if ptiOK && tdsOK && ltvOK && structureOK {
		return domain.AdjudicationOutcome{
			Outcome: domain.OutcomeApprove,
			Reasons: []string{"Credit gates pass"},
		}
	}

	stips := BuildStipulations(ptiOK, ltvOK, tdsOK, p)
	if len(stips) > 0 {
		return domain.AdjudicationOutcome{
			Outcome:      domain.OutcomeConditional,
			Reasons:      gateReasons(ptiOK, tdsOK, ltvOK, structureOK),
			Stipulations: stips,
		}
	}
	// Structure failed with no mechanical remedy available.
	return domain.AdjudicationOutcome{
		Outcome: domain.OutcomeReview,
		Reasons: gateReasons(ptiOK, tdsOK, ltvOK, structureOK),
	}
}

// BuildStipulations generates mechanical remedies for failed gates,
// deduplicated by type, in gate order pti, ltv, tds.
func BuildStipulations(ptiOK, ltvOK, tdsOK bool, p Policy) []domain.Stipulation {
	var out []domain.Stipulation
	seen := map[domain.StipulationType]bool{}
	add := func(t domain.StipulationType, detail string) {
		if seen[t] {
			return
		}
		seen[t] = true
		out = append(out, domain.Stipulation{Type: t, Detail: detail})
	}
	if !ptiOK {
		add(domain.StipReduceTerm, "reduce term by 12 months")
		add(domain.StipIncreaseDownPayment, fmt.Sprintf("until PTI ≤ %.0f%%", p.PTICap*100))
	}
	if !ltvOK {
		add(domain.StipIncreaseDownPayment, fmt.Sprintf("decrease LTV to ≤ %.0f%%", p.LTVCap*100))
	}
	if !tdsOK {
		add(domain.StipAddCoBorrower, "qualified co-borrower to reduce TDS")
	}
	return out
}

func gateReasons(ptiOK, tdsOK, ltvOK, structureOK bool) []string {
	var rs []string
	if !ptiOK {
		rs = append(rs, "PTI above cap")
	}
	if !ltvOK {
		rs = append(rs, "LTV above cap")
	}
	if !tdsOK {
		rs = append(rs, "TDS above cap")
	}
	if !structureOK {
		rs = append(rs, "Loan structure not acceptable")
	}
	return rs
}
