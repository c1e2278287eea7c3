package llm

import (
	"fmt"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// SchemaName identifies the response schema sent with every request.
const SchemaName = "fraud_adjudication"

// AnalysisSchema is the strict JSON schema the provider must constrain its
// output to. additionalProperties is false everywhere so the model cannot
// smuggle extra fields past validation.
func AnalysisSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required": []string{
			"fraud_probability", "confidence", "risk_tier", "recommendation",
			"reasoning", "primary_concerns", "red_flags", "mitigating_factors",
			"signals", "credit",
		},
		"properties": map[string]any{
			"fraud_probability": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"confidence":        map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"risk_tier":         map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
			"recommendation":    map[string]any{"type": "string", "enum": []string{"approve", "conditional", "decline", "review"}},
			"reasoning":         map[string]any{"type": "string", "maxLength": 3000},
			"primary_concerns":  stringArraySchema(10),
			"red_flags":         stringArraySchema(20),
			"mitigating_factors": stringArraySchema(10),
			"signals": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"fraud_hard_fail", "consortium_hit", "doc_verification", "synthetic_id", "velocity"},
				"properties": map[string]any{
					"fraud_hard_fail":  map[string]any{"type": "boolean"},
					"consortium_hit":   map[string]any{"type": "boolean"},
					"doc_verification": map[string]any{"type": "string", "enum": []string{"pass", "fail", "not_performed"}},
					"synthetic_id":     map[string]any{"type": "boolean"},
					"velocity":         map[string]any{"type": "string", "enum": []string{"none", "low", "medium", "high"}},
				},
			},
			"credit": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"score", "pti", "tds", "ltv", "structure_ok", "marginal_reason"},
				"properties": map[string]any{
					"score":           map[string]any{"type": "integer", "minimum": 300, "maximum": 900},
					"pti":             map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"tds":             map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"ltv":             map[string]any{"type": "number", "minimum": 0, "maximum": 3},
					"structure_ok":    map[string]any{"type": "boolean"},
					"marginal_reason": map[string]any{"type": "string", "maxLength": 200},
				},
			},
			"stipulations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"type", "detail"},
					"properties": map[string]any{
						"type": map[string]any{"type": "string", "enum": []string{
							"increase_down_payment", "reduce_term", "add_co_borrower",
							"provide_income_docs", "address_proof", "employer_verification",
						}},
						"detail": map[string]any{"type": "string", "maxLength": 500},
					},
				},
			},
		},
	}
}

func stringArraySchema(maxItems int) map[string]any {
	return map[string]any{
		"type":     "array",
		"maxItems": maxItems,
		"items":    map[string]any{"type": "string", "maxLength": 300},
	}
}

// ValidateAnalysis enforces the schema constraints after parsing. Providers
// in strict mode should never violate them, but the check is the trust
// boundary, not the provider.
func ValidateAnalysis(a domain.LLMAnalysis) error {
	if a.FraudProbability < 0 || a.FraudProbability > 1 {
		return fmt.Errorf("%w: fraud_probability %v out of [0,1]", domain.ErrSchemaViolation, a.FraudProbability)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of [0,1]", domain.ErrSchemaViolation, a.Confidence)
	}
	switch a.RiskTier {
	case domain.RiskLow, domain.RiskMedium, domain.RiskHigh:
	default:
		return fmt.Errorf("%w: risk_tier %q", domain.ErrSchemaViolation, a.RiskTier)
	}
	switch a.Recommendation {
	case domain.OutcomeApprove, domain.OutcomeConditional, domain.OutcomeDecline, domain.OutcomeReview:
	default:
		return fmt.Errorf("%w: recommendation %q", domain.ErrSchemaViolation, a.Recommendation)
	}
	switch a.Signals.DocVerification {
	case domain.DocPass, domain.DocFail, domain.DocNotPerformed:
	default:
		return fmt.Errorf("%w: doc_verification %q", domain.ErrSchemaViolation, a.Signals.DocVerification)
	}
	switch a.Signals.Velocity {
	case domain.VelocityNone, domain.VelocityLow, domain.VelocityMedium, domain.VelocityHigh:
	default:
		return fmt.Errorf("%w: velocity %q", domain.ErrSchemaViolation, a.Signals.Velocity)
	}
	if a.Credit.Score < 300 || a.Credit.Score > 900 {
		return fmt.Errorf("%w: credit.score %d out of [300,900]", domain.ErrSchemaViolation, a.Credit.Score)
	}
	if a.Credit.PTI < 0 || a.Credit.PTI > 1 || a.Credit.TDS < 0 || a.Credit.TDS > 1 {
		return fmt.Errorf("%w: pti/tds out of [0,1]", domain.ErrSchemaViolation)
	}
	if a.Credit.LTV < 0 || a.Credit.LTV > 3 {
		return fmt.Errorf("%w: ltv out of [0,3]", domain.ErrSchemaViolation)
	}
	if a.Reasoning == "" {
		return fmt.Errorf("%w: reasoning empty", domain.ErrSchemaViolation)
	}
	for _, s := range a.Stipulations {
		switch s.Type {
		case domain.StipIncreaseDownPayment, domain.StipReduceTerm, domain.StipAddCoBorrower,
			domain.StipProvideIncomeDocs, domain.StipAddressProof, domain.StipEmployerVerification:
		default:
			return fmt.Errorf("%w: stipulation type %q", domain.ErrSchemaViolation, s.Type)
		}
	}
	return nil
}
