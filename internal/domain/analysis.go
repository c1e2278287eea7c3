package domain

// RiskTier buckets the adjudicator's overall risk read.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// DocVerification is the adjudicator's document verification status.
type DocVerification string

const (
	DocPass         DocVerification = "pass"
	DocFail         DocVerification = "fail"
	DocNotPerformed DocVerification = "not_performed"
)

// Velocity grades application velocity signals.
type Velocity string

const (
	VelocityNone   Velocity = "none"
	VelocityLow    Velocity = "low"
	VelocityMedium Velocity = "medium"
	VelocityHigh   Velocity = "high"
)

// AnalysisSignals are the boolean/enum fraud signals the model must emit.
type AnalysisSignals struct {
	FraudHardFail   bool            `json:"fraud_hard_fail"`
	ConsortiumHit   bool            `json:"consortium_hit"`
	DocVerification DocVerification `json:"doc_verification"`
	SyntheticID     bool            `json:"synthetic_id"`
	Velocity        Velocity        `json:"velocity"`
}

// AnalysisCredit carries the credit-policy inputs for the gate checks.
type AnalysisCredit struct {
	Score          int     `json:"score"`
	PTI            float64 `json:"pti"`
	TDS            float64 `json:"tds"`
	LTV            float64 `json:"ltv"`
	StructureOK    bool    `json:"structure_ok"`
	MarginalReason string  `json:"marginal_reason"`
}

// LLMAnalysis is the validated, schema-constrained adjudicator response.
type LLMAnalysis struct {
	FraudProbability  float64         `json:"fraud_probability"`
	Confidence        float64         `json:"confidence"`
	RiskTier          RiskTier        `json:"risk_tier"`
	Recommendation    Outcome         `json:"recommendation"`
	Reasoning         string          `json:"reasoning"`
	PrimaryConcerns   []string        `json:"primary_concerns"`
	RedFlags          []string        `json:"red_flags"`
	MitigatingFactors []string        `json:"mitigating_factors"`
	Signals           AnalysisSignals `json:"signals"`
	Credit            AnalysisCredit  `json:"credit"`
	Stipulations      []Stipulation   `json:"stipulations,omitempty"`

	ModelID               string `json:"model_id"`
	PromptTemplateVersion string `json:"prompt_template_version"`
}

// AdjudicationOutcome is decide()'s result: a routing plus any mechanical
// stipulations that would move the case to approve if accepted.
type AdjudicationOutcome struct {
	Outcome      Outcome       `json:"outcome"`
	Reasons      []string      `json:"reasons"`
	Stipulations []Stipulation `json:"stipulations,omitempty"`
	QueueReview  bool          `json:"queue_review"`
}
