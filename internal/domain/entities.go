package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Context is an alias so ports read cleanly; adapters pass context.Context.
type Context = context.Context

// RequestStatus enumerates the lifecycle of an application request.
type RequestStatus string

const (
	StatusQueued     RequestStatus = "queued"
	StatusProcessing RequestStatus = "processing"
	StatusDecided    RequestStatus = "decided"
	StatusFailed     RequestStatus = "failed"
)

// Terminal reports whether the status is immutable.
func (s RequestStatus) Terminal() bool { return s == StatusDecided || s == StatusFailed }

// ApplicationRequest is the durable record of one signed submission.
// Invariant: once Status is terminal the row never changes again.
type ApplicationRequest struct {
	ID         string
	Payload    Application
	APIKey     string
	ClientIP   string
	UserAgent  string
	Status     RequestStatus
	Error      string
	ReceivedAt time.Time
	UpdatedAt  time.Time
}

// QueueEntry mirrors one row of the queue table. A worker exclusively owns
// the entry while ReservedUntil is in the future.
type QueueEntry struct {
	JobID         string
	Attempts      int
	AvailableAt   time.Time
	ReservedUntil time.Time
	ReservedBy    string
}

// Pipeline stage names, in execution order.
const (
	StageRules    = "rules"
	StageFeatures = "features"
	StageML       = "ml"
	StageLLM      = "llm"
	StageDecision = "decision"
)

// StageRecord is the append-only audit row for one stage execution.
// A retried attempt writes a new record; the latest per stage wins at
// decision time.
type StageRecord struct {
	RequestID  string
	Stage      string
	Version    string
	Attempt    int
	StartedAt  time.Time
	EndedAt    time.Time
	DurationMS int64
	Output     json.RawMessage
	Error      string
}

// RulesOutput is the rules stage product.
type RulesOutput struct {
	RuleFlags       []string `json:"rule_flags"`
	RuleScore       float64  `json:"rule_score"`
	HardFail        bool     `json:"hard_fail"`
	RulepackVersion string   `json:"rulepack_version"`
}

// FeatureCount is the fixed width of the feature vector.
const FeatureCount = 15

// FeatureVector is the ordered numeric feature set consumed by the ML service.
type FeatureVector struct {
	Names             []string  `json:"feature_names"`
	Values            []float64 `json:"features"`
	FeatureSetVersion string    `json:"feature_set_version"`
}

// TopFeature is one entry of the ML model's importance ranking.
type TopFeature struct {
	Name         string  `json:"feature_name"`
	Value        float64 `json:"feature_value"`
	Importance   float64 `json:"importance"`
	Contribution float64 `json:"contribution"`
}

// MLOutput is the calibrated model response.
type MLOutput struct {
	ConfidenceScore    float64      `json:"confidence_score"`
	TopFeatures        []TopFeature `json:"top_features"`
	ModelVersion       string       `json:"model_version"`
	CalibrationVersion string       `json:"calibration_version"`
	InferenceTimeMS    int64        `json:"inference_time_ms"`
}

// Outcome is the closed set of final decisions.
type Outcome string

const (
	OutcomeApprove     Outcome = "approve"
	OutcomeConditional Outcome = "conditional"
	OutcomeDecline     Outcome = "decline"
	OutcomeReview      Outcome = "review"
)

// StipulationType enumerates mechanical loan-term remedies.
type StipulationType string

const (
	StipIncreaseDownPayment  StipulationType = "increase_down_payment"
	StipReduceTerm           StipulationType = "reduce_term"
	StipAddCoBorrower        StipulationType = "add_co_borrower"
	StipProvideIncomeDocs    StipulationType = "provide_income_docs"
	StipAddressProof         StipulationType = "address_proof"
	StipEmployerVerification StipulationType = "employer_verification"
)

// Stipulation pairs a remedy type with human-readable detail.
type Stipulation struct {
	Type   StipulationType `json:"type"`
	Detail string          `json:"detail"`
}

// Decision is written exactly once per request, transactionally with dequeue.
type Decision struct {
	RequestID     string           `json:"request_id"`
	Final         Outcome          `json:"final_decision"`
	Reasons       []string         `json:"reasons"`
	Stipulations  []Stipulation    `json:"stipulations"`
	PolicyVersion string           `json:"policy_version"`
	TimingsMS     map[string]int64 `json:"timings_ms"`
	CreatedAt     time.Time        `json:"created_at"`
}

// DecisionEvent is the record published to the decision topic after Finalize.
type DecisionEvent struct {
	RequestID     string    `json:"request_id"`
	Final         Outcome   `json:"final_decision"`
	Reasons       []string  `json:"reasons"`
	PolicyVersion string    `json:"policy_version"`
	DecidedAt     time.Time `json:"decided_at"`
}
