package domain

import "time"

// NonceStore records used (api_key, nonce) pairs for the replay window.
type NonceStore interface {
	// SeenAndRemember atomically claims the pair. It returns true when the
	// pair was fresh (claim succeeded) and false on a duplicate.
	SeenAndRemember(ctx Context, apiKey, nonce string, now time.Time) (bool, error)
}

// RequestRepository persists application requests. CreateRequest inserts the
// request row and its queue entry in one transaction.
type RequestRepository interface {
	CreateRequest(ctx Context, req ApplicationRequest) (string, error)
	LoadRequest(ctx Context, id string) (ApplicationRequest, error)
	MarkProcessing(ctx Context, id string) error
}

// StageRepository appends per-stage audit records and reads back the latest
// output per stage for an attempt.
type StageRepository interface {
	AppendStage(ctx Context, rec StageRecord) error
	LatestStages(ctx Context, requestID string) (map[string]StageRecord, error)
}

// QueueRepository is the durable queue backing store. ReserveNext must be
// race-free under concurrent workers.
type QueueRepository interface {
	ReserveNext(ctx Context, workerID string, now time.Time) (QueueEntry, bool, error)
	Requeue(ctx Context, jobID string, availableAt time.Time) error
	Counts(ctx Context) (queued int, failed int, err error)
}

// DecisionRepository finalizes requests. Finalize writes the decision (or
// failure reason), flips the terminal status, and deletes the queue entry in
// one transaction.
type DecisionRepository interface {
	Finalize(ctx Context, requestID string, d *Decision, failure string) error
	GetDecision(ctx Context, requestID string) (Decision, error)
}

// ReuseCounter answers identifier-reuse queries for feature extraction.
// Identifiers are salted hashes, never raw values.
type ReuseCounter interface {
	CountRecentByIdentifier(ctx Context, kind, hash string, since time.Time) (int, error)
	CountDealerRecent(ctx Context, dealerID string, since time.Time) (int, error)
}

// MLScorer calls the external scoring service.
type MLScorer interface {
	Score(ctx Context, requestID string, fv FeatureVector) (MLOutput, error)
}

// Adjudicator runs the schema-constrained LLM analysis and routes it.
type Adjudicator interface {
	ShouldRun(ml *MLOutput) bool
	Adjudicate(ctx Context, app Application, rules RulesOutput, ml *MLOutput) (*LLMAnalysis, *AdjudicationOutcome, error)
}

// DecisionPublisher emits decision events to downstream consumers.
// Publishing is best-effort and must be idempotent by request id.
type DecisionPublisher interface {
	PublishDecision(ctx Context, ev DecisionEvent) error
}
