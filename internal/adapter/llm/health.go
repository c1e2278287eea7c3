package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/observability"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

// canaryUser is a deliberately clean case: strong income, low ratios, prime
// credit. A healthy adjudicator must route it approve.
const canaryUser = `Case file:
{
  "age_band": "36-50",
  "province": "ON",
  "income_bracket": "100k-150k",
  "employment_type": "full_time",
  "employment_months": 120,
  "credit_score": 810,
  "pti": 0.08,
  "tds": 0.25,
  "ltv": 0.70,
  "loan_amount": 20000,
  "term_months": 48,
  "down_payment_pct": 0.30,
  "vehicle_year": 2023,
  "vehicle_value": 28000,
  "mileage_km": 20000,
  "dealer_province": "ON",
  "rule_flags": [],
  "rule_score": 0.0
}
Respond with the adjudication JSON object only.`

// HealthChecker probes the adjudicator end to end: transport, schema
// conformance, and routing sanity.
type HealthChecker struct {
	Adj     *Adjudicator
	Timeout time.Duration
}

// Check sends the canary case and verifies it routes approve. Any transport
// error, schema violation, or unexpected routing fails the check.
func (h *HealthChecker) Check(ctx context.Context) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	analysis, err := h.Adj.askOnce(ctx, canaryUser)
	if err != nil {
		return fmt.Errorf("op=llm.health: %w", err)
	}
	out := Decide(*analysis, h.Adj.Policy)
	if out.Outcome != domain.OutcomeApprove {
		return fmt.Errorf("op=llm.health: canary routed %s, want approve", out.Outcome)
	}
	return nil
}

// RunPeriodic probes the adjudicator on the given interval until the context
// is cancelled. Results are published as a metric and logged; a failing
// canary never blocks traffic.
func (h *HealthChecker) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := h.Check(ctx); err != nil {
				observability.SetLLMHealth(false)
				slog.Warn("adjudicator canary failing", "error", err)
				continue
			}
			observability.SetLLMHealth(true)
		}
	}
}
