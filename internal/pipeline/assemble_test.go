package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

func testAssembler() *Assembler {
	a := NewAssembler("policy-v1")
	a.Now = func() time.Time { return testNow }
	return a
}

func mlOut(confidence float64, features ...string) *domain.MLOutput {
	out := &domain.MLOutput{ConfidenceScore: confidence, ModelVersion: "m1"}
	for _, f := range features {
		out.TopFeatures = append(out.TopFeatures, domain.TopFeature{Name: f})
	}
	return out
}

func TestAssembleHardFailDeclinesUnconditionally(t *testing.T) {
	t.Parallel()
	rules := domain.RulesOutput{HardFail: true, RuleFlags: []string{"invalid_sin"}}
	// Even a present approve adjudication must not override a hard fail.
	adj := &domain.AdjudicationOutcome{Outcome: domain.OutcomeApprove}

	d := testAssembler().Assemble("req-1", rules, mlOut(0.1), nil, adj, map[string]int64{})
	assert.Equal(t, domain.OutcomeDecline, d.Final)
	assert.Contains(t, d.Reasons, "invalid_sin")
}

func TestAssembleAdjudicationDictatesOutcome(t *testing.T) {
	t.Parallel()
	adj := &domain.AdjudicationOutcome{
		Outcome: domain.OutcomeConditional,
		Reasons: []string{"PTI above cap"},
		Stipulations: []domain.Stipulation{
			{Type: domain.StipReduceTerm, Detail: "reduce term by 12 months"},
		},
	}
	d := testAssembler().Assemble("req-1", domain.RulesOutput{}, mlOut(0.5), nil, adj, map[string]int64{})
	assert.Equal(t, domain.OutcomeConditional, d.Final)
	require.Len(t, d.Stipulations, 1)
	assert.Equal(t, domain.StipReduceTerm, d.Stipulations[0].Type)
}

func TestAssembleFallbackCombine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		ruleScore float64
		ml        *domain.MLOutput
		want      domain.Outcome
	}{
		{"both low approves", 0.1, mlOut(0.2), domain.OutcomeApprove},
		{"rule score in review band", 0.65, mlOut(0.2), domain.OutcomeReview},
		{"ml score in review band", 0.1, mlOut(0.65), domain.OutcomeReview},
		{"rule score declines", 0.85, mlOut(0.2), domain.OutcomeDecline},
		{"ml score declines", 0.1, mlOut(0.9), domain.OutcomeDecline},
		{"decline boundary is inclusive", 0.8, nil, domain.OutcomeDecline},
		{"review boundary is inclusive", 0.6, nil, domain.OutcomeReview},
		{"no ml at all uses rule score alone", 0.3, nil, domain.OutcomeApprove},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rules := domain.RulesOutput{RuleScore: tc.ruleScore}
			d := testAssembler().Assemble("req-1", rules, tc.ml, nil, nil, map[string]int64{})
			assert.Equal(t, tc.want, d.Final)
		})
	}
}

func TestAssembleReasonsProvenanceOrderAndCap(t *testing.T) {
	t.Parallel()
	rules := domain.RulesOutput{RuleFlags: []string{"flag_a", "flag_b"}}
	ml := mlOut(0.5, "phone_reuse_count", "dealer_volume_24h")
	adj := &domain.AdjudicationOutcome{
		Outcome: domain.OutcomeReview,
		Reasons: []string{"velocity pattern", "income inconsistency"},
	}

	d := testAssembler().Assemble("req-1", rules, ml, nil, adj, map[string]int64{})
	require.Len(t, d.Reasons, 5, "reasons are capped")
	assert.Equal(t, []string{
		"flag_a",
		"flag_b",
		"model signal: phone_reuse_count",
		"model signal: dealer_volume_24h",
		"velocity pattern",
	}, d.Reasons)
}

func TestAssembleCleanCaseHasPlaceholderReason(t *testing.T) {
	t.Parallel()
	d := testAssembler().Assemble("req-1", domain.RulesOutput{}, mlOut(0.1), nil, nil, map[string]int64{})
	assert.Equal(t, domain.OutcomeApprove, d.Final)
	assert.Equal(t, []string{"No adverse signals"}, d.Reasons)
	assert.NotNil(t, d.Stipulations)
	assert.Empty(t, d.Stipulations)
}

func TestAssembleStampsMetadata(t *testing.T) {
	t.Parallel()
	timings := map[string]int64{"rules": 2, "features": 5}
	d := testAssembler().Assemble("req-9", domain.RulesOutput{}, nil, nil, nil, timings)
	assert.Equal(t, "req-9", d.RequestID)
	assert.Equal(t, "policy-v1", d.PolicyVersion)
	assert.Equal(t, timings, d.TimingsMS)
	assert.Equal(t, testNow, d.CreatedAt)
}
