package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
)

type fakeRequests struct {
	req        domain.ApplicationRequest
	processing []string
}

func (f *fakeRequests) CreateRequest(domain.Context, domain.ApplicationRequest) (string, error) {
	return "", nil
}

func (f *fakeRequests) LoadRequest(_ domain.Context, id string) (domain.ApplicationRequest, error) {
	if id != f.req.ID {
		return domain.ApplicationRequest{}, domain.ErrNotFound
	}
	return f.req, nil
}

func (f *fakeRequests) MarkProcessing(_ domain.Context, id string) error {
	f.processing = append(f.processing, id)
	return nil
}

type fakeStages struct{ recs []domain.StageRecord }

func (f *fakeStages) AppendStage(_ domain.Context, rec domain.StageRecord) error {
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeStages) LatestStages(domain.Context, string) (map[string]domain.StageRecord, error) {
	return nil, nil
}

func (f *fakeStages) stageNames() []string {
	names := make([]string, 0, len(f.recs))
	for _, r := range f.recs {
		names = append(names, r.Stage)
	}
	return names
}

type fakeScorer struct {
	out   domain.MLOutput
	err   error
	calls int
}

func (f *fakeScorer) Score(domain.Context, string, domain.FeatureVector) (domain.MLOutput, error) {
	f.calls++
	if f.err != nil {
		return domain.MLOutput{}, f.err
	}
	return f.out, nil
}

type fakeAdjudicator struct {
	run      bool
	analysis *domain.LLMAnalysis
	outcome  *domain.AdjudicationOutcome
	err      error
	calls    int
}

func (f *fakeAdjudicator) ShouldRun(*domain.MLOutput) bool { return f.run }

func (f *fakeAdjudicator) Adjudicate(domain.Context, domain.Application, domain.RulesOutput, *domain.MLOutput) (*domain.LLMAnalysis, *domain.AdjudicationOutcome, error) {
	f.calls++
	return f.analysis, f.outcome, f.err
}

func testRunner(t *testing.T, app domain.Application, ml *fakeScorer, adj *fakeAdjudicator, packYAML string) (*Runner, *fakeStages) {
	t.Helper()
	pack := packFromYAML(t, packYAML)
	stages := &fakeStages{}
	r := &Runner{
		Requests:  &fakeRequests{req: domain.ApplicationRequest{ID: "req-1", Payload: app, Status: domain.StatusQueued}},
		Stages:    stages,
		Rules:     evaluatorAt(t, pack, testNow),
		Features:  testExtractor(&fakeReuse{}),
		ML:        ml,
		Adj:       adj,
		Assembler: testAssembler(),
		Now:       func() time.Time { return testNow },
	}
	return r, stages
}

const emptyPack = "version: v1\nrules: []\n"

func TestRunHappyPathRecordsAllStages(t *testing.T) {
	t.Parallel()
	ml := &fakeScorer{out: domain.MLOutput{ConfidenceScore: 0.5, ModelVersion: "m1"}}
	adj := &fakeAdjudicator{
		run:      true,
		analysis: &domain.LLMAnalysis{FraudProbability: 0.2, PromptTemplateVersion: "adjudicator-v1"},
		outcome:  &domain.AdjudicationOutcome{Outcome: domain.OutcomeApprove, Reasons: []string{"clean"}},
	}
	r, stages := testRunner(t, baseApplication(), ml, adj, emptyPack)

	dec, err := r.Run(context.Background(), domain.QueueEntry{JobID: "req-1", Attempts: 1})
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.Equal(t, domain.OutcomeApprove, dec.Final)
	assert.Equal(t, []string{"rules", "features", "ml", "llm", "decision"}, stages.stageNames())
	for _, stage := range []string{"rules", "features", "ml", "llm", "decision"} {
		assert.Contains(t, dec.TimingsMS, stage)
	}
}

func TestRunHardFailShortCircuits(t *testing.T) {
	t.Parallel()
	app := baseApplication()
	app.Personal.SIN = "123456789"
	ml := &fakeScorer{}
	adj := &fakeAdjudicator{run: true}
	r, stages := testRunner(t, app, ml, adj, `
version: v1
rules:
  - code: invalid_sin
    kind: hard
    check: sin_invalid
`)

	dec, err := r.Run(context.Background(), domain.QueueEntry{JobID: "req-1", Attempts: 1})
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.Equal(t, domain.OutcomeDecline, dec.Final)
	assert.Equal(t, []string{"rules", "decision"}, stages.stageNames())
	assert.Zero(t, ml.calls, "scoring must not run after a hard fail")
	assert.Zero(t, adj.calls)
}

func TestRunMLErrorAbortsAttempt(t *testing.T) {
	t.Parallel()
	ml := &fakeScorer{err: fmt.Errorf("op=ml.Score: %w: status 503", domain.ErrTransient)}
	r, stages := testRunner(t, baseApplication(), ml, &fakeAdjudicator{}, emptyPack)

	dec, err := r.Run(context.Background(), domain.QueueEntry{JobID: "req-1", Attempts: 1})
	require.Error(t, err)
	assert.Nil(t, dec)
	assert.ErrorIs(t, err, domain.ErrTransient)

	names := stages.stageNames()
	require.Equal(t, []string{"rules", "features", "ml"}, names)
	assert.NotEmpty(t, stages.recs[2].Error, "failed stage records its error")
}

func TestRunBreakerOpenFallsBackToCombine(t *testing.T) {
	t.Parallel()
	ml := &fakeScorer{out: domain.MLOutput{ConfidenceScore: 0.65}}
	adj := &fakeAdjudicator{run: true, err: fmt.Errorf("op=llm.Complete: %w", domain.ErrBreakerOpen)}
	r, stages := testRunner(t, baseApplication(), ml, adj, emptyPack)

	dec, err := r.Run(context.Background(), domain.QueueEntry{JobID: "req-1", Attempts: 1})
	require.NoError(t, err)
	require.NotNil(t, dec)
	// max(rule 0, ml 0.65) lands in the review band of the fallback.
	assert.Equal(t, domain.OutcomeReview, dec.Final)
	assert.Equal(t, []string{"rules", "features", "ml", "llm", "decision"}, stages.stageNames())
}

func TestRunSkipsAdjudicatorForClearCases(t *testing.T) {
	t.Parallel()
	ml := &fakeScorer{out: domain.MLOutput{ConfidenceScore: 0.1}}
	adj := &fakeAdjudicator{run: false}
	r, stages := testRunner(t, baseApplication(), ml, adj, emptyPack)

	dec, err := r.Run(context.Background(), domain.QueueEntry{JobID: "req-1", Attempts: 1})
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.Zero(t, adj.calls)
	assert.Equal(t, []string{"rules", "features", "ml", "decision"}, stages.stageNames())
}

func TestRunTerminalRequestReturnsNilDecision(t *testing.T) {
	t.Parallel()
	r, _ := testRunner(t, baseApplication(), &fakeScorer{}, &fakeAdjudicator{}, emptyPack)
	fr := r.Requests.(*fakeRequests)
	fr.req.Status = domain.StatusDecided

	dec, err := r.Run(context.Background(), domain.QueueEntry{JobID: "req-1", Attempts: 2})
	require.NoError(t, err)
	assert.Nil(t, dec)
	assert.Empty(t, fr.processing, "terminal requests are never reprocessed")
}

func TestRunUnknownRequestErrors(t *testing.T) {
	t.Parallel()
	r, _ := testRunner(t, baseApplication(), &fakeScorer{}, &fakeAdjudicator{}, emptyPack)
	_, err := r.Run(context.Background(), domain.QueueEntry{JobID: "ghost", Attempts: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
