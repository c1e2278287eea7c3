package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 300, cfg.NonceWindowSeconds)
	assert.Equal(t, 5*time.Minute, cfg.NonceWindow())
	assert.Equal(t, 3, cfg.MaxTries)
	assert.Equal(t, []int{30, 60, 120}, cfg.BackoffSeconds)
	assert.Equal(t, 330*time.Second, cfg.VisibilityTimeout)
	assert.Equal(t, 0.75, cfg.MinConfidenceForAuto)
	assert.Equal(t, 0.8, cfg.FraudDeclineThreshold)
	assert.Equal(t, 0.35, cfg.FraudReviewThreshold)
	assert.Equal(t, 0.15, cfg.PTICap)
	assert.Equal(t, 0.45, cfg.TDSCap)
	assert.Equal(t, 1.20, cfg.LTVCap)
	assert.Equal(t, 0.3, cfg.LLMTriggerMin)
	assert.Equal(t, 0.7, cfg.LLMTriggerMax)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, 300*time.Second, cfg.BreakerResetTimeout)
	assert.Equal(t, "loan-decisions", cfg.DecisionTopic)
	assert.True(t, cfg.IsDev())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAX_TRIES", "5")
	t.Setenv("BACKOFF_SECONDS", "1,2,3")
	t.Setenv("APP_ENV", "prod")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxTries)
	assert.Equal(t, []int{1, 2, 3}, cfg.BackoffSeconds)
	assert.True(t, cfg.IsProd())
	assert.False(t, cfg.IsDev())
}

func TestBackoffSchedule(t *testing.T) {
	cfg := Config{BackoffSeconds: []int{30, 60, 120}}

	assert.Equal(t, 30*time.Second, cfg.Backoff(1))
	assert.Equal(t, 60*time.Second, cfg.Backoff(2))
	assert.Equal(t, 120*time.Second, cfg.Backoff(3))
	assert.Equal(t, 120*time.Second, cfg.Backoff(9), "beyond the schedule reuses the last slot")
	assert.Equal(t, 30*time.Second, cfg.Backoff(0), "attempt zero clamps to the first slot")
}

func TestBackoffEmptySchedule(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, 30*time.Second, cfg.Backoff(1))
}
