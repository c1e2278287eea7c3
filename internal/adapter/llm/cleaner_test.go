package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverPassesValidJSONThrough(t *testing.T) {
	t.Parallel()
	rc := NewResponseCleaner()
	out, ok := rc.Recover(`{"a":1}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, out)
}

func TestRecoverStripsJSONFences(t *testing.T) {
	t.Parallel()
	rc := NewResponseCleaner()
	out, ok := rc.Recover("```json\n{\"fraud_probability\":0.4}\n```")
	require.True(t, ok)
	assert.JSONEq(t, `{"fraud_probability":0.4}`, out)
}

func TestRecoverStripsBareFences(t *testing.T) {
	t.Parallel()
	rc := NewResponseCleaner()
	out, ok := rc.Recover("```\n{\"a\":true}\n```")
	require.True(t, ok)
	assert.JSONEq(t, `{"a":true}`, out)
}

func TestRecoverExtractsObjectFromProse(t *testing.T) {
	t.Parallel()
	rc := NewResponseCleaner()
	out, ok := rc.Recover(`Here is my analysis: {"a":{"b":2}} hope that helps!`)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":{"b":2}}`, out)
}

func TestRecoverHandlesBracesInsideStrings(t *testing.T) {
	t.Parallel()
	rc := NewResponseCleaner()
	out, ok := rc.Recover(`prefix {"note":"a } inside"} suffix`)
	require.True(t, ok)
	assert.JSONEq(t, `{"note":"a } inside"}`, out)
}

func TestRecoverFixesTrailingComma(t *testing.T) {
	t.Parallel()
	rc := NewResponseCleaner()
	out, ok := rc.Recover(`{"a":1,}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, out)
}

func TestRecoverFailsOnGarbage(t *testing.T) {
	t.Parallel()
	rc := NewResponseCleaner()
	_, ok := rc.Recover("I cannot answer that question.")
	assert.False(t, ok)
}
