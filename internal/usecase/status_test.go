package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func f(v float64) *float64 { return &v }

func TestBand(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "unknown", Band(nil))
	assert.Equal(t, "low", Band(f(0)))
	assert.Equal(t, "low", Band(f(0.29)))
	assert.Equal(t, "medium", Band(f(0.3)), "0.3 opens the medium band")
	assert.Equal(t, "medium", Band(f(0.69)))
	assert.Equal(t, "high", Band(f(0.7)), "0.7 opens the high band")
	assert.Equal(t, "high", Band(f(1.0)))
}
