package tracer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScoreUnblockImpactCalledIsNone(t *testing.T) {
	impact := ScoreUnblockImpact(true, 0, 100*time.Millisecond, false)
	assert.Equal(t, UnblockNone, impact.Recommendation)
	assert.Equal(t, 0, impact.Score)
}

func TestScoreUnblockImpactHighWhenMostlyBlocking(t *testing.T) {
	impact := ScoreUnblockImpact(false, 90*time.Millisecond, 100*time.Millisecond, true)
	assert.Equal(t, UnblockHigh, impact.Recommendation)
	assert.GreaterOrEqual(t, impact.Score, 7)
}

func TestScoreUnblockImpactLowWhenMinorBlocking(t *testing.T) {
	impact := ScoreUnblockImpact(false, 5*time.Millisecond, 100*time.Millisecond, false)
	assert.Equal(t, UnblockLow, impact.Recommendation)
}

func TestScoreUnblockImpactZeroDurationIsNone(t *testing.T) {
	impact := ScoreUnblockImpact(false, 0, 0, false)
	assert.Equal(t, UnblockNone, impact.Recommendation)
}
