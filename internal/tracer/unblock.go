package tracer

import "time"

// UnblockRecommendation grades how strongly a method would benefit
// from calling the host's unblock hook earlier (spec §4.2 "Unblock
// impact").
type UnblockRecommendation string

const (
	UnblockNone   UnblockRecommendation = "NONE"
	UnblockLow    UnblockRecommendation = "LOW"
	UnblockMedium UnblockRecommendation = "MEDIUM"
	UnblockHigh   UnblockRecommendation = "HIGH"
)

// UnblockImpact annotates whether and how effectively a traced method
// used the host's unblock affordance (spec §3 Trace, §4.2).
type UnblockImpact struct {
	Called         bool                  `json:"called"`
	Offset         time.Duration         `json:"offsetMs,omitempty"`
	Score          int                   `json:"score"`
	Recommendation UnblockRecommendation `json:"recommendation"`
}

// ScoreUnblockImpact computes a 0-10 impact score from blockingTime
// (time spent before the caller could have been released),
// waitedOnByOtherTasks (whether other tasks were stalled on this
// one), and totalDuration (spec §4.2 "Unblock impact"). Score ranges
// are deliberately simple: blocking ratio dominates, with a bump when
// other tasks were known to be waiting.
func ScoreUnblockImpact(called bool, blockingTime, totalDuration time.Duration, waitedOnByOtherTasks bool) *UnblockImpact {
	if called {
		return &UnblockImpact{Called: true, Recommendation: UnblockNone, Score: 0}
	}
	if totalDuration <= 0 {
		return &UnblockImpact{Called: false, Recommendation: UnblockNone, Score: 0}
	}

	ratio := float64(blockingTime) / float64(totalDuration)
	score := int(ratio * 10)
	if score > 10 {
		score = 10
	}
	if score < 0 {
		score = 0
	}
	if waitedOnByOtherTasks && score < 10 {
		score++
	}

	var rec UnblockRecommendation
	switch {
	case score >= 7:
		rec = UnblockHigh
	case score >= 4:
		rec = UnblockMedium
	case score >= 1:
		rec = UnblockLow
	default:
		rec = UnblockNone
	}

	return &UnblockImpact{Called: false, Score: score, Recommendation: rec}
}
