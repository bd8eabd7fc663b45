package tracer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCallStackTrackerPrunesStaleEntries(t *testing.T) {
	c := newCallStackTracker(5 * time.Minute)
	base := time.Now()
	c.push("old.method", base.Add(-10*time.Minute))
	c.push("fresh.method", base)

	snapshot := c.Snapshot(base)
	assert.Equal(t, []string{"fresh.method"}, snapshot)
}

func TestCallStackTrackerKeepsRecentEntries(t *testing.T) {
	c := newCallStackTracker(5 * time.Minute)
	now := time.Now()
	c.push("a", now)
	c.push("b", now)
	assert.ElementsMatch(t, []string{"a", "b"}, c.Snapshot(now))
}
