package tracer

import (
	"sync"
	"time"
)

// callStackEntry is one frame pushed onto the secondary, cross-cutting
// call-stack list the tracer maintains for correlation outside the
// per-method TraceContext (spec §4.2 "Stale call-stack pruning").
type callStackEntry struct {
	method    string
	pushedAt  time.Time
}

// callStackTracker holds recently-entered method names, evicting
// entries older than maxAge on every access so the list never grows
// unbounded across the process lifetime.
type callStackTracker struct {
	mu      sync.Mutex
	entries []callStackEntry
	maxAge  time.Duration
}

func newCallStackTracker(maxAge time.Duration) *callStackTracker {
	return &callStackTracker{maxAge: maxAge}
}

// push records methodName as entered at pushedAt and prunes stale
// entries before returning.
func (c *callStackTracker) push(methodName string, pushedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(pushedAt)
	c.entries = append(c.entries, callStackEntry{method: methodName, pushedAt: pushedAt})
}

// Snapshot returns the currently-live method names, pruning entries
// older than maxAge relative to now first.
func (c *callStackTracker) Snapshot(now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.method
	}
	return out
}

func (c *callStackTracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.maxAge)
	live := c.entries[:0]
	for _, e := range c.entries {
		if e.pushedAt.After(cutoff) {
			live = append(live, e)
		}
	}
	c.entries = live
}
