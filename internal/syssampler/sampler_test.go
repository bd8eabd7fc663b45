package syssampler

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectPopulatesHostAndProcessFields(t *testing.T) {
	s := New(nil, time.Minute)
	sample := s.collect()

	assert.False(t, sample.Timestamp.IsZero())
	assert.GreaterOrEqual(t, sample.MemTotalBytes, uint64(0))
	assert.GreaterOrEqual(t, sample.ProcessHeapUsed, uint64(0))
	assert.GreaterOrEqual(t, sample.ProcessCount, 1)
}

func TestFirstTickIsBaselineAndNotEmitted(t *testing.T) {
	var submitted int
	s := New(nil, time.Minute)

	s.mu.Lock()
	require.False(t, s.haveBaseline)
	s.mu.Unlock()

	s.tick()

	s.mu.Lock()
	baseline := s.haveBaseline
	s.mu.Unlock()
	assert.True(t, baseline)
	assert.Equal(t, 0, submitted, "baseline sample must never be submitted")
}

func TestSecondTickIsEligibleForEmission(t *testing.T) {
	s := New(nil, time.Minute)
	s.tick()

	s.mu.Lock()
	s.haveBaseline = true
	s.mu.Unlock()

	// Second collection should compute a network-delta against the
	// first sample's recorded counters instead of leaving it at zero
	// on an idle host; we only assert it doesn't panic and stamps a
	// timestamp, since actual network traffic during test runs is
	// non-deterministic.
	sample := s.collect()
	assert.False(t, sample.Timestamp.IsZero())
}

func TestGCCountNeverNegative(t *testing.T) {
	s := New(nil, time.Minute)
	s.lastNumGC = 0
	runtime.GC()
	sample := s.collect()
	assert.GreaterOrEqual(t, sample.GCCount, uint32(0))
}

func TestCachedDiskUsageReusesWithinTTL(t *testing.T) {
	s := New(nil, time.Minute)
	first := s.cachedDiskUsage()
	s.diskCached = 42.0 // simulate a stale cached value still within TTL
	second := s.cachedDiskUsage()
	assert.Equal(t, s.diskCached, second)
	_ = first
}

func TestEventLoopLagEWMASmoothing(t *testing.T) {
	s := New(nil, time.Minute)
	s.lagEWMA = 10.0
	s.lagCh <- 0.0
	got := s.currentLagMS()
	assert.InDelta(t, 7.0, got, 0.001) // 0.3*0 + 0.7*10
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-5, 0, 100))
	assert.Equal(t, 100.0, clamp(150, 0, 100))
	assert.Equal(t, 50.0, clamp(50, 0, 100))
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(nil, time.Minute)
	s.Start()
	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
}
