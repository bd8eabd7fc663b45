package livequery

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDriverConstructorNameWins(t *testing.T) {
	assert.Equal(t, DriverChangeStream, ClassifyDriver(HandleMarkers{ConstructorName: "ChangeStreamObserveHandle"}))
}

func TestClassifyDriverMarkerFallback(t *testing.T) {
	assert.Equal(t, DriverChangeStream, ClassifyDriver(HandleMarkers{HasPipeline: true}))
	assert.Equal(t, DriverOplog, ClassifyDriver(HandleMarkers{UsesOplog: true}))
}

func TestClassifyDriverDefaultsToPolling(t *testing.T) {
	t.Setenv("MONGO_OPLOG_URL", "")
	assert.Equal(t, DriverPolling, ClassifyDriver(HandleMarkers{}))
}

func TestEvictionPrefersStoppedThenOldest(t *testing.T) {
	r := New(nil)
	base := time.Now()

	for i := 0; i < maxObservers; i++ {
		r.Register(&Observer{
			ID:        idFor(i),
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			Status:    StatusActive,
		})
	}
	// Mark one arbitrary, otherwise-young-ish observer stopped; it
	// must be evicted ahead of older active observers.
	r.Stop(idFor(maxObservers - 1))

	require.Equal(t, maxObservers, r.Size())
	r.Register(&Observer{ID: "overflow", CreatedAt: base.Add(time.Hour), Status: StatusActive})

	r.mu.Lock()
	_, stillPresent := r.observers[idFor(maxObservers-1)]
	r.mu.Unlock()
	assert.False(t, stillPresent, "stopped observer should be evicted first")

	expected := maxObservers - maxObservers/10 + 1
	assert.Equal(t, expected, r.Size())
}

func idFor(i int) string {
	return "obs-" + strconv.Itoa(i)
}

func TestRatingForChangeStreamThresholds(t *testing.T) {
	o := &Observer{DriverKind: DriverChangeStream, AvgProcessingTimeMS: 10}
	assert.Equal(t, RatingOptimal, ratingFor(o))
	o.AvgProcessingTimeMS = 40
	assert.Equal(t, RatingGood, ratingFor(o))
	o.AvgProcessingTimeMS = 100
	assert.Equal(t, RatingSlow, ratingFor(o))
}

func TestRatingForPollingThresholds(t *testing.T) {
	o := &Observer{DriverKind: DriverPolling, UpdatesPerMinute: 2}
	assert.Equal(t, RatingOptimal, ratingFor(o))
	o.UpdatesPerMinute = 20
	assert.Equal(t, RatingGood, ratingFor(o))
	o.UpdatesPerMinute = 100
	assert.Equal(t, RatingInefficient, ratingFor(o))
}

func TestSampleRatingsComputesUpdatesPerMinute(t *testing.T) {
	r := New(nil)
	now := time.Now()
	r.Register(&Observer{ID: "o1", DriverKind: DriverPolling, CreatedAt: now})
	r.RecordUpdate("o1", 6, 0, 0)

	r.sampleRatings(now.Add(time.Minute))
	r.mu.Lock()
	o := r.observers["o1"]
	r.mu.Unlock()
	assert.InDelta(t, 6, o.UpdatesPerMinute, 0.01)
}
