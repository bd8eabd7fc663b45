package poolobserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotCheckoutLatencyP95(t *testing.T) {
	// Mirrors spec scenario E5: 1000 synthetic checkout waits 1..1000ms.
	o := New(nil, Options{}, nil)
	base := time.Now()
	for i := 1; i <= 1000; i++ {
		addr := "host:27017"
		start := base
		o.Handle(Event{Kind: EventCheckOutStarted, Address: addr, Timestamp: start})
		o.Handle(Event{
			Kind:      EventCheckedOut,
			Address:   addr,
			ConnID:    "c1",
			Timestamp: start.Add(time.Duration(i) * time.Millisecond),
		})
	}

	snap := o.TakeSnapshot()
	assert.Equal(t, 0, snap.TotalConnections)
	assert.Equal(t, 0, snap.AvailableConnections)
	assert.InDelta(t, 501, snap.AvgCheckoutWaitMS, 1)
	assert.InDelta(t, 1000, snap.MaxCheckoutWaitMS, 0.001)
	assert.InDelta(t, 951, snap.P95CheckoutWaitMS, 0.001)
}

func TestHandleTracksLiveConnectionsAndPeak(t *testing.T) {
	o := New(nil, Options{}, nil)
	o.Handle(Event{Kind: EventConnectionCreated, Address: "a", ConnID: "1"})
	o.Handle(Event{Kind: EventConnectionCreated, Address: "a", ConnID: "2"})
	o.Handle(Event{Kind: EventCheckedOut, Address: "a", ConnID: "1"})

	snap := o.TakeSnapshot()
	assert.Equal(t, 2, snap.TotalConnections)
	assert.Equal(t, 1, snap.InUseConnections)
	assert.Equal(t, 1, snap.AvailableConnections)
	assert.Equal(t, 2, snap.PeakConnections)

	o.Handle(Event{Kind: EventConnectionClosed, ConnID: "2"})
	snap = o.TakeSnapshot()
	assert.Equal(t, 1, snap.TotalConnections)
	assert.Equal(t, 2, snap.PeakConnections, "peak must not decrease on close")
}

func TestHandleClassifiesCheckoutFailures(t *testing.T) {
	o := New(nil, Options{}, nil)
	o.Handle(Event{Kind: EventCheckOutStarted, Address: "a", Timestamp: time.Now()})
	o.Handle(Event{Kind: EventCheckOutFailed, Address: "a", Reason: FailureTimeout})
	o.Handle(Event{Kind: EventCheckOutStarted, Address: "a", Timestamp: time.Now()})
	o.Handle(Event{Kind: EventCheckOutFailed, Address: "a", Reason: FailureOther})

	snap := o.TakeSnapshot()
	assert.EqualValues(t, 1, snap.TimeoutErrors)
	assert.EqualValues(t, 1, snap.ConnectionErrors)
}

func TestConfigFromConnectionString(t *testing.T) {
	cfg := ConfigFromConnectionString("mongodb://localhost:27017/db?minPoolSize=5&maxPoolSize=50&maxIdleTimeMS=10000&waitQueueTimeoutMS=2000")
	assert.Equal(t, 5, cfg.MinPoolSize)
	assert.Equal(t, 50, cfg.MaxPoolSize)
	assert.Equal(t, 10000, cfg.MaxIdleTimeMS)
	assert.Equal(t, 2000, cfg.WaitQueueTimeoutMS)
}

func TestFIFODropsOldestOnOverflow(t *testing.T) {
	o := New(nil, Options{}, nil)
	for i := 0; i < checkoutWaitFIFOCap+10; i++ {
		o.Handle(Event{Kind: EventCheckOutStarted, Address: "a", Timestamp: time.Now()})
	}
	o.mu.Lock()
	assert.Len(t, o.checkoutFIFOs["a"], checkoutWaitFIFOCap)
	o.mu.Unlock()
}
