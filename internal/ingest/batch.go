package ingest

import "sync"

// streamBatch holds one stream's pending items and running byte
// estimate (spec §3 Batch, §4.1 Batch lifecycle). A single logical
// writer is expected per stream by convention (§5 Concurrency); the
// mutex exists to guard the short critical section around
// accept/flush rather than to support arbitrary concurrent writers.
type streamBatch struct {
	mu            sync.Mutex
	items         []interface{}
	byteEstimate  int
	retryQueue    []retryEntry
	retryTimers   []*retryTimer
}

// retryEntry is a batch that failed delivery and is queued for retry
// with exponential backoff (spec §3 RetryEntry, §4.1 Retry).
type retryEntry struct {
	items      []interface{}
	retryCount int
}

// snapshotAndReset atomically takes the batch's current items and
// byte estimate, leaving the batch empty. Returns ok=false if there
// was nothing to take.
func (b *streamBatch) snapshotAndReset() (items []interface{}, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil, false
	}
	items = b.items
	b.items = nil
	b.byteEstimate = 0
	return items, true
}

// len reports the current item count under lock.
func (b *streamBatch) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
