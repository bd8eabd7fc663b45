// Package ingest implements the Ingestion Client (spec §4.1): a
// multi-stream batching and shipping engine with per-stream sampling,
// byte- and item-bounded batches, periodic flushes, bounded retry
// queues with exponential backoff, and safe shutdown semantics.
//
// Grounded on the teacher's writer.TraceWriter (writer/trace_writer.go):
// a ticker-driven Run loop that accumulates items into a buffer,
// flushes on a timer or on overflow, and hands serialized payloads to
// a sender; and writer.APIEndpoint.Write (writer/legacy_endpoint.go):
// build request, set headers, dispatch, retry only on 5xx.
package ingest

import (
	"bytes"
	"context"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skysignal-apm/agent-go/internal/log"
	"github.com/skysignal-apm/agent-go/internal/sizeest"
)

// Options configures a Client. Zero-value sizing, timing, retry,
// HTTPClient and RandFloat64 fields are filled with defaults by New.
// TraceSampleRate and RUMSampleRate are used as given: a zero rate
// drops every item submitted on that stream.
type Options struct {
	APIKey         string
	BaseURL        string
	BatchSize      int
	BatchSizeBytes int
	FlushInterval  time.Duration

	TraceSampleRate float64
	RUMSampleRate   float64

	MaxRetries     int
	RequestTimeout time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration

	// HTTPClient lets callers (and tests) substitute their own
	// transport. Defaults to an http.Client with Timeout set from
	// RequestTimeout.
	HTTPClient *http.Client

	// RandFloat64 supplies the uniform draw used for sampling
	// decisions. Defaults to rand.Float64. Tests override it for
	// deterministic sampling behavior.
	RandFloat64 func() float64
}

func (o *Options) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.BatchSizeBytes <= 0 {
		o.BatchSizeBytes = 1 << 20
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 10 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = defaultBaseDelay
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxDelay
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.RequestTimeout}
	}
	if o.RandFloat64 == nil {
		o.RandFloat64 = rand.Float64
	}
}

// Stats accumulates counters describing the ingestion client's
// behavior since the Client was created. StatsSnapshot reads them
// without resetting them.
type Stats struct {
	Sampled   int64
	Failed    int64
	Dropped   int64
	Delivered int64
	Retried   int64
}

// Client is the Ingestion Client described in spec §4.1.
type Client struct {
	opts Options

	mu      sync.Mutex
	streams map[Stream]*streamBatch

	stopped int32
	stopCh  chan struct{}

	stats Stats
}

// New returns a Client ready to Start.
func New(opts Options) *Client {
	opts.setDefaults()
	return &Client{
		opts:    opts,
		streams: make(map[Stream]*streamBatch),
		stopCh:  make(chan struct{}),
	}
}

func (c *Client) batchFor(s Stream) *streamBatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.streams[s]
	if !ok {
		b = &streamBatch{}
		c.streams[s] = b
	}
	return b
}

func (c *Client) allBatches() map[Stream]*streamBatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Stream]*streamBatch, len(c.streams))
	for s, b := range c.streams {
		out[s] = b
	}
	return out
}

// Start begins the periodic flush loop, flushing every stream at
// FlushInterval regardless of individual batch state (spec §4.1
// "Flush").
func (c *Client) Start() {
	go func() {
		ticker := time.NewTicker(c.opts.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.flushAll()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Submit accepts one item onto the named stream, applying submission
// sampling for the traces/rum streams (spec §4.1 "Sampling") and
// flushing synchronously once the batch crosses either bound (spec
// §4.1 "Batch lifecycle", §8 property 2).
func (c *Client) Submit(stream Stream, item interface{}) {
	if atomic.LoadInt32(&c.stopped) == 1 {
		return
	}
	if sampledStreams[stream] && !c.shouldSample(stream) {
		atomic.AddInt64(&c.stats.Sampled, 1)
		return
	}

	b := c.batchFor(stream)
	b.mu.Lock()
	b.items = append(b.items, item)
	b.byteEstimate += sizeest.Estimate(item)
	shouldFlush := len(b.items) >= c.opts.BatchSize || b.byteEstimate >= c.opts.BatchSizeBytes
	b.mu.Unlock()

	if shouldFlush {
		c.flushStream(stream, b)
	}
}

func (c *Client) shouldSample(stream Stream) bool {
	var rate float64
	switch stream {
	case StreamTraces:
		rate = c.opts.TraceSampleRate
	case StreamRUM:
		rate = c.opts.RUMSampleRate
	default:
		return true
	}
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	return c.opts.RandFloat64() < rate
}

func (c *Client) flushAll() {
	for stream, b := range c.allBatches() {
		c.flushStream(stream, b)
	}
}

// flushStream atomically takes the stream's pending items and
// dispatches them. Dispatch itself happens asynchronously: callers
// never observe the HTTP result (spec §4.1 "Flush": "Fire-and-forget
// from the caller's perspective").
func (c *Client) flushStream(stream Stream, b *streamBatch) {
	items, ok := b.snapshotAndReset()
	if !ok {
		return
	}
	go c.dispatch(stream, b, items, 0)
}

// dispatch serializes and POSTs one batch. retryCount is the number
// of retries already performed for this exact batch (0 for the
// original send). On failure it schedules another attempt with
// exponential backoff, or drops the batch permanently once
// maxRetries would be exceeded (spec §4.1 "Retry").
func (c *Client) dispatch(stream Stream, b *streamBatch, items []interface{}, retryCount int) {
	// The stopped flag is checked here, at the top of the dispatch
	// path and before serialization: a batch already snapshotted when
	// stop() runs is dropped without being serialized or sent, and no
	// counter records it. This is the documented
	// known data-loss window from spec §4.1/§9 — implementers MAY
	// flush first and set the flag after, but this agent preserves the
	// teacher-adjacent "flag then check" order as specified.
	if atomic.LoadInt32(&c.stopped) == 1 {
		return
	}

	route := routeFor(stream)
	body, err := marshalCycleTolerant(map[string]interface{}{route.payloadKey: items})
	if err != nil {
		log.Errorf("ingest: failed to serialize batch for stream %s, dropping: %v", stream, err)
		atomic.AddInt64(&c.stats.Failed, int64(len(items)))
		return
	}

	ok := c.send(route.endpoint, body)
	if ok {
		atomic.AddInt64(&c.stats.Delivered, int64(len(items)))
		return
	}

	nextRetryCount := retryCount + 1
	if nextRetryCount > c.opts.MaxRetries {
		log.Errorf("ingest: batch for stream %s dropped after %d retries", stream, retryCount)
		atomic.AddInt64(&c.stats.Failed, int64(len(items)))
		return
	}

	entry := retryEntry{items: items, retryCount: nextRetryCount}
	b.pushRetry(entry, &c.stats.Dropped)
	delay := backoffDelay(c.opts.BaseBackoff, c.opts.MaxBackoff, retryCount)
	atomic.AddInt64(&c.stats.Retried, 1)

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		b.removeRetry(entry)
		c.dispatch(stream, b, entry.items, entry.retryCount)
	})
	b.addRetryTimer(&retryTimer{timer: timer})
}

// send POSTs body to path and reports whether the response was a 2xx
// (success) as opposed to a transport error or non-2xx status (spec
// §4.1 "Flush", §7 TransportError).
func (c *Client) send(path string, body []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		log.Errorf("ingest: failed to build request for %s: %v", path, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-SkySignal-API-Key", c.opts.APIKey)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		log.Debugf("ingest: dispatch to %s failed: %v", path, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		log.Debugf("ingest: dispatch to %s responded with %s", path, resp.Status)
		return false
	}
	return true
}

// Stop sets the stopped flag, cancels the periodic flush loop and all
// pending retry timers, then performs one final flush of every
// stream (spec §4.1 "Shutdown", §5 "Cancellation & timeouts"). Stop
// is idempotent-safe to call once; calling it twice will close an
// already-closed channel and panic, matching a single definitive
// shutdown point in the supervisor.
func (c *Client) Stop() {
	atomic.StoreInt32(&c.stopped, 1)
	close(c.stopCh)

	for _, b := range c.allBatches() {
		b.cancelRetryTimers()
	}
	// Final flush: items queued since the last periodic tick are
	// taken out of their batches, but dispatch() drops them without
	// serializing, sending or counting them once stopped is observed
	// (the documented loss window above).
	c.flushAll()
}

// StatsSnapshot returns a copy of the client's current counters.
func (c *Client) StatsSnapshot() Stats {
	return Stats{
		Sampled:   atomic.LoadInt64(&c.stats.Sampled),
		Failed:    atomic.LoadInt64(&c.stats.Failed),
		Dropped:   atomic.LoadInt64(&c.stats.Dropped),
		Delivered: atomic.LoadInt64(&c.stats.Delivered),
		Retried:   atomic.LoadInt64(&c.stats.Retried),
	}
}

// RetryQueueLen reports the current retry queue depth for a stream,
// mainly for tests and diagnostics.
func (c *Client) RetryQueueLen(stream Stream) int {
	return c.batchFor(stream).retryQueueLen()
}

// BatchLen reports the current pending item count for a stream.
func (c *Client) BatchLen(stream Stream) int {
	return c.batchFor(stream).len()
}
