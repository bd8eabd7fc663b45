// Package livequery implements the Live-Query Observer Registry (spec
// §4.4): driver classification, periodic performance rating, and
// capacity-bounded eviction of standing reactive query observers.
//
// Grounded on the teacher's classify-then-act component shape
// (filters package: inspect a value, assign a tag, act on the tag)
// generalized per DESIGN NOTE "Dynamic receivers and duck-typed event
// handles → tagged variants with fallback".
package livequery

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/skysignal-apm/agent-go/internal/ingest"
	"github.com/skysignal-apm/agent-go/internal/tracer"
)

// DriverKind classifies how a live query receives updates (spec §3
// LiveQueryObserver, GLOSSARY).
type DriverKind string

const (
	DriverChangeStream DriverKind = "changeStream"
	DriverOplog        DriverKind = "oplog"
	DriverPolling      DriverKind = "polling"
)

// HandleMarkers carries the duck-typed signals used to classify a
// live-query observer handle when its constructor name is unavailable
// (spec §4.4 "On each observer handle creation").
type HandleMarkers struct {
	ConstructorName string
	HasChangeStream bool // _changeStream marker field present
	HasPipeline     bool // _pipeline marker field present
	UsesOplog       bool // _usesOplog marker field present
	NeedToFetch     bool // _needToFetch marker field present
}

// ClassifyDriver implements spec §4.4's fallback chain: constructor
// name first, then marker-field presence, then an oplog-URL
// environment variable, finally defaulting to polling.
func ClassifyDriver(m HandleMarkers) DriverKind {
	switch m.ConstructorName {
	case "ChangeStreamObserveHandle":
		return DriverChangeStream
	case "OplogObserveHandle":
		return DriverOplog
	case "PollingObserveHandle":
		return DriverPolling
	}
	if m.HasChangeStream || m.HasPipeline {
		return DriverChangeStream
	}
	if m.UsesOplog || m.NeedToFetch {
		return DriverOplog
	}
	if os.Getenv("MONGO_OPLOG_URL") != "" {
		return DriverOplog
	}
	return DriverPolling
}

// PerformanceRating is the periodically recomputed health label for
// an observer (spec §4.4).
type PerformanceRating string

const (
	RatingOptimal    PerformanceRating = "optimal"
	RatingGood       PerformanceRating = "good"
	RatingSlow       PerformanceRating = "slow"
	RatingInefficient PerformanceRating = "inefficient"
)

// Status is the lifecycle state of an observer entry.
type Status string

const (
	StatusActive  Status = "active"
	StatusStopped Status = "stopped"
)

// Observer is one registered live query (spec §3 LiveQueryObserver).
type Observer struct {
	ID         string
	Collection string
	Selector   map[string]interface{}
	Options    map[string]interface{}
	DriverKind DriverKind
	CreatedAt  time.Time
	Status     Status

	AddedCount   int64
	ChangedCount int64
	RemovedCount int64

	AvgProcessingTimeMS float64
	BacklogSize         int
	UpdatesPerMinute    float64
	PerformanceRating   PerformanceRating

	lastSampleAt     time.Time
	updatesAtLastSample int64
}

const maxObservers = 5000

// Registry holds every live-query observer currently tracked.
type Registry struct {
	client *ingest.Client

	mu        sync.Mutex
	observers map[string]*Observer
	order     []string // insertion order, for oldest-first eviction tie-break
}

// New returns an empty Registry.
func New(client *ingest.Client) *Registry {
	return &Registry{client: client, observers: make(map[string]*Observer)}
}

// Register adds a newly created observer handle, evicting per spec
// §4.4 "Eviction" if the registry is at capacity first.
func (r *Registry) Register(o *Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.observers) >= maxObservers {
		r.evictLocked()
	}
	o.lastSampleAt = o.CreatedAt
	r.observers[o.ID] = o
	r.order = append(r.order, o.ID)
}

// evictLocked removes 10% of capacity, preferring stopped observers
// then oldest-by-createdAt (spec §4.4, §8 property 12). Must be
// called with r.mu held.
func (r *Registry) evictLocked() {
	toEvict := maxObservers / 10
	if toEvict < 1 {
		toEvict = 1
	}

	candidates := make([]*Observer, 0, len(r.observers))
	for _, o := range r.observers {
		candidates = append(candidates, o)
	}
	sort.Slice(candidates, func(i, j int) bool {
		si, sj := candidates[i].Status, candidates[j].Status
		if si != sj {
			return si == StatusStopped // stopped sorts first
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	for i := 0; i < toEvict && i < len(candidates); i++ {
		delete(r.observers, candidates[i].ID)
	}
	r.compactOrderLocked()
}

func (r *Registry) compactOrderLocked() {
	live := r.order[:0]
	for _, id := range r.order {
		if _, ok := r.observers[id]; ok {
			live = append(live, id)
		}
	}
	r.order = live
}

// Stop marks an observer stopped, making it a preferred eviction
// candidate, without removing it from the registry.
func (r *Registry) Stop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.observers[id]; ok {
		o.Status = StatusStopped
	}
}

// RecordUpdate increments the added/changed/removed counters for one
// observed change-set delivered to the observer.
func (r *Registry) RecordUpdate(id string, added, changed, removed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.observers[id]
	if !ok {
		return
	}
	o.AddedCount += added
	o.ChangedCount += changed
	o.RemovedCount += removed
}

// Size reports the current observer count, mainly for tests.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

// sampleRatings recomputes updatesPerMinute and performanceRating for
// every observer relative to now (spec §4.4 "Periodically compute").
func (r *Registry) sampleRatings(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.observers {
		totalUpdates := o.AddedCount + o.ChangedCount + o.RemovedCount
		deltaUpdates := totalUpdates - o.updatesAtLastSample
		deltaMinutes := now.Sub(o.lastSampleAt).Minutes()
		if deltaMinutes > 0 {
			o.UpdatesPerMinute = float64(deltaUpdates) / deltaMinutes
		}
		o.updatesAtLastSample = totalUpdates
		o.lastSampleAt = now
		o.PerformanceRating = ratingFor(o)
	}
}

// ratingFor implements spec §4.4's per-driver-kind thresholds.
func ratingFor(o *Observer) PerformanceRating {
	switch o.DriverKind {
	case DriverChangeStream:
		switch {
		case o.AvgProcessingTimeMS <= 20:
			return RatingOptimal
		case o.AvgProcessingTimeMS <= 50:
			return RatingGood
		default:
			return RatingSlow
		}
	case DriverOplog:
		switch {
		case o.BacklogSize <= 100 && o.AvgProcessingTimeMS <= 20:
			return RatingOptimal
		case o.BacklogSize <= 1000:
			return RatingGood
		default:
			return RatingSlow
		}
	default: // polling
		switch {
		case o.UpdatesPerMinute <= 5:
			return RatingOptimal
		case o.UpdatesPerMinute <= 30:
			return RatingGood
		default:
			return RatingInefficient
		}
	}
}

// snapshotRecord is the wire shape emitted on the liveQueries stream,
// with the selector sanitized before emission (spec §4.4 "Selector
// sanitization before emission").
type snapshotRecord struct {
	ID                  string                 `json:"id"`
	Collection          string                 `json:"collection"`
	Selector            map[string]interface{} `json:"selector"`
	DriverKind          DriverKind             `json:"driverKind"`
	Status              Status                 `json:"status"`
	AddedCount          int64                  `json:"addedCount"`
	ChangedCount        int64                  `json:"changedCount"`
	RemovedCount        int64                  `json:"removedCount"`
	AvgProcessingTimeMS float64                `json:"avgProcessingTimeMs"`
	BacklogSize         int                    `json:"backlogSize"`
	UpdatesPerMinute    float64                `json:"updatesPerMinute"`
	PerformanceRating   PerformanceRating      `json:"performanceRating"`
}

// Start begins the periodic rating/emission loop.
func (r *Registry) Start(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				r.sampleRatings(now)
				r.emit()
			case <-stopCh:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stopCh) }) }
}

func (r *Registry) emit() {
	if r.client == nil {
		return
	}
	r.mu.Lock()
	records := make([]snapshotRecord, 0, len(r.observers))
	for _, o := range r.observers {
		records = append(records, snapshotRecord{
			ID:                  o.ID,
			Collection:          o.Collection,
			Selector:            tracer.SanitizeSelector(o.Selector),
			DriverKind:          o.DriverKind,
			Status:              o.Status,
			AddedCount:          o.AddedCount,
			ChangedCount:        o.ChangedCount,
			RemovedCount:        o.RemovedCount,
			AvgProcessingTimeMS: o.AvgProcessingTimeMS,
			BacklogSize:         o.BacklogSize,
			UpdatesPerMinute:    o.UpdatesPerMinute,
			PerformanceRating:   o.PerformanceRating,
		})
	}
	r.mu.Unlock()
	for _, rec := range records {
		r.client.Submit(ingest.StreamLiveQueries, rec)
	}
}
