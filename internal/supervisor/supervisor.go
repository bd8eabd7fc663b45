// Package supervisor implements the Configuration & Supervisor
// described in SPEC_FULL.md §0/§4/§7: it owns every collector's
// start/stop lifecycle in dependency order and runs the self-watchdog
// that guards the agent's own memory footprint.
//
// Grounded on the teacher's cmd/trace-agent/agent.go Agent.Run/watchdog
// shape: a ticker-driven watchdog loop alongside a set of components
// each exposing Start()/Stop(), started in construction order and
// stopped in reverse. Unlike the teacher's standalone binary, the
// agent lives inside the host application's process (spec §1): on a
// self-watchdog breach it disables itself rather than exiting the
// host, per spec's "must never crash the host" constraint.
package supervisor

import (
	"runtime"
	"sync"
	"time"

	"github.com/skysignal-apm/agent-go/config"
	"github.com/skysignal-apm/agent-go/internal/httpmw"
	"github.com/skysignal-apm/agent-go/internal/ingest"
	"github.com/skysignal-apm/agent-go/internal/jobs"
	"github.com/skysignal-apm/agent-go/internal/livequery"
	"github.com/skysignal-apm/agent-go/internal/log"
	"github.com/skysignal-apm/agent-go/internal/poolobserver"
	"github.com/skysignal-apm/agent-go/internal/session"
	"github.com/skysignal-apm/agent-go/internal/syssampler"
)

const watchdogInterval = 10 * time.Second

// component is any collector the Supervisor owns.
type component interface {
	Start()
	Stop()
}

// tickingComponent is a collector whose Start takes a tick interval
// and Stop takes none (session.Registry).
type tickingComponent interface {
	Start(interval time.Duration)
	Stop()
}

type intervalComponent struct {
	tc       tickingComponent
	interval time.Duration
}

func (i intervalComponent) Start() { i.tc.Start(i.interval) }
func (i intervalComponent) Stop()  { i.tc.Stop() }

// stopFuncComponent adapts a collector whose Start(interval) returns
// its own stop closure instead of exposing a Stop method
// (livequery.Registry).
type stopFuncComponent struct {
	start    func(time.Duration) func()
	interval time.Duration
	stop     func()
}

func (c *stopFuncComponent) Start() { c.stop = c.start(c.interval) }
func (c *stopFuncComponent) Stop() {
	if c.stop != nil {
		c.stop()
	}
}

// Supervisor owns the Ingestion Client and every collector's
// lifecycle, plus the self-watchdog.
type Supervisor struct {
	conf   *config.Config
	client *ingest.Client

	PoolObserver *poolobserver.Observer
	LiveQueries  *livequery.Registry
	Sessions     *session.Registry
	Jobs         *jobs.Collector
	SysSampler   *syssampler.Sampler
	HTTPMW       *httpmw.Middleware

	components []component

	mu       sync.Mutex
	disabled bool
	stopCh   chan struct{}
	once     sync.Once
}

// New builds every collector named in SPEC_FULL.md §0, wired to the
// shared Ingestion Client, in dependency order: the client itself
// first (every collector Submits through it), then each independent
// collector.
func New(conf *config.Config, client *ingest.Client, jobsBackend jobs.Backend) *Supervisor {
	s := &Supervisor{
		conf:   conf,
		client: client,
		stopCh: make(chan struct{}),
	}

	if conf.CollectMongoPool {
		s.PoolObserver = poolobserver.New(client, poolobserver.Options{
			SnapshotInterval:           conf.MongoPoolInterval,
			FixedConnectionMemoryBytes: int(conf.MongoPoolFixedConnectionMemory),
		}, nil)
		s.components = append(s.components, s.PoolObserver)
	}
	if conf.CollectLiveQueries {
		s.LiveQueries = livequery.New(client)
		s.components = append(s.components, &stopFuncComponent{start: s.LiveQueries.Start, interval: conf.LiveQueriesInterval})
	}
	if conf.CollectSessions {
		s.Sessions = session.New(client)
		s.components = append(s.components, intervalComponent{s.Sessions, 30 * time.Second})
	}
	if conf.CollectJobs {
		s.Jobs = jobs.New(client, jobsBackend)
		s.components = append(s.components, jobsComponent{s.Jobs, conf.JobsInterval})
	}
	if conf.CollectSystemMetrics {
		s.SysSampler = syssampler.New(client, conf.SystemMetricsInterval)
		s.components = append(s.components, s.SysSampler)
	}
	if conf.CollectHTTPRequests {
		s.HTTPMW = httpmw.Wrap(nil, client, httpmw.Options{
			SampleRate:     conf.HTTPSampleRate,
			ExcludePattern: httpmw.CompileExcludePatterns(conf.HTTPExcludePatterns),
		})
	}

	return s
}

type jobsComponent struct {
	c        *jobs.Collector
	interval time.Duration
}

func (j jobsComponent) Start() { j.c.StartQueueSampling(j.interval) }
func (j jobsComponent) Stop()  { j.c.Stop() }

// Start begins the Ingestion Client's flush loop, every enabled
// collector, and the self-watchdog, in that order (spec §4.1's client
// must be running before any collector submits to it).
func (s *Supervisor) Start() {
	s.client.Start()
	for _, c := range s.components {
		c.Start()
	}
	go s.runWatchdog()
}

// Stop stops the self-watchdog and every collector in reverse
// dependency order, then stops the Ingestion Client last. The client
// marks itself stopped before its final flush, so records still
// pending at that point are dropped rather than sent. Stop is
// idempotent: only the first call does anything.
func (s *Supervisor) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
		for i := len(s.components) - 1; i >= 0; i-- {
			s.components[i].Stop()
		}
		s.client.Stop()
	})
}

func (s *Supervisor) runWatchdog() {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.checkMemory()
		case <-s.stopCh:
			return
		}
	}
}

// checkMemory disables the agent's own collectors (but never the host
// application) if its self-reported memory footprint exceeds
// maxMemoryMB (spec §6 "maxMemoryMB"). maxMemoryMB <= 0 disables the
// check.
func (s *Supervisor) checkMemory() {
	if s.conf.MaxMemoryMB <= 0 {
		return
	}
	var rt runtime.MemStats
	runtime.ReadMemStats(&rt)
	allocMB := float64(rt.Alloc) / (1 << 20)
	if allocMB <= s.conf.MaxMemoryMB {
		return
	}

	s.mu.Lock()
	already := s.disabled
	s.disabled = true
	s.mu.Unlock()
	if already {
		return
	}

	log.Warnf("agent self-memory %.1fMB exceeds maxMemoryMB=%.1f, disabling collectors", allocMB, s.conf.MaxMemoryMB)
	for i := len(s.components) - 1; i >= 0; i-- {
		s.components[i].Stop()
	}
}

// Disabled reports whether the self-watchdog has shut the agent's
// collectors down.
func (s *Supervisor) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}
