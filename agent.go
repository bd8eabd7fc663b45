// Package agentgo is the SkySignal in-process APM agent: it wires the
// Ingestion Client, Method Tracer, and the Collector Fleet (pool
// observer, live-query registry, request middleware, session wrapper,
// system sampler, job collector) into one embeddable unit, mirroring
// the shape of the teacher's cmd/trace-agent binary but packaged as a
// library the host application imports and drives directly, since
// SkySignal runs inside the host process rather than as a sidecar.
package agentgo

import (
	"net/http"

	"github.com/skysignal-apm/agent-go/config"
	"github.com/skysignal-apm/agent-go/internal/httpmw"
	"github.com/skysignal-apm/agent-go/internal/ingest"
	"github.com/skysignal-apm/agent-go/internal/jobs"
	"github.com/skysignal-apm/agent-go/internal/livequery"
	"github.com/skysignal-apm/agent-go/internal/log"
	"github.com/skysignal-apm/agent-go/internal/poolobserver"
	"github.com/skysignal-apm/agent-go/internal/session"
	"github.com/skysignal-apm/agent-go/internal/supervisor"
	"github.com/skysignal-apm/agent-go/internal/syssampler"
	"github.com/skysignal-apm/agent-go/internal/tracer"
)

// Agent is the public entry point embedded by a host application.
type Agent struct {
	conf   *config.Config
	client *ingest.Client
	tracer *tracer.Tracer
	sup    *supervisor.Supervisor

	mongoURL, mongoOplogURL string
}

// New validates conf and constructs an Agent, ready to Start. It
// never returns a partially-built Agent: a *config.ConfigError means
// the host should skip calling Start entirely (spec §7 "must never
// crash the host").
func New(conf *config.Config, jobsBackend jobs.Backend) (*Agent, error) {
	log.SetDebug(conf.Debug)

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if !conf.Enabled {
		return &Agent{conf: conf}, nil
	}

	mongoURL, mongoOplogURL := conf.ApplyEnv()

	client := ingest.New(ingest.Options{
		APIKey:          conf.APIKey,
		BaseURL:         conf.Endpoint,
		BatchSize:       conf.BatchSize,
		BatchSizeBytes:  conf.BatchSizeBytes,
		FlushInterval:   conf.FlushInterval,
		TraceSampleRate: conf.TraceSampleRate,
		RUMSampleRate:   conf.RUMSampleRate,
		MaxRetries:      conf.MaxBatchRetries,
		RequestTimeout:  conf.RequestTimeout,
	})

	t := tracer.New(client, conf.AppVersion, conf.BuildHash, conf.MaxArgLength)
	sup := supervisor.New(conf, client, jobsBackend)

	return &Agent{
		conf:          conf,
		client:        client,
		tracer:        t,
		sup:           sup,
		mongoURL:      mongoURL,
		mongoOplogURL: mongoOplogURL,
	}, nil
}

// Start begins every enabled collector. A disabled or invalid Agent
// (conf.Enabled == false) makes Start a no-op, so the host can call it
// unconditionally.
func (a *Agent) Start() {
	if a.sup == nil {
		return
	}
	a.sup.Start()
}

// Stop stops every collector and performs one final flush of the
// Ingestion Client. Safe to call on a disabled Agent.
func (a *Agent) Stop() {
	if a.sup == nil {
		return
	}
	a.sup.Stop()
}

// Tracer returns the Method Tracer used to wrap host method
// invocations (spec §4.2). Returns nil when the agent is disabled;
// callers should treat a nil Tracer as "tracing is off" and skip
// Begin/End calls.
func (a *Agent) Tracer() *tracer.Tracer { return a.tracer }

// HTTPMiddleware wraps next with the Request Middleware (spec §4.5),
// or returns next unchanged if HTTP request collection is disabled.
func (a *Agent) HTTPMiddleware(next http.Handler) http.Handler {
	if a.sup == nil || a.sup.HTTPMW == nil {
		return next
	}
	return httpmw.Wrap(next, a.client, httpmw.Options{
		SampleRate:     a.conf.HTTPSampleRate,
		ExcludePattern: httpmw.CompileExcludePatterns(a.conf.HTTPExcludePatterns),
	})
}

// PoolObserver returns the Pool Observer so the host can feed it
// driver connection-pool events (spec §4.3). Returns nil if disabled.
func (a *Agent) PoolObserver() *poolobserver.Observer {
	if a.sup == nil {
		return nil
	}
	return a.sup.PoolObserver
}

// LiveQueries returns the Live-Query Observer Registry (spec §4.4).
// Returns nil if disabled.
func (a *Agent) LiveQueries() *livequery.Registry {
	if a.sup == nil {
		return nil
	}
	return a.sup.LiveQueries
}

// Sessions returns the Session Wrapper registry (spec §4.6). Returns
// nil if disabled.
func (a *Agent) Sessions() *session.Registry {
	if a.sup == nil {
		return nil
	}
	return a.sup.Sessions
}

// Jobs returns the job-collector (SPEC_FULL.md §3). Returns nil if
// disabled.
func (a *Agent) Jobs() *jobs.Collector {
	if a.sup == nil {
		return nil
	}
	return a.sup.Jobs
}

// SysSampler returns the System Sampler (spec §4.7). Returns nil if
// disabled.
func (a *Agent) SysSampler() *syssampler.Sampler {
	if a.sup == nil {
		return nil
	}
	return a.sup.SysSampler
}

// MongoURL and MongoOplogURL return the MONGO_URL and MONGO_OPLOG_URL
// values read by New; exposed so a host that dials Mongo itself can
// confirm the agent observed the same target. The agent's collectors
// do not read these fields (livequery.ClassifyDriver reads
// MONGO_OPLOG_URL from the environment itself).
func (a *Agent) MongoURL() string      { return a.mongoURL }
func (a *Agent) MongoOplogURL() string { return a.mongoOplogURL }
