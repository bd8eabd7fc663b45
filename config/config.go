// Package config holds the agent's configuration surface (§6) and its
// validation rules, modeled after the teacher's config.AgentConfig /
// YamlAgentConfig split between a runtime struct and an optional
// on-disk YAML representation.
package config

import (
	"fmt"
	"os"
	"time"
)

// ExplainVerbosity names an explain-plan detail level. Validate checks
// it, but no agent component reads it: the agent never calls a
// driver's explain() itself (the host's driver is an external
// collaborator per spec §1), and a db Operation's ExplainPlan is
// whatever the host attaches.
type ExplainVerbosity string

const (
	ExplainQueryPlanner     ExplainVerbosity = "queryPlanner"
	ExplainExecutionStats   ExplainVerbosity = "executionStats"
	ExplainAllPlansExecution ExplainVerbosity = "allPlansExecution"
)

// Config is the full set of options recognized by the agent (§6).
type Config struct {
	APIKey   string
	Endpoint string
	Enabled  bool
	Debug    bool

	Host        string
	AppVersion  string
	BuildHash   string

	BatchSize      int
	BatchSizeBytes int
	FlushInterval  time.Duration

	TraceSampleRate    float64
	RUMSampleRate      float64
	IndexUsageSampleRate float64

	ExplainVerbosity     ExplainVerbosity
	ExplainSlowQueriesOnly bool

	SystemMetricsInterval   time.Duration
	MongoPoolInterval       time.Duration
	CollectionStatsInterval time.Duration
	DDPConnectionsInterval  time.Duration
	HTTPRequestsInterval    time.Duration
	LiveQueriesInterval     time.Duration

	HTTPSampleRate      float64
	HTTPExcludePatterns []string

	CaptureIndexUsage     bool
	MaxArgLength          int
	TraceMethodArguments  bool
	TraceMethodOperations bool

	MaxBatchRetries int
	RequestTimeout  time.Duration
	MaxMemoryMB     float64

	MongoPoolFixedConnectionMemory int64

	CollectJobs  bool
	JobsInterval time.Duration
	JobsPackage  string

	// Collect* toggles, one per collector named in §2/§6.
	CollectSystemMetrics  bool
	CollectMongoPool      bool
	CollectionStats       bool
	CollectDDPConnections bool
	CollectHTTPRequests   bool
	CollectLiveQueries    bool
	CollectSessions       bool
}

// Defaults returns a Config populated with the spec's documented
// defaults (§4.1, §4.2, §4.7, §6).
func Defaults() *Config {
	return &Config{
		Enabled:  true,
		Endpoint: "https://agent.skysignal.io",

		BatchSize:      500,
		BatchSizeBytes: 1 << 20, // 1MB
		FlushInterval:  10 * time.Second,

		TraceSampleRate:      1.0,
		RUMSampleRate:        1.0,
		IndexUsageSampleRate: 0.1,

		ExplainVerbosity: ExplainQueryPlanner,

		SystemMetricsInterval:   60 * time.Second,
		MongoPoolInterval:       10 * time.Second,
		CollectionStatsInterval: 5 * time.Minute,
		DDPConnectionsInterval:  10 * time.Second,
		HTTPRequestsInterval:    10 * time.Second,
		LiveQueriesInterval:     10 * time.Second,

		HTTPSampleRate: 1.0,
		HTTPExcludePatterns: []string{
			`^/__meteor__`,
			`^/sockjs/`,
			`^/packages/`,
		},

		MaxArgLength:          1000,
		TraceMethodArguments:  true,
		TraceMethodOperations: true,

		MaxBatchRetries: 3,
		RequestTimeout:  15 * time.Second,

		JobsInterval: 30 * time.Second,

		CollectSystemMetrics:  true,
		CollectMongoPool:      true,
		CollectionStats:       false,
		CollectDDPConnections: true,
		CollectHTTPRequests:   true,
		CollectLiveQueries:    true,
		CollectSessions:       true,
	}
}

// ConfigError marks a fatal validation failure at startup. The agent
// must refuse to start on a ConfigError without ever crashing the
// host (§7).
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func configErrorf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration surface's hard constraints (§6):
// sample rates in [0,1], batchSize >= 1, flushInterval >= 1s.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.APIKey == "" {
		return configErrorf("apiKey is required when the agent is enabled")
	}
	if err := validateRate("traceSampleRate", c.TraceSampleRate); err != nil {
		return err
	}
	if err := validateRate("rumSampleRate", c.RUMSampleRate); err != nil {
		return err
	}
	if err := validateRate("indexUsageSampleRate", c.IndexUsageSampleRate); err != nil {
		return err
	}
	if err := validateRate("httpSampleRate", c.HTTPSampleRate); err != nil {
		return err
	}
	if c.BatchSize < 1 {
		return configErrorf("batchSize must be >= 1, got %d", c.BatchSize)
	}
	if c.FlushInterval < time.Second {
		return configErrorf("flushInterval must be >= 1000ms, got %s", c.FlushInterval)
	}
	switch c.ExplainVerbosity {
	case ExplainQueryPlanner, ExplainExecutionStats, ExplainAllPlansExecution:
	default:
		return configErrorf("explainVerbosity must be one of queryPlanner|executionStats|allPlansExecution, got %q", c.ExplainVerbosity)
	}
	return nil
}

func validateRate(name string, rate float64) error {
	if rate < 0 || rate > 1 {
		return configErrorf("%s must be in [0,1], got %f", name, rate)
	}
	return nil
}

// ApplyEnv fills in fields left unset from the environment variables
// the agent recognizes (§6): APP_VERSION, BUILD_HASH/GIT_SHA,
// MONGO_URL, MONGO_OPLOG_URL. MongoURL/MongoOplogURL are returned
// rather than stored on Config; the agent only exposes them through
// Agent.MongoURL/MongoOplogURL and no collector reads them.
func (c *Config) ApplyEnv() (mongoURL, mongoOplogURL string) {
	if c.AppVersion == "" {
		c.AppVersion = os.Getenv("APP_VERSION")
	}
	if c.BuildHash == "" {
		if v := os.Getenv("BUILD_HASH"); v != "" {
			c.BuildHash = v
		} else {
			c.BuildHash = os.Getenv("GIT_SHA")
		}
	}
	return os.Getenv("MONGO_URL"), os.Getenv("MONGO_OPLOG_URL")
}
