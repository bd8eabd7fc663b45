package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/skysignal-apm/agent-go/internal/log"
)

// YamlConfig is the on-disk representation of a subset of Config,
// for hosts that prefer a config file over constructing a Config
// struct programmatically. It mirrors the teacher's YamlAgentConfig /
// merge_yaml.go split between wire format and runtime struct.
type YamlConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
	Enabled  *bool  `yaml:"enabled"`
	Debug    *bool  `yaml:"debug"`

	Host       string `yaml:"host"`
	AppVersion string `yaml:"app_version"`
	BuildHash  string `yaml:"build_hash"`

	BatchSize      int `yaml:"batch_size"`
	BatchSizeBytes int `yaml:"batch_size_bytes"`
	FlushIntervalMS int `yaml:"flush_interval_ms"`

	TraceSampleRate float64 `yaml:"trace_sample_rate"`
	RUMSampleRate   float64 `yaml:"rum_sample_rate"`

	HTTPSampleRate      float64  `yaml:"http_sample_rate"`
	HTTPExcludePatterns []string `yaml:"http_exclude_patterns"`

	MaxArgLength    int  `yaml:"max_arg_length"`
	MaxBatchRetries int  `yaml:"max_batch_retries"`
	RequestTimeoutMS int `yaml:"request_timeout_ms"`

	CollectJobs bool   `yaml:"collect_jobs"`
	JobsPackage string `yaml:"jobs_package"`
}

// newYamlFromBytes parses raw YAML bytes into a YamlConfig, following
// the teacher's newYamlFromBytes.
func newYamlFromBytes(b []byte) (*YamlConfig, error) {
	var yc YamlConfig
	if err := yaml.Unmarshal(b, &yc); err != nil {
		return nil, fmt.Errorf("failed to parse yaml configuration: %s", err)
	}
	return &yc, nil
}

// LoadYaml reads and parses a YAML config file at the given path,
// following the teacher's NewYaml.
func LoadYaml(path string) (*YamlConfig, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return newYamlFromBytes(b)
}

// Merge overlays the non-zero fields of a YamlConfig onto a Config,
// following the teacher's loadYamlConfig: only set fields override
// defaults, and 0/empty is treated as "not configured".
func (c *Config) Merge(yc *YamlConfig) {
	if yc.APIKey != "" {
		c.APIKey = yc.APIKey
	}
	if yc.Endpoint != "" {
		c.Endpoint = yc.Endpoint
	}
	if yc.Enabled != nil {
		c.Enabled = *yc.Enabled
	}
	if yc.Debug != nil {
		c.Debug = *yc.Debug
		log.SetDebug(c.Debug)
	}
	if yc.Host != "" {
		c.Host = yc.Host
	}
	if yc.AppVersion != "" {
		c.AppVersion = yc.AppVersion
	}
	if yc.BuildHash != "" {
		c.BuildHash = yc.BuildHash
	}
	if yc.BatchSize > 0 {
		c.BatchSize = yc.BatchSize
	}
	if yc.BatchSizeBytes > 0 {
		c.BatchSizeBytes = yc.BatchSizeBytes
	}
	if yc.FlushIntervalMS > 0 {
		c.FlushInterval = time.Duration(yc.FlushIntervalMS) * time.Millisecond
	}
	if yc.TraceSampleRate > 0 {
		c.TraceSampleRate = yc.TraceSampleRate
	}
	if yc.RUMSampleRate > 0 {
		c.RUMSampleRate = yc.RUMSampleRate
	}
	if yc.HTTPSampleRate > 0 {
		c.HTTPSampleRate = yc.HTTPSampleRate
	}
	if len(yc.HTTPExcludePatterns) > 0 {
		c.HTTPExcludePatterns = yc.HTTPExcludePatterns
	}
	if yc.MaxArgLength > 0 {
		c.MaxArgLength = yc.MaxArgLength
	}
	if yc.MaxBatchRetries > 0 {
		c.MaxBatchRetries = yc.MaxBatchRetries
	}
	if yc.RequestTimeoutMS > 0 {
		c.RequestTimeout = time.Duration(yc.RequestTimeoutMS) * time.Millisecond
	}
	if yc.CollectJobs {
		c.CollectJobs = true
	}
	if yc.JobsPackage != "" {
		c.JobsPackage = yc.JobsPackage
	}
}
