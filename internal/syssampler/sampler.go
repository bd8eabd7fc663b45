// Package syssampler implements the System Sampler (spec §4.7):
// periodic host and process resource sampling, emitted on the
// systemMetrics stream. The first sample is a baseline and is never
// emitted (spec §4.7).
//
// Grounded on the teacher's watchdog-style periodic sampler
// (cmd/trace-agent/agent.go's watchdog()) for the tick/sample/emit
// shape, and golang.org/x/time/rate for pacing the event-loop-lag
// probe, per DESIGN.md's note that Go has no single-threaded
// event-loop analogue: the closest observable proxy is scheduler
// latency of a dedicated ticker goroutine.
package syssampler

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/time/rate"

	"github.com/skysignal-apm/agent-go/internal/ingest"
	"github.com/skysignal-apm/agent-go/internal/log"
)

const (
	defaultInterval       = 60 * time.Second
	diskCacheTTL          = 5 * time.Minute
	eventLoopLagEWMAAlpha = 0.3
)

// lagProbeCtx bounds the rate limiter's Wait calls; the probe only
// ever stops via stopCh, so a background context is sufficient.
var lagProbeCtx = context.Background()

// Sample is the record emitted on the systemMetrics stream (spec
// §4.7).
type Sample struct {
	Timestamp time.Time `json:"timestamp"`

	CPUPercent float64 `json:"cpuPercent"`

	MemTotalBytes uint64 `json:"memTotalBytes"`
	MemFreeBytes  uint64 `json:"memFreeBytes"`
	MemUsedBytes  uint64 `json:"memUsedBytes"`

	ProcessRSSBytes      uint64 `json:"processRssBytes"`
	ProcessHeapTotal     uint64 `json:"processHeapTotalBytes"`
	ProcessHeapUsed      uint64 `json:"processHeapUsedBytes"`
	ProcessExternalBytes uint64 `json:"processExternalBytes"`

	DiskUsedPercent float64 `json:"diskUsedPercent"`

	NetworkBytesInPerSec  float64 `json:"networkBytesInPerSec"`
	NetworkBytesOutPerSec float64 `json:"networkBytesOutPerSec"`

	ProcessCount int `json:"processCount"`

	EventLoopLagMS float64 `json:"eventLoopLagMs"`

	GCCount         uint32        `json:"gcCount"`
	GCTotalDuration time.Duration `json:"gcTotalDurationMs"`
	GCPauseMS       float64       `json:"gcPauseMs"`
}

// Sampler periodically collects and submits Samples.
type Sampler struct {
	client   *ingest.Client
	interval time.Duration
	proc     *process.Process

	mu            sync.Mutex
	haveBaseline  bool
	lastNetIn     uint64
	lastNetOut    uint64
	lastSampledAt time.Time
	lastNumGC     uint32

	diskMu       sync.Mutex
	diskCachedAt time.Time
	diskCached   float64

	lagEWMA    float64
	lagLimiter *rate.Limiter
	lagCh      chan float64

	stopCh chan struct{}
	once   sync.Once
}

// New returns a Sampler. interval <= 0 uses the spec default (60s).
func New(client *ingest.Client, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = defaultInterval
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Debugf("syssampler: failed to open self process handle: %v", err)
	}
	return &Sampler{
		client:     client,
		interval:   interval,
		proc:       proc,
		lagLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		lagCh:      make(chan float64, 1),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the periodic sampling loop plus a dedicated event-loop
// lag probe goroutine.
func (s *Sampler) Start() {
	go s.runLagProbe()
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop is idempotent.
func (s *Sampler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
}

// runLagProbe fires every second and reports the overshoot past that
// second as a lag observation, smoothed by the caller via EWMA (spec
// §4.7: "measured by a 1 s timer's observed overshoot, smoothed with
// EWMA α=0.3").
func (s *Sampler) runLagProbe() {
	last := time.Now()
	for {
		if err := s.lagLimiter.Wait(lagProbeCtx); err != nil {
			return
		}
		select {
		case <-s.stopCh:
			return
		default:
		}

		now := time.Now()
		overshoot := now.Sub(last) - time.Second
		last = now
		if overshoot < 0 {
			overshoot = 0
		}
		select {
		case s.lagCh <- float64(overshoot.Microseconds()) / 1000.0:
		default:
		}
	}
}

func (s *Sampler) currentLagMS() float64 {
	select {
	case v := <-s.lagCh:
		s.lagEWMA = eventLoopLagEWMAAlpha*v + (1-eventLoopLagEWMAAlpha)*s.lagEWMA
	default:
	}
	return s.lagEWMA
}

func (s *Sampler) tick() {
	sample := s.collect()

	s.mu.Lock()
	first := !s.haveBaseline
	s.haveBaseline = true
	s.mu.Unlock()

	if first {
		log.Debugf("syssampler: discarding baseline sample")
		return
	}
	if s.client != nil {
		s.client.Submit(ingest.StreamSystemMetrics, sample)
	}
}

func (s *Sampler) collect() Sample {
	now := time.Now()
	sample := Sample{Timestamp: now}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		sample.CPUPercent = clamp(percents[0], 0, 100)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		sample.MemTotalBytes = vm.Total
		sample.MemFreeBytes = vm.Free
		sample.MemUsedBytes = vm.Used
	}

	if s.proc != nil {
		if mi, err := s.proc.MemoryInfo(); err == nil {
			sample.ProcessRSSBytes = mi.RSS
		}
	}
	var rt runtime.MemStats
	runtime.ReadMemStats(&rt)
	sample.ProcessHeapTotal = rt.HeapSys
	sample.ProcessHeapUsed = rt.HeapAlloc
	sample.ProcessExternalBytes = rt.OtherSys

	sample.DiskUsedPercent = s.cachedDiskUsage()

	s.mu.Lock()
	if counters, err := net.IOCounters(false); err == nil && len(counters) > 0 {
		elapsed := now.Sub(s.lastSampledAt).Seconds()
		if elapsed > 0 && !s.lastSampledAt.IsZero() {
			sample.NetworkBytesInPerSec = float64(counters[0].BytesRecv-s.lastNetIn) / elapsed
			sample.NetworkBytesOutPerSec = float64(counters[0].BytesSent-s.lastNetOut) / elapsed
		}
		s.lastNetIn = counters[0].BytesRecv
		s.lastNetOut = counters[0].BytesSent
	}
	s.lastSampledAt = now
	s.mu.Unlock()

	if procs, err := process.Pids(); err == nil {
		sample.ProcessCount = len(procs)
	}

	sample.EventLoopLagMS = s.currentLagMS()

	sample.GCCount = rt.NumGC - s.lastNumGC
	var pauseSum uint64
	n := sample.GCCount
	if n > uint32(len(rt.PauseNs)) {
		n = uint32(len(rt.PauseNs))
	}
	for i := uint32(0); i < n; i++ {
		idx := (int(rt.NumGC) - 1 - int(i) + len(rt.PauseNs)) % len(rt.PauseNs)
		pauseSum += rt.PauseNs[idx]
	}
	sample.GCTotalDuration = time.Duration(pauseSum)
	if sample.GCCount > 0 {
		sample.GCPauseMS = float64(pauseSum) / float64(sample.GCCount) / 1e6
	}
	s.lastNumGC = rt.NumGC

	return sample
}

func (s *Sampler) cachedDiskUsage() float64 {
	s.diskMu.Lock()
	defer s.diskMu.Unlock()
	if time.Since(s.diskCachedAt) < diskCacheTTL {
		return s.diskCached
	}
	usage, err := disk.Usage("/")
	if err != nil {
		log.Debugf("syssampler: disk usage probe failed: %v", err)
		return s.diskCached
	}
	s.diskCached = usage.UsedPercent
	s.diskCachedAt = time.Now()
	return s.diskCached
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
