// Package collector provides one-shot sampling of host-wide system metrics.
package collector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"vigil/config"
	"vigil/logger"
	"vigil/models"
)

// SampleError reports a sampling pass that could not fill every field. The
// partial snapshot is still returned; Stale names the fields to distrust.
type SampleError struct {
	Stale []string
}

func (e *SampleError) Error() string {
	return fmt.Sprintf("sampling incomplete: %s", strings.Join(e.Stale, ", "))
}

// Sampler gathers one SystemMetrics snapshot per call. It holds no history
// and runs no loops; the monitor owns scheduling and storage.
type Sampler struct {
	cfg *config.MonitoringConfig
	log *logger.Logger

	cpu     *CPUCollector
	memory  *MemoryCollector
	disk    *DiskCollector
	network *NetworkCollector
	process *ProcessCollector
	gpu     *GPUCollector
}

// New creates a Sampler with the given configuration.
func New(cfg *config.MonitoringConfig, log *logger.Logger) *Sampler {
	s := &Sampler{
		cfg:     cfg,
		log:     log,
		cpu:     NewCPUCollector(),
		memory:  NewMemoryCollector(),
		disk:    NewDiskCollector(),
		network: NewNetworkCollector(),
		process: NewProcessCollector(cfg.TopProcessCount),
	}

	if cfg.EnableGPU {
		s.gpu = NewGPUCollector()
	}

	return s
}

// Init prepares collectors that need setup. A missing GPU is not an error;
// the sampler simply produces snapshots without GPU fields.
func (s *Sampler) Init() {
	if s.gpu == nil {
		return
	}
	if err := s.gpu.Init(); err != nil {
		s.log.Warnf("GPU monitoring unavailable: %v", err)
		s.gpu = nil
		return
	}
	s.log.Infof("GPU monitoring initialized: %s", s.gpu.Name())
}

// Close releases collector resources.
func (s *Sampler) Close() {
	if s.gpu != nil {
		s.gpu.Shutdown()
	}
}

// sampleResult accumulates sub-collector output for one pass. All access to
// the metrics goes through the mutex so an abandoned pass can be snapshotted
// while stragglers are still writing.
type sampleResult struct {
	mu      sync.Mutex
	metrics *models.SystemMetrics
	stale   []string
	pending map[string]bool
}

func newSampleResult(parts []string) *sampleResult {
	pending := make(map[string]bool, len(parts))
	for _, p := range parts {
		pending[p] = true
	}
	return &sampleResult{
		metrics: models.NewSystemMetrics(),
		pending: pending,
	}
}

func (r *sampleResult) complete(part string, apply func(*models.SystemMetrics)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	apply(r.metrics)
	delete(r.pending, part)
}

func (r *sampleResult) fail(part string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale = append(r.stale, part)
	delete(r.pending, part)
}

// snapshot clones the metrics and lists every part that failed or never
// finished, in stable order.
func (r *sampleResult) snapshot() (*models.SystemMetrics, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stale := append([]string(nil), r.stale...)
	for part := range r.pending {
		stale = append(stale, part)
	}
	sort.Strings(stale)

	return r.metrics.Clone(), stale
}

// Sample gathers one snapshot. Sub-collectors run concurrently; the pass is
// bounded by the configured sample timeout. On timeout or partial failure
// the snapshot is returned together with a *SampleError naming the stale
// fields. The error from ctx wins if the context ends first.
func (s *Sampler) Sample(ctx context.Context) (*models.SystemMetrics, error) {
	parts := []string{"cpu", "memory", "disk", "network", "processes"}
	if s.gpu != nil {
		parts = append(parts, "gpu")
	}
	res := newSampleResult(parts)

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.recoverPanic("cpu", res)
			percent, loads, err := s.cpu.Collect()
			if err != nil {
				s.log.Component("cpu").Debugf("Sample failed: %v", err)
				res.fail("cpu")
				return
			}
			res.complete("cpu", func(m *models.SystemMetrics) {
				m.CPUPercent = percent
				m.LoadAverage = loads
			})
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.recoverPanic("memory", res)
			percent, availGB, err := s.memory.Collect()
			if err != nil {
				s.log.Component("memory").Debugf("Sample failed: %v", err)
				res.fail("memory")
				return
			}
			res.complete("memory", func(m *models.SystemMetrics) {
				m.MemoryPercent = percent
				m.MemoryAvailableGB = availGB
			})
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.recoverPanic("disk", res)
			usedPercent, freeGB, err := s.disk.Collect()
			if err != nil {
				s.log.Component("disk").Debugf("Sample failed: %v", err)
				res.fail("disk")
				return
			}
			res.complete("disk", func(m *models.SystemMetrics) {
				m.DiskUsagePercent = usedPercent
				m.DiskFreeGB = freeGB
			})
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.recoverPanic("network", res)
			sent, recv, err := s.network.Collect()
			if err != nil {
				s.log.Component("network").Debugf("Sample failed: %v", err)
				res.fail("network")
				return
			}
			res.complete("network", func(m *models.SystemMetrics) {
				m.NetworkBytesSent = sent
				m.NetworkBytesRecv = recv
			})
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.recoverPanic("processes", res)
			count, threads, err := s.process.Collect()
			if err != nil {
				s.log.Component("processes").Debugf("Sample failed: %v", err)
				res.fail("processes")
				return
			}
			res.complete("processes", func(m *models.SystemMetrics) {
				m.ProcessCount = count
				m.ThreadCount = threads
			})
		}()

		if s.gpu != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer s.recoverPanic("gpu", res)
				memPercent, temperature, err := s.gpu.Collect()
				if err != nil {
					s.log.Component("gpu").Debugf("Sample failed: %v", err)
					res.fail("gpu")
					return
				}
				res.complete("gpu", func(m *models.SystemMetrics) {
					m.GPUMemoryPercent = &memPercent
					m.GPUTemperature = &temperature
				})
			}()
		}

		wg.Wait()
		close(done)
	}()

	timeout := s.cfg.SampleTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	select {
	case <-done:
	case <-time.After(timeout):
		s.log.Debug("Sample timeout, returning partial metrics")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	metrics, stale := res.snapshot()
	if len(stale) > 0 {
		return metrics, &SampleError{Stale: stale}
	}
	return metrics, nil
}

// TopProcesses returns the current top CPU-consuming processes, for
// checkpoint capture.
func (s *Sampler) TopProcesses() []models.ProcessIdent {
	return s.process.TopByCPU(s.process.topCount)
}

// recoverPanic converts a sub-collector panic into a stale field.
func (s *Sampler) recoverPanic(part string, res *sampleResult) {
	if r := recover(); r != nil {
		s.log.Errorf("Panic in %s collector: %v", part, r)
		res.fail(part)
	}
}

// SystemInfo contains static host information logged at startup.
type SystemInfo struct {
	Hostname   string
	OS         string
	CPUModel   string
	Cores      int
	Threads    int
	TotalRAMGB float64
	GPUName    string
	BootTime   time.Time
}

// SystemInfo returns static host information. Fields that cannot be read
// stay at their zero values.
func (s *Sampler) SystemInfo() *SystemInfo {
	info := &SystemInfo{}

	if hi, err := host.Info(); err == nil {
		info.Hostname = hi.Hostname
		info.OS = fmt.Sprintf("%s %s", hi.Platform, hi.PlatformVersion)
		info.BootTime = time.Unix(int64(hi.BootTime), 0)
	}

	if ci := s.cpu.GetInfo(); ci != nil {
		info.CPUModel = ci.Model
		info.Cores = ci.Cores
		info.Threads = ci.Threads
	}

	if totalGB, err := s.memory.TotalGB(); err == nil {
		info.TotalRAMGB = totalGB
	}

	if s.gpu != nil {
		info.GPUName = s.gpu.Name()
	}

	return info
}
