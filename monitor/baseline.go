package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"vigil/logger"
	"vigil/models"
)

// baselineTracker maintains the smoothed performance baseline. Samples
// accumulate into a window; each full window folds its average into the
// baseline by exponential smoothing and the first window seeds it.
type baselineTracker struct {
	mu      sync.Mutex
	path    string
	window  int
	alpha   float64
	current *models.PerformanceBaseline

	count     int
	sumCPU    float64
	sumMemory float64
	sumDisk   float64
	sumLoad   float64

	log *logger.Logger
}

func newBaselineTracker(path string, window int, alpha float64, log *logger.Logger) *baselineTracker {
	b := &baselineTracker{
		path: path,
		log:  log,
	}
	b.setParamsLocked(window, alpha)
	return b
}

// SetParams applies new smoothing parameters, for config hot reload.
// Out-of-range values fall back to safe defaults.
func (b *baselineTracker) SetParams(window int, alpha float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setParamsLocked(window, alpha)
}

func (b *baselineTracker) setParamsLocked(window int, alpha float64) {
	if window <= 0 {
		window = 100
	}
	if alpha <= 0 || alpha > 1 {
		alpha = 0.1
	}
	b.window = window
	b.alpha = alpha
}

// Load reads the persisted baseline. A missing file means a fresh start; a
// corrupt file is logged and ignored.
func (b *baselineTracker) Load() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			b.log.Warnf("Reading baseline file failed: %v", err)
		}
		return
	}

	var baseline models.PerformanceBaseline
	if err := json.Unmarshal(data, &baseline); err != nil {
		b.log.Warnf("Baseline file is corrupt, starting fresh: %v", err)
		return
	}

	b.mu.Lock()
	b.current = &baseline
	b.mu.Unlock()
	b.log.Infof("Baseline loaded (%d samples folded in)", baseline.SampleCount)
}

// Add folds one successful sample into the running window. Returns true
// when the window filled and the baseline moved.
func (b *baselineTracker) Add(m *models.SystemMetrics) bool {
	if m == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	b.sumCPU += m.CPUPercent
	b.sumMemory += m.MemoryPercent
	b.sumDisk += m.DiskUsagePercent
	b.sumLoad += m.LoadAverage[0]

	if b.count < b.window {
		return false
	}

	n := float64(b.count)
	avgCPU := b.sumCPU / n
	avgMemory := b.sumMemory / n
	avgDisk := b.sumDisk / n
	avgLoad := b.sumLoad / n

	if b.current == nil {
		b.current = &models.PerformanceBaseline{
			CPUPercent:       avgCPU,
			MemoryPercent:    avgMemory,
			DiskUsagePercent: avgDisk,
			LoadAverage:      avgLoad,
		}
	} else {
		b.current.CPUPercent = b.alpha*avgCPU + (1-b.alpha)*b.current.CPUPercent
		b.current.MemoryPercent = b.alpha*avgMemory + (1-b.alpha)*b.current.MemoryPercent
		b.current.DiskUsagePercent = b.alpha*avgDisk + (1-b.alpha)*b.current.DiskUsagePercent
		b.current.LoadAverage = b.alpha*avgLoad + (1-b.alpha)*b.current.LoadAverage
	}
	b.current.SampleCount += b.count
	b.current.UpdatedAt = time.Now()

	b.count = 0
	b.sumCPU, b.sumMemory, b.sumDisk, b.sumLoad = 0, 0, 0, 0

	b.log.Debugf("Baseline updated: cpu=%.1f mem=%.1f disk=%.1f load=%.2f",
		b.current.CPUPercent, b.current.MemoryPercent, b.current.DiskUsagePercent, b.current.LoadAverage)
	return true
}

// Current returns a copy of the baseline, nil before the first window fills.
func (b *baselineTracker) Current() *models.PerformanceBaseline {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return nil
	}
	return b.current.Clone()
}

// Restore replaces the baseline, typically from a checkpoint, and persists
// it right away.
func (b *baselineTracker) Restore(baseline *models.PerformanceBaseline) error {
	if baseline == nil {
		return nil
	}

	b.mu.Lock()
	b.current = baseline.Clone()
	b.count = 0
	b.sumCPU, b.sumMemory, b.sumDisk, b.sumLoad = 0, 0, 0, 0
	b.mu.Unlock()

	return b.Persist()
}

// Persist writes the baseline atomically. A nil baseline writes nothing.
func (b *baselineTracker) Persist() error {
	b.mu.Lock()
	current := b.current
	if current != nil {
		current = current.Clone()
	}
	b.mu.Unlock()

	if current == nil {
		return nil
	}

	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing baseline: %w", err)
	}

	tmpPath := b.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing baseline file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("committing baseline file: %w", err)
	}
	return nil
}
