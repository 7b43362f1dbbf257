package collector

import (
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
)

// CPUInfo contains static CPU information.
type CPUInfo struct {
	Model   string
	Cores   int
	Threads int
}

// CPUCollector collects CPU usage and load averages.
type CPUCollector struct {
	info     *CPUInfo
	infoOnce sync.Once
}

// NewCPUCollector creates a new CPU collector.
func NewCPUCollector() *CPUCollector {
	return &CPUCollector{}
}

// Collect gathers the overall CPU usage percentage and the load averages.
// Usage is measured against the previous call, so the first reading of a
// process reports zero. Load averages are zero on platforms without them.
func (c *CPUCollector) Collect() (float64, [3]float64, error) {
	var loads [3]float64

	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return 0, loads, err
	}

	var percent float64
	if len(percentages) > 0 {
		percent = percentages[0]
	}

	if avg, err := load.Avg(); err == nil {
		loads = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}

	return percent, loads, nil
}

// GetInfo returns static CPU information.
func (c *CPUCollector) GetInfo() *CPUInfo {
	c.infoOnce.Do(func() {
		c.info = &CPUInfo{}

		infos, err := cpu.Info()
		if err == nil && len(infos) > 0 {
			c.info.Model = infos[0].ModelName
		}

		physical, err := cpu.Counts(false)
		if err == nil {
			c.info.Cores = physical
		}

		logical, err := cpu.Counts(true)
		if err == nil {
			c.info.Threads = logical
		}
	})

	return c.info
}
