package collector

import (
	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryCollector collects memory metrics.
type MemoryCollector struct{}

// NewMemoryCollector creates a new memory collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{}
}

// Collect gathers the RAM usage percentage and the available memory in GB.
func (c *MemoryCollector) Collect() (float64, float64, error) {
	vmStat, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}

	availableGB := float64(vmStat.Available) / (1024 * 1024 * 1024)
	return vmStat.UsedPercent, availableGB, nil
}

// TotalGB returns the total RAM in gigabytes.
func (c *MemoryCollector) TotalGB() (float64, error) {
	vmStat, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return float64(vmStat.Total) / (1024 * 1024 * 1024), nil
}
