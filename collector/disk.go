package collector

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskCollector collects usage of the root filesystem.
type DiskCollector struct {
	path string
}

// NewDiskCollector creates a disk collector watching the root mount.
func NewDiskCollector() *DiskCollector {
	return &DiskCollector{path: rootMount()}
}

func rootMount() string {
	if runtime.GOOS == "windows" {
		return "C:\\"
	}
	return "/"
}

// Collect gathers the root filesystem usage percentage and free space in GB.
func (c *DiskCollector) Collect() (float64, float64, error) {
	usage, err := disk.Usage(c.path)
	if err != nil {
		return 0, 0, err
	}

	freeGB := float64(usage.Free) / (1024 * 1024 * 1024)
	return usage.UsedPercent, freeGB, nil
}
