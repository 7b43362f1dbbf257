package collector

import (
	"sort"

	"github.com/shirou/gopsutil/v3/process"

	"vigil/models"
)

// ProcessCollector collects process and thread counts.
type ProcessCollector struct {
	topCount int
}

// NewProcessCollector creates a new process collector.
func NewProcessCollector(topCount int) *ProcessCollector {
	if topCount <= 0 {
		topCount = 5
	}
	return &ProcessCollector{
		topCount: topCount,
	}
}

// Collect gathers the number of running processes and the total thread
// count. Processes that disappear mid-scan are skipped.
func (c *ProcessCollector) Collect() (int, int, error) {
	processes, err := process.Processes()
	if err != nil {
		return 0, 0, err
	}

	threads := 0
	for _, p := range processes {
		if n, err := p.NumThreads(); err == nil {
			threads += int(n)
		}
	}

	return len(processes), threads, nil
}

// TopByCPU returns the top n processes by CPU usage.
func (c *ProcessCollector) TopByCPU(n int) []models.ProcessIdent {
	processes, err := process.Processes()
	if err != nil {
		return nil
	}

	idents := make([]models.ProcessIdent, 0, len(processes))
	for _, p := range processes {
		name, err := p.Name()
		if err != nil || name == "" {
			continue
		}

		ident := models.ProcessIdent{Name: name, PID: p.Pid}
		if cpuPercent, err := p.CPUPercent(); err == nil {
			ident.CPUPercent = cpuPercent
		}
		idents = append(idents, ident)
	}

	// Sort by CPU usage (descending)
	sort.Slice(idents, func(i, j int) bool {
		return idents[i].CPUPercent > idents[j].CPUPercent
	})

	if len(idents) > n {
		idents = idents[:n]
	}

	return idents
}
