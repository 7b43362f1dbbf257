package collector

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/net"
)

// NetworkCollector collects cumulative network I/O counters.
type NetworkCollector struct{}

// NewNetworkCollector creates a new network collector.
func NewNetworkCollector() *NetworkCollector {
	return &NetworkCollector{}
}

// Collect gathers the cumulative bytes sent and received across all
// interfaces since boot. Snapshots carry the raw counters; consumers derive
// rates from consecutive snapshots when they need them.
func (c *NetworkCollector) Collect() (uint64, uint64, error) {
	counters, err := net.IOCounters(false)
	if err != nil {
		return 0, 0, err
	}
	if len(counters) == 0 {
		return 0, 0, fmt.Errorf("no network counters available")
	}

	return counters[0].BytesSent, counters[0].BytesRecv, nil
}
