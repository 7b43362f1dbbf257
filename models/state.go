package models

import "time"

// PerformanceBaseline holds the smoothed reference averages the monitor
// maintains for the host gauges. Baselines move by exponential smoothing,
// so a short spike shifts them only slightly.
type PerformanceBaseline struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	DiskUsagePercent float64 `json:"disk_usage_percent"`
	// LoadAverage tracks the one-minute load average.
	LoadAverage float64 `json:"load_average"`
	// SampleCount is the total number of samples folded in so far.
	SampleCount int       `json:"sample_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone creates a copy of the PerformanceBaseline.
func (b *PerformanceBaseline) Clone() *PerformanceBaseline {
	clone := *b
	return &clone
}

// ThresholdPair is a warning/critical threshold pair for one metric.
type ThresholdPair struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// ConfigSnapshot captures the configuration in effect when a checkpoint was
// taken. Restoring a checkpoint reapplies these values.
type ConfigSnapshot struct {
	SampleInterval     time.Duration            `json:"sample_interval"`
	CheckpointInterval time.Duration            `json:"checkpoint_interval"`
	Thresholds         map[string]ThresholdPair `json:"thresholds"`
}

// Clone creates a deep copy of the ConfigSnapshot.
func (c *ConfigSnapshot) Clone() *ConfigSnapshot {
	clone := *c
	if c.Thresholds != nil {
		clone.Thresholds = make(map[string]ThresholdPair, len(c.Thresholds))
		for k, v := range c.Thresholds {
			clone.Thresholds[k] = v
		}
	}
	return &clone
}

// MonitorState summarizes the monitor's internal counters for a checkpoint.
type MonitorState struct {
	HistoryLength int `json:"history_length"`
	ActiveAlerts  int `json:"active_alerts"`
	// Baseline is the performance baseline at capture time, nil if none
	// has been established yet.
	Baseline *PerformanceBaseline `json:"baseline,omitempty"`
	Uptime   time.Duration        `json:"uptime"`
}

// SystemCheckpoint is a point-in-time capture of the monitor, written to its
// own JSON file. Restoring one reapplies baselines and configuration only;
// metrics history and alert state always reflect the live system.
type SystemCheckpoint struct {
	// ID is derived from the capture time, e.g. "checkpoint_1700000000".
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	// Metrics is the most recent sample at capture time.
	Metrics    *SystemMetrics             `json:"metrics,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
	// Processes lists the top CPU-consuming processes at capture time.
	Processes []ProcessIdent `json:"active_processes,omitempty"`
	Monitor   MonitorState   `json:"monitor"`
	Config    ConfigSnapshot `json:"config"`
}

// CheckpointMeta describes one stored checkpoint without loading its body.
type CheckpointMeta struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}
