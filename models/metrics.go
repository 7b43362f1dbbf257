// Package models defines the data structures shared by the monitoring packages.
package models

import "time"

// SystemMetrics represents a complete snapshot of system metrics at a given
// point in time. A snapshot is immutable once published; holders of history
// receive clones.
type SystemMetrics struct {
	Timestamp time.Time `json:"timestamp"`
	// CPUPercent is the overall CPU usage percentage (0-100).
	CPUPercent float64 `json:"cpu_percent"`
	// MemoryPercent is the percentage of RAM used (0-100).
	MemoryPercent float64 `json:"memory_percent"`
	// MemoryAvailableGB is the RAM still available in gigabytes.
	MemoryAvailableGB float64 `json:"memory_available_gb"`
	// DiskUsagePercent is the root filesystem usage percentage (0-100).
	DiskUsagePercent float64 `json:"disk_usage_percent"`
	// DiskFreeGB is the free space on the root filesystem in gigabytes.
	DiskFreeGB float64 `json:"disk_free_gb"`
	// GPUMemoryPercent is the GPU memory usage percentage. Nil when no
	// GPU is present; zero means a GPU with nothing allocated.
	GPUMemoryPercent *float64 `json:"gpu_memory_percent,omitempty"`
	// GPUTemperature is the GPU temperature in Celsius. Nil when no GPU
	// is present.
	GPUTemperature *float64 `json:"gpu_temperature,omitempty"`
	// NetworkBytesSent is the cumulative bytes sent since boot.
	NetworkBytesSent uint64 `json:"network_bytes_sent"`
	// NetworkBytesRecv is the cumulative bytes received since boot.
	NetworkBytesRecv uint64 `json:"network_bytes_recv"`
	// ProcessCount is the number of running processes.
	ProcessCount int `json:"process_count"`
	// ThreadCount is the total number of threads across all processes.
	ThreadCount int `json:"thread_count"`
	// LoadAverage holds the 1, 5 and 15 minute load averages.
	LoadAverage [3]float64 `json:"load_average"`
}

// ProcessIdent identifies a running process captured in a checkpoint.
type ProcessIdent struct {
	Name string `json:"name"`
	PID  int32  `json:"pid"`
	// CPUPercent is the CPU usage of this process when it was captured.
	CPUPercent float64 `json:"cpu_percent"`
}

// NewSystemMetrics creates a new SystemMetrics instance with the current timestamp.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{Timestamp: time.Now()}
}

// Clone creates a deep copy of the SystemMetrics.
func (m *SystemMetrics) Clone() *SystemMetrics {
	clone := *m

	if m.GPUMemoryPercent != nil {
		v := *m.GPUMemoryPercent
		clone.GPUMemoryPercent = &v
	}
	if m.GPUTemperature != nil {
		v := *m.GPUTemperature
		clone.GPUTemperature = &v
	}

	return &clone
}

// HasGPU reports whether this snapshot carries GPU readings.
func (m *SystemMetrics) HasGPU() bool {
	return m.GPUMemoryPercent != nil
}
