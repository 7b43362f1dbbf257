// Package storage provides thread-safe storage for metrics history.
package storage

import (
	"sync"
	"time"

	"vigil/models"
)

// RingBuffer is a thread-safe circular buffer for storing metrics history.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []*models.SystemMetrics
	head     int // Index where the next element will be written
	count    int // Number of elements in the buffer
	capacity int
}

// NewRingBuffer creates a new RingBuffer with the specified capacity.
// The capacity determines how many metric snapshots can be stored.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingBuffer{
		data:     make([]*models.SystemMetrics, capacity),
		capacity: capacity,
	}
}

// Add adds a new metrics snapshot to the buffer.
// If the buffer is full, the oldest entry is overwritten.
func (rb *RingBuffer) Add(metrics *models.SystemMetrics) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	// Clone the metrics to avoid external modifications
	rb.data[rb.head] = metrics.Clone()
	rb.head = (rb.head + 1) % rb.capacity
	if rb.count < rb.capacity {
		rb.count++
	}
}

// GetLast returns the last n metric snapshots in chronological order.
// If n is greater than the number of stored snapshots, all snapshots are returned.
func (rb *RingBuffer) GetLast(n int) []*models.SystemMetrics {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return rb.lastLocked(n)
}

func (rb *RingBuffer) lastLocked(n int) []*models.SystemMetrics {
	if n <= 0 || rb.count == 0 {
		return nil
	}

	if n > rb.count {
		n = rb.count
	}

	result := make([]*models.SystemMetrics, n)

	// Calculate the starting index for the oldest of the n elements we want
	start := (rb.head - n + rb.capacity) % rb.capacity

	for i := 0; i < n; i++ {
		idx := (start + i) % rb.capacity
		result[i] = rb.data[idx].Clone()
	}

	return result
}

// GetLatest returns the most recent metrics snapshot.
// Returns nil if the buffer is empty.
func (rb *RingBuffer) GetLatest() *models.SystemMetrics {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return nil
	}

	idx := (rb.head - 1 + rb.capacity) % rb.capacity
	return rb.data[idx].Clone()
}

// GetAll returns all stored metrics in chronological order.
func (rb *RingBuffer) GetAll() []*models.SystemMetrics {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return rb.lastLocked(rb.count)
}

// GetSince returns all snapshots whose timestamp falls within the given
// duration before now, in chronological order.
func (rb *RingBuffer) GetSince(d time.Duration) []*models.SystemMetrics {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	all := rb.lastLocked(rb.count)
	if len(all) == 0 {
		return nil
	}

	cutoff := time.Now().Add(-d)
	for i, m := range all {
		if !m.Timestamp.Before(cutoff) {
			return all[i:]
		}
	}
	return nil
}

// Average computes the mean of the gauge fields over the last n snapshots.
// Cumulative counters keep the value of the newest snapshot. GPU fields are
// averaged over the snapshots that carry them and stay absent otherwise.
// Returns nil if no data is available.
func (rb *RingBuffer) Average(n int) *models.SystemMetrics {
	snapshots := rb.GetLast(n)
	if len(snapshots) == 0 {
		return nil
	}

	avg := models.NewSystemMetrics()

	var (
		cpuSum      float64
		memSum      float64
		memAvailSum float64
		diskSum     float64
		diskFreeSum float64
		gpuMemSum   float64
		gpuTempSum  float64
		gpuCount    int
		procSum     int
		threadSum   int
		loadSums    [3]float64
	)

	for _, m := range snapshots {
		cpuSum += m.CPUPercent
		memSum += m.MemoryPercent
		memAvailSum += m.MemoryAvailableGB
		diskSum += m.DiskUsagePercent
		diskFreeSum += m.DiskFreeGB
		procSum += m.ProcessCount
		threadSum += m.ThreadCount
		for i := range loadSums {
			loadSums[i] += m.LoadAverage[i]
		}
		if m.HasGPU() {
			gpuMemSum += *m.GPUMemoryPercent
			if m.GPUTemperature != nil {
				gpuTempSum += *m.GPUTemperature
			}
			gpuCount++
		}
	}

	fn := float64(len(snapshots))
	avg.CPUPercent = cpuSum / fn
	avg.MemoryPercent = memSum / fn
	avg.MemoryAvailableGB = memAvailSum / fn
	avg.DiskUsagePercent = diskSum / fn
	avg.DiskFreeGB = diskFreeSum / fn
	avg.ProcessCount = procSum / len(snapshots)
	avg.ThreadCount = threadSum / len(snapshots)
	for i := range loadSums {
		avg.LoadAverage[i] = loadSums[i] / fn
	}

	latest := snapshots[len(snapshots)-1]
	avg.NetworkBytesSent = latest.NetworkBytesSent
	avg.NetworkBytesRecv = latest.NetworkBytesRecv

	if gpuCount > 0 {
		gm := gpuMemSum / float64(gpuCount)
		gt := gpuTempSum / float64(gpuCount)
		avg.GPUMemoryPercent = &gm
		avg.GPUTemperature = &gt
	}

	return avg
}

// Clear removes all entries from the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for i := range rb.data {
		rb.data[i] = nil
	}
	rb.head = 0
	rb.count = 0
}

// Size returns the number of elements currently in the buffer.
func (rb *RingBuffer) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Capacity returns the maximum capacity of the buffer.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}

// IsFull returns true if the buffer has reached its capacity.
func (rb *RingBuffer) IsFull() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count == rb.capacity
}

// IsEmpty returns true if the buffer has no elements.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count == 0
}
