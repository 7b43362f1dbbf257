package storage

import (
	"sync"
	"testing"
	"time"

	"vigil/models"
)

func TestNewRingBuffer(t *testing.T) {
	rb := NewRingBuffer(100)
	if rb.Capacity() != 100 {
		t.Errorf("Expected capacity 100, got %d", rb.Capacity())
	}
	if rb.Size() != 0 {
		t.Errorf("Expected size 0, got %d", rb.Size())
	}
	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty")
	}

	// Test default capacity
	rb2 := NewRingBuffer(0)
	if rb2.Capacity() != 1000 {
		t.Errorf("Expected default capacity 1000, got %d", rb2.Capacity())
	}
}

func TestAdd(t *testing.T) {
	rb := NewRingBuffer(5)

	// Add first element
	m1 := createTestMetrics(50.0, 60.0)
	rb.Add(m1)

	if rb.Size() != 1 {
		t.Errorf("Expected size 1, got %d", rb.Size())
	}

	// Add more elements
	for i := 0; i < 4; i++ {
		rb.Add(createTestMetrics(float64(i*10), float64(i*5)))
	}

	if rb.Size() != 5 {
		t.Errorf("Expected size 5, got %d", rb.Size())
	}

	if !rb.IsFull() {
		t.Error("Expected buffer to be full")
	}

	// Add one more (should overwrite oldest)
	rb.Add(createTestMetrics(99.0, 99.0))

	if rb.Size() != 5 {
		t.Errorf("Expected size 5 after overflow, got %d", rb.Size())
	}

	// Check that the newest is 99%
	latest := rb.GetLatest()
	if latest.CPUPercent != 99.0 {
		t.Errorf("Expected latest CPU 99, got %f", latest.CPUPercent)
	}
}

func TestGetLast(t *testing.T) {
	rb := NewRingBuffer(10)

	// Add 5 elements with CPU usage 10, 20, 30, 40, 50
	for i := 1; i <= 5; i++ {
		rb.Add(createTestMetrics(float64(i*10), float64(i*5)))
	}

	// Get last 3
	results := rb.GetLast(3)
	if len(results) != 3 {
		t.Errorf("Expected 3 results, got %d", len(results))
	}

	// Should be 30, 40, 50 (in order)
	expected := []float64{30, 40, 50}
	for i, m := range results {
		if m.CPUPercent != expected[i] {
			t.Errorf("Expected CPU %f at index %d, got %f", expected[i], i, m.CPUPercent)
		}
	}

	// Test getting more than available
	results = rb.GetLast(100)
	if len(results) != 5 {
		t.Errorf("Expected 5 results when requesting more than available, got %d", len(results))
	}

	// Test getting zero
	results = rb.GetLast(0)
	if results != nil {
		t.Errorf("Expected nil for GetLast(0), got %v", results)
	}
}

func TestGetLatest(t *testing.T) {
	rb := NewRingBuffer(5)

	// Empty buffer
	if rb.GetLatest() != nil {
		t.Error("Expected nil for empty buffer")
	}

	// Add one element
	rb.Add(createTestMetrics(25.0, 50.0))
	latest := rb.GetLatest()
	if latest == nil {
		t.Fatal("Expected non-nil latest")
	}
	if latest.CPUPercent != 25.0 {
		t.Errorf("Expected CPU 25, got %f", latest.CPUPercent)
	}
}

func TestGetAll(t *testing.T) {
	rb := NewRingBuffer(5)

	for i := 1; i <= 3; i++ {
		rb.Add(createTestMetrics(float64(i*10), 50.0))
	}

	all := rb.GetAll()
	if len(all) != 3 {
		t.Errorf("Expected 3 elements, got %d", len(all))
	}
}

func TestGetSince(t *testing.T) {
	rb := NewRingBuffer(10)

	old := createTestMetrics(10.0, 50.0)
	old.Timestamp = time.Now().Add(-time.Hour)
	rb.Add(old)

	for i := 1; i <= 3; i++ {
		rb.Add(createTestMetrics(float64(i*10), 50.0))
	}

	recent := rb.GetSince(time.Minute)
	if len(recent) != 3 {
		t.Fatalf("Expected 3 recent snapshots, got %d", len(recent))
	}
	if recent[0].CPUPercent != 10.0 {
		t.Errorf("Expected oldest recent CPU 10, got %f", recent[0].CPUPercent)
	}

	// Chronological order
	for i := 1; i < len(recent); i++ {
		if recent[i].Timestamp.Before(recent[i-1].Timestamp) {
			t.Error("Expected snapshots in chronological order")
		}
	}

	// A window covering everything returns everything
	all := rb.GetSince(2 * time.Hour)
	if len(all) != 4 {
		t.Errorf("Expected 4 snapshots within 2h, got %d", len(all))
	}
}

func TestAverage(t *testing.T) {
	rb := NewRingBuffer(10)

	// Add 5 elements: CPU 10, 20, 30, 40, 50 (average = 30)
	for i := 1; i <= 5; i++ {
		rb.Add(createTestMetrics(float64(i*10), 50.0))
	}

	avg := rb.Average(5)
	if avg == nil {
		t.Fatal("Expected non-nil average")
	}

	// Average of 10, 20, 30, 40, 50 = 30
	if avg.CPUPercent != 30.0 {
		t.Errorf("Expected average CPU 30, got %f", avg.CPUPercent)
	}
	if avg.MemoryPercent != 50.0 {
		t.Errorf("Expected average memory 50, got %f", avg.MemoryPercent)
	}

	// Test partial average (last 3: 30, 40, 50 = 40)
	avg = rb.Average(3)
	expectedAvg := (30.0 + 40.0 + 50.0) / 3
	if avg.CPUPercent != expectedAvg {
		t.Errorf("Expected average CPU %f, got %f", expectedAvg, avg.CPUPercent)
	}

	// Empty buffer yields nil
	empty := NewRingBuffer(5)
	if empty.Average(3) != nil {
		t.Error("Expected nil average for empty buffer")
	}
}

func TestAverageGPUAbsent(t *testing.T) {
	rb := NewRingBuffer(5)

	// Samples without GPU readings must not fabricate them
	for i := 1; i <= 3; i++ {
		rb.Add(createTestMetrics(float64(i*10), 50.0))
	}

	avg := rb.Average(3)
	if avg.GPUMemoryPercent != nil {
		t.Error("Expected GPU memory to stay absent")
	}

	// Mixed samples average only those with readings
	withGPU := createTestMetrics(40.0, 50.0)
	gm := 30.0
	gt := 60.0
	withGPU.GPUMemoryPercent = &gm
	withGPU.GPUTemperature = &gt
	rb.Add(withGPU)

	avg = rb.Average(4)
	if avg.GPUMemoryPercent == nil {
		t.Fatal("Expected GPU memory average")
	}
	if *avg.GPUMemoryPercent != 30.0 {
		t.Errorf("Expected GPU memory average 30, got %f", *avg.GPUMemoryPercent)
	}
}

func TestClear(t *testing.T) {
	rb := NewRingBuffer(5)

	for i := 0; i < 3; i++ {
		rb.Add(createTestMetrics(float64(i*10), 50.0))
	}

	if rb.Size() != 3 {
		t.Errorf("Expected size 3, got %d", rb.Size())
	}

	rb.Clear()

	if rb.Size() != 0 {
		t.Errorf("Expected size 0 after clear, got %d", rb.Size())
	}
	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty after clear")
	}
	if rb.GetLatest() != nil {
		t.Error("Expected nil after clear")
	}
}

func TestConcurrentAccess(t *testing.T) {
	rb := NewRingBuffer(100)
	var wg sync.WaitGroup

	// Concurrent writers
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rb.Add(createTestMetrics(float64(id*10+j), 50.0))
			}
		}(i)
	}

	// Concurrent readers
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = rb.GetLatest()
				_ = rb.GetLast(10)
				_ = rb.Size()
			}
		}()
	}

	wg.Wait()

	// Should not panic, buffer should be full
	if rb.Size() != 100 {
		t.Errorf("Expected size 100, got %d", rb.Size())
	}
}

func TestOverflow(t *testing.T) {
	rb := NewRingBuffer(3)

	// Add 5 elements (overflow by 2)
	for i := 1; i <= 5; i++ {
		rb.Add(createTestMetrics(float64(i*10), 50.0))
	}

	// Should have 3 elements: 30, 40, 50
	if rb.Size() != 3 {
		t.Errorf("Expected size 3, got %d", rb.Size())
	}

	all := rb.GetAll()
	expected := []float64{30, 40, 50}
	for i, m := range all {
		if m.CPUPercent != expected[i] {
			t.Errorf("Expected CPU %f at index %d, got %f", expected[i], i, m.CPUPercent)
		}
	}
}

func TestClone(t *testing.T) {
	rb := NewRingBuffer(5)

	original := createTestMetrics(50.0, 60.0)
	rb.Add(original)

	// Modify original after adding
	original.CPUPercent = 99.0

	// Retrieved value should still be 50
	retrieved := rb.GetLatest()
	if retrieved.CPUPercent != 50.0 {
		t.Errorf("Clone not working, expected 50, got %f", retrieved.CPUPercent)
	}

	// Modify retrieved value
	retrieved.CPUPercent = 1.0

	// Buffer value should still be 50
	retrieved2 := rb.GetLatest()
	if retrieved2.CPUPercent != 50.0 {
		t.Errorf("Clone on read not working, expected 50, got %f", retrieved2.CPUPercent)
	}
}

func BenchmarkAdd(b *testing.B) {
	rb := NewRingBuffer(1000)
	m := createTestMetrics(50.0, 60.0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rb.Add(m)
	}
}

func BenchmarkGetLatest(b *testing.B) {
	rb := NewRingBuffer(1000)
	for i := 0; i < 1000; i++ {
		rb.Add(createTestMetrics(float64(i%100), 50.0))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = rb.GetLatest()
	}
}

func BenchmarkGetLast(b *testing.B) {
	rb := NewRingBuffer(1000)
	for i := 0; i < 1000; i++ {
		rb.Add(createTestMetrics(float64(i%100), 50.0))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = rb.GetLast(100)
	}
}

func BenchmarkConcurrentReadWrite(b *testing.B) {
	rb := NewRingBuffer(1000)
	for i := 0; i < 1000; i++ {
		rb.Add(createTestMetrics(float64(i%100), 50.0))
	}

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rb.Add(createTestMetrics(50.0, 60.0))
			_ = rb.GetLatest()
		}
	})
}

// Helper function to create test metrics
func createTestMetrics(cpuPercent, memPercent float64) *models.SystemMetrics {
	return &models.SystemMetrics{
		Timestamp:         time.Now(),
		CPUPercent:        cpuPercent,
		MemoryPercent:     memPercent,
		MemoryAvailableGB: 8.0,
		DiskUsagePercent:  40.0,
		DiskFreeGB:        120.0,
		NetworkBytesSent:  1 << 20,
		NetworkBytesRecv:  4 << 20,
		ProcessCount:      200,
		ThreadCount:       1600,
		LoadAverage:       [3]float64{1.0, 0.8, 0.5},
	}
}
