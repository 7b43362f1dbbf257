package collector

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// GPUCollector collects GPU memory usage and temperature via NVML.
// Hosts without an NVIDIA GPU or driver fail Init and produce snapshots
// without GPU fields.
type GPUCollector struct {
	mu          sync.Mutex
	device      nvml.Device
	name        string
	initialized bool
}

// NewGPUCollector creates a new GPU collector.
func NewGPUCollector() *GPUCollector {
	return &GPUCollector{}
}

// Init initializes NVML and grabs a handle to the first GPU.
func (c *GPUCollector) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return fmt.Errorf("failed to initialize NVML: %s", nvml.ErrorString(ret))
	}

	device, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		nvml.Shutdown()
		return fmt.Errorf("failed to get GPU handle: %s", nvml.ErrorString(ret))
	}
	c.device = device

	if name, ret := device.GetName(); ret == nvml.SUCCESS {
		c.name = name
	}

	c.initialized = true
	return nil
}

// Collect gathers the GPU memory usage percentage and temperature.
func (c *GPUCollector) Collect() (float64, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return 0, 0, fmt.Errorf("GPU collector not initialized")
	}

	memInfo, ret := c.device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return 0, 0, fmt.Errorf("failed to get GPU memory info: %s", nvml.ErrorString(ret))
	}

	var memPercent float64
	if memInfo.Total > 0 {
		memPercent = float64(memInfo.Used) / float64(memInfo.Total) * 100
	}

	temp, ret := c.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if ret != nvml.SUCCESS {
		return 0, 0, fmt.Errorf("failed to get GPU temperature: %s", nvml.ErrorString(ret))
	}

	return memPercent, float64(temp), nil
}

// Name returns the GPU model name, if known.
func (c *GPUCollector) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Shutdown releases the NVML handle.
func (c *GPUCollector) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return
	}

	nvml.Shutdown()
	c.initialized = false
}
