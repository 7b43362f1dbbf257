package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	m := NewManager()
	if err := m.LoadDefaults(); err != nil {
		t.Fatalf("LoadDefaults failed: %v", err)
	}

	cfg := m.Get()
	if cfg == nil {
		t.Fatal("Expected non-nil config")
	}

	if cfg.Monitoring.SampleInterval != 5*time.Second {
		t.Errorf("Expected sample interval 5s, got %v", cfg.Monitoring.SampleInterval)
	}
	if cfg.Monitoring.HistoryLength != 1000 {
		t.Errorf("Expected history length 1000, got %d", cfg.Monitoring.HistoryLength)
	}
	if cfg.Thresholds.CPU.Critical != 95.0 {
		t.Errorf("Expected CPU critical 95, got %f", cfg.Thresholds.CPU.Critical)
	}
	if cfg.Alerts.ResolutionTimeout != 300*time.Second {
		t.Errorf("Expected resolution timeout 300s, got %v", cfg.Alerts.ResolutionTimeout)
	}
	if cfg.Recovery.MaxAttempts != 3 {
		t.Errorf("Expected max attempts 3, got %d", cfg.Recovery.MaxAttempts)
	}
	if cfg.Checkpoints.MaxCheckpoints != 50 {
		t.Errorf("Expected max checkpoints 50, got %d", cfg.Checkpoints.MaxCheckpoints)
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Expected default config to validate, got %v", errs)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m := NewManager()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected default config file to be created: %v", err)
	}

	// A second manager reads the written file
	m2 := NewManager()
	if err := m2.Load(path); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if m2.Get().Monitoring.SampleInterval != 5*time.Second {
		t.Errorf("Expected sample interval 5s after reload, got %v", m2.Get().Monitoring.SampleInterval)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	m := NewManager()
	if err := m.LoadDefaults(); err != nil {
		t.Fatalf("LoadDefaults failed: %v", err)
	}

	cfg := m.Get()
	cfg.Thresholds.CPU.Critical = 10.0

	if m.Get().Thresholds.CPU.Critical != 95.0 {
		t.Error("Mutating a returned config must not affect the manager")
	}
}

func TestUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m := NewManager()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	err := m.Update(func(c *Config) {
		c.Thresholds.CPU.Warning = 70.0
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := m.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	m2 := NewManager()
	if err := m2.Load(path); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got := m2.Get().Thresholds.CPU.Warning; got != 70.0 {
		t.Errorf("Expected persisted CPU warning 70, got %f", got)
	}
}

func TestValidate(t *testing.T) {
	m := NewManager()
	if err := m.LoadDefaults(); err != nil {
		t.Fatalf("LoadDefaults failed: %v", err)
	}
	cfg := m.Get()

	cfg.Monitoring.SampleInterval = 100 * time.Millisecond
	cfg.Thresholds.CPU = Threshold{Warning: 95, Critical: 80}
	cfg.Recovery.MaxAttempts = 0
	cfg.Logging.Level = "verbose"

	errs := cfg.Validate()
	if len(errs) < 4 {
		t.Errorf("Expected at least 4 validation errors, got %d: %v", len(errs), errs)
	}
}

func TestValidateGPUTemperature(t *testing.T) {
	m := NewManager()
	if err := m.LoadDefaults(); err != nil {
		t.Fatalf("LoadDefaults failed: %v", err)
	}
	cfg := m.Get()

	// Temperature thresholds are in Celsius, not percent, so 110 is legal
	cfg.Thresholds.GPUTemperature = Threshold{Warning: 100, Critical: 110}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Expected no errors for Celsius thresholds, got %v", errs)
	}

	cfg.Thresholds.GPUTemperature = Threshold{Warning: 90, Critical: 80}
	if errs := cfg.Validate(); len(errs) == 0 {
		t.Error("Expected error for inverted temperature thresholds")
	}
}
