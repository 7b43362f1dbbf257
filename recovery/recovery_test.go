package recovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"vigil/alerter"
	"vigil/config"
	"vigil/logger"
	"vigil/models"
	"vigil/registry"
)

func testAlerter() *alerter.Alerter {
	thresholds := &config.ThresholdsConfig{
		CPU:    config.Threshold{Warning: 80, Critical: 95},
		Memory: config.Threshold{Warning: 85, Critical: 95},
		Disk:   config.Threshold{Warning: 85, Critical: 95},
	}
	return alerter.New(&config.AlertsConfig{ResolutionTimeout: time.Hour, HistoryLimit: 100}, thresholds, logger.New())
}

func testRegistry() *registry.Registry {
	return registry.New(&config.MonitoringConfig{CheckTimeout: time.Second}, logger.New())
}

// probeWith returns a probe reporting a fixed component status.
func probeWith(name string, status models.ComponentStatus) ProbeFunc {
	return func(ctx context.Context) (*models.SystemMetrics, map[string]models.ComponentHealth) {
		return nil, map[string]models.ComponentHealth{
			name: {Name: name, Status: status},
		}
	}
}

func testConfig() *config.RecoveryConfig {
	return &config.RecoveryConfig{
		Enabled:       true,
		MaxAttempts:   3,
		Delay:         time.Millisecond,
		AttemptWindow: time.Minute,
		ActionTimeout: time.Second,
	}
}

func TestAttemptSuccess(t *testing.T) {
	al := testAlerter()
	reg := testRegistry()

	recovered := false
	reg.Register("db", func(ctx context.Context) (*registry.CheckResult, error) {
		return &registry.CheckResult{}, nil
	}, func(ctx context.Context) error {
		recovered = true
		return nil
	}, 0)

	c := New(testConfig(), reg, al, probeWith("db", models.StatusOnline), logger.New())

	alert := al.Raise("db", alerter.MessageUnhealthy, models.SeverityCritical, nil)
	if err := c.Attempt(context.Background(), alert); err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}

	if !recovered {
		t.Error("Expected the recovery action to run")
	}
	got, err := al.Get(alert.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Resolved {
		t.Error("Expected the alert to be resolved after successful recovery")
	}
	if count := c.AttemptCount("db"); count != 0 {
		t.Errorf("Expected attempt counter reset to 0, got %d", count)
	}

	history := c.History(0)
	if len(history) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(history))
	}
	if !history[0].Success {
		t.Error("Expected a success record")
	}
	if history[0].Component != "db" {
		t.Errorf("Expected component db, got %s", history[0].Component)
	}
}

func TestAttemptNotCleared(t *testing.T) {
	al := testAlerter()
	reg := testRegistry()
	reg.Register("db", func(ctx context.Context) (*registry.CheckResult, error) {
		return nil, errors.New("still down")
	}, func(ctx context.Context) error {
		return nil
	}, 0)

	c := New(testConfig(), reg, al, probeWith("db", models.StatusError), logger.New())

	alert := al.Raise("db", alerter.MessageUnhealthy, models.SeverityCritical, nil)
	if err := c.Attempt(context.Background(), alert); !errors.Is(err, ErrNotCleared) {
		t.Fatalf("Expected ErrNotCleared, got %v", err)
	}

	got, _ := al.Get(alert.ID)
	if got.Resolved {
		t.Error("Expected the alert to stay active")
	}
	if count := c.AttemptCount("db"); count != 1 {
		t.Errorf("Expected 1 attempt used, got %d", count)
	}
}

func TestAttemptsExhausted(t *testing.T) {
	al := testAlerter()
	reg := testRegistry()

	calls := 0
	reg.Register("db", func(ctx context.Context) (*registry.CheckResult, error) {
		return nil, errors.New("still down")
	}, func(ctx context.Context) error {
		calls++
		return nil
	}, 0)

	cfg := testConfig()
	cfg.MaxAttempts = 2
	c := New(cfg, reg, al, probeWith("db", models.StatusError), logger.New())

	alert := al.Raise("db", alerter.MessageUnhealthy, models.SeverityCritical, nil)

	for i := 0; i < 2; i++ {
		if err := c.Attempt(context.Background(), alert); !errors.Is(err, ErrNotCleared) {
			t.Fatalf("Expected ErrNotCleared on attempt %d, got %v", i+1, err)
		}
	}

	if err := c.Attempt(context.Background(), alert); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("Expected ErrAttemptsExhausted, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected the action to run exactly twice, got %d", calls)
	}

	got, _ := al.Get(alert.ID)
	if got.Severity != models.SeverityFailure {
		t.Errorf("Expected escalation to %s, got %s", models.SeverityFailure, got.Severity)
	}
}

func TestAttemptWindowSlides(t *testing.T) {
	al := testAlerter()
	reg := testRegistry()
	reg.Register("db", func(ctx context.Context) (*registry.CheckResult, error) {
		return nil, errors.New("still down")
	}, func(ctx context.Context) error {
		return nil
	}, 0)

	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.AttemptWindow = 60 * time.Millisecond
	c := New(cfg, reg, al, probeWith("db", models.StatusError), logger.New())

	alert := al.Raise("db", alerter.MessageUnhealthy, models.SeverityCritical, nil)

	if err := c.Attempt(context.Background(), alert); !errors.Is(err, ErrNotCleared) {
		t.Fatalf("Expected ErrNotCleared, got %v", err)
	}
	if err := c.Attempt(context.Background(), alert); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("Expected ErrAttemptsExhausted, got %v", err)
	}

	// Once the window slides past the first attempt the budget frees up
	time.Sleep(80 * time.Millisecond)
	if err := c.Attempt(context.Background(), alert); !errors.Is(err, ErrNotCleared) {
		t.Errorf("Expected ErrNotCleared after the window slid, got %v", err)
	}
}

func TestNoRecoveryAction(t *testing.T) {
	al := testAlerter()
	reg := testRegistry()
	reg.Register("db", func(ctx context.Context) (*registry.CheckResult, error) {
		return &registry.CheckResult{}, nil
	}, nil, 0)

	c := New(testConfig(), reg, al, probeWith("db", models.StatusError), logger.New())

	alert := al.Raise("db", alerter.MessageUnhealthy, models.SeverityCritical, nil)
	if err := c.Attempt(context.Background(), alert); !errors.Is(err, ErrNoAction) {
		t.Fatalf("Expected ErrNoAction, got %v", err)
	}
	if count := c.AttemptCount("db"); count != 0 {
		t.Errorf("Expected no attempts consumed, got %d", count)
	}
	if len(c.History(0)) != 0 {
		t.Error("Expected no history records")
	}
}

func TestSystemMemoryRecovery(t *testing.T) {
	al := testAlerter()
	reg := testRegistry()

	probe := func(ctx context.Context) (*models.SystemMetrics, map[string]models.ComponentHealth) {
		m := models.NewSystemMetrics()
		m.MemoryPercent = 40
		return m, nil
	}
	c := New(testConfig(), reg, al, probe, logger.New())

	alert := al.Raise(alerter.SystemComponent, alerter.MessageMemoryHigh, models.SeverityCritical,
		map[string]float64{"memory_percent": 96})
	if err := c.Attempt(context.Background(), alert); err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}

	got, _ := al.Get(alert.ID)
	if !got.Resolved {
		t.Error("Expected the memory alert to be resolved")
	}
}

func TestSystemCPUHasNoBuiltinAction(t *testing.T) {
	al := testAlerter()
	c := New(testConfig(), testRegistry(), al, probeWith("db", models.StatusOnline), logger.New())

	alert := al.Raise(alerter.SystemComponent, alerter.MessageCPUHigh, models.SeverityCritical, nil)
	if err := c.Attempt(context.Background(), alert); !errors.Is(err, ErrNoAction) {
		t.Errorf("Expected ErrNoAction, got %v", err)
	}
}

func TestWarningsSkipped(t *testing.T) {
	al := testAlerter()
	reg := testRegistry()

	called := false
	reg.Register("db", func(ctx context.Context) (*registry.CheckResult, error) {
		return &registry.CheckResult{}, nil
	}, func(ctx context.Context) error {
		called = true
		return nil
	}, 0)

	c := New(testConfig(), reg, al, probeWith("db", models.StatusDegraded), logger.New())

	alert := al.Raise("db", alerter.MessageUnhealthy, models.SeverityWarning, nil)
	if err := c.Attempt(context.Background(), alert); err != nil {
		t.Fatalf("Expected warnings to be a no-op, got %v", err)
	}
	if called {
		t.Error("Expected the action not to run for a warning")
	}
}

func TestDisabled(t *testing.T) {
	al := testAlerter()
	reg := testRegistry()

	called := false
	reg.Register("db", func(ctx context.Context) (*registry.CheckResult, error) {
		return &registry.CheckResult{}, nil
	}, func(ctx context.Context) error {
		called = true
		return nil
	}, 0)

	cfg := testConfig()
	cfg.Enabled = false
	c := New(cfg, reg, al, probeWith("db", models.StatusError), logger.New())

	alert := al.Raise("db", alerter.MessageUnhealthy, models.SeverityCritical, nil)
	if err := c.Attempt(context.Background(), alert); err != nil {
		t.Fatalf("Expected disabled recovery to be a no-op, got %v", err)
	}
	if called {
		t.Error("Expected the action not to run while disabled")
	}
}

func TestSuccessResetsBudget(t *testing.T) {
	al := testAlerter()
	reg := testRegistry()
	reg.Register("db", func(ctx context.Context) (*registry.CheckResult, error) {
		return &registry.CheckResult{}, nil
	}, func(ctx context.Context) error {
		return nil
	}, 0)

	cfg := testConfig()
	cfg.MaxAttempts = 1
	c := New(cfg, reg, al, probeWith("db", models.StatusOnline), logger.New())

	first := al.Raise("db", alerter.MessageUnhealthy, models.SeverityCritical, nil)
	if err := c.Attempt(context.Background(), first); err != nil {
		t.Fatalf("First attempt failed: %v", err)
	}

	// The success reset the counter, so a later alert gets a fresh budget
	second := al.Raise("db", alerter.MessageUnhealthy, models.SeverityCritical, nil)
	if err := c.Attempt(context.Background(), second); err != nil {
		t.Fatalf("Second attempt failed: %v", err)
	}
}

func TestActionPanicContained(t *testing.T) {
	al := testAlerter()
	reg := testRegistry()
	reg.Register("db", func(ctx context.Context) (*registry.CheckResult, error) {
		return &registry.CheckResult{}, nil
	}, func(ctx context.Context) error {
		panic("recovery exploded")
	}, 0)

	c := New(testConfig(), reg, al, probeWith("db", models.StatusError), logger.New())

	alert := al.Raise("db", alerter.MessageUnhealthy, models.SeverityCritical, nil)
	err := c.Attempt(context.Background(), alert)
	if err == nil {
		t.Fatal("Expected an error from the panicking action")
	}
	if !strings.Contains(err.Error(), "panicked") {
		t.Errorf("Expected a panic error, got %v", err)
	}

	history := c.History(0)
	if len(history) != 1 || history[0].Success {
		t.Errorf("Expected one failed record, got %+v", history)
	}
}

func TestActionTimeoutAbandonsHungAction(t *testing.T) {
	al := testAlerter()
	reg := testRegistry()
	reg.Register("db", func(ctx context.Context) (*registry.CheckResult, error) {
		return &registry.CheckResult{}, nil
	}, func(ctx context.Context) error {
		// Ignores its context entirely
		time.Sleep(10 * time.Second)
		return nil
	}, 0)

	cfg := testConfig()
	cfg.ActionTimeout = 30 * time.Millisecond
	c := New(cfg, reg, al, probeWith("db", models.StatusOnline), logger.New())

	alert := al.Raise("db", alerter.MessageUnhealthy, models.SeverityCritical, nil)

	start := time.Now()
	err := c.Attempt(context.Background(), alert)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrActionTimeout) {
		t.Errorf("Expected ErrActionTimeout, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Expected the hung action to be abandoned promptly, took %s", elapsed)
	}

	history := c.History(0)
	if len(history) != 1 || history[0].Success {
		t.Errorf("Expected one failed record, got %+v", history)
	}
	if count := c.AttemptCount("db"); count != 1 {
		t.Errorf("Expected the attempt to consume budget, got %d", count)
	}
}

func TestDelayAbortsOnContextCancel(t *testing.T) {
	al := testAlerter()
	reg := testRegistry()
	reg.Register("db", func(ctx context.Context) (*registry.CheckResult, error) {
		return &registry.CheckResult{}, nil
	}, func(ctx context.Context) error {
		return nil
	}, 0)

	cfg := testConfig()
	cfg.Delay = 10 * time.Second
	c := New(cfg, reg, al, probeWith("db", models.StatusOnline), logger.New())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	alert := al.Raise("db", alerter.MessageUnhealthy, models.SeverityCritical, nil)

	start := time.Now()
	err := c.Attempt(ctx, alert)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Expected the delay to abort promptly, took %s", elapsed)
	}
}
