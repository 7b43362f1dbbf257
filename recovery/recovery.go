// Package recovery attempts automated recovery for critical alerts.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"vigil/alerter"
	"vigil/config"
	"vigil/logger"
	"vigil/models"
	"vigil/registry"
)

// ErrAttemptsExhausted is returned when a component has used up its
// recovery budget inside the rolling attempt window.
var ErrAttemptsExhausted = errors.New("recovery attempts exhausted")

// ErrNoAction is returned when no recovery action exists for the alert.
var ErrNoAction = errors.New("no recovery action available")

// ErrNotCleared is returned when the recovery action ran but the
// triggering condition still holds afterwards.
var ErrNotCleared = errors.New("condition still present after recovery")

// ErrActionTimeout is recorded when a recovery action exceeds the action
// timeout.
var ErrActionTimeout = errors.New("recovery action timed out")

// ProbeFunc takes a fresh reading of the system so the coordinator can
// verify whether a condition cleared. Either return value may be nil or
// empty when the probe itself fails.
type ProbeFunc func(ctx context.Context) (*models.SystemMetrics, map[string]models.ComponentHealth)

// Record describes one completed recovery attempt.
type Record struct {
	Component string        `json:"component"`
	AlertID   string        `json:"alert_id"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

const historyCap = 100

// Coordinator runs recovery actions for critical and failure alerts. Each
// component has a bounded budget of attempts inside a rolling window; once
// the budget is spent the alert escalates to failure and the component is
// left alone until the window slides past the old attempts.
type Coordinator struct {
	mu       sync.Mutex
	cfg      config.RecoveryConfig
	attempts map[string][]time.Time
	history  []Record

	reg    *registry.Registry
	alerts *alerter.Alerter
	probe  ProbeFunc
	log    *logger.Logger
}

// New creates a Coordinator. The probe is called after each recovery
// action, past the configured delay, to decide whether it worked.
func New(cfg *config.RecoveryConfig, reg *registry.Registry, alerts *alerter.Alerter, probe ProbeFunc, log *logger.Logger) *Coordinator {
	return &Coordinator{
		cfg:      *cfg,
		attempts: make(map[string][]time.Time),
		reg:      reg,
		alerts:   alerts,
		probe:    probe,
		log:      log,
	}
}

// UpdateConfig applies new recovery settings, for config hot reload.
func (c *Coordinator) UpdateConfig(cfg *config.RecoveryConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = *cfg
}

// Attempt runs one recovery attempt for the alert: find an action, run it,
// wait for the configured delay, then verify the condition cleared. On
// success the alert is resolved and the component's attempt counter
// resets. When the attempt budget is exhausted the alert escalates to
// failure and ErrAttemptsExhausted is returned.
func (c *Coordinator) Attempt(ctx context.Context, alert *models.HealthAlert) error {
	c.mu.Lock()
	enabled := c.cfg.Enabled
	delay := c.cfg.Delay
	actionTimeout := c.cfg.ActionTimeout
	c.mu.Unlock()

	if !enabled {
		return nil
	}
	if alert == nil || alert.Resolved {
		return nil
	}
	if alert.Severity.Rank() < models.SeverityCritical.Rank() {
		return nil
	}

	action := c.actionFor(alert)
	if action == nil {
		c.log.Component(alert.Component).Debugf("No recovery action for alert: %s", alert.Message)
		return ErrNoAction
	}

	if !c.recordAttempt(alert.Component) {
		c.log.Component(alert.Component).Warnf("Recovery budget exhausted, escalating: %s", alert.Message)
		c.alerts.Escalate(alert.ID, models.SeverityFailure)
		return ErrAttemptsExhausted
	}

	c.log.Component(alert.Component).Infof("Attempting recovery: %s", alert.Message)
	start := time.Now()

	err := runAction(ctx, action, actionTimeout)
	if err == nil {
		err = c.waitDelay(ctx, delay)
	}
	if err == nil {
		m, comps := c.probe(ctx)
		if c.alerts.ConditionCleared(alert, m, comps) {
			c.alerts.Resolve(alert.ID)
			c.resetAttempts(alert.Component)
			c.addRecord(alert, start, nil)
			c.log.Component(alert.Component).Infof("Recovery succeeded after %s", time.Since(start).Round(time.Millisecond))
			return nil
		}
		err = ErrNotCleared
	}

	c.addRecord(alert, start, err)
	c.log.Component(alert.Component).Warnf("Recovery attempt failed: %v", err)
	return err
}

// actionFor picks the recovery action for the alert. Component alerts use
// the callback registered with the component. Host memory pressure has a
// builtin action that returns freed memory to the OS; other host alerts
// have nothing safe to do automatically.
func (c *Coordinator) actionFor(alert *models.HealthAlert) registry.RecoverFunc {
	if alert.Component == alerter.SystemComponent {
		if alert.Message == alerter.MessageMemoryHigh {
			return func(ctx context.Context) error {
				debug.FreeOSMemory()
				return nil
			}
		}
		return nil
	}
	return c.reg.Recoverer(alert.Component)
}

// recordAttempt prunes the component's attempt history to the rolling
// window and reserves one more attempt. Returns false when the budget is
// already spent.
func (c *Coordinator) recordAttempt(component string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-c.cfg.AttemptWindow)

	kept := c.attempts[component][:0]
	for _, t := range c.attempts[component] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= c.cfg.MaxAttempts {
		c.attempts[component] = kept
		return false
	}

	c.attempts[component] = append(kept, now)
	return true
}

func (c *Coordinator) resetAttempts(component string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, component)
}

// AttemptCount returns how many attempts the component has used inside
// the current window.
func (c *Coordinator) AttemptCount(component string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.cfg.AttemptWindow)
	count := 0
	for _, t := range c.attempts[component] {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

func (c *Coordinator) addRecord(alert *models.HealthAlert, start time.Time, err error) {
	rec := Record{
		Component: alert.Component,
		AlertID:   alert.ID,
		Timestamp: start,
		Duration:  time.Since(start),
		Success:   err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, rec)
	if len(c.history) > historyCap {
		c.history = c.history[len(c.history)-historyCap:]
	}
}

// History returns the most recent recovery attempts, newest last. A
// non-positive limit returns everything retained.
func (c *Coordinator) History(limit int) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := 0
	if limit > 0 && len(c.history) > limit {
		start = len(c.history) - limit
	}

	result := make([]Record, len(c.history)-start)
	copy(result, c.history[start:])
	return result
}

// waitDelay sleeps for the post-action delay, aborting early on context
// cancellation.
func (c *Coordinator) waitDelay(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runAction executes the recovery action with panic containment, bounded by
// the action timeout. An action that outlives the deadline keeps running on
// its own goroutine and its result is discarded.
func runAction(ctx context.Context, action registry.RecoverFunc, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Minute
	}
	actionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("recovery action panicked: %v", r)
			}
		}()
		done <- action(actionCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-actionCtx.Done():
		if errors.Is(actionCtx.Err(), context.DeadlineExceeded) {
			return ErrActionTimeout
		}
		return actionCtx.Err()
	}
}
