// Package registry tracks monitored components and runs their health checks.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vigil/config"
	"vigil/logger"
	"vigil/models"
)

// ErrCheckTimeout is recorded when a health check exceeds the check timeout.
var ErrCheckTimeout = errors.New("health check timed out")

// ErrNotRegistered is returned when a component name is unknown.
var ErrNotRegistered = errors.New("component not registered")

// CheckFunc probes one component and reports its status. Returning an
// error marks the component as failing regardless of the result. The
// context carries the per-check deadline.
type CheckFunc func(ctx context.Context) (*CheckResult, error)

// RecoverFunc attempts to bring a failing component back. Optional.
type RecoverFunc func(ctx context.Context) error

// CheckResult is what a healthy check reports back. A zero Status counts
// as online.
type CheckResult struct {
	Status models.ComponentStatus
	// MemoryUsageMB is the component's self-reported memory usage.
	MemoryUsageMB float64
	// CPUUsagePercent is the component's self-reported CPU usage.
	CPUUsagePercent float64
	// Custom holds component-specific gauges.
	Custom map[string]float64
}

type component struct {
	check     CheckFunc
	recoverFn RecoverFunc
	timeout   time.Duration
	health    *models.ComponentHealth
}

// Registry holds the registered components and their last known health.
// Checks run concurrently, one goroutine per component, so a single slow
// check cannot delay the others.
type Registry struct {
	mu           sync.RWMutex
	components   map[string]*component
	checkTimeout time.Duration
	overrides    map[string]time.Duration

	log *logger.Logger
}

// New creates an empty Registry.
func New(cfg *config.MonitoringConfig, log *logger.Logger) *Registry {
	r := &Registry{
		components: make(map[string]*component),
		log:        log,
	}
	r.applyConfig(cfg)
	return r
}

// UpdateConfig applies new check settings, for config hot reload.
func (r *Registry) UpdateConfig(cfg *config.MonitoringConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyConfig(cfg)
}

func (r *Registry) applyConfig(cfg *config.MonitoringConfig) {
	r.checkTimeout = cfg.CheckTimeout
	r.overrides = make(map[string]time.Duration, len(cfg.CheckTimeouts))
	for name, d := range cfg.CheckTimeouts {
		r.overrides[name] = d
	}
}

// timeoutFor resolves a component's effective check deadline. A configured
// per-component override wins over the timeout supplied at registration,
// which wins over the global default.
func (r *Registry) timeoutFor(name string, c *component) time.Duration {
	if d, ok := r.overrides[name]; ok && d > 0 {
		return d
	}
	if c.timeout > 0 {
		return c.timeout
	}
	if r.checkTimeout > 0 {
		return r.checkTimeout
	}
	return 2 * time.Second
}

// Register adds a component under the given name. Components start offline
// until their first check completes. A zero timeout means the configured
// default. Registering an existing name replaces its callbacks and timeout
// but keeps the accumulated health record, so a component cannot shed its
// error count by re-registering. recoverFn may be nil for components with
// no recovery action.
func (r *Registry) Register(name string, check CheckFunc, recoverFn RecoverFunc, timeout time.Duration) error {
	if name == "" {
		return errors.New("component name must not be empty")
	}
	if check == nil {
		return errors.New("check function must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.components[name]; ok {
		existing.check = check
		existing.recoverFn = recoverFn
		existing.timeout = timeout
		r.log.Component(name).Debug("Component re-registered")
		return nil
	}

	r.components[name] = &component{
		check:     check,
		recoverFn: recoverFn,
		timeout:   timeout,
		health: &models.ComponentHealth{
			Name:   name,
			Status: models.StatusOffline,
		},
	}
	r.log.Component(name).Info("Component registered")
	return nil
}

// Unregister removes a component. Returns false if the name is unknown.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.components[name]; !ok {
		return false
	}
	delete(r.components, name)
	r.log.Component(name).Info("Component unregistered")
	return true
}

// Get returns a copy of the component's last known health.
func (r *Registry) Get(name string) (*models.ComponentHealth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.components[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return c.health.Clone(), nil
}

// All returns a copy of every component's last known health, keyed by name.
func (r *Registry) All() map[string]models.ComponentHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]models.ComponentHealth, len(r.components))
	for name, c := range r.components {
		result[name] = *c.health.Clone()
	}
	return result
}

// Count returns the number of registered components.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}

// Recoverer returns the component's recovery callback, or nil when the
// component is unknown or has none.
func (r *Registry) Recoverer(name string) RecoverFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.components[name]; ok {
		return c.recoverFn
	}
	return nil
}

type checkOutcome struct {
	name    string
	result  *CheckResult
	err     error
	elapsed time.Duration
}

// CheckAll runs every component's health check concurrently and applies the
// outcomes. A successful check sets the reported status and resets the
// error count; a failed or timed-out check marks the component as erroring
// and increments it. Returns the updated healths.
func (r *Registry) CheckAll(ctx context.Context) map[string]models.ComponentHealth {
	type job struct {
		check   CheckFunc
		timeout time.Duration
	}

	r.mu.RLock()
	jobs := make(map[string]job, len(r.components))
	for name, c := range r.components {
		jobs[name] = job{check: c.check, timeout: r.timeoutFor(name, c)}
	}
	r.mu.RUnlock()

	outcomes := make(chan checkOutcome, len(jobs))
	var wg sync.WaitGroup

	for name, j := range jobs {
		wg.Add(1)
		go func(name string, j job) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, j.timeout)
			defer cancel()

			start := time.Now()
			result, err := runCheck(checkCtx, j.check)
			outcomes <- checkOutcome{
				name:    name,
				result:  result,
				err:     err,
				elapsed: time.Since(start),
			}
		}(name, j)
	}

	wg.Wait()
	close(outcomes)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for out := range outcomes {
		c, ok := r.components[out.name]
		if !ok {
			// Unregistered while the check was in flight
			continue
		}
		r.applyOutcome(c.health, out, now)
	}

	result := make(map[string]models.ComponentHealth, len(r.components))
	for name, c := range r.components {
		result[name] = *c.health.Clone()
	}
	return result
}

func (r *Registry) applyOutcome(h *models.ComponentHealth, out checkOutcome, now time.Time) {
	h.LastCheck = now
	h.ResponseTime = out.elapsed

	if out.err != nil {
		h.Status = models.StatusError
		h.ErrorCount++
		r.log.Component(h.Name).Warnf("Health check failed (attempt %d): %v", h.ErrorCount, out.err)
		return
	}

	status := models.StatusOnline
	if out.result != nil && out.result.Status != "" {
		status = out.result.Status
	}
	h.Status = status
	h.ErrorCount = 0
	if out.result != nil {
		h.MemoryUsageMB = out.result.MemoryUsageMB
		h.CPUUsagePercent = out.result.CPUUsagePercent
		h.CustomMetrics = out.result.Custom
	}
}

// runCheck executes the check with panic containment and enforces the
// context deadline even when the check ignores its context. A check that
// outlives the deadline keeps running on its own goroutine and its late
// result is discarded.
func runCheck(ctx context.Context, check CheckFunc) (*CheckResult, error) {
	done := make(chan checkOutcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- checkOutcome{err: fmt.Errorf("health check panicked: %v", rec)}
			}
		}()
		result, err := check(ctx)
		done <- checkOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrCheckTimeout
		}
		return nil, ctx.Err()
	}
}
