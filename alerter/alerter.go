// Package alerter raises, deduplicates and resolves health alerts.
package alerter

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vigil/config"
	"vigil/logger"
	"vigil/models"
)

// SystemComponent is the component name for host-level alerts.
const SystemComponent = "system"

// Stable alert messages. Component and message together identify an alert
// while it is unresolved, so messages never embed live readings; the
// readings travel in the alert's Metrics map and in the log line.
const (
	MessageCPUHigh          = "CPU usage above threshold"
	MessageMemoryHigh       = "Memory usage above threshold"
	MessageDiskHigh         = "Disk usage above threshold"
	MessageGPUMemoryHigh    = "GPU memory usage above threshold"
	MessageGPUTempHigh      = "GPU temperature above threshold"
	MessageUnhealthy        = "Component health check failing"
	MessageSamplingDegraded = "Metrics sampling degraded"
)

// Handler receives newly raised alerts. Handlers run synchronously on the
// evaluation tick; a panicking handler is recovered and logged.
type Handler func(*models.HealthAlert)

// metricRule binds one host gauge to its threshold pair.
type metricRule struct {
	message   string
	metricKey string
	value     func(*models.SystemMetrics) (float64, bool)
	threshold func(*config.ThresholdsConfig) config.Threshold
}

var metricRules = []metricRule{
	{
		message:   MessageCPUHigh,
		metricKey: "cpu_percent",
		value:     func(m *models.SystemMetrics) (float64, bool) { return m.CPUPercent, true },
		threshold: func(t *config.ThresholdsConfig) config.Threshold { return t.CPU },
	},
	{
		message:   MessageMemoryHigh,
		metricKey: "memory_percent",
		value:     func(m *models.SystemMetrics) (float64, bool) { return m.MemoryPercent, true },
		threshold: func(t *config.ThresholdsConfig) config.Threshold { return t.Memory },
	},
	{
		message:   MessageDiskHigh,
		metricKey: "disk_usage_percent",
		value:     func(m *models.SystemMetrics) (float64, bool) { return m.DiskUsagePercent, true },
		threshold: func(t *config.ThresholdsConfig) config.Threshold { return t.Disk },
	},
	{
		message:   MessageGPUMemoryHigh,
		metricKey: "gpu_memory_percent",
		value: func(m *models.SystemMetrics) (float64, bool) {
			if m.GPUMemoryPercent == nil {
				return 0, false
			}
			return *m.GPUMemoryPercent, true
		},
		threshold: func(t *config.ThresholdsConfig) config.Threshold { return t.GPUMemory },
	},
	{
		message:   MessageGPUTempHigh,
		metricKey: "gpu_temperature",
		value: func(m *models.SystemMetrics) (float64, bool) {
			if m.GPUTemperature == nil {
				return 0, false
			}
			return *m.GPUTemperature, true
		},
		threshold: func(t *config.ThresholdsConfig) config.Threshold { return t.GPUTemperature },
	},
}

// Alerter evaluates metrics and component health against thresholds and
// owns the alert lifecycle: raise, deduplicate, escalate, resolve, purge.
// One mutex guards all state; handlers are invoked outside the lock so
// they may query the Alerter freely.
type Alerter struct {
	mu         sync.Mutex
	thresholds config.ThresholdsConfig
	lifecycle  config.AlertsConfig
	alerts     []*models.HealthAlert
	handlers   []Handler
	samplingOK bool

	log *logger.Logger
}

// New creates an Alerter with the given lifecycle settings and thresholds.
func New(lifecycle *config.AlertsConfig, thresholds *config.ThresholdsConfig, log *logger.Logger) *Alerter {
	return &Alerter{
		thresholds: *thresholds,
		lifecycle:  *lifecycle,
		alerts:     make([]*models.HealthAlert, 0, 64),
		samplingOK: true,
		log:        log,
	}
}

// UpdateConfig swaps in new lifecycle settings and thresholds, for config
// hot reload.
func (a *Alerter) UpdateConfig(lifecycle *config.AlertsConfig, thresholds *config.ThresholdsConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lifecycle = *lifecycle
	a.thresholds = *thresholds
}

// AddHandler adds an alert handler.
func (a *Alerter) AddHandler(handler Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, handler)
}

// SetSamplingHealthy records whether the most recent sampling pass
// succeeded. The sampling-degraded alert resolves only after this turns
// true again.
func (a *Alerter) SetSamplingHealthy(ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samplingOK = ok
}

// Evaluate checks the snapshot and component healths against the rules and
// raises alerts for every crossed threshold. It returns clones of the
// alerts that were newly created or escalated this pass; duplicates of
// alerts already active at the same severity are suppressed.
func (a *Alerter) Evaluate(m *models.SystemMetrics, comps map[string]models.ComponentHealth) []*models.HealthAlert {
	a.mu.Lock()

	var raised []*models.HealthAlert
	var created []*models.HealthAlert

	if m != nil {
		for _, rule := range metricRules {
			value, ok := rule.value(m)
			if !ok {
				continue
			}
			t := rule.threshold(&a.thresholds)

			var severity models.AlertSeverity
			switch {
			case value >= t.Critical:
				severity = models.SeverityCritical
			case value >= t.Warning:
				severity = models.SeverityWarning
			default:
				continue
			}

			metrics := map[string]float64{
				rule.metricKey: value,
				"warning":      t.Warning,
				"critical":     t.Critical,
			}
			alert, isNew := a.raiseLocked(SystemComponent, rule.message, severity, metrics)
			if alert == nil {
				continue
			}
			raised = append(raised, alert.Clone())
			if isNew {
				created = append(created, alert.Clone())
			}
			a.log.Alert(severity, SystemComponent, "%s (%s=%.1f, warning %.1f, critical %.1f)",
				rule.message, rule.metricKey, value, t.Warning, t.Critical)
		}
	}

	for name, ch := range comps {
		var severity models.AlertSeverity
		switch ch.Status {
		case models.StatusError:
			severity = models.SeverityCritical
		case models.StatusDegraded, models.StatusOffline:
			severity = models.SeverityWarning
		default:
			continue
		}

		metrics := map[string]float64{"error_count": float64(ch.ErrorCount)}
		alert, isNew := a.raiseLocked(name, MessageUnhealthy, severity, metrics)
		if alert == nil {
			continue
		}
		raised = append(raised, alert.Clone())
		if isNew {
			created = append(created, alert.Clone())
		}
		a.log.Alert(severity, name, "%s (status=%s, errors=%d)", MessageUnhealthy, ch.Status, ch.ErrorCount)
	}

	handlers := make([]Handler, len(a.handlers))
	copy(handlers, a.handlers)
	a.mu.Unlock()

	for _, alert := range created {
		a.notify(handlers, alert)
	}

	return raised
}

// Raise creates or escalates an alert outside the rule tables, for
// conditions the monitor detects itself. Returns a clone of the raised
// alert, or nil when an identical alert is already active at equal or
// higher severity.
func (a *Alerter) Raise(component, message string, severity models.AlertSeverity, metrics map[string]float64) *models.HealthAlert {
	a.mu.Lock()

	alert, isNew := a.raiseLocked(component, message, severity, metrics)
	if alert == nil {
		a.mu.Unlock()
		return nil
	}
	a.log.Alert(severity, component, "%s", message)

	ret := alert.Clone()
	var forHandlers *models.HealthAlert
	var handlers []Handler
	if isNew {
		forHandlers = alert.Clone()
		handlers = make([]Handler, len(a.handlers))
		copy(handlers, a.handlers)
	}
	a.mu.Unlock()

	if forHandlers != nil {
		a.notify(handlers, forHandlers)
	}
	return ret
}

// raiseLocked implements dedup-or-create. An unresolved alert with the same
// component and message absorbs the new occurrence; a higher severity
// upgrades it in place and counts as raised, since the condition worsened.
// Severity never moves down while unresolved.
func (a *Alerter) raiseLocked(component, message string, severity models.AlertSeverity, metrics map[string]float64) (*models.HealthAlert, bool) {
	if existing := a.findActiveLocked(component, message); existing != nil {
		if severity.Rank() > existing.Severity.Rank() {
			existing.Severity = severity
			existing.Metrics = metrics
			return existing, false
		}
		// Duplicate at same or lower severity; keep readings fresh
		existing.Metrics = metrics
		return nil, false
	}

	alert := &models.HealthAlert{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Severity:  severity,
		Component: component,
		Message:   message,
		Metrics:   metrics,
	}
	a.alerts = append(a.alerts, alert)
	a.trimLocked()

	return alert, true
}

func (a *Alerter) findActiveLocked(component, message string) *models.HealthAlert {
	for _, alert := range a.alerts {
		if !alert.Resolved && alert.Component == component && alert.Message == message {
			return alert
		}
	}
	return nil
}

// notify runs the handlers synchronously. A panicking handler is recovered
// so one bad subscriber cannot take down the evaluation tick.
func (a *Alerter) notify(handlers []Handler, alert *models.HealthAlert) {
	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.log.Errorf("Panic in alert handler: %v", r)
				}
			}()
			handler(alert)
		}()
	}
}

// ProcessResolutions resolves every unresolved alert that is older than the
// resolution timeout and whose triggering condition no longer holds.
// Returns the number of alerts resolved.
func (a *Alerter) ProcessResolutions(m *models.SystemMetrics, comps map[string]models.ComponentHealth) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	resolved := 0

	for _, alert := range a.alerts {
		if alert.Resolved {
			continue
		}
		if now.Sub(alert.Timestamp) < a.lifecycle.ResolutionTimeout {
			continue
		}
		if !a.conditionClearedLocked(alert, m, comps) {
			continue
		}

		a.resolveLocked(alert, now)
		resolved++
	}

	return resolved
}

// ConditionCleared reports whether the alert's triggering condition has
// cleared in the given snapshot. Recovery verification uses the same
// predicate as auto-resolution so "recovered" and "resolved" agree.
func (a *Alerter) ConditionCleared(alert *models.HealthAlert, m *models.SystemMetrics, comps map[string]models.ComponentHealth) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conditionClearedLocked(alert, m, comps)
}

func (a *Alerter) conditionClearedLocked(alert *models.HealthAlert, m *models.SystemMetrics, comps map[string]models.ComponentHealth) bool {
	if alert.Component == SystemComponent && alert.Message == MessageSamplingDegraded {
		return a.samplingOK
	}

	for _, rule := range metricRules {
		if alert.Message != rule.message || alert.Component != SystemComponent {
			continue
		}
		if m == nil {
			return false
		}
		value, ok := rule.value(m)
		if !ok {
			// The reading disappeared, there is nothing left to watch
			return true
		}
		return value < rule.threshold(&a.thresholds).Warning
	}

	if alert.Message == MessageUnhealthy {
		ch, ok := comps[alert.Component]
		if !ok {
			// Component was unregistered
			return true
		}
		return ch.Status == models.StatusOnline
	}

	return false
}

// Resolve marks the alert with the given ID resolved immediately, without
// the resolution-timeout age gate. Used when recovery has verified the
// condition cleared.
func (a *Alerter) Resolve(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, alert := range a.alerts {
		if alert.ID == id && !alert.Resolved {
			a.resolveLocked(alert, time.Now())
			return true
		}
	}
	return false
}

func (a *Alerter) resolveLocked(alert *models.HealthAlert, now time.Time) {
	alert.Resolved = true
	t := now
	alert.ResolvedAt = &t
	a.log.Component(alert.Component).Infof("Alert resolved: %s (active %s)",
		alert.Message, now.Sub(alert.Timestamp).Round(time.Second))
}

// Escalate raises the severity of an active alert. Downgrades are ignored.
func (a *Alerter) Escalate(id string, severity models.AlertSeverity) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, alert := range a.alerts {
		if alert.ID != id || alert.Resolved {
			continue
		}
		if severity.Rank() <= alert.Severity.Rank() {
			return false
		}
		alert.Severity = severity
		a.log.Alert(severity, alert.Component, "Alert escalated: %s", alert.Message)
		return true
	}
	return false
}

// GCResolved drops resolved alerts older than the retention period.
// Returns the number purged.
func (a *Alerter) GCResolved() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-a.lifecycle.ResolvedRetention)
	kept := a.alerts[:0]
	purged := 0

	for _, alert := range a.alerts {
		if alert.Resolved && alert.ResolvedAt != nil && alert.ResolvedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, alert)
	}
	a.alerts = kept

	return purged
}

// trimLocked enforces the in-memory alert cap, dropping the oldest
// resolved alerts first.
func (a *Alerter) trimLocked() {
	limit := a.lifecycle.HistoryLimit
	if limit <= 0 || len(a.alerts) <= limit {
		return
	}

	for len(a.alerts) > limit {
		dropped := false
		for i, alert := range a.alerts {
			if alert.Resolved {
				a.alerts = append(a.alerts[:i], a.alerts[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			a.alerts = a.alerts[1:]
		}
	}
}

// Active returns clones of all unresolved alerts in chronological order.
func (a *Alerter) Active() []*models.HealthAlert {
	a.mu.Lock()
	defer a.mu.Unlock()

	var result []*models.HealthAlert
	for _, alert := range a.alerts {
		if !alert.Resolved {
			result = append(result, alert.Clone())
		}
	}
	return result
}

// ActiveCount returns the number of unresolved alerts.
func (a *Alerter) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := 0
	for _, alert := range a.alerts {
		if !alert.Resolved {
			count++
		}
	}
	return count
}

// History returns clones of the most recent alerts, resolved included.
// A non-positive limit returns everything retained.
func (a *Alerter) History(limit int) []*models.HealthAlert {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := 0
	if limit > 0 && len(a.alerts) > limit {
		start = len(a.alerts) - limit
	}

	result := make([]*models.HealthAlert, 0, len(a.alerts)-start)
	for _, alert := range a.alerts[start:] {
		result = append(result, alert.Clone())
	}
	return result
}

// Get returns a clone of the alert with the given ID.
func (a *Alerter) Get(id string) (*models.HealthAlert, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, alert := range a.alerts {
		if alert.ID == id {
			return alert.Clone(), nil
		}
	}
	return nil, fmt.Errorf("alert %s not found", id)
}
