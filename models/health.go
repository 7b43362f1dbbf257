package models

import "time"

// ComponentStatus represents the reported state of a monitored component.
type ComponentStatus string

const (
	StatusOnline   ComponentStatus = "online"
	StatusDegraded ComponentStatus = "degraded"
	StatusOffline  ComponentStatus = "offline"
	StatusError    ComponentStatus = "error"
)

// ComponentHealth is the last known health of one registered component.
type ComponentHealth struct {
	Name string `json:"name"`
	// Status is the outcome of the most recent health check. Components
	// start as offline until their first check completes.
	Status ComponentStatus `json:"status"`
	// LastCheck is when the component was last checked.
	LastCheck time.Time `json:"last_check"`
	// ResponseTime is how long the last check took.
	ResponseTime time.Duration `json:"response_time"`
	// ErrorCount is the number of failed checks since the last success.
	ErrorCount int `json:"error_count"`
	// MemoryUsageMB is the component's self-reported memory usage.
	MemoryUsageMB float64 `json:"memory_usage_mb"`
	// CPUUsagePercent is the component's self-reported CPU usage.
	CPUUsagePercent float64 `json:"cpu_usage_percent"`
	// CustomMetrics holds component-specific gauges, if any.
	CustomMetrics map[string]float64 `json:"custom_metrics,omitempty"`
}

// Clone creates a deep copy of the ComponentHealth.
func (c *ComponentHealth) Clone() *ComponentHealth {
	clone := *c
	if c.CustomMetrics != nil {
		clone.CustomMetrics = make(map[string]float64, len(c.CustomMetrics))
		for k, v := range c.CustomMetrics {
			clone.CustomMetrics[k] = v
		}
	}
	return &clone
}

// AlertSeverity represents how serious an alert is.
type AlertSeverity string

const (
	SeverityGood     AlertSeverity = "good"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
	SeverityFailure  AlertSeverity = "failure"
)

// Rank returns the ordering of the severity: good < warning < critical < failure.
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	case SeverityFailure:
		return 3
	default:
		return 0
	}
}

// HealthAlert represents one alert raised when a threshold is crossed or a
// component reports trouble. While unresolved its severity may rise but
// never falls.
type HealthAlert struct {
	// ID uniquely identifies the alert.
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Severity  AlertSeverity `json:"severity"`
	// Component names what the alert is about ("system" for host metrics).
	Component string `json:"component"`
	// Message is the human-readable description. Component and Message
	// together identify duplicates.
	Message string `json:"message"`
	// Metrics holds the readings that triggered the alert.
	Metrics map[string]float64 `json:"metrics,omitempty"`
	// Resolved indicates the triggering condition has cleared.
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Clone creates a deep copy of the HealthAlert.
func (a *HealthAlert) Clone() *HealthAlert {
	clone := *a
	if a.Metrics != nil {
		clone.Metrics = make(map[string]float64, len(a.Metrics))
		for k, v := range a.Metrics {
			clone.Metrics[k] = v
		}
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		clone.ResolvedAt = &t
	}
	return &clone
}

// OverallStatus is the monitor-wide health classification.
type OverallStatus string

const (
	OverallHealthy  OverallStatus = "healthy"
	OverallDegraded OverallStatus = "degraded"
	OverallCritical OverallStatus = "critical"
)

// HealthSnapshot is the read-only view returned by the monitor's query API.
type HealthSnapshot struct {
	Status OverallStatus `json:"status"`
	// Uptime is how long the monitor has been running.
	Uptime time.Duration `json:"uptime"`
	// Metrics is the most recent sample. It may be stale if sampling is
	// currently failing; nil before the first successful sample.
	Metrics    *SystemMetrics             `json:"metrics,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
	// ActiveAlerts is the number of unresolved alerts.
	ActiveAlerts int `json:"active_alerts"`
	// LastSampleError describes the most recent sampling failure, empty
	// when the last sample succeeded.
	LastSampleError string `json:"last_sample_error,omitempty"`
}
