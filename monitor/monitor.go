// Package monitor drives sampling, health checks, alerting, recovery and
// checkpointing, and exposes the read-only query API over all of it.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"vigil/alerter"
	"vigil/checkpoint"
	"vigil/collector"
	"vigil/config"
	"vigil/logger"
	"vigil/models"
	"vigil/recovery"
	"vigil/registry"
	"vigil/storage"
	"vigil/utils"
)

// sampleFailThreshold is how many consecutive failed sampling passes raise
// the sampling-degraded alert.
const sampleFailThreshold = 3

// Monitor owns the monitoring lifecycle: a fast loop drives sampling,
// component checks, alerting and recovery, while a slow loop retries
// lingering recoveries, persists baselines and writes checkpoints. All
// mutable state is guarded by one mutex and every query returns copies.
type Monitor struct {
	mu  sync.RWMutex
	cfg config.Config

	cfgMgr   *config.Manager
	sampler  *collector.Sampler
	registry *registry.Registry
	alerter  *alerter.Alerter
	recovery *recovery.Coordinator
	store    *checkpoint.Store
	history  *storage.RingBuffer
	baseline *baselineTracker
	log      *logger.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	startTime  time.Time
	lastSample *models.SystemMetrics
	lastErr    error
	failStreak int
	recovering map[string]bool
}

// New wires up a Monitor from the loaded configuration. Nothing runs until
// Start is called.
func New(cfgMgr *config.Manager, log *logger.Logger) (*Monitor, error) {
	cfg := *cfgMgr.Get()

	stateDir, err := cfgMgr.StateDir()
	if err != nil {
		return nil, fmt.Errorf("resolving state directory: %w", err)
	}

	checkpointDir := cfg.Checkpoints.Directory
	if checkpointDir == "" {
		checkpointDir = filepath.Join(stateDir, "checkpoints")
	}
	store, err := checkpoint.NewStore(checkpointDir, cfg.Checkpoints.MaxCheckpoints, log)
	if err != nil {
		return nil, err
	}

	samplerCfg := cfg.Monitoring
	m := &Monitor{
		cfg:        cfg,
		cfgMgr:     cfgMgr,
		sampler:    collector.New(&samplerCfg, log),
		registry:   registry.New(&cfg.Monitoring, log),
		alerter:    alerter.New(&cfg.Alerts, &cfg.Thresholds, log),
		store:      store,
		history:    storage.NewRingBuffer(cfg.Monitoring.HistoryLength),
		baseline:   newBaselineTracker(filepath.Join(stateDir, "baselines.json"), cfg.Monitoring.BaselineWindow, cfg.Monitoring.BaselineAlpha, log),
		log:        log,
		recovering: make(map[string]bool),
	}
	m.recovery = recovery.New(&cfg.Recovery, m.registry, m.alerter, m.probeState, log)
	m.baseline.Load()

	return m, nil
}

// Start begins the monitoring loops. The context bounds the monitor's
// lifetime; cancelling it is equivalent to calling Stop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("monitor already started")
	}
	m.started = true
	m.startTime = time.Now()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.sampler.Init()

	m.wg.Add(2)
	go m.sampleLoop()
	go m.maintenanceLoop()

	m.log.Info("Monitor started")
	return nil
}

// Stop shuts the loops down, writes a final checkpoint and persists the
// baseline. Safe to call once after Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	uptime := time.Since(m.startTime)
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	if m.checkpointsEnabled() {
		if _, err := m.CreateCheckpoint(); err != nil {
			m.log.Warnf("Final checkpoint failed: %v", err)
		}
	}
	if err := m.baseline.Persist(); err != nil {
		m.log.Warnf("Persisting baseline failed: %v", err)
	}
	m.sampler.Close()

	m.log.Infof("Monitor stopped (uptime %s)", utils.FormatUptime(uptime))
}

// sampleLoop runs the fast cycle: sample, check components, evaluate and
// resolve alerts, recover. An interval change from a config reload takes
// effect on the next tick.
func (m *Monitor) sampleLoop() {
	defer m.wg.Done()

	interval := m.sampleInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.tick()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.tick()
			if next := m.sampleInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// maintenanceLoop runs the slow cycle: recovery retries for lingering
// critical alerts, baseline persistence and periodic checkpoints.
func (m *Monitor) maintenanceLoop() {
	defer m.wg.Done()

	interval := m.maintenanceInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.maintain()
			if next := m.maintenanceInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (m *Monitor) tick() {
	sampleCtx, cancel := context.WithTimeout(m.ctx, m.sampleTimeout())
	metrics, err := m.sampler.Sample(sampleCtx)
	cancel()
	if m.ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	if err == nil && metrics != nil {
		// A partial snapshot never becomes the published sample and stays
		// out of the history; the last complete one remains available
		m.lastSample = metrics
		m.history.Add(metrics)
	}
	m.lastErr = err
	if err != nil {
		m.failStreak++
	} else {
		m.failStreak = 0
	}
	streak := m.failStreak
	m.mu.Unlock()

	m.alerter.SetSamplingHealthy(err == nil)
	if err != nil {
		m.log.Warnf("Sampling failed (streak %d): %v", streak, err)
	} else {
		m.log.LogMetrics(metrics)
		m.baseline.Add(metrics)
		m.log.Debugf("Sample: CPU %s | RAM %s (%s free) | Disk %s | Net tx %s rx %s",
			utils.FormatPercent(metrics.CPUPercent),
			utils.FormatPercent(metrics.MemoryPercent),
			utils.FormatGB(metrics.MemoryAvailableGB),
			utils.FormatPercent(metrics.DiskUsagePercent),
			utils.FormatBytes(metrics.NetworkBytesSent),
			utils.FormatBytes(metrics.NetworkBytesRecv))
		if metrics.HasGPU() {
			m.log.Debugf("GPU: VRAM %s | %s",
				utils.FormatPercent(*metrics.GPUMemoryPercent),
				utils.FormatTemperature(*metrics.GPUTemperature))
		}
	}
	if streak >= sampleFailThreshold {
		m.alerter.Raise(alerter.SystemComponent, alerter.MessageSamplingDegraded,
			models.SeverityWarning, map[string]float64{"consecutive_failures": float64(streak)})
	}

	comps := m.registry.CheckAll(m.ctx)
	raised := m.alerter.Evaluate(metrics, comps)

	resMetrics := metrics
	if err != nil {
		// A partial snapshot must never clear a condition
		resMetrics = nil
	}
	resolved := m.alerter.ProcessResolutions(resMetrics, comps)
	purged := m.alerter.GCResolved()
	if resolved > 0 || purged > 0 {
		m.log.Debugf("Alerts: %d resolved, %d purged", resolved, purged)
	}

	m.maybeRecover(raised)
}

func (m *Monitor) maintain() {
	var lingering []*models.HealthAlert
	for _, alert := range m.alerter.Active() {
		if alert.Severity.Rank() >= models.SeverityCritical.Rank() {
			lingering = append(lingering, alert)
		}
	}
	m.maybeRecover(lingering)

	if err := m.baseline.Persist(); err != nil {
		m.log.Warnf("Persisting baseline failed: %v", err)
	}
	if m.checkpointsEnabled() {
		if _, err := m.CreateCheckpoint(); err != nil {
			m.log.Warnf("Periodic checkpoint failed: %v", err)
		}
	}
}

// maybeRecover runs one recovery attempt per critical alert, synchronously
// inside the calling loop's tick. A per-component claim keeps the two loops
// from working the same component at once.
func (m *Monitor) maybeRecover(alerts []*models.HealthAlert) {
	m.mu.RLock()
	enabled := m.cfg.Recovery.Enabled
	m.mu.RUnlock()
	if !enabled {
		return
	}

	for _, alert := range alerts {
		if alert.Severity.Rank() < models.SeverityCritical.Rank() {
			continue
		}

		m.mu.Lock()
		if m.recovering[alert.Component] {
			m.mu.Unlock()
			continue
		}
		m.recovering[alert.Component] = true
		m.mu.Unlock()

		err := m.recovery.Attempt(m.ctx, alert)
		if err != nil && !errors.Is(err, recovery.ErrNoAction) && !errors.Is(err, context.Canceled) {
			m.log.Component(alert.Component).Debugf("Recovery attempt ended: %v", err)
		}

		m.mu.Lock()
		delete(m.recovering, alert.Component)
		m.mu.Unlock()
	}
}

// probeState takes a fresh reading for recovery verification. A failed
// sample yields nil metrics so a partial snapshot can never fake a
// cleared condition.
func (m *Monitor) probeState(ctx context.Context) (*models.SystemMetrics, map[string]models.ComponentHealth) {
	sampleCtx, cancel := context.WithTimeout(ctx, m.sampleTimeout())
	metrics, err := m.sampler.Sample(sampleCtx)
	cancel()
	if err != nil {
		metrics = nil
	}
	return metrics, m.registry.CheckAll(ctx)
}

// CreateCheckpoint captures the current state and writes it to the store.
func (m *Monitor) CreateCheckpoint() (*models.SystemCheckpoint, error) {
	m.mu.RLock()
	cfg := m.cfg
	var metrics *models.SystemMetrics
	if m.lastSample != nil {
		metrics = m.lastSample.Clone()
	}
	var uptime time.Duration
	if !m.startTime.IsZero() {
		uptime = time.Since(m.startTime)
	}
	m.mu.RUnlock()

	cp := &models.SystemCheckpoint{
		Timestamp:  time.Now(),
		Metrics:    metrics,
		Components: m.registry.All(),
		Processes:  m.sampler.TopProcesses(),
		Monitor: models.MonitorState{
			HistoryLength: m.history.Size(),
			ActiveAlerts:  m.alerter.ActiveCount(),
			Baseline:      m.baseline.Current(),
			Uptime:        uptime,
		},
		Config: models.ConfigSnapshot{
			SampleInterval:     cfg.Monitoring.SampleInterval,
			CheckpointInterval: cfg.Checkpoints.Interval,
			Thresholds: map[string]models.ThresholdPair{
				"cpu":             {Warning: cfg.Thresholds.CPU.Warning, Critical: cfg.Thresholds.CPU.Critical},
				"memory":          {Warning: cfg.Thresholds.Memory.Warning, Critical: cfg.Thresholds.Memory.Critical},
				"disk":            {Warning: cfg.Thresholds.Disk.Warning, Critical: cfg.Thresholds.Disk.Critical},
				"gpu_memory":      {Warning: cfg.Thresholds.GPUMemory.Warning, Critical: cfg.Thresholds.GPUMemory.Critical},
				"gpu_temperature": {Warning: cfg.Thresholds.GPUTemperature.Warning, Critical: cfg.Thresholds.GPUTemperature.Critical},
			},
		},
	}

	if err := m.store.Create(cp); err != nil {
		return nil, err
	}
	m.log.Infof("Checkpoint %s created", cp.ID)
	return cp, nil
}

// Restore loads a checkpoint and reapplies its baseline and configuration.
// Metrics history, component healths and alerts always reflect the live
// system and are untouched. On any load error nothing changes.
func (m *Monitor) Restore(id string) error {
	cp, err := m.store.Get(id)
	if err != nil {
		return err
	}

	if cp.Monitor.Baseline != nil {
		if err := m.baseline.Restore(cp.Monitor.Baseline); err != nil {
			m.log.Warnf("Persisting restored baseline failed: %v", err)
		}
	}

	err = m.cfgMgr.Update(func(c *config.Config) {
		if cp.Config.SampleInterval > 0 {
			c.Monitoring.SampleInterval = cp.Config.SampleInterval
		}
		if cp.Config.CheckpointInterval > 0 {
			c.Checkpoints.Interval = cp.Config.CheckpointInterval
		}
		for name, pair := range cp.Config.Thresholds {
			if pair.Warning <= 0 || pair.Critical <= pair.Warning {
				continue
			}
			t := config.Threshold{Warning: pair.Warning, Critical: pair.Critical}
			switch name {
			case "cpu":
				c.Thresholds.CPU = t
			case "memory":
				c.Thresholds.Memory = t
			case "disk":
				c.Thresholds.Disk = t
			case "gpu_memory":
				c.Thresholds.GPUMemory = t
			case "gpu_temperature":
				c.Thresholds.GPUTemperature = t
			}
		}
	})
	if err != nil {
		return fmt.Errorf("applying restored config: %w", err)
	}
	if err := m.cfgMgr.Save(); err != nil {
		m.log.Warnf("Persisting restored config failed: %v", err)
	}

	m.ApplyConfig(m.cfgMgr.Get())
	m.log.Infof("Checkpoint %s restored", id)
	return nil
}

// ApplyConfig pushes a new configuration into every component. Loop
// intervals take effect on their next tick. The history capacity, GPU
// setup and the process count captured in checkpoints stay as they were
// at startup.
func (m *Monitor) ApplyConfig(cfg *config.Config) {
	m.mu.Lock()
	m.cfg = *cfg
	m.mu.Unlock()

	m.alerter.UpdateConfig(&cfg.Alerts, &cfg.Thresholds)
	m.registry.UpdateConfig(&cfg.Monitoring)
	m.recovery.UpdateConfig(&cfg.Recovery)
	m.store.SetLimit(cfg.Checkpoints.MaxCheckpoints)
	m.baseline.SetParams(cfg.Monitoring.BaselineWindow, cfg.Monitoring.BaselineAlpha)
	m.log.Info("Configuration applied")
}

// RegisterComponent adds a component health check, with an optional
// recovery callback. The check deadline is the configured default unless a
// per-component override is set. Takes effect on the next check pass.
func (m *Monitor) RegisterComponent(name string, check registry.CheckFunc, recoverFn registry.RecoverFunc) error {
	return m.registry.Register(name, check, recoverFn, 0)
}

// UnregisterComponent removes a component. Its unresolved alerts
// auto-resolve once the resolution timeout passes.
func (m *Monitor) UnregisterComponent(name string) bool {
	return m.registry.Unregister(name)
}

// OnAlert subscribes a handler to newly raised alerts. Handlers run
// synchronously on the evaluation tick and must not block.
func (m *Monitor) OnAlert(handler alerter.Handler) {
	m.alerter.AddHandler(handler)
}

// Snapshot returns the overall health view.
func (m *Monitor) Snapshot() models.HealthSnapshot {
	m.mu.RLock()
	var metrics *models.SystemMetrics
	if m.lastSample != nil {
		metrics = m.lastSample.Clone()
	}
	var lastErr string
	if m.lastErr != nil {
		lastErr = m.lastErr.Error()
	}
	var uptime time.Duration
	if !m.startTime.IsZero() {
		uptime = time.Since(m.startTime)
	}
	m.mu.RUnlock()

	comps := m.registry.All()
	active := m.alerter.Active()

	return models.HealthSnapshot{
		Status:          overallStatus(comps, active),
		Uptime:          uptime,
		Metrics:         metrics,
		Components:      comps,
		ActiveAlerts:    len(active),
		LastSampleError: lastErr,
	}
}

// overallStatus classifies the system: critical when anything is at
// critical severity or a component errors, degraded on any warning-level
// trouble, healthy otherwise.
func overallStatus(comps map[string]models.ComponentHealth, active []*models.HealthAlert) models.OverallStatus {
	status := models.OverallHealthy

	for _, alert := range active {
		if alert.Severity.Rank() >= models.SeverityCritical.Rank() {
			return models.OverallCritical
		}
		status = models.OverallDegraded
	}
	for _, ch := range comps {
		switch ch.Status {
		case models.StatusError:
			return models.OverallCritical
		case models.StatusDegraded, models.StatusOffline:
			status = models.OverallDegraded
		}
	}
	return status
}

// CurrentMetrics returns the most recent complete sample, nil before the
// first one. The sample may be stale while sampling is failing; check
// LastSampleError.
func (m *Monitor) CurrentMetrics() *models.SystemMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastSample == nil {
		return nil
	}
	return m.lastSample.Clone()
}

// LastSampleError describes the most recent sampling failure, empty when
// the last pass succeeded.
func (m *Monitor) LastSampleError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastErr == nil {
		return ""
	}
	return m.lastErr.Error()
}

// History returns the n most recent complete samples, oldest first.
func (m *Monitor) History(n int) []*models.SystemMetrics {
	return m.history.GetLast(n)
}

// HistorySince returns the complete samples from the last d, oldest first.
func (m *Monitor) HistorySince(d time.Duration) []*models.SystemMetrics {
	return m.history.GetSince(d)
}

// AverageMetrics averages the last n complete samples, nil when empty.
func (m *Monitor) AverageMetrics(n int) *models.SystemMetrics {
	return m.history.Average(n)
}

// Component returns one component's health.
func (m *Monitor) Component(name string) (*models.ComponentHealth, error) {
	return m.registry.Get(name)
}

// Components returns every component's health, keyed by name.
func (m *Monitor) Components() map[string]models.ComponentHealth {
	return m.registry.All()
}

// ActiveAlerts returns the unresolved alerts, oldest first.
func (m *Monitor) ActiveAlerts() []*models.HealthAlert {
	return m.alerter.Active()
}

// AlertHistory returns the most recent alerts, resolved included.
func (m *Monitor) AlertHistory(limit int) []*models.HealthAlert {
	return m.alerter.History(limit)
}

// Baseline returns the current performance baseline, nil before the first
// window completes.
func (m *Monitor) Baseline() *models.PerformanceBaseline {
	return m.baseline.Current()
}

// Checkpoints lists the stored checkpoints, oldest first.
func (m *Monitor) Checkpoints() []models.CheckpointMeta {
	return m.store.List()
}

// Checkpoint loads one stored checkpoint by ID.
func (m *Monitor) Checkpoint(id string) (*models.SystemCheckpoint, error) {
	return m.store.Get(id)
}

// RecoveryHistory returns the most recent recovery attempts.
func (m *Monitor) RecoveryHistory(limit int) []recovery.Record {
	return m.recovery.History(limit)
}

// SystemInfo returns static host information.
func (m *Monitor) SystemInfo() *collector.SystemInfo {
	return m.sampler.SystemInfo()
}

// Uptime returns how long the monitor has been running.
func (m *Monitor) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.startTime.IsZero() {
		return 0
	}
	return time.Since(m.startTime)
}

func (m *Monitor) sampleInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cfg.Monitoring.SampleInterval <= 0 {
		return 5 * time.Second
	}
	return m.cfg.Monitoring.SampleInterval
}

func (m *Monitor) sampleTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cfg.Monitoring.SampleTimeout <= 0 {
		return 3 * time.Second
	}
	return m.cfg.Monitoring.SampleTimeout
}

func (m *Monitor) maintenanceInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cfg.Checkpoints.Interval <= 0 {
		return 5 * time.Minute
	}
	return m.cfg.Checkpoints.Interval
}

func (m *Monitor) checkpointsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Checkpoints.Enabled
}
