// Package config provides configuration management for the monitor.
package config

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

//go:embed config.yaml
var defaultConfig embed.FS

// Config holds all monitor configuration.
type Config struct {
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Thresholds  ThresholdsConfig  `mapstructure:"thresholds"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Recovery    RecoveryConfig    `mapstructure:"recovery"`
	Checkpoints CheckpointsConfig `mapstructure:"checkpoints"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	// StateDir overrides where baselines and checkpoints are stored.
	// Empty means the configuration directory.
	StateDir string `mapstructure:"state_dir"`
}

// MonitoringConfig holds sampling-related settings.
type MonitoringConfig struct {
	// SampleInterval is how often host metrics are sampled.
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	// SampleTimeout bounds how long one sampling pass may take.
	SampleTimeout time.Duration `mapstructure:"sample_timeout"`
	// CheckTimeout bounds each component health check.
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
	// CheckTimeouts overrides the check timeout for individual components,
	// keyed by component name.
	CheckTimeouts map[string]time.Duration `mapstructure:"check_timeouts"`
	// HistoryLength is how many samples the in-memory history keeps.
	HistoryLength int `mapstructure:"history_length"`
	// BaselineWindow is how many samples are averaged per baseline update.
	BaselineWindow int `mapstructure:"baseline_window"`
	// BaselineAlpha is the smoothing factor for baseline updates (0-1).
	BaselineAlpha float64 `mapstructure:"baseline_alpha"`
	// TopProcessCount is how many top processes checkpoints capture.
	TopProcessCount int `mapstructure:"top_process_count"`
	// EnableGPU enables GPU monitoring (requires NVIDIA GPU with NVML).
	EnableGPU bool `mapstructure:"enable_gpu"`
}

// Threshold is a warning/critical pair for one metric.
type Threshold struct {
	Warning  float64 `mapstructure:"warning"`
	Critical float64 `mapstructure:"critical"`
}

// ThresholdsConfig holds the alert thresholds per metric.
type ThresholdsConfig struct {
	// CPU is the CPU usage threshold in percent.
	CPU Threshold `mapstructure:"cpu"`
	// Memory is the RAM usage threshold in percent.
	Memory Threshold `mapstructure:"memory"`
	// Disk is the root filesystem usage threshold in percent.
	Disk Threshold `mapstructure:"disk"`
	// GPUMemory is the GPU memory usage threshold in percent.
	GPUMemory Threshold `mapstructure:"gpu_memory"`
	// GPUTemperature is the GPU temperature threshold in Celsius.
	GPUTemperature Threshold `mapstructure:"gpu_temperature"`
}

// AlertsConfig holds alert lifecycle settings.
type AlertsConfig struct {
	// ResolutionTimeout is how old an alert must be before it can
	// auto-resolve once its condition clears.
	ResolutionTimeout time.Duration `mapstructure:"resolution_timeout"`
	// ResolvedRetention is how long resolved alerts are kept before
	// they are garbage collected.
	ResolvedRetention time.Duration `mapstructure:"resolved_retention"`
	// HistoryLimit caps how many alerts are kept in memory.
	HistoryLimit int `mapstructure:"history_limit"`
}

// RecoveryConfig holds automatic recovery settings.
type RecoveryConfig struct {
	// Enabled enables automatic recovery attempts.
	Enabled bool `mapstructure:"enabled"`
	// MaxAttempts is the attempt budget per component within AttemptWindow.
	MaxAttempts int `mapstructure:"max_attempts"`
	// Delay is how long to wait after a recovery action before
	// re-checking the triggering condition.
	Delay time.Duration `mapstructure:"delay"`
	// AttemptWindow is the rolling window for counting attempts.
	AttemptWindow time.Duration `mapstructure:"attempt_window"`
	// ActionTimeout bounds how long one recovery action may run.
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
}

// CheckpointsConfig holds checkpoint persistence settings.
type CheckpointsConfig struct {
	// Enabled enables periodic checkpointing.
	Enabled bool `mapstructure:"enabled"`
	// Interval is how often a checkpoint is written.
	Interval time.Duration `mapstructure:"interval"`
	// MaxCheckpoints is how many checkpoint files are retained.
	MaxCheckpoints int `mapstructure:"max_checkpoints"`
	// Directory overrides the checkpoint directory. Empty means
	// "checkpoints" under the state directory.
	Directory string `mapstructure:"directory"`
}

// LoggingConfig holds logging-related settings.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level"`
	// ToFile enables logging to a file.
	ToFile bool `mapstructure:"to_file"`
	// FilePath is the path to the log file (relative to config dir if not absolute).
	FilePath string `mapstructure:"file_path"`
	// CSVExport enables CSV export of metric samples.
	CSVExport bool `mapstructure:"csv_export"`
	// CSVPath is the path to the CSV file.
	CSVPath string `mapstructure:"csv_path"`
	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxAge is the maximum age of log files in days.
	MaxAge int `mapstructure:"max_age"`
	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `mapstructure:"max_backups"`
}

// Manager handles configuration loading, saving and change notification.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	filePath string
}

// NewManager creates a configuration manager. Callers share one manager per
// process and inject it where configuration is needed.
func NewManager() *Manager {
	return &Manager{viper: viper.New()}
}

// Load loads the configuration from the specified file path.
// If the file doesn't exist, it creates a default configuration.
// An empty path resolves to the default location.
func (m *Manager) Load(configPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if configPath == "" {
		p, err := GetDefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to resolve config path: %w", err)
		}
		configPath = p
	}
	m.filePath = configPath

	m.viper.SetConfigType("yaml")
	m.setDefaults()

	m.viper.SetConfigFile(configPath)
	if err := m.viper.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := m.createDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create default config: %w", err)
			}
			if err := m.viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config: %w", err)
			}
		} else {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := m.viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	m.config = cfg

	return nil
}

// LoadDefaults initializes the manager from the embedded defaults without
// touching the filesystem. Used by tests and by callers that manage their
// own persistence.
func (m *Manager) LoadDefaults() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.viper.SetConfigType("yaml")
	m.setDefaults()

	data, err := defaultConfig.ReadFile("config.yaml")
	if err != nil {
		return fmt.Errorf("failed to read embedded config: %w", err)
	}
	if err := m.viper.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to parse embedded config: %w", err)
	}

	cfg := &Config{}
	if err := m.viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	m.config = cfg

	return nil
}

// Save saves the current configuration to the file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.filePath == "" {
		return fmt.Errorf("no config file path set")
	}

	return m.viper.WriteConfig()
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return nil
	}
	cfg := *m.config
	return &cfg
}

// Update applies a modifier to the configuration and pushes the result back
// into viper so a later Save persists it.
func (m *Manager) Update(modifier func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil {
		return fmt.Errorf("configuration not loaded")
	}

	modifier(m.config)

	m.viper.Set("monitoring", m.config.Monitoring)
	m.viper.Set("thresholds", m.config.Thresholds)
	m.viper.Set("alerts", m.config.Alerts)
	m.viper.Set("recovery", m.config.Recovery)
	m.viper.Set("checkpoints", m.config.Checkpoints)
	m.viper.Set("logging", m.config.Logging)
	m.viper.Set("state_dir", m.config.StateDir)

	return nil
}

// Watch starts watching the config file for edits. On every change the new
// configuration is parsed, validated and handed to onChange. Invalid edits
// are ignored and the previous configuration stays in effect.
func (m *Manager) Watch(onChange func(*Config)) {
	m.viper.OnConfigChange(func(_ fsnotify.Event) {
		m.mu.Lock()
		cfg := &Config{}
		if err := m.viper.Unmarshal(cfg); err != nil {
			m.mu.Unlock()
			return
		}
		if errs := cfg.Validate(); len(errs) > 0 {
			m.mu.Unlock()
			return
		}
		m.config = cfg
		m.mu.Unlock()

		if onChange != nil {
			onChange(cfg)
		}
	})
	m.viper.WatchConfig()
}

// StateDir returns the directory for baselines and checkpoints.
func (m *Manager) StateDir() (string, error) {
	cfg := m.Get()
	if cfg != nil && cfg.StateDir != "" {
		return cfg.StateDir, nil
	}
	return GetConfigDir()
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "vigil"), nil
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// setDefaults sets default configuration values.
func (m *Manager) setDefaults() {
	// Monitoring defaults
	m.viper.SetDefault("monitoring.sample_interval", "5s")
	m.viper.SetDefault("monitoring.sample_timeout", "3s")
	m.viper.SetDefault("monitoring.check_timeout", "2s")
	m.viper.SetDefault("monitoring.history_length", 1000)
	m.viper.SetDefault("monitoring.baseline_window", 100)
	m.viper.SetDefault("monitoring.baseline_alpha", 0.1)
	m.viper.SetDefault("monitoring.top_process_count", 5)
	m.viper.SetDefault("monitoring.enable_gpu", true)

	// Threshold defaults
	m.viper.SetDefault("thresholds.cpu.warning", 80.0)
	m.viper.SetDefault("thresholds.cpu.critical", 95.0)
	m.viper.SetDefault("thresholds.memory.warning", 85.0)
	m.viper.SetDefault("thresholds.memory.critical", 95.0)
	m.viper.SetDefault("thresholds.disk.warning", 85.0)
	m.viper.SetDefault("thresholds.disk.critical", 95.0)
	m.viper.SetDefault("thresholds.gpu_memory.warning", 90.0)
	m.viper.SetDefault("thresholds.gpu_memory.critical", 98.0)
	m.viper.SetDefault("thresholds.gpu_temperature.warning", 80.0)
	m.viper.SetDefault("thresholds.gpu_temperature.critical", 90.0)

	// Alert defaults
	m.viper.SetDefault("alerts.resolution_timeout", "300s")
	m.viper.SetDefault("alerts.resolved_retention", "1h")
	m.viper.SetDefault("alerts.history_limit", 500)

	// Recovery defaults
	m.viper.SetDefault("recovery.enabled", true)
	m.viper.SetDefault("recovery.max_attempts", 3)
	m.viper.SetDefault("recovery.delay", "30s")
	m.viper.SetDefault("recovery.attempt_window", "10m")
	m.viper.SetDefault("recovery.action_timeout", "60s")

	// Checkpoint defaults
	m.viper.SetDefault("checkpoints.enabled", true)
	m.viper.SetDefault("checkpoints.interval", "300s")
	m.viper.SetDefault("checkpoints.max_checkpoints", 50)
	m.viper.SetDefault("checkpoints.directory", "")

	// Logging defaults
	m.viper.SetDefault("logging.level", "info")
	m.viper.SetDefault("logging.to_file", true)
	m.viper.SetDefault("logging.file_path", "logs/vigil.log")
	m.viper.SetDefault("logging.csv_export", false)
	m.viper.SetDefault("logging.csv_path", "logs/metrics.csv")
	m.viper.SetDefault("logging.max_size_mb", 10)
	m.viper.SetDefault("logging.max_age", 7)
	m.viper.SetDefault("logging.max_backups", 5)

	m.viper.SetDefault("state_dir", "")
}

// createDefaultConfig writes the embedded default configuration file.
func (m *Manager) createDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := defaultConfig.ReadFile("config.yaml")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate monitoring config
	if c.Monitoring.SampleInterval < time.Second {
		errs = append(errs, fmt.Errorf("sample_interval must be at least 1s"))
	}
	if c.Monitoring.SampleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sample_timeout must be positive"))
	}
	if c.Monitoring.SampleTimeout >= c.Monitoring.SampleInterval {
		errs = append(errs, fmt.Errorf("sample_timeout must be shorter than sample_interval"))
	}
	if c.Monitoring.CheckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("check_timeout must be positive"))
	}
	for name, d := range c.Monitoring.CheckTimeouts {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("check_timeouts.%s must be positive", name))
		}
	}
	if c.Monitoring.HistoryLength < 1 {
		errs = append(errs, fmt.Errorf("history_length must be at least 1"))
	}
	if c.Monitoring.BaselineWindow < 1 {
		errs = append(errs, fmt.Errorf("baseline_window must be at least 1"))
	}
	if c.Monitoring.BaselineAlpha <= 0 || c.Monitoring.BaselineAlpha > 1 {
		errs = append(errs, fmt.Errorf("baseline_alpha must be in (0, 1]"))
	}
	if c.Monitoring.TopProcessCount < 1 || c.Monitoring.TopProcessCount > 50 {
		errs = append(errs, fmt.Errorf("top_process_count must be between 1 and 50"))
	}

	// Validate thresholds
	percent := map[string]Threshold{
		"cpu":        c.Thresholds.CPU,
		"memory":     c.Thresholds.Memory,
		"disk":       c.Thresholds.Disk,
		"gpu_memory": c.Thresholds.GPUMemory,
	}
	for name, t := range percent {
		if t.Warning < 0 || t.Warning > 100 || t.Critical < 0 || t.Critical > 100 {
			errs = append(errs, fmt.Errorf("%s thresholds must be between 0 and 100", name))
		}
		if t.Warning >= t.Critical {
			errs = append(errs, fmt.Errorf("%s warning threshold must be below critical", name))
		}
	}
	if gt := c.Thresholds.GPUTemperature; gt.Warning >= gt.Critical {
		errs = append(errs, fmt.Errorf("gpu_temperature warning threshold must be below critical"))
	}

	// Validate alert lifecycle
	if c.Alerts.ResolutionTimeout < time.Second {
		errs = append(errs, fmt.Errorf("resolution_timeout must be at least 1s"))
	}
	if c.Alerts.ResolvedRetention < time.Minute {
		errs = append(errs, fmt.Errorf("resolved_retention must be at least 1m"))
	}
	if c.Alerts.HistoryLimit < 10 {
		errs = append(errs, fmt.Errorf("history_limit must be at least 10"))
	}

	// Validate recovery
	if c.Recovery.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1"))
	}
	if c.Recovery.Delay < time.Second {
		errs = append(errs, fmt.Errorf("recovery delay must be at least 1s"))
	}
	if c.Recovery.AttemptWindow < c.Recovery.Delay {
		errs = append(errs, fmt.Errorf("attempt_window must be at least the recovery delay"))
	}
	if c.Recovery.ActionTimeout < time.Second {
		errs = append(errs, fmt.Errorf("action_timeout must be at least 1s"))
	}

	// Validate checkpoints
	if c.Checkpoints.Interval < 10*time.Second {
		errs = append(errs, fmt.Errorf("checkpoint interval must be at least 10s"))
	}
	if c.Checkpoints.MaxCheckpoints < 1 {
		errs = append(errs, fmt.Errorf("max_checkpoints must be at least 1"))
	}

	// Validate logging config
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.Logging.Level))
	}

	return errs
}
