// vigil - System Health Monitoring, Alerting and Recovery Daemon
//
// A standalone Go daemon that samples host metrics (CPU, RAM, disk, network,
// GPU), runs registered component health checks, raises and resolves alerts,
// attempts automatic recovery and persists checkpoints of its state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"vigil/config"
	"vigil/logger"
	"vigil/monitor"
	"vigil/registry"
	"vigil/utils"
)

const (
	appName    = "vigil"
	appVersion = "1.0.0"
)

// Application holds the daemon's top-level components.
type Application struct {
	configMgr *config.Manager
	log       *logger.Logger
	monitor   *monitor.Monitor

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	app := &Application{}

	if err := app.init(*configPath, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	app.run()
}

// init loads configuration, sets up logging and builds the monitor.
func (app *Application) init(configPath string, debug bool) error {
	app.ctx, app.cancel = context.WithCancel(context.Background())

	app.log = logger.New()

	app.configMgr = config.NewManager()
	if err := app.configMgr.Load(configPath); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := app.configMgr.Get()

	if debug {
		cfg.Logging.Level = "debug"
	}

	if configPath == "" {
		p, err := config.GetDefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to resolve config path: %w", err)
		}
		configPath = p
	}
	configDir := filepath.Dir(configPath)

	if err := app.log.Init(&cfg.Logging, configDir); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.log.Infof("Starting %s v%s", appName, appVersion)
	app.log.Infof("Config loaded from: %s", configPath)

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, err := range errs {
			app.log.Warnf("Config validation warning: %v", err)
		}
	}

	m, err := monitor.New(app.configMgr, app.log)
	if err != nil {
		return fmt.Errorf("failed to build monitor: %w", err)
	}
	app.monitor = m

	// The daemon watches its own runtime as a first component
	if err := app.monitor.RegisterComponent("runtime", runtimeCheck, nil); err != nil {
		return fmt.Errorf("failed to register runtime check: %w", err)
	}

	return nil
}

// run starts the monitor and blocks until a shutdown signal arrives.
func (app *Application) run() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := app.monitor.Start(app.ctx); err != nil {
		app.log.Errorf("Failed to start monitor: %v", err)
		return
	}

	app.logSystemInfo()

	app.configMgr.Watch(func(cfg *config.Config) {
		app.log.Info("Configuration file changed, applying")
		app.monitor.ApplyConfig(cfg)
	})

	app.log.Info("Monitoring started, send SIGINT or SIGTERM to stop")

	<-sigCh
	app.log.Info("Received shutdown signal")

	// A second signal skips the graceful path
	go func() {
		<-sigCh
		app.log.Warn("Second signal received, forcing exit")
		os.Exit(1)
	}()

	app.shutdown()
}

// shutdown stops the monitor, bounded so a stuck component cannot hold the
// process open.
func (app *Application) shutdown() {
	app.shutdownOnce.Do(func() {
		app.log.Info("Shutting down...")

		app.cancel()

		done := make(chan struct{})
		go func() {
			app.monitor.Stop()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			app.log.Warn("Shutdown timeout, forcing exit")
		}

		app.log.Close()
	})
}

// runtimeCheck reports the daemon's own memory and goroutine footprint.
func runtimeCheck(ctx context.Context) (*registry.CheckResult, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return &registry.CheckResult{
		MemoryUsageMB: float64(ms.HeapAlloc) / (1024 * 1024),
		Custom: map[string]float64{
			"goroutines":   float64(runtime.NumGoroutine()),
			"heap_objects": float64(ms.HeapObjects),
		},
	}, nil
}

// logSystemInfo logs detected hardware information.
func (app *Application) logSystemInfo() {
	info := app.monitor.SystemInfo()
	if info == nil {
		return
	}

	app.log.Info("=== System Hardware Detected ===")
	if info.Hostname != "" {
		app.log.Infof("Host: %s (%s)", info.Hostname, info.OS)
	}
	if info.CPUModel != "" {
		app.log.Infof("CPU: %s (%d cores, %d threads)", info.CPUModel, info.Cores, info.Threads)
	}
	if info.TotalRAMGB > 0 {
		app.log.Infof("RAM: %s", utils.FormatGB(info.TotalRAMGB))
	}
	if info.GPUName != "" {
		app.log.Infof("GPU: %s", info.GPUName)
	}
	if !info.BootTime.IsZero() {
		app.log.Infof("Host uptime: %s", utils.FormatUptime(time.Since(info.BootTime)))
	}
	app.log.Info("================================")
}
