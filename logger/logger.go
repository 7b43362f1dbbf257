// Package logger provides structured logging and CSV export functionality.
package logger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"vigil/config"
	"vigil/models"
)

// Logger is the process logger with CSV export support. One instance is
// created at startup and injected into every component that logs.
type Logger struct {
	*logrus.Logger
	csvWriter *csv.Writer
	csvFile   *os.File
	csvMu     sync.Mutex
	logFile   *lumberjack.Logger
}

// New creates an uninitialized logger writing to stdout at info level.
func New() *Logger {
	l := &Logger{Logger: logrus.New()}
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// Init configures the logger from the logging configuration. Relative file
// paths resolve under baseDir.
func (l *Logger) Init(cfg *config.LoggingConfig, baseDir string) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.ToFile {
		logPath := cfg.FilePath
		if !filepath.IsAbs(logPath) {
			logPath = filepath.Join(baseDir, logPath)
		}

		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}

		l.logFile = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		}

		// Write to both file and stdout
		l.SetOutput(io.MultiWriter(os.Stdout, l.logFile))
	} else {
		l.SetOutput(os.Stdout)
	}

	if cfg.CSVExport {
		csvPath := cfg.CSVPath
		if !filepath.IsAbs(csvPath) {
			csvPath = filepath.Join(baseDir, csvPath)
		}

		if err := l.initCSV(csvPath); err != nil {
			l.Warnf("Failed to initialize CSV export: %v", err)
		}
	}

	l.Info("Logger initialized")
	return nil
}

var csvHeader = []string{
	"Timestamp",
	"CPU%",
	"RAM%",
	"RAM_Avail_GB",
	"Disk%",
	"Disk_Free_GB",
	"GPU_Mem%",
	"GPU_Temp",
	"Net_Sent_Bytes",
	"Net_Recv_Bytes",
	"Processes",
	"Threads",
	"Load1",
}

// initCSV initializes the CSV writer.
func (l *Logger) initCSV(path string) error {
	l.csvMu.Lock()
	defer l.csvMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	isNewFile := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		isNewFile = true
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	l.csvFile = file
	l.csvWriter = csv.NewWriter(file)

	if isNewFile {
		if err := l.csvWriter.Write(csvHeader); err != nil {
			return err
		}
		l.csvWriter.Flush()
	}

	return nil
}

// LogMetrics appends one sample to the CSV file. A no-op unless CSV export
// was enabled at Init.
func (l *Logger) LogMetrics(m *models.SystemMetrics) {
	if l.csvWriter == nil || l.csvFile == nil {
		return
	}

	l.csvMu.Lock()
	defer l.csvMu.Unlock()

	gpuMem, gpuTemp := "", ""
	if m.GPUMemoryPercent != nil {
		gpuMem = fmt.Sprintf("%.1f", *m.GPUMemoryPercent)
	}
	if m.GPUTemperature != nil {
		gpuTemp = fmt.Sprintf("%.1f", *m.GPUTemperature)
	}

	record := []string{
		m.Timestamp.Format("2006-01-02 15:04:05"),
		fmt.Sprintf("%.1f", m.CPUPercent),
		fmt.Sprintf("%.1f", m.MemoryPercent),
		fmt.Sprintf("%.2f", m.MemoryAvailableGB),
		fmt.Sprintf("%.1f", m.DiskUsagePercent),
		fmt.Sprintf("%.2f", m.DiskFreeGB),
		gpuMem,
		gpuTemp,
		fmt.Sprintf("%d", m.NetworkBytesSent),
		fmt.Sprintf("%d", m.NetworkBytesRecv),
		fmt.Sprintf("%d", m.ProcessCount),
		fmt.Sprintf("%d", m.ThreadCount),
		fmt.Sprintf("%.2f", m.LoadAverage[0]),
	}

	if err := l.csvWriter.Write(record); err != nil {
		l.Errorf("Failed to write CSV record: %v", err)
		return
	}
	l.csvWriter.Flush()
}

// Close closes the logger and associated resources.
func (l *Logger) Close() {
	l.csvMu.Lock()
	defer l.csvMu.Unlock()

	if l.csvWriter != nil {
		l.csvWriter.Flush()
	}
	if l.csvFile != nil {
		l.csvFile.Close()
	}
	if l.logFile != nil {
		l.logFile.Close()
	}
}

// Component returns an entry tagged with the given component name.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithField("component", name)
}

// Alert logs an alert lifecycle event.
func (l *Logger) Alert(severity models.AlertSeverity, component, format string, args ...interface{}) {
	entry := l.WithFields(logrus.Fields{
		"component": component,
		"severity":  string(severity),
	})
	if severity.Rank() >= models.SeverityCritical.Rank() {
		entry.Errorf(format, args...)
		return
	}
	entry.Warnf(format, args...)
}
