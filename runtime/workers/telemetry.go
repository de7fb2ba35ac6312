package workers

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// PresenceStats is what the telemetry worker samples from the registry.
type PresenceStats interface {
	Stats() (users, connections int)
}

// TelemetryWorker periodically logs presence counts and process health.
type TelemetryWorker struct {
	log            *slog.Logger
	stats          PresenceStats
	metricInterval time.Duration
	pid            int32
}

func NewTelemetryWorker(log *slog.Logger, stats PresenceStats, metricInterval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{
		log:            log,
		stats:          stats,
		metricInterval: metricInterval,
		pid:            int32(os.Getpid()),
	}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(w.pid)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping telemetry")
			return nil
		case <-ticker.C:
			w.sample(p)
		}
	}
}

func (w *TelemetryWorker) sample(p *process.Process) {
	users, connections := w.stats.Stats()
	attrs := []any{
		"users_online", users,
		"connections", connections,
		"goroutines", runtime.NumGoroutine(),
	}
	if cpu, err := p.CPUPercent(); err == nil {
		attrs = append(attrs, "cpu_percent", cpu)
	} else {
		w.log.Debug("Error while finding process cpu usage", "error", err)
	}
	if mem, err := p.MemoryInfo(); err == nil {
		attrs = append(attrs, "rss_mb", mem.RSS/1024/1024)
	} else {
		w.log.Debug("Error while finding process memory usage", "error", err)
	}
	w.log.Info("Telemetry", attrs...)
}
