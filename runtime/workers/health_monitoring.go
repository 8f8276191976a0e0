package workers

import (
	"chat-relay/contract"
	"chat-relay/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

var _ contract.Worker = (*HealthMonitoringWorker)(nil)

// Topology reports online users, live channels, queued events and queue capacity.
type Topology func() (onlineUsers, liveChannels, queueSize, maxQueueSize int)

// HealthMonitoringWorker refreshes the gauges of the monitoring manager.
type HealthMonitoringWorker struct {
	log            *slog.Logger
	monitoring     *observability.MonitoringManager
	topology       Topology
	metricInterval time.Duration
}

func NewHealthMonitoringWorker(
	log *slog.Logger,
	monitoring *observability.MonitoringManager,
	topology Topology,
	metricInterval time.Duration,
) *HealthMonitoringWorker {
	return &HealthMonitoringWorker{
		log:            log.With("component", "health_monitoring"),
		monitoring:     monitoring,
		topology:       topology,
		metricInterval: metricInterval,
	}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-ticker.C:
			w.refresh(p)
		}
	}
}

func (w *HealthMonitoringWorker) refresh(p *process.Process) {
	online, channels, queued, capacity := w.topology()
	w.monitoring.UpdateTopology(online, channels, queued, capacity)

	var rss uint64
	if mem, err := p.MemoryInfo(); err != nil {
		w.log.Debug("Error while finding process ram usage", "error", err)
	} else {
		rss = mem.RSS
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		w.log.Debug("Error while finding process cpu usage", "error", err)
	}
	w.monitoring.UpdateProcess(rss, cpu)

	if queued*10 >= capacity*8 && capacity > 0 {
		w.log.Warn("Inbound queue close to saturation", "queue", queued, "capacity", capacity)
	}
}
