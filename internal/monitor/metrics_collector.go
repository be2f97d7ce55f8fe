package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/scrape-scheduler/internal/model"
	"github.com/t77yq/scrape-scheduler/internal/service"
)

const (
	metricsStream  = "METRICS"
	metricsSubject = "metrics.scheduler"
)

// MetricsCollector counts run outcomes and samples host usage
type MetricsCollector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	interval time.Duration
	sample   func() (model.HostStats, error)

	mu       sync.RWMutex
	snapshot model.MetricsSnapshot

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMetricsCollector creates a new metrics collector. js may be nil, in
// which case snapshots are only kept in memory.
func NewMetricsCollector(js nats.JetStreamContext, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &MetricsCollector{
		logger:   logger.Named("metrics-collector"),
		js:       js,
		interval: interval,
		sample:   sampleHost,
		snapshot: model.MetricsSnapshot{RunsByStatus: make(map[model.ExecutionStatus]int64)},
		stop:     make(chan struct{}),
	}
}

// Start starts the metrics collector
func (c *MetricsCollector) Start(ctx context.Context) error {
	c.logger.Info("Starting metrics collector", zap.Duration("interval", c.interval))

	if c.js != nil {
		err := service.EnsureStream(c.js, &nats.StreamConfig{
			Name:     metricsStream,
			Subjects: []string{"metrics.>"},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
			MaxMsgs:  -1,
		}, c.logger)
		if err != nil {
			return fmt.Errorf("failed to set up metrics stream: %w", err)
		}
	}

	go c.collectLoop(ctx)
	return nil
}

// Stop stops the metrics collector
func (c *MetricsCollector) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Stopping metrics collector")
		close(c.stop)
	})
}

// Record implements executor.OutcomeSink
func (c *MetricsCollector) Record(_ context.Context, outcome *model.ExecutionOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot.Runs++
	c.snapshot.RunsByStatus[outcome.Status]++
	c.snapshot.PagesSubmitted += int64(outcome.PagesSubmitted)
	c.snapshot.PagesFailed += int64(outcome.PagesFailed)
	completed := outcome.CompletedAt
	c.snapshot.LastRunAt = &completed
	return nil
}

// Snapshot returns a copy of the current metrics
func (c *MetricsCollector) Snapshot() model.MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := c.snapshot
	snapshot.RunsByStatus = make(map[model.ExecutionStatus]int64, len(c.snapshot.RunsByStatus))
	for status, n := range c.snapshot.RunsByStatus {
		snapshot.RunsByStatus[status] = n
	}
	if c.snapshot.LastRunAt != nil {
		last := *c.snapshot.LastRunAt
		snapshot.LastRunAt = &last
	}
	return snapshot
}

// collectLoop runs the metrics collection loop
func (c *MetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collectMetrics()
		}
	}
}

// collectMetrics samples the host and publishes a snapshot
func (c *MetricsCollector) collectMetrics() {
	host, err := c.sample()
	if err != nil {
		c.logger.Error("Failed to sample host usage", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.snapshot.Host = host
	c.snapshot.CollectedAt = time.Now()
	c.mu.Unlock()

	snapshot := c.Snapshot()

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", host.CPUUsage),
		zap.Float64("memory_usage", host.MemoryUsage),
		zap.Int64("runs", snapshot.Runs))

	if c.js == nil {
		return
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error("Failed to marshal metrics", zap.Error(err))
		return
	}
	if _, err := c.js.Publish(metricsSubject, data); err != nil {
		c.logger.Error("Failed to publish metrics", zap.Error(err))
	}
}

// sampleHost reads CPU and memory usage
func sampleHost() (model.HostStats, error) {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		return model.HostStats{}, fmt.Errorf("failed to get CPU usage: %w", err)
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return model.HostStats{}, fmt.Errorf("failed to get memory usage: %w", err)
	}

	stats := model.HostStats{
		MemoryUsage: memInfo.UsedPercent,
		CollectedAt: time.Now(),
	}
	if len(cpuPercent) > 0 {
		stats.CPUUsage = cpuPercent[0]
	}
	return stats, nil
}
