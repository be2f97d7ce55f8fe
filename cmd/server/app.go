package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/scrape-scheduler/internal/config"
	"github.com/t77yq/scrape-scheduler/internal/executor"
	"github.com/t77yq/scrape-scheduler/internal/monitor"
	"github.com/t77yq/scrape-scheduler/internal/scheduler"
	"github.com/t77yq/scrape-scheduler/internal/service"
	"github.com/t77yq/scrape-scheduler/internal/storage"
	"github.com/t77yq/scrape-scheduler/internal/submitter"
)

const natsConnectRetries = 5

// app holds the components shared by every command
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	submitter *submitter.HTTPJobSubmitter
	executor  *executor.ScheduleExecutor
	registry  *scheduler.Registry

	history *storage.SQLiteExecutionHistory
	runLog  *executor.RunLog
	metrics *monitor.MetricsCollector
	alerts  *monitor.AlertManager

	nc *nats.Conn
	js nats.JetStreamContext
}

// newApp loads configuration and builds the executor, its sinks and the
// registry. Background loops are not started here.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.build(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build() error {
	cfg := a.cfg

	if cfg.NATS.Enabled {
		nc, err := connectNATS(cfg.App.Name, cfg.NATS, a.logger)
		if err != nil {
			return err
		}
		a.nc = nc

		js, err := nc.JetStream()
		if err != nil {
			return fmt.Errorf("failed to create JetStream context: %w", err)
		}
		a.js = js
	}

	a.submitter = submitter.NewHTTPJobSubmitter(submitter.HTTPConfig{
		BaseURL:        cfg.FetchAPI.BaseURL,
		ScrapeEndpoint: cfg.FetchAPI.ScrapeEndpoint,
		Token:          cfg.FetchAPI.Token,
		Timeout:        cfg.FetchAPI.Timeout,
	}, a.logger)

	a.metrics = monitor.NewMetricsCollector(a.js, cfg.Metrics.Interval, a.logger)
	a.alerts = monitor.NewAlertManager(a.logger, a.js)
	for i := range cfg.Alerts {
		rule := cfg.Alerts[i]
		if err := a.alerts.AddRule(&rule); err != nil {
			return fmt.Errorf("invalid alert rule %q: %w", rule.Name, err)
		}
	}

	a.executor = executor.NewScheduleExecutor(a.submitter, a.logger, a.metrics)

	// With alerts_from_stream the alert manager consumes published outcomes
	// instead, so it must not also be a local sink.
	if !(a.js != nil && cfg.NATS.AlertsFromStream) {
		a.executor.AddSink(a.alerts)
	}

	if cfg.History.Enabled {
		history, err := storage.NewSQLiteExecutionHistory(a.logger, cfg.History.DBPath)
		if err != nil {
			return err
		}
		a.history = history
		a.executor.AddSink(history)
	}

	if cfg.RunLog.Enabled {
		runLog, err := executor.NewRunLog(executor.RunLogConfig{
			LogDir:        cfg.RunLog.Dir,
			MaxFileSize:   cfg.RunLog.MaxSize,
			MaxAge:        cfg.RunLog.MaxAge,
			FlushInterval: cfg.RunLog.FlushInterval,
		}, a.logger)
		if err != nil {
			return err
		}
		a.runLog = runLog
		a.executor.AddSink(runLog)
	}

	if a.js != nil {
		publisher, err := service.NewOutcomePublisher(a.js, a.logger)
		if err != nil {
			return err
		}
		a.executor.AddSink(publisher)
	}

	overlap, err := scheduler.ParseOverlapPolicy(cfg.Scheduler.Overlap)
	if err != nil {
		return err
	}
	a.registry = scheduler.NewRegistry(a.executor, a.logger, scheduler.WithOverlapPolicy(overlap))
	return nil
}

// loadSchedules reads the schedules directory into the registry. Rejected
// definitions are logged by the registry and skipped; only an unreadable
// directory fails.
func (a *app) loadSchedules() (scheduler.LoadReport, error) {
	dir := a.cfg.Scheduler.SchedulesDir
	report, err := a.registry.Reload(dir)
	if err != nil {
		return report, err
	}
	if err := report.Err(); err != nil {
		a.logger.Warn("Some schedule definitions were rejected",
			zap.String("dir", dir),
			zap.Error(err))
	}
	return report, nil
}

// checkIntake logs whether the job-intake API answers its health endpoint.
// The result is advisory.
func (a *app) checkIntake(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if a.submitter.HealthCheck(ctx) {
		a.logger.Info("Job-intake API is reachable", zap.String("base_url", a.cfg.FetchAPI.BaseURL))
		return
	}
	a.logger.Warn("Job-intake API health check failed", zap.String("base_url", a.cfg.FetchAPI.BaseURL))
}

// close releases storage and connections. Safe on a partially built app.
func (a *app) close() {
	if a.runLog != nil {
		a.runLog.Stop()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Error("Failed to close execution history", zap.Error(err))
		}
	}
	if a.nc != nil {
		a.nc.Close()
	}
	a.logger.Sync()
}

// connectNATS dials the server with reconnect handling, retrying the
// initial connection a few times
func connectNATS(name string, cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	for i := 0; i < natsConnectRetries; i++ {
		nc, err = nats.Connect(cfg.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", natsConnectRetries, err)
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}
