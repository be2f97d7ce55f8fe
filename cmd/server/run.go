package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/scrape-scheduler/internal/api"
	"github.com/t77yq/scrape-scheduler/internal/scheduler"
	"github.com/t77yq/scrape-scheduler/internal/storage"
)

const retentionInterval = 24 * time.Hour

var runOnStartup bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Register schedules and run until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := a.logger
	cfg := a.cfg

	logger.Info("Starting scrape scheduler",
		zap.String("env", cfg.App.Env),
		zap.String("fetch_api", cfg.FetchAPI.BaseURL),
		zap.String("timezone", cfg.Scheduler.Timezone))

	a.checkIntake(ctx)

	if _, err := a.loadSchedules(); err != nil {
		return err
	}
	if err := a.registry.RegisterAll(cfg.Scheduler.Timezone); err != nil {
		return err
	}
	stats := a.registry.Stats()
	logger.Info("Schedules registered",
		zap.Int("total", stats.TotalSchedules),
		zap.Int("enabled", stats.EnabledSchedules),
		zap.Int("active_jobs", stats.ActiveJobs))

	if err := a.metrics.Start(ctx); err != nil {
		return err
	}
	defer a.metrics.Stop()

	if a.runLog != nil {
		a.runLog.Start(ctx)
	}

	if a.js != nil {
		if err := a.alerts.Start(ctx); err != nil {
			return err
		}
		if cfg.NATS.AlertsFromStream {
			if err := a.alerts.Subscribe(ctx); err != nil {
				return err
			}
		}
	}

	var commands *scheduler.CommandServer
	if a.nc != nil && cfg.NATS.Commands {
		commands = scheduler.NewCommandServer(a.nc, a.registry, logger)
		if err := commands.Start(ctx); err != nil {
			return err
		}
	}

	if cfg.Scheduler.Watch {
		watcher, err := scheduler.NewWatcher(a.registry, cfg.Scheduler.SchedulesDir, logger)
		if err != nil {
			return err
		}
		watcher.Start(ctx)
	}

	var server *api.Server
	if cfg.API.Enabled {
		handler := &api.Handler{
			Controller: a.registry,
			Runs:       a.executor,
			Metrics:    a.metrics,
			Alerts:     a.alerts,
		}
		if a.history != nil {
			handler.History = a.history
		}
		if a.runLog != nil {
			handler.RunLogs = a.runLog
		}
		server = api.NewServer(cfg.API.Addr, handler, logger)
		server.Start()
	}

	if a.history != nil && cfg.History.Retention > 0 {
		go cleanupHistory(ctx, a.history, cfg.History.Retention, logger)
	}

	if runOnStartup {
		go func() {
			outcomes := a.registry.RunAllEnabled(ctx)
			logger.Info("Startup runs finished", zap.Int("runs", len(outcomes)))
		}()
	}

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("Received shutdown signal")

	a.registry.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to stop control API", zap.Error(err))
		}
	}
	if commands != nil {
		commands.Stop()
	}

	logger.Info("Waiting for in-flight runs to complete")
	if err := a.registry.Wait(shutdownCtx); err != nil {
		logger.Warn("Shutdown timeout reached, some runs may not have completed", zap.Error(err))
	}

	logger.Info("Scheduler shutting down gracefully")
	return nil
}

// cleanupHistory deletes execution records older than retention once a day
func cleanupHistory(ctx context.Context, history storage.ExecutionHistory, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := history.DeleteBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Error("Failed to clean up execution history", zap.Error(err))
				continue
			}
			logger.Info("Cleaned up execution history", zap.Int64("deleted", deleted))
		}
	}
}
