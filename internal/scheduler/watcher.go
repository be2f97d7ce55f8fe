package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the registry when schedule files in a directory change
type Watcher struct {
	logger   *zap.Logger
	registry *Registry
	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer

	// reloaded is signalled after every reload; nil in production
	reloaded chan LoadReport
}

// NewWatcher creates a watcher for dir
func NewWatcher(registry *Registry, dir string, logger *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch schedules directory %s: %w", dir, err)
	}

	return &Watcher{
		logger:   logger.Named("watcher"),
		registry: registry,
		dir:      dir,
		debounce: watchDebounce,
		watcher:  w,
	}, nil
}

// Start watches until ctx is done, then closes the underlying watcher
func (w *Watcher) Start(ctx context.Context) {
	w.logger.Info("Watching schedules directory", zap.String("dir", w.dir))
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("Schedule file changed",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()))
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

// scheduleReload coalesces bursts of events into one reload
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	report, err := w.registry.Reload(w.dir)
	if err != nil {
		w.logger.Error("Failed to reload schedules", zap.Error(err))
		return
	}

	w.logger.Info("Reloaded schedules",
		zap.Int("loaded", len(report.Loaded())),
		zap.Int("rejected", len(report.Failed())))

	if w.reloaded != nil {
		select {
		case w.reloaded <- report:
		default:
		}
	}
}
