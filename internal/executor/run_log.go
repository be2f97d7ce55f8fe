package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/scrape-scheduler/internal/model"
)

// LogEntry is one line of a schedule's run log
type LogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Level       string    `json:"level"`
	ScheduleID  string    `json:"schedule_id"`
	ExecutionID string    `json:"execution_id"`
	Page        *int      `json:"page,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	Message     string    `json:"message"`
}

// RunLogConfig defines configuration for run logs
type RunLogConfig struct {
	LogDir        string        // Directory to store log files
	MaxFileSize   int64         // Maximum size of a log file in bytes
	MaxAge        time.Duration // Maximum age of log files
	FlushInterval time.Duration // Interval to flush logs to disk
}

// RunLog keeps a JSON-lines log per schedule with one entry per page and a
// summary entry per run
type RunLog struct {
	logger  *zap.Logger
	config  RunLogConfig
	mu      sync.Mutex
	files   map[string]*os.File
	buffers map[string][]LogEntry
}

// NewRunLog creates a new run log
func NewRunLog(config RunLogConfig, logger *zap.Logger) (*RunLog, error) {
	// Create log directory if it doesn't exist
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	return &RunLog{
		logger:  logger.Named("run-log"),
		config:  config,
		files:   make(map[string]*os.File),
		buffers: make(map[string][]LogEntry),
	}, nil
}

// Start starts the flush and rotation loops
func (l *RunLog) Start(ctx context.Context) {
	l.logger.Info("Starting run log", zap.String("dir", l.config.LogDir))

	go l.flushLoop(ctx)
	go l.rotateLoop(ctx)
}

// Stop flushes pending entries and closes all open files
func (l *RunLog) Stop() {
	l.logger.Info("Stopping run log")
	l.Flush()

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, file := range l.files {
		file.Close()
		delete(l.files, id)
	}
}

// Record implements OutcomeSink
func (l *RunLog) Record(_ context.Context, outcome *model.ExecutionOutcome) error {
	entries := make([]LogEntry, 0, len(outcome.Pages)+1)
	for _, p := range outcome.Pages {
		page := p.Page
		entry := LogEntry{
			Timestamp:   outcome.CompletedAt,
			Level:       "info",
			ScheduleID:  outcome.ScheduleID,
			ExecutionID: outcome.ExecutionID,
			Page:        &page,
			JobID:       p.JobID,
			Message:     "page submitted",
		}
		if p.Error != "" {
			entry.Level = "error"
			entry.Message = p.Error
		}
		entries = append(entries, entry)
	}

	summary := LogEntry{
		Timestamp:   outcome.CompletedAt,
		Level:       "info",
		ScheduleID:  outcome.ScheduleID,
		ExecutionID: outcome.ExecutionID,
		Message: fmt.Sprintf("run %s: %d submitted, %d failed in %s",
			outcome.Status, outcome.PagesSubmitted, outcome.PagesFailed, outcome.Duration),
	}
	if outcome.Error != "" {
		summary.Level = "error"
		summary.Message += ": " + outcome.Error
	}
	entries = append(entries, summary)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffers[outcome.ScheduleID] = append(l.buffers[outcome.ScheduleID], entries...)
	return nil
}

// GetLogs retrieves flushed entries for a schedule within [start, end]
func (l *RunLog) GetLogs(scheduleID string, start, end time.Time) ([]LogEntry, error) {
	file, err := os.Open(l.path(scheduleID))
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var logs []LogEntry
	decoder := json.NewDecoder(file)

	for decoder.More() {
		var entry LogEntry
		if err := decoder.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode log entry: %w", err)
		}

		if !entry.Timestamp.Before(start) && !entry.Timestamp.After(end) {
			logs = append(logs, entry)
		}
	}

	return logs, nil
}

// Flush writes buffered entries to disk
func (l *RunLog) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for scheduleID, entries := range l.buffers {
		if len(entries) == 0 {
			continue
		}

		file, ok := l.files[scheduleID]
		if !ok {
			var err error
			file, err = l.openFile(scheduleID)
			if err != nil {
				l.logger.Error("Failed to create log file",
					zap.String("schedule_id", scheduleID),
					zap.Error(err))
				continue
			}
			l.files[scheduleID] = file
		}

		encoder := json.NewEncoder(file)
		for _, entry := range entries {
			if err := encoder.Encode(entry); err != nil {
				l.logger.Error("Failed to write log entry",
					zap.String("schedule_id", scheduleID),
					zap.Error(err))
			}
		}

		l.buffers[scheduleID] = entries[:0]
	}
}

// path keeps every log file inside LogDir whatever the schedule id
func (l *RunLog) path(scheduleID string) string {
	return filepath.Join(l.config.LogDir, filepath.Base(fmt.Sprintf("%s.log", scheduleID)))
}

func (l *RunLog) openFile(scheduleID string) (*os.File, error) {
	file, err := os.OpenFile(l.path(scheduleID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	return file, nil
}

func (l *RunLog) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Flush()
		}
	}
}

func (l *RunLog) rotateLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.rotate(time.Now())
		}
	}
}

// rotate removes files older than MaxAge and renames files over MaxFileSize.
// Open handles are closed so the next flush reopens a fresh file.
func (l *RunLog) rotate(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, file := range l.files {
		file.Close()
		delete(l.files, id)
	}

	err := filepath.Walk(l.config.LogDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		if l.config.MaxAge > 0 && now.Sub(info.ModTime()) > l.config.MaxAge {
			if err := os.Remove(path); err != nil {
				l.logger.Error("Failed to remove old log file",
					zap.String("path", path),
					zap.Error(err))
			}
			return nil
		}

		if l.config.MaxFileSize > 0 && info.Size() > l.config.MaxFileSize && filepath.Ext(path) == ".log" {
			rotated := fmt.Sprintf("%s.%s", path, now.Format("20060102150405"))
			if err := os.Rename(path, rotated); err != nil {
				l.logger.Error("Failed to rotate log file",
					zap.String("path", path),
					zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		l.logger.Error("Failed to rotate logs", zap.Error(err))
	}
}
