package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/scrape-scheduler/internal/model"
)

// ErrNotFound is returned when no history record matches
var ErrNotFound = errors.New("execution record not found")

// ExecutionRecord is one stored execution outcome
type ExecutionRecord struct {
	ID             string                `json:"id"`
	ExecutionID    string                `json:"execution_id"`
	ScheduleID     string                `json:"schedule_id"`
	ScheduleName   string                `json:"schedule_name"`
	Status         model.ExecutionStatus `json:"status"`
	PagesSubmitted int                   `json:"pages_submitted"`
	PagesFailed    int                   `json:"pages_failed"`
	JobIDs         []string              `json:"job_ids"`
	Error          string                `json:"error,omitempty"`
	StartedAt      time.Time             `json:"started_at"`
	CompletedAt    time.Time             `json:"completed_at"`
	Duration       time.Duration         `json:"duration"`
}

// HistoryFilter narrows List and Count. Zero fields match everything.
type HistoryFilter struct {
	ScheduleID string
	Status     model.ExecutionStatus
	Since      time.Time
}

func (f HistoryFilter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.ScheduleID != "" {
		clauses = append(clauses, "schedule_id = ?")
		args = append(args, f.ScheduleID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, f.Since.UTC())
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ExecutionHistory defines the interface for execution history storage
type ExecutionHistory interface {
	// Store stores an execution record
	Store(ctx context.Context, record *ExecutionRecord) error

	// Get retrieves a record by execution id
	Get(ctx context.Context, executionID string) (*ExecutionRecord, error)

	// List retrieves records newest first with pagination and filters
	List(ctx context.Context, filter HistoryFilter, offset, limit int) ([]*ExecutionRecord, error)

	// Count returns the number of records matching the filter
	Count(ctx context.Context, filter HistoryFilter) (int, error)

	// DeleteBefore deletes records started before the given time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteExecutionHistory implements ExecutionHistory using SQLite
type SQLiteExecutionHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

var _ ExecutionHistory = (*SQLiteExecutionHistory)(nil)

// NewSQLiteExecutionHistory opens (or creates) the history database
func NewSQLiteExecutionHistory(logger *zap.Logger, dbPath string) (*SQLiteExecutionHistory, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	storage := &SQLiteExecutionHistory{
		logger: logger.Named("history"),
		db:     db,
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteExecutionHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS execution_history (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL UNIQUE,
			schedule_id TEXT NOT NULL,
			schedule_name TEXT NOT NULL,
			status TEXT NOT NULL,
			pages_submitted INTEGER NOT NULL DEFAULT 0,
			pages_failed INTEGER NOT NULL DEFAULT 0,
			job_ids TEXT,
			error TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			duration INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_execution_history_schedule_id ON execution_history(schedule_id);
		CREATE INDEX IF NOT EXISTS idx_execution_history_status ON execution_history(status);
		CREATE INDEX IF NOT EXISTS idx_execution_history_started_at ON execution_history(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Record implements executor.OutcomeSink
func (s *SQLiteExecutionHistory) Record(ctx context.Context, outcome *model.ExecutionOutcome) error {
	return s.Store(ctx, &ExecutionRecord{
		ExecutionID:    outcome.ExecutionID,
		ScheduleID:     outcome.ScheduleID,
		ScheduleName:   outcome.ScheduleName,
		Status:         outcome.Status,
		PagesSubmitted: outcome.PagesSubmitted,
		PagesFailed:    outcome.PagesFailed,
		JobIDs:         outcome.JobIDs,
		Error:          outcome.Error,
		StartedAt:      outcome.StartedAt,
		CompletedAt:    outcome.CompletedAt,
		Duration:       outcome.Duration,
	})
}

// Store implements ExecutionHistory.Store
func (s *SQLiteExecutionHistory) Store(ctx context.Context, record *ExecutionRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.JobIDs == nil {
		record.JobIDs = []string{}
	}

	jobIDs, err := json.Marshal(record.JobIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal job ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_history (
			id, execution_id, schedule_id, schedule_name, status,
			pages_submitted, pages_failed, job_ids, error,
			started_at, completed_at, duration
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ExecutionID,
		record.ScheduleID,
		record.ScheduleName,
		string(record.Status),
		record.PagesSubmitted,
		record.PagesFailed,
		string(jobIDs),
		sql.NullString{String: record.Error, Valid: record.Error != ""},
		record.StartedAt.UTC(),
		sql.NullTime{Time: record.CompletedAt.UTC(), Valid: !record.CompletedAt.IsZero()},
		sql.NullInt64{Int64: int64(record.Duration), Valid: record.Duration != 0},
	)
	if err != nil {
		return fmt.Errorf("failed to store execution history: %w", err)
	}
	return nil
}

const selectColumns = `SELECT
	id, execution_id, schedule_id, schedule_name, status,
	pages_submitted, pages_failed, job_ids, error,
	started_at, completed_at, duration
FROM execution_history`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*ExecutionRecord, error) {
	var record ExecutionRecord
	var status string
	var jobIDs, errorStr sql.NullString
	var completedAt sql.NullTime
	var durationNanos sql.NullInt64

	err := row.Scan(
		&record.ID,
		&record.ExecutionID,
		&record.ScheduleID,
		&record.ScheduleName,
		&status,
		&record.PagesSubmitted,
		&record.PagesFailed,
		&jobIDs,
		&errorStr,
		&record.StartedAt,
		&completedAt,
		&durationNanos,
	)
	if err != nil {
		return nil, err
	}

	record.Status = model.ExecutionStatus(status)
	record.JobIDs = []string{}
	if jobIDs.Valid && jobIDs.String != "" {
		if err := json.Unmarshal([]byte(jobIDs.String), &record.JobIDs); err != nil {
			return nil, fmt.Errorf("failed to decode job ids: %w", err)
		}
	}
	if errorStr.Valid {
		record.Error = errorStr.String
	}
	if completedAt.Valid {
		record.CompletedAt = completedAt.Time
	}
	if durationNanos.Valid {
		record.Duration = time.Duration(durationNanos.Int64)
	}

	return &record, nil
}

// Get implements ExecutionHistory.Get
func (s *SQLiteExecutionHistory) Get(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	record, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+" WHERE execution_id = ?", executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
		}
		return nil, fmt.Errorf("failed to scan execution history: %w", err)
	}
	return record, nil
}

// List implements ExecutionHistory.List
func (s *SQLiteExecutionHistory) List(ctx context.Context, filter HistoryFilter, offset, limit int) ([]*ExecutionRecord, error) {
	where, args := filter.where()
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, selectColumns+where+" ORDER BY started_at DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution history: %w", err)
	}
	defer rows.Close()

	records := make([]*ExecutionRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution history: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return records, nil
}

// Count implements ExecutionHistory.Count
func (s *SQLiteExecutionHistory) Count(ctx context.Context, filter HistoryFilter) (int, error) {
	where, args := filter.where()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM execution_history"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count execution history: %w", err)
	}
	return count, nil
}

// DeleteBefore implements ExecutionHistory.DeleteBefore
func (s *SQLiteExecutionHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM execution_history WHERE started_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete execution history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old execution history records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteExecutionHistory) Close() error {
	return s.db.Close()
}
