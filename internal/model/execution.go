package model

import (
	"time"
)

// ExecutionStatus is the terminal status of a run
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusPartial ExecutionStatus = "partial"
	StatusFailed  ExecutionStatus = "failed"
)

// DeriveStatus maps submitted/failed page counts to a run status.
func DeriveStatus(submitted, failed int) ExecutionStatus {
	switch {
	case submitted == 0 && failed > 0:
		return StatusFailed
	case failed == 0:
		return StatusSuccess
	default:
		return StatusPartial
	}
}

// JobSubmissionResult is the outcome of submitting one job
type JobSubmissionResult struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId,omitempty"`
	Error   string `json:"error,omitempty"`
	// Page is set when the result belongs to a paginated run.
	Page *int `json:"page,omitempty"`
}

// Accepted reports whether the submission succeeded with a job id.
func (r JobSubmissionResult) Accepted() bool {
	return r.Success && r.JobID != ""
}

// PageResult is the per-page record kept on an outcome for reporting
type PageResult struct {
	Page  int    `json:"page"`
	JobID string `json:"jobId,omitempty"`
	Error string `json:"error,omitempty"`
}

// BatchResult aggregates the page submissions of one paginated run
type BatchResult struct {
	Submitted int          `json:"submitted"`
	Failed    int          `json:"failed"`
	JobIDs    []string     `json:"jobIds"`
	Batches   int          `json:"batches"`
	Pages     []PageResult `json:"pages,omitempty"`
}

// ExecutionOutcome describes one run of a schedule
type ExecutionOutcome struct {
	ExecutionID    string          `json:"executionId"`
	ScheduleID     string          `json:"scheduleId"`
	ScheduleName   string          `json:"scheduleName"`
	StartedAt      time.Time       `json:"startedAt"`
	CompletedAt    time.Time       `json:"completedAt"`
	Duration       time.Duration   `json:"duration"`
	PagesSubmitted int             `json:"pagesSubmitted"`
	PagesFailed    int             `json:"pagesFailed"`
	JobIDs         []string        `json:"jobIds"`
	Status         ExecutionStatus `json:"status"`
	Error          string          `json:"error,omitempty"`
	Pages          []PageResult    `json:"pages,omitempty"`
}

// Complete stamps the end time and derives duration and status. A run-level
// error always yields a failed outcome.
func (o *ExecutionOutcome) Complete(end time.Time) {
	o.CompletedAt = end
	o.Duration = end.Sub(o.StartedAt)
	if o.Error != "" {
		o.Status = StatusFailed
		return
	}
	o.Status = DeriveStatus(o.PagesSubmitted, o.PagesFailed)
}

// FailureRatio returns failed / (submitted + failed), or 0 for an empty run.
func (o *ExecutionOutcome) FailureRatio() float64 {
	total := o.PagesSubmitted + o.PagesFailed
	if total == 0 {
		return 0
	}
	return float64(o.PagesFailed) / float64(total)
}
