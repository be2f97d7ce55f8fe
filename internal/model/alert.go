package model

import "time"

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	AlertTypeRunFailed    AlertType = "run_failed"
	AlertTypeRunPartial   AlertType = "run_partial"
	AlertTypeFailureRatio AlertType = "failure_ratio"
)

// AlertRule defines a rule evaluated against every execution outcome.
// An empty ScheduleID matches all schedules.
type AlertRule struct {
	ID         string        `json:"id" mapstructure:"id"`
	Name       string        `json:"name" mapstructure:"name"`
	Type       AlertType     `json:"type" mapstructure:"type"`
	ScheduleID string        `json:"schedule_id,omitempty" mapstructure:"schedule_id"`
	Threshold  float64       `json:"threshold,omitempty" mapstructure:"threshold"`
	Severity   AlertSeverity `json:"severity" mapstructure:"severity"`
	Silenced   bool          `json:"silenced" mapstructure:"silenced"`
	CreatedAt  time.Time     `json:"created_at" mapstructure:"-"`
	UpdatedAt  time.Time     `json:"updated_at" mapstructure:"-"`
}

// Alert represents an alert event
type Alert struct {
	ID          string                 `json:"id"`
	RuleID      string                 `json:"rule_id"`
	Type        AlertType              `json:"type"`
	Severity    AlertSeverity          `json:"severity"`
	Message     string                 `json:"message"`
	ScheduleID  string                 `json:"schedule_id"`
	ExecutionID string                 `json:"execution_id"`
	Data        map[string]interface{} `json:"data,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
