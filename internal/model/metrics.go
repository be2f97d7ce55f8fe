package model

import "time"

// HostStats is a sample of the host the scheduler runs on
type HostStats struct {
	CPUUsage    float64   `json:"cpu_usage"`
	MemoryUsage float64   `json:"memory_usage"`
	CollectedAt time.Time `json:"collected_at"`
}

// MetricsSnapshot aggregates run counters since process start
type MetricsSnapshot struct {
	Runs           int64                     `json:"runs"`
	RunsByStatus   map[ExecutionStatus]int64 `json:"runs_by_status"`
	PagesSubmitted int64                     `json:"pages_submitted"`
	PagesFailed    int64                     `json:"pages_failed"`
	LastRunAt      *time.Time                `json:"last_run_at,omitempty"`
	Host           HostStats                 `json:"host"`
	CollectedAt    time.Time                 `json:"collected_at"`
}
