package scheduler

import "time"

const (
	executeSubject = "schedule.execute"
	statsSubject   = "schedule.stats"
	commandQueue   = "scrape-scheduler"

	watchDebounce = 500 * time.Millisecond
)
