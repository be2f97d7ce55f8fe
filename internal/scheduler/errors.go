package scheduler

import "errors"

var (
	// ErrScheduleNotFound is returned when a schedule id is not in the registry
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrInvalidSchedule is returned when a schedule definition is malformed
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrInvalidExpression is returned when a cron expression cannot be parsed
	ErrInvalidExpression = errors.New("invalid cron expression")

	// ErrUnknownTimezone is returned when the registry timezone cannot be loaded
	ErrUnknownTimezone = errors.New("unknown timezone")

	// ErrUnknownOverlapPolicy is returned for an unsupported overlap policy
	ErrUnknownOverlapPolicy = errors.New("unknown overlap policy")
)
