package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/t77yq/scrape-scheduler/internal/model"
)

// Runner executes one run of a schedule. Implementations never fail: every
// fault is reported through the returned outcome.
type Runner interface {
	Run(ctx context.Context, schedule *model.ScrapeSchedule) *model.ExecutionOutcome
}

// Controller is the operator surface of the trigger registry
type Controller interface {
	// ExecuteNow runs a schedule synchronously, enabled or not
	ExecuteNow(ctx context.Context, id string) (*model.ExecutionOutcome, error)

	// Stats returns a snapshot of the registry
	Stats() model.RegistryStats

	// Schedules lists loaded schedules ordered by id
	Schedules() []*model.ScrapeSchedule

	// Get returns a loaded schedule by id
	Get(id string) (*model.ScrapeSchedule, error)
}

// OverlapPolicy decides what happens when a trigger fires while the previous
// triggered run of the same schedule is still in flight
type OverlapPolicy string

const (
	// OverlapAllow starts the new run regardless
	OverlapAllow OverlapPolicy = "allow"
	// OverlapSkip drops the firing
	OverlapSkip OverlapPolicy = "skip"
)

// ParseOverlapPolicy parses a policy name; empty means OverlapAllow
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch p := OverlapPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return OverlapAllow, nil
	case OverlapAllow, OverlapSkip:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOverlapPolicy, s)
	}
}
