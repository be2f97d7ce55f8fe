package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/scrape-scheduler/internal/model"
	"github.com/t77yq/scrape-scheduler/internal/submitter"
)

const sinkTimeout = 10 * time.Second

// OutcomeSink receives every completed execution outcome
type OutcomeSink interface {
	Record(ctx context.Context, outcome *model.ExecutionOutcome) error
}

// ScheduleExecutor runs a schedule's scrape config and produces an outcome.
// It never returns an error to its caller: every fault inside a run ends up
// as a failed outcome.
type ScheduleExecutor struct {
	logger *zap.Logger
	batch  *BatchExecutor
	single *SingleShotExecutor

	mu    sync.RWMutex
	sinks []OutcomeSink

	running sync.Map // execution id -> schedule id
}

// NewScheduleExecutor creates a new schedule executor
func NewScheduleExecutor(sub submitter.JobSubmitter, logger *zap.Logger, sinks ...OutcomeSink) *ScheduleExecutor {
	logger = logger.Named("executor")
	return &ScheduleExecutor{
		logger: logger,
		batch:  NewBatchExecutor(sub, logger),
		single: NewSingleShotExecutor(sub, logger),
		sinks:  sinks,
	}
}

// AddSink registers an outcome sink
func (e *ScheduleExecutor) AddSink(sink OutcomeSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// Run executes a schedule once
func (e *ScheduleExecutor) Run(ctx context.Context, schedule *model.ScrapeSchedule) *model.ExecutionOutcome {
	outcome := &model.ExecutionOutcome{
		ExecutionID:  uuid.New().String(),
		ScheduleID:   schedule.ID,
		ScheduleName: schedule.Name,
		StartedAt:    time.Now(),
		JobIDs:       []string{},
	}

	e.logger.Info("Executing schedule",
		zap.String("schedule_id", schedule.ID),
		zap.String("name", schedule.Name),
		zap.String("execution_id", outcome.ExecutionID),
		zap.Bool("paginated", schedule.ScrapeConfig.Paginated()))

	// Track running execution
	e.running.Store(outcome.ExecutionID, schedule.ID)
	defer e.running.Delete(outcome.ExecutionID)

	if err := e.dispatch(ctx, schedule, outcome); err != nil {
		outcome.Error = err.Error()
	}
	outcome.Complete(time.Now())

	fields := []zap.Field{
		zap.String("schedule_id", schedule.ID),
		zap.String("execution_id", outcome.ExecutionID),
		zap.String("status", string(outcome.Status)),
		zap.Int("pages_submitted", outcome.PagesSubmitted),
		zap.Int("pages_failed", outcome.PagesFailed),
		zap.Duration("duration", outcome.Duration),
	}
	if outcome.Error != "" {
		e.logger.Error("Schedule run failed", append(fields, zap.String("error", outcome.Error))...)
	} else {
		e.logger.Info("Schedule run completed", fields...)
	}

	e.record(ctx, outcome)
	return outcome
}

// dispatch picks the batch or single-shot path and converts panics into errors
func (e *ScheduleExecutor) dispatch(ctx context.Context, schedule *model.ScrapeSchedule, outcome *model.ExecutionOutcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during run: %v", r)
		}
	}()

	config := &schedule.ScrapeConfig
	if config.Paginated() {
		result, runErr := e.batch.Run(ctx, schedule.ID, config)
		if result != nil {
			outcome.PagesSubmitted = result.Submitted
			outcome.PagesFailed = result.Failed
			outcome.JobIDs = append(outcome.JobIDs, result.JobIDs...)
			outcome.Pages = result.Pages
		}
		return runErr
	}

	result := e.single.Submit(ctx, config)
	if result.Accepted() {
		outcome.PagesSubmitted = 1
		outcome.JobIDs = append(outcome.JobIDs, result.JobID)
	} else {
		outcome.PagesFailed = 1
	}
	return nil
}

// record hands the outcome to every sink; sink errors never change the outcome
func (e *ScheduleExecutor) record(ctx context.Context, outcome *model.ExecutionOutcome) {
	e.mu.RLock()
	sinks := append([]OutcomeSink(nil), e.sinks...)
	e.mu.RUnlock()
	if len(sinks) == 0 {
		return
	}

	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	for _, sink := range sinks {
		if err := sink.Record(sinkCtx, outcome); err != nil {
			e.logger.Error("Failed to record execution outcome",
				zap.String("execution_id", outcome.ExecutionID),
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Error(err))
		}
	}
}

// InFlight returns the number of runs currently executing
func (e *ScheduleExecutor) InFlight() int {
	n := 0
	e.running.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
