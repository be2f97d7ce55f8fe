package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/t77yq/scrape-scheduler/internal/model"
	"github.com/t77yq/scrape-scheduler/internal/submitter"
)

// ErrPaginationDisabled is returned when a non-paginated config reaches the
// batch executor
var ErrPaginationDisabled = errors.New("pagination is not enabled")

// BatchExecutor expands a paginated scrape config into pages and submits
// them in sequential, rate-limited batches. It holds no per-run state.
type BatchExecutor struct {
	logger    *zap.Logger
	submitter submitter.JobSubmitter
}

// NewBatchExecutor creates a new batch executor
func NewBatchExecutor(sub submitter.JobSubmitter, logger *zap.Logger) *BatchExecutor {
	return &BatchExecutor{
		logger:    logger.Named("batch"),
		submitter: sub,
	}
}

// Run submits every page of config. Pages inside a batch are submitted
// concurrently and the next batch starts only after the whole batch has
// resolved and the inter-batch delay has elapsed. A failed page never aborts
// the run. A cancelled context stops further batches and the partial result
// is returned with the context error.
func (b *BatchExecutor) Run(ctx context.Context, scheduleID string, config *model.ScrapeConfig) (*model.BatchResult, error) {
	if !config.Paginated() {
		return nil, ErrPaginationDisabled
	}

	result := &model.BatchResult{JobIDs: []string{}}

	pages := config.Pagination.Pages()
	if len(pages) == 0 {
		b.logger.Info("Empty page range, nothing to submit",
			zap.String("schedule_id", scheduleID),
			zap.Int("start_page", config.Pagination.StartPage),
			zap.Int("end_page", config.Pagination.EndPage))
		return result, nil
	}

	param := config.Pagination.Param()
	delay := config.RateLimit.BatchDelay()
	batches := partition(pages, config.RateLimit.Batch())

	for i, batch := range batches {
		if i > 0 {
			if err := sleepContext(ctx, delay); err != nil {
				return result, fmt.Errorf("run interrupted after batch %d of %d: %w", i, len(batches), err)
			}
		}

		b.logger.Info("Submitting batch",
			zap.String("schedule_id", scheduleID),
			zap.Int("batch", i+1),
			zap.Int("batches", len(batches)),
			zap.Int("first_page", batch[0]),
			zap.Int("last_page", batch[len(batch)-1]))

		mapper := iter.Mapper[int, model.JobSubmissionResult]{MaxGoroutines: len(batch)}
		results := mapper.Map(batch, func(page *int) model.JobSubmissionResult {
			return b.submitPage(ctx, config, param, *page)
		})
		result.Batches++

		for _, r := range results {
			page := *r.Page
			if r.Accepted() {
				result.Submitted++
				result.JobIDs = append(result.JobIDs, r.JobID)
				result.Pages = append(result.Pages, model.PageResult{Page: page, JobID: r.JobID})
				b.logger.Debug("Page submitted",
					zap.String("schedule_id", scheduleID),
					zap.Int("page", page),
					zap.String("job_id", r.JobID))
				continue
			}

			errMsg := r.Error
			if errMsg == "" {
				errMsg = "submission rejected"
			}
			result.Failed++
			result.Pages = append(result.Pages, model.PageResult{Page: page, Error: errMsg})
			b.logger.Warn("Page submission failed",
				zap.String("schedule_id", scheduleID),
				zap.Int("page", page),
				zap.String("error", errMsg))
		}
	}

	return result, nil
}

// submitPage submits a single page with its own copy of the actions
func (b *BatchExecutor) submitPage(ctx context.Context, config *model.ScrapeConfig, param string, page int) model.JobSubmissionResult {
	url := pageURL(config.BaseURL, param, page)
	r := b.submitter.Submit(ctx, url, expandActions(config.Actions, url), config.Options)
	r.Page = &page
	return r
}

// sleepContext blocks for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
