package executor

import (
	"context"

	"go.uber.org/zap"

	"github.com/t77yq/scrape-scheduler/internal/model"
	"github.com/t77yq/scrape-scheduler/internal/submitter"
)

// SingleShotExecutor submits a non-paginated scrape config as one job
type SingleShotExecutor struct {
	logger    *zap.Logger
	submitter submitter.JobSubmitter
}

// NewSingleShotExecutor creates a new single-shot executor
func NewSingleShotExecutor(sub submitter.JobSubmitter, logger *zap.Logger) *SingleShotExecutor {
	return &SingleShotExecutor{
		logger:    logger.Named("single"),
		submitter: sub,
	}
}

// Submit sends config unmodified and returns the submission result.
func (s *SingleShotExecutor) Submit(ctx context.Context, config *model.ScrapeConfig) model.JobSubmissionResult {
	result := s.submitter.Submit(ctx, config.BaseURL, config.Actions, config.Options)
	if result.Accepted() {
		s.logger.Info("Job submitted", zap.String("url", config.BaseURL), zap.String("job_id", result.JobID))
	} else {
		s.logger.Warn("Job submission failed", zap.String("url", config.BaseURL), zap.String("error", result.Error))
	}
	return result
}

// Run reports whether the job was accepted with a job id.
func (s *SingleShotExecutor) Run(ctx context.Context, config *model.ScrapeConfig) bool {
	return s.Submit(ctx, config).Accepted()
}
