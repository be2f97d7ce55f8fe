// Package submitter contains the boundary to the remote job-intake API.
package submitter

import (
	"context"

	"github.com/t77yq/scrape-scheduler/internal/model"
)

// JobSubmitter submits a single scrape job.
type JobSubmitter interface {
	// Submit never returns an error; failures are reported in the result.
	Submit(ctx context.Context, url string, actions []model.Action, options map[string]interface{}) model.JobSubmissionResult

	// HealthCheck is advisory and not used on the execution path.
	HealthCheck(ctx context.Context) bool
}

var _ JobSubmitter = (*HTTPJobSubmitter)(nil)
