package submitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/scrape-scheduler/internal/model"
)

const (
	defaultScrapeEndpoint = "/fetch"
	defaultTimeout        = 30 * time.Second
	healthEndpoint        = "/health"

	// errNoJobID is reported when a 2xx response carries no job id
	errNoJobID = "No jobId"
)

// HTTPConfig configures the job-intake API client
type HTTPConfig struct {
	BaseURL        string
	ScrapeEndpoint string
	Token          string
	Timeout        time.Duration
}

// jobRequest is the body posted to the scrape endpoint
type jobRequest struct {
	URL     string                 `json:"url"`
	Actions []model.Action         `json:"actions"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// jobResponse is the part of the intake response we rely on
type jobResponse struct {
	JobID string `json:"jobId"`
}

// HTTPJobSubmitter submits scrape jobs to the job-intake API over HTTP
type HTTPJobSubmitter struct {
	logger     *zap.Logger
	httpClient *http.Client
	config     HTTPConfig
}

// NewHTTPJobSubmitter creates a new HTTP job submitter
func NewHTTPJobSubmitter(config HTTPConfig, logger *zap.Logger) *HTTPJobSubmitter {
	if config.ScrapeEndpoint == "" {
		config.ScrapeEndpoint = defaultScrapeEndpoint
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &HTTPJobSubmitter{
		logger: logger.Named("submitter"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		config: config,
	}
}

// Submit posts one job to the intake API. Every failure is reported in the
// returned result.
func (s *HTTPJobSubmitter) Submit(ctx context.Context, url string, actions []model.Action, options map[string]interface{}) model.JobSubmissionResult {
	body, err := json.Marshal(jobRequest{URL: url, Actions: actions, Options: options})
	if err != nil {
		return failure(fmt.Sprintf("failed to marshal request: %v", err))
	}

	// Create request
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+s.config.ScrapeEndpoint, bytes.NewReader(body))
	if err != nil {
		return failure(fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.Token)
	}

	s.logger.Debug("Submitting scrape job", zap.String("url", url), zap.Int("actions", len(actions)))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return failure(err.Error())
	}
	defer resp.Body.Close()

	// Read response
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(fmt.Sprintf("request failed with status: %d", resp.StatusCode))
	}

	var decoded jobResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return failure(fmt.Sprintf("failed to decode response: %v", err))
		}
	}
	if decoded.JobID == "" {
		return failure(errNoJobID)
	}

	return model.JobSubmissionResult{Success: true, JobID: decoded.JobID}
}

// HealthCheck reports whether the intake API answers its health endpoint
// with 200. It is advisory only.
func (s *HTTPJobSubmitter) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.BaseURL+healthEndpoint, nil)
	if err != nil {
		return false
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

func failure(msg string) model.JobSubmissionResult {
	return model.JobSubmissionResult{Success: false, Error: msg}
}
