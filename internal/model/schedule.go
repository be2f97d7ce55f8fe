package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPageParam is the query parameter used for the page number when a
// pagination config does not name one.
const DefaultPageParam = "page"

// URLPlaceholder is replaced inside an action's url field with the page URL.
const URLPlaceholder = "{{url}}"

// Action is an opaque action descriptor forwarded to the job-intake API.
// Only the optional "url" field is interpreted.
type Action map[string]interface{}

// URL returns the action's url field if it is present and a string.
func (a Action) URL() (string, bool) {
	v, ok := a["url"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// WithPageURL returns a shallow copy of the action with every URLPlaceholder
// in its url field replaced by pageURL. Actions without a string url field
// are returned as an unchanged copy.
func (a Action) WithPageURL(pageURL string) Action {
	out := make(Action, len(a))
	for k, v := range a {
		out[k] = v
	}
	if u, ok := a.URL(); ok {
		out["url"] = strings.ReplaceAll(u, URLPlaceholder, pageURL)
	}
	return out
}

// PaginationConfig describes the inclusive page range of a paginated scrape
type PaginationConfig struct {
	Enabled   bool   `json:"enabled"`
	StartPage int    `json:"startPage"`
	EndPage   int    `json:"endPage"`
	PageParam string `json:"pageParam,omitempty"`
}

// Param returns the page query parameter, falling back to DefaultPageParam.
func (p *PaginationConfig) Param() string {
	if p == nil || p.PageParam == "" {
		return DefaultPageParam
	}
	return p.PageParam
}

// Pages returns the inclusive page sequence. An inverted range is empty.
func (p *PaginationConfig) Pages() []int {
	if p == nil || p.StartPage > p.EndPage {
		return nil
	}
	pages := make([]int, 0, p.EndPage-p.StartPage+1)
	for page := p.StartPage; page <= p.EndPage; page++ {
		pages = append(pages, page)
	}
	return pages
}

// RateLimitConfig bounds how fast a schedule submits pages.
// Delays are in milliseconds.
type RateLimitConfig struct {
	DelayBetweenPages   int  `json:"delayBetweenPages"`
	DelayBetweenBatches *int `json:"delayBetweenBatches,omitempty"`
	BatchSize           int  `json:"batchSize,omitempty"`
}

// Batch returns the configured batch size, defaulting to 1.
func (r RateLimitConfig) Batch() int {
	if r.BatchSize < 1 {
		return 1
	}
	return r.BatchSize
}

// BatchDelay returns the suspension between two batches. It falls back to
// the per-page delay when no batch delay is set.
func (r RateLimitConfig) BatchDelay() time.Duration {
	ms := r.DelayBetweenPages
	if r.DelayBetweenBatches != nil {
		ms = *r.DelayBetweenBatches
	}
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// ScrapeConfig is the scrape request a schedule submits on every run
type ScrapeConfig struct {
	BaseURL    string                 `json:"baseUrl"`
	Pagination *PaginationConfig      `json:"pagination,omitempty"`
	Actions    []Action               `json:"actions"`
	RateLimit  RateLimitConfig        `json:"rateLimit"`
	Options    map[string]interface{} `json:"options,omitempty"`
}

// Paginated reports whether the config expands into a page range.
func (c *ScrapeConfig) Paginated() bool {
	return c.Pagination != nil && c.Pagination.Enabled
}

// Validate checks the fields a run depends on. An inverted page range is
// valid and yields an empty run.
func (c *ScrapeConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("scrapeConfig.baseUrl is required")
	}
	if c.RateLimit.DelayBetweenPages < 0 {
		return fmt.Errorf("scrapeConfig.rateLimit.delayBetweenPages must be >= 0, got %d", c.RateLimit.DelayBetweenPages)
	}
	if d := c.RateLimit.DelayBetweenBatches; d != nil && *d < 0 {
		return fmt.Errorf("scrapeConfig.rateLimit.delayBetweenBatches must be >= 0, got %d", *d)
	}
	if c.RateLimit.BatchSize < 0 {
		return fmt.Errorf("scrapeConfig.rateLimit.batchSize must be >= 1, got %d", c.RateLimit.BatchSize)
	}
	return nil
}

// NotificationConfig is carried with a schedule definition. Delivery is
// handled outside this service.
type NotificationConfig struct {
	Enabled   bool   `json:"enabled"`
	OnSuccess bool   `json:"onSuccess,omitempty"`
	OnFailure bool   `json:"onFailure,omitempty"`
	Email     string `json:"email,omitempty"`
	Webhook   string `json:"webhook,omitempty"`
}

// ScrapeSchedule binds a cron expression to a scrape configuration.
// A loaded schedule is never mutated; reloading replaces it.
type ScrapeSchedule struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	Enabled       bool                `json:"enabled"`
	Schedule      string              `json:"schedule"`
	ScrapeConfig  ScrapeConfig        `json:"scrapeConfig"`
	Notifications *NotificationConfig `json:"notifications,omitempty"`
}

// Validate checks that required fields are present. The cron expression is
// only checked for presence here; its syntax is validated at registration.
func (s *ScrapeSchedule) Validate() error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return errors.New("id is required")
	case strings.ContainsAny(s.ID, `/\`) || s.ID == "." || s.ID == "..":
		return fmt.Errorf("id %q must not contain path separators", s.ID)
	case strings.TrimSpace(s.Name) == "":
		return errors.New("name is required")
	case strings.TrimSpace(s.Schedule) == "":
		return errors.New("schedule is required")
	}
	return s.ScrapeConfig.Validate()
}

// RegistryStats is a read-only snapshot of the trigger registry
type RegistryStats struct {
	TotalSchedules   int `json:"totalSchedules"`
	EnabledSchedules int `json:"enabledSchedules"`
	ActiveJobs       int `json:"activeJobs"`
}
