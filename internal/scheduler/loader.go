package scheduler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/t77yq/scrape-scheduler/internal/model"
)

// LoadResult is the outcome of decoding one schedule record. Exactly one of
// Schedule (valid) or Err is meaningful; Schedule may still be set alongside
// Err when the record decoded but failed validation.
type LoadResult struct {
	Source   string
	Schedule *model.ScrapeSchedule
	Err      error
}

// LoadReport collects per-record results of a load
type LoadReport struct {
	Results []LoadResult
}

// Loaded returns the valid schedules in load order
func (r LoadReport) Loaded() []*model.ScrapeSchedule {
	var schedules []*model.ScrapeSchedule
	for _, res := range r.Results {
		if res.Err == nil && res.Schedule != nil {
			schedules = append(schedules, res.Schedule)
		}
	}
	return schedules
}

// Failed returns the rejected records
func (r LoadReport) Failed() []LoadResult {
	var failed []LoadResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Err combines every definition error, or returns nil
func (r LoadReport) Err() error {
	var err error
	for _, res := range r.Results {
		err = multierr.Append(err, res.Err)
	}
	return err
}

// LoadDir decodes every *.json file in dir, in file-name order. A file holds
// either one schedule object or an array of them. Malformed records are
// reported per record; only an unreadable directory is returned as an error.
func LoadDir(dir string) (LoadReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return LoadReport{}, fmt.Errorf("failed to read schedules directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var report LoadReport
	for _, name := range names {
		report.Results = append(report.Results, loadFile(filepath.Join(dir, name))...)
	}
	return report, nil
}

func loadFile(path string) []LoadResult {
	name := filepath.Base(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return []LoadResult{{Source: name, Err: fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, name, err)}}
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return []LoadResult{decodeRecord(name, data)}
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return []LoadResult{{Source: name, Err: fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, name, err)}}
	}

	results := make([]LoadResult, 0, len(raws))
	for i, raw := range raws {
		results = append(results, decodeRecord(fmt.Sprintf("%s[%d]", name, i), raw))
	}
	return results
}

func decodeRecord(source string, raw []byte) LoadResult {
	var schedule model.ScrapeSchedule
	if err := json.Unmarshal(raw, &schedule); err != nil {
		return LoadResult{Source: source, Err: fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, source, err)}
	}
	return validateRecord(source, &schedule)
}

func validateRecord(source string, schedule *model.ScrapeSchedule) LoadResult {
	if schedule == nil {
		return LoadResult{Source: source, Err: fmt.Errorf("%w: %s: empty record", ErrInvalidSchedule, source)}
	}
	if err := schedule.Validate(); err != nil {
		return LoadResult{Source: source, Schedule: schedule, Err: fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, source, err)}
	}
	return LoadResult{Source: source, Schedule: schedule}
}
