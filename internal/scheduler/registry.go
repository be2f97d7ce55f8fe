package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/scrape-scheduler/internal/model"
)

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// expressionParser accepts standard 5-field expressions, an optional leading
// seconds field and descriptors such as @hourly
var expressionParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateExpression reports whether expr is a valid trigger expression
func ValidateExpression(expr string) error {
	if _, err := expressionParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expr, err)
	}
	return nil
}

// Option configures a Registry
type Option func(*Registry)

// WithOverlapPolicy sets the policy for overlapping triggered runs
func WithOverlapPolicy(policy OverlapPolicy) Option {
	return func(r *Registry) {
		r.overlap = policy
	}
}

// Registry owns the schedule table and the live cron triggers. Mutations
// (Load, RegisterAll, StopAll) are serialized; ExecuteNow and trigger
// firings only read the table.
type Registry struct {
	logger  *zap.Logger
	runner  Runner
	overlap OverlapPolicy

	mu        sync.RWMutex
	schedules map[string]*model.ScrapeSchedule
	cron      *cron.Cron
	entryIDs  map[string]cron.EntryID
	timezone  string
	// stopped is set by StopAll; firings that lose the race are dropped
	stopped bool

	inflight sync.Map // schedule id -> *atomic.Bool, used by OverlapSkip
	runs     sync.WaitGroup
}

var _ Controller = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry(runner Runner, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:    logger.Named("registry"),
		runner:    runner,
		overlap:   OverlapAllow,
		schedules: make(map[string]*model.ScrapeSchedule),
		entryIDs:  make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the schedule table. Later duplicates overwrite earlier ones
// and invalid records are rejected individually. Live triggers are not
// touched until the next RegisterAll.
func (r *Registry) Load(schedules []*model.ScrapeSchedule) LoadReport {
	results := make([]LoadResult, 0, len(schedules))
	for i, s := range schedules {
		source := fmt.Sprintf("schedules[%d]", i)
		if s != nil && s.ID != "" {
			source = s.ID
		}
		results = append(results, LoadResult{Source: source, Schedule: s})
	}
	return r.apply(results)
}

// apply validates results that carry no error yet and swaps in the table
func (r *Registry) apply(results []LoadResult) LoadReport {
	table := make(map[string]*model.ScrapeSchedule, len(results))
	report := LoadReport{Results: make([]LoadResult, 0, len(results))}

	for _, res := range results {
		if res.Err == nil {
			res = validateRecord(res.Source, res.Schedule)
		}
		report.Results = append(report.Results, res)

		if res.Err != nil {
			r.logger.Warn("Rejected schedule definition",
				zap.String("source", res.Source),
				zap.Error(res.Err))
			continue
		}
		if _, dup := table[res.Schedule.ID]; dup {
			r.logger.Warn("Duplicate schedule id, later definition wins",
				zap.String("id", res.Schedule.ID),
				zap.String("source", res.Source))
		}
		table[res.Schedule.ID] = res.Schedule
	}

	r.mu.Lock()
	r.schedules = table
	r.mu.Unlock()

	r.logger.Info("Loaded schedules",
		zap.Int("loaded", len(table)),
		zap.Int("rejected", len(report.Failed())))

	return report
}

// RegisterAll creates one live trigger per enabled schedule with a valid
// expression, evaluated in timezone. Existing triggers are stopped first.
// It fails only when the timezone is unknown.
func (r *Registry) RegisterAll(timezone string) error {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnknownTimezone, timezone, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.registerLocked(loc, timezone)
	return nil
}

func (r *Registry) registerLocked(loc *time.Location, timezone string) {
	r.stopLocked()

	cl := &cronLogger{logger: r.logger.Named("cron")}
	c := cron.New(
		cron.WithParser(expressionParser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)

	for _, id := range r.sortedIDsLocked() {
		s := r.schedules[id]
		if !s.Enabled {
			r.logger.Info("Skipping disabled schedule", zap.String("id", id))
			continue
		}
		if err := ValidateExpression(s.Schedule); err != nil {
			r.logger.Error("Skipping schedule with invalid expression",
				zap.String("id", id),
				zap.String("expression", s.Schedule),
				zap.Error(err))
			continue
		}

		entryID, err := c.AddJob(s.Schedule, &cronJob{registry: r, schedule: s})
		if err != nil {
			r.logger.Error("Failed to add cron job", zap.String("id", id), zap.Error(err))
			continue
		}
		r.entryIDs[id] = entryID

		r.logger.Info("Registered schedule",
			zap.String("id", id),
			zap.String("name", s.Name),
			zap.String("expression", s.Schedule),
			zap.Time("next_run", c.Entry(entryID).Schedule.Next(time.Now().In(loc))))
	}

	c.Start()
	r.cron = c
	r.timezone = timezone
	r.stopped = false

	r.logger.Info("Registered triggers",
		zap.Int("active", len(r.entryIDs)),
		zap.Int("total", len(r.schedules)),
		zap.String("timezone", timezone))
}

// StopAll cancels every live trigger. Runs already in flight are not
// interrupted. Calling it again is a no-op.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.stopLocked()
}

func (r *Registry) stopLocked() {
	if r.cron == nil {
		return
	}
	// Stop's context waits on running jobs; in-flight runs finish on their own.
	r.cron.Stop()
	r.cron = nil
	r.entryIDs = make(map[string]cron.EntryID)
	r.logger.Info("Stopped all triggers")
}

// ExecuteNow runs a schedule synchronously. Disabled schedules and schedules
// with invalid expressions are runnable. Overlap policy does not apply.
func (r *Registry) ExecuteNow(ctx context.Context, id string) (*model.ExecutionOutcome, error) {
	schedule, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Executing schedule on demand", zap.String("id", id))
	return r.runner.Run(ctx, schedule), nil
}

// RunAllEnabled runs every enabled schedule once, sequentially in id order.
// It stops early if ctx is cancelled.
func (r *Registry) RunAllEnabled(ctx context.Context) []*model.ExecutionOutcome {
	var enabled []*model.ScrapeSchedule
	for _, s := range r.Schedules() {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	r.logger.Info("Running all enabled schedules", zap.Int("count", len(enabled)))

	outcomes := make([]*model.ExecutionOutcome, 0, len(enabled))
	for _, s := range enabled {
		if ctx.Err() != nil {
			r.logger.Warn("Startup run interrupted", zap.Error(ctx.Err()))
			break
		}
		outcomes = append(outcomes, r.runner.Run(ctx, s))
	}
	return outcomes
}

// Stats returns total, enabled and live-trigger counts
func (r *Registry) Stats() model.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := model.RegistryStats{
		TotalSchedules: len(r.schedules),
		ActiveJobs:     len(r.entryIDs),
	}
	for _, s := range r.schedules {
		if s.Enabled {
			stats.EnabledSchedules++
		}
	}
	return stats
}

// Schedules lists loaded schedules ordered by id
func (r *Registry) Schedules() []*model.ScrapeSchedule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.sortedIDsLocked()
	schedules := make([]*model.ScrapeSchedule, 0, len(ids))
	for _, id := range ids {
		schedules = append(schedules, r.schedules[id])
	}
	return schedules
}

// Get returns a loaded schedule
func (r *Registry) Get(id string) (*model.ScrapeSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return s, nil
}

// NextRun returns the next firing time of a live trigger
func (r *Registry) NextRun(id string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entryID, ok := r.entryIDs[id]
	if !ok || r.cron == nil {
		return time.Time{}, false
	}
	next := r.cron.Entry(entryID).Next
	return next, !next.IsZero()
}

// Reload reloads definitions from dir and, if triggers are live, re-registers
// them in the same timezone. After StopAll it only replaces the table.
func (r *Registry) Reload(dir string) (LoadReport, error) {
	files, err := LoadDir(dir)
	if err != nil {
		return LoadReport{}, err
	}
	report := r.apply(files.Results)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil {
		return report, nil
	}
	loc, err := time.LoadLocation(r.timezone)
	if err != nil {
		return report, fmt.Errorf("%w: %q: %v", ErrUnknownTimezone, r.timezone, err)
	}
	r.registerLocked(loc, r.timezone)
	return report, nil
}

// Wait blocks until every triggered run has finished or ctx is done
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) sortedIDsLocked() []string {
	ids := make([]string, 0, len(r.schedules))
	for id := range r.schedules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// fire runs a triggered schedule on the cron goroutine
func (r *Registry) fire(schedule *model.ScrapeSchedule) {
	// Add under the lock so it is ordered against StopAll and Wait
	r.mu.RLock()
	if r.stopped {
		r.mu.RUnlock()
		r.logger.Debug("Dropping firing after stop", zap.String("id", schedule.ID))
		return
	}
	r.runs.Add(1)
	r.mu.RUnlock()
	defer r.runs.Done()

	if r.overlap == OverlapSkip {
		val, _ := r.inflight.LoadOrStore(schedule.ID, new(atomic.Bool))
		busy := val.(*atomic.Bool)
		if !busy.CompareAndSwap(false, true) {
			r.logger.Warn("Skipping firing, previous run still in flight",
				zap.String("id", schedule.ID))
			return
		}
		defer busy.Store(false)
	}

	r.logger.Info("Trigger fired",
		zap.String("id", schedule.ID),
		zap.String("name", schedule.Name))
	r.runner.Run(context.Background(), schedule)
}

// cronJob implements cron.Job
type cronJob struct {
	registry *Registry
	schedule *model.ScrapeSchedule
}

// Run implements cron.Job
func (j *cronJob) Run() {
	j.registry.fire(j.schedule)
}
