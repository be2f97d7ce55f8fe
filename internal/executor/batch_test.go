package executor

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/scrape-scheduler/internal/model"
)

// submitCall is one recorded call to stubSubmitter
type submitCall struct {
	url     string
	actions []model.Action
	options map[string]interface{}
	started time.Time
	ended   time.Time
}

// stubSubmitter is an in-memory JobSubmitter
type stubSubmitter struct {
	delay     time.Duration
	fail      func(url string) bool
	panicWith interface{}

	mu    sync.Mutex
	calls []submitCall

	inflight    int32
	maxInflight int32
}

func (s *stubSubmitter) Submit(_ context.Context, url string, actions []model.Action, options map[string]interface{}) model.JobSubmissionResult {
	n := atomic.AddInt32(&s.inflight, 1)
	defer atomic.AddInt32(&s.inflight, -1)
	for {
		max := atomic.LoadInt32(&s.maxInflight)
		if n <= max || atomic.CompareAndSwapInt32(&s.maxInflight, max, n) {
			break
		}
	}

	if s.panicWith != nil {
		panic(s.panicWith)
	}

	started := time.Now()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.calls = append(s.calls, submitCall{url: url, actions: actions, options: options, started: started, ended: time.Now()})
	s.mu.Unlock()

	if s.fail != nil && s.fail(url) {
		return model.JobSubmissionResult{Success: false, Error: "upstream rejected " + url}
	}
	return model.JobSubmissionResult{Success: true, JobID: "job:" + url}
}

func (s *stubSubmitter) HealthCheck(context.Context) bool { return true }

func (s *stubSubmitter) recorded() []submitCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]submitCall(nil), s.calls...)
}

func (s *stubSubmitter) callFor(url string) (submitCall, bool) {
	for _, c := range s.recorded() {
		if c.url == url {
			return c, true
		}
	}
	return submitCall{}, false
}

func intPtr(v int) *int { return &v }

func paginatedConfig(start, end, batchSize int, batchDelayMs *int) *model.ScrapeConfig {
	return &model.ScrapeConfig{
		BaseURL:    "https://shop.example.com/list",
		Pagination: &model.PaginationConfig{Enabled: true, StartPage: start, EndPage: end},
		Actions: []model.Action{
			{"type": "navigate", "url": "{{url}}"},
			{"type": "extract", "selector": ".product"},
		},
		RateLimit: model.RateLimitConfig{BatchSize: batchSize, DelayBetweenBatches: batchDelayMs},
		Options:   map[string]interface{}{"render": true},
	}
}

func TestPartitionCoversRange(t *testing.T) {
	for start := -2; start <= 3; start++ {
		for end := start; end <= start+12; end++ {
			for size := 1; size <= 6; size++ {
				pages := (&model.PaginationConfig{StartPage: start, EndPage: end}).Pages()
				batches := partition(pages, size)

				n := end - start + 1
				require.Len(t, batches, (n+size-1)/size, "start=%d end=%d size=%d", start, end, size)

				seen := make(map[int]int)
				next := start
				for _, batch := range batches {
					assert.NotEmpty(t, batch)
					assert.LessOrEqual(t, len(batch), size)
					for _, p := range batch {
						assert.Equal(t, next, p, "pages must stay in order")
						next++
						seen[p]++
					}
				}
				assert.Len(t, seen, n)
				for p, count := range seen {
					assert.Equal(t, 1, count, "page %d", p)
				}
			}
		}
	}
}

func TestPageURLAndPlaceholders(t *testing.T) {
	assert.Equal(t, "https://a.example/items?p=7", pageURL("https://a.example/items", "p", 7))

	actions := []model.Action{
		{"type": "navigate", "url": "{{url}}"},
		{"type": "screenshot", "url": "{{url}}&again={{url}}"},
		{"type": "wait", "ms": float64(200)},
	}
	url := pageURL("https://a.example/items", "page", 3)
	got := expandActions(actions, url)

	require.Len(t, got, 3)
	assert.Equal(t, url, got[0]["url"])
	assert.Equal(t, url+"&again="+url, got[1]["url"])
	assert.Equal(t, actions[2], got[2])
	assert.Equal(t, "{{url}}", actions[0]["url"], "source actions are not mutated")
}

func TestBatchExecutor_Run(t *testing.T) {
	logger := zap.NewNop()

	t.Run("Batches with delay", func(t *testing.T) {
		sub := &stubSubmitter{delay: 2 * time.Millisecond}
		b := NewBatchExecutor(sub, logger)

		result, err := b.Run(context.Background(), "shop", paginatedConfig(1, 5, 2, intPtr(10)))
		require.NoError(t, err)

		assert.Equal(t, 5, result.Submitted)
		assert.Equal(t, 0, result.Failed)
		assert.Equal(t, 3, result.Batches)
		assert.Len(t, result.JobIDs, 5)
		assert.LessOrEqual(t, atomic.LoadInt32(&sub.maxInflight), int32(2))

		calls := sub.recorded()
		require.Len(t, calls, 5)

		// every page of batch k is dispatched after every page of batch k-1 resolved
		batchOf := func(page int) int { return (page - 1) / 2 }
		for p := 1; p <= 5; p++ {
			cur, ok := sub.callFor(pageURL("https://shop.example.com/list", "page", p))
			require.True(t, ok)
			for q := 1; q <= 5; q++ {
				if batchOf(q) != batchOf(p)-1 {
					continue
				}
				prev, _ := sub.callFor(pageURL("https://shop.example.com/list", "page", q))
				assert.False(t, cur.started.Before(prev.ended), "page %d started before page %d ended", p, q)
			}
		}

		first, _ := sub.callFor(pageURL("https://shop.example.com/list", "page", 1))
		firstDone := first.ended
		if second, ok := sub.callFor(pageURL("https://shop.example.com/list", "page", 2)); ok && second.ended.Before(firstDone) {
			firstDone = second.ended
		}
		last, _ := sub.callFor(pageURL("https://shop.example.com/list", "page", 5))
		assert.GreaterOrEqual(t, last.started.Sub(firstDone), 20*time.Millisecond)
	})

	t.Run("Placeholder substitution per page", func(t *testing.T) {
		sub := &stubSubmitter{}
		b := NewBatchExecutor(sub, logger)

		_, err := b.Run(context.Background(), "shop", paginatedConfig(4, 6, 3, intPtr(0)))
		require.NoError(t, err)

		for p := 4; p <= 6; p++ {
			url := pageURL("https://shop.example.com/list", "page", p)
			c, ok := sub.callFor(url)
			require.True(t, ok, "page %d not submitted", p)
			assert.Equal(t, url, c.actions[0]["url"])
			assert.Equal(t, model.Action{"type": "extract", "selector": ".product"}, c.actions[1])
			assert.Equal(t, true, c.options["render"])
		}
	})

	t.Run("Single page failure does not abort", func(t *testing.T) {
		sub := &stubSubmitter{fail: func(url string) bool { return strings.HasSuffix(url, "page=2") }}
		b := NewBatchExecutor(sub, logger)

		result, err := b.Run(context.Background(), "shop", paginatedConfig(1, 3, 1, intPtr(0)))
		require.NoError(t, err)

		assert.Equal(t, 2, result.Submitted)
		assert.Equal(t, 1, result.Failed)
		assert.Len(t, sub.recorded(), 3)

		var failedPages []int
		for _, p := range result.Pages {
			if p.Error != "" {
				failedPages = append(failedPages, p.Page)
			}
		}
		assert.Equal(t, []int{2}, failedPages)
	})

	t.Run("Empty range", func(t *testing.T) {
		sub := &stubSubmitter{}
		b := NewBatchExecutor(sub, logger)

		result, err := b.Run(context.Background(), "shop", paginatedConfig(5, 1, 2, nil))
		require.NoError(t, err)
		assert.Equal(t, 0, result.Submitted)
		assert.Equal(t, 0, result.Failed)
		assert.Empty(t, sub.recorded())
	})

	t.Run("Short final batch", func(t *testing.T) {
		sub := &stubSubmitter{}
		b := NewBatchExecutor(sub, logger)

		result, err := b.Run(context.Background(), "shop", paginatedConfig(1, 3, 10, nil))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Batches)
		assert.Equal(t, 3, result.Submitted)
	})

	t.Run("Bounded fan-out", func(t *testing.T) {
		sub := &stubSubmitter{delay: 20 * time.Millisecond}
		b := NewBatchExecutor(sub, logger)

		result, err := b.Run(context.Background(), "shop", paginatedConfig(1, 7, 3, intPtr(0)))
		require.NoError(t, err)
		assert.Equal(t, 7, result.Submitted)
		assert.Equal(t, 3, result.Batches)
		assert.LessOrEqual(t, atomic.LoadInt32(&sub.maxInflight), int32(3))
		assert.GreaterOrEqual(t, atomic.LoadInt32(&sub.maxInflight), int32(2))
	})

	t.Run("Idempotent aggregates", func(t *testing.T) {
		sub := &stubSubmitter{}
		b := NewBatchExecutor(sub, logger)
		config := paginatedConfig(1, 9, 4, intPtr(0))

		first, err := b.Run(context.Background(), "shop", config)
		require.NoError(t, err)
		second, err := b.Run(context.Background(), "shop", config)
		require.NoError(t, err)

		assert.Equal(t, first.Submitted, second.Submitted)
		assert.Equal(t, first.Failed, second.Failed)
		assert.ElementsMatch(t, first.JobIDs, second.JobIDs)
	})

	t.Run("Cancelled between batches", func(t *testing.T) {
		sub := &stubSubmitter{}
		b := NewBatchExecutor(sub, logger)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		result, err := b.Run(ctx, "shop", paginatedConfig(1, 4, 1, intPtr(500)))
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, result.Submitted)
		assert.Len(t, sub.recorded(), 1)
	})

	t.Run("Pagination disabled", func(t *testing.T) {
		b := NewBatchExecutor(&stubSubmitter{}, logger)
		_, err := b.Run(context.Background(), "shop", &model.ScrapeConfig{BaseURL: "https://a.example"})
		assert.ErrorIs(t, err, ErrPaginationDisabled)
	})
}
