package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/scrape-scheduler/internal/executor"
	"github.com/t77yq/scrape-scheduler/internal/model"
	"github.com/t77yq/scrape-scheduler/internal/monitor"
	"github.com/t77yq/scrape-scheduler/internal/scheduler"
	"github.com/t77yq/scrape-scheduler/internal/storage"
)

type okSubmitter struct{}

func (okSubmitter) Submit(_ context.Context, url string, _ []model.Action, _ map[string]interface{}) model.JobSubmissionResult {
	return model.JobSubmissionResult{Success: true, JobID: "job:" + url}
}

func (okSubmitter) HealthCheck(context.Context) bool { return true }

type fixture struct {
	router   *gin.Engine
	registry *scheduler.Registry
	handler  *Handler
	runLog   *executor.RunLog
}

func setup(t *testing.T, withHistory bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	metrics := monitor.NewMetricsCollector(nil, 0, logger)
	alerts := monitor.NewAlertManager(logger, nil)
	require.NoError(t, alerts.AddRule(&model.AlertRule{Name: "failed", Type: model.AlertTypeRunFailed}))

	exec := executor.NewScheduleExecutor(okSubmitter{}, zap.NewNop(), metrics, alerts)
	h := &Handler{Runs: exec, Metrics: metrics, Alerts: alerts}

	var runLog *executor.RunLog
	if withHistory {
		var err error
		runLog, err = executor.NewRunLog(executor.RunLogConfig{LogDir: filepath.Join(t.TempDir(), "runs")}, logger)
		require.NoError(t, err)
		t.Cleanup(runLog.Stop)
		exec.AddSink(runLog)
		h.RunLogs = runLog

		history, err := storage.NewSQLiteExecutionHistory(logger, filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		t.Cleanup(func() { history.Close() })
		exec.AddSink(history)
		h.History = history
	}

	registry := scheduler.NewRegistry(exec, logger)
	registry.Load([]*model.ScrapeSchedule{
		{
			ID: "shop", Name: "Shop", Enabled: true, Schedule: "0 * * * *",
			ScrapeConfig: model.ScrapeConfig{
				BaseURL:    "https://shop.example.com",
				Pagination: &model.PaginationConfig{Enabled: true, StartPage: 1, EndPage: 3},
				RateLimit:  model.RateLimitConfig{BatchSize: 3},
			},
		},
		{
			ID: "off", Name: "Off", Enabled: false, Schedule: "0 * * * *",
			ScrapeConfig: model.ScrapeConfig{BaseURL: "https://off.example.com"},
		},
	})
	require.NoError(t, registry.RegisterAll("UTC"))
	t.Cleanup(registry.StopAll)

	h.Controller = registry
	return &fixture{router: NewRouter(h, logger), registry: registry, handler: h, runLog: runLog}
}

func (f *fixture) do(t *testing.T, method, path string, out interface{}) int {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	f.router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func TestHandler(t *testing.T) {
	f := setup(t, true)

	t.Run("Health", func(t *testing.T) {
		var body map[string]string
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", &body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("List schedules", func(t *testing.T) {
		var body struct {
			Count     int            `json:"count"`
			Schedules []scheduleView `json:"schedules"`
		}
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/schedules", &body))
		require.Equal(t, 2, body.Count)
		assert.Equal(t, "off", body.Schedules[0].ID)
		assert.Nil(t, body.Schedules[0].NextRun)
		assert.Equal(t, "shop", body.Schedules[1].ID)
		assert.NotNil(t, body.Schedules[1].NextRun)
		assert.True(t, body.Schedules[1].Paginated)
	})

	t.Run("Get schedule", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/schedules/shop", nil))
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/schedules/missing", nil))
	})

	t.Run("Run schedule", func(t *testing.T) {
		var outcome model.ExecutionOutcome
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/schedules/shop/run", &outcome))
		assert.Equal(t, model.StatusSuccess, outcome.Status)
		assert.Equal(t, 3, outcome.PagesSubmitted)

		var disabled model.ExecutionOutcome
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/schedules/off/run", &disabled))
		assert.Equal(t, 1, disabled.PagesSubmitted)
	})

	t.Run("Run missing schedule", func(t *testing.T) {
		var body map[string]string
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/schedules/missing-id/run", &body))
		assert.Contains(t, body["error"], "missing-id")
	})

	t.Run("Stats", func(t *testing.T) {
		var body struct {
			Registry model.RegistryStats   `json:"registry"`
			InFlight *int                  `json:"inFlight"`
			Metrics  model.MetricsSnapshot `json:"metrics"`
		}
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/stats", &body))
		assert.Equal(t, model.RegistryStats{TotalSchedules: 2, EnabledSchedules: 1, ActiveJobs: 1}, body.Registry)
		require.NotNil(t, body.InFlight)
		assert.Equal(t, 0, *body.InFlight)
		assert.Equal(t, int64(2), body.Metrics.Runs)
		assert.Equal(t, int64(4), body.Metrics.PagesSubmitted)
	})

	t.Run("Executions", func(t *testing.T) {
		var body struct {
			Total      int                        `json:"total"`
			Executions []*storage.ExecutionRecord `json:"executions"`
		}
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/executions?schedule_id=shop", &body))
		require.Equal(t, 1, body.Total)
		assert.Equal(t, "shop", body.Executions[0].ScheduleID)

		var record storage.ExecutionRecord
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/executions/"+body.Executions[0].ExecutionID, &record))
		assert.Len(t, record.JobIDs, 3)

		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/executions/unknown", nil))
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/executions?status=weird", nil))
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/executions?limit=-1", nil))
	})

	t.Run("Run logs", func(t *testing.T) {
		f.runLog.Flush()

		var body struct {
			Count int                 `json:"count"`
			Logs  []executor.LogEntry `json:"logs"`
		}
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/schedules/shop/logs", &body))
		require.Equal(t, 4, body.Count, "one entry per page plus a summary")
		for _, entry := range body.Logs {
			assert.Equal(t, "shop", entry.ScheduleID)
		}

		from := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
		to := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
		body.Count = -1
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/schedules/shop/logs?start="+from+"&end="+to, &body))
		assert.Equal(t, 0, body.Count)
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/schedules/shop/logs?start="+to+"&end="+from, nil))

		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/schedules/off/logs", &body))
		assert.Equal(t, 1, body.Count)

		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/schedules/missing/logs", nil))
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/schedules/shop/logs?start=yesterday", nil))
	})

	t.Run("Alerts", func(t *testing.T) {
		var body struct {
			Count int `json:"count"`
		}
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/alerts", &body))
		assert.Equal(t, 0, body.Count)
	})
}

func TestHandler_HistoryDisabled(t *testing.T) {
	f := setup(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/executions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/executions/x", nil))
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/schedules/shop/logs", nil))
}
