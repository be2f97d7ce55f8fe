package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/t77yq/scrape-scheduler/internal/executor"
	"github.com/t77yq/scrape-scheduler/internal/model"
	"github.com/t77yq/scrape-scheduler/internal/scheduler"
	"github.com/t77yq/scrape-scheduler/internal/storage"
)

// ScheduleController is the registry surface the API needs
type ScheduleController interface {
	scheduler.Controller
	NextRun(id string) (time.Time, bool)
}

// MetricsSource provides run counters
type MetricsSource interface {
	Snapshot() model.MetricsSnapshot
}

// AlertSource provides raised alerts
type AlertSource interface {
	Alerts() []*model.Alert
}

// RunTracker reports runs currently executing
type RunTracker interface {
	InFlight() int
}

// RunLogSource reads flushed per-schedule run logs
type RunLogSource interface {
	GetLogs(scheduleID string, start, end time.Time) ([]executor.LogEntry, error)
}

// Handler serves the control API. Everything except Controller is optional.
type Handler struct {
	Controller ScheduleController
	Runs       RunTracker
	History    storage.ExecutionHistory
	RunLogs    RunLogSource
	Metrics    MetricsSource
	Alerts     AlertSource
}

type scheduleView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Enabled     bool       `json:"enabled"`
	Schedule    string     `json:"schedule"`
	Paginated   bool       `json:"paginated"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
}

func (h *Handler) view(s *model.ScrapeSchedule) scheduleView {
	v := scheduleView{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Enabled:     s.Enabled,
		Schedule:    s.Schedule,
		Paginated:   s.ScrapeConfig.Paginated(),
	}
	if next, ok := h.Controller.NextRun(s.ID); ok {
		v.NextRun = &next
	}
	return v
}

// HandleHealth reports liveness
func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleStats returns registry stats and, when available, run metrics
func (h *Handler) HandleStats(c *gin.Context) {
	body := gin.H{"registry": h.Controller.Stats()}
	if h.Runs != nil {
		body["inFlight"] = h.Runs.InFlight()
	}
	if h.Metrics != nil {
		body["metrics"] = h.Metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// HandleListSchedules lists loaded schedules
func (h *Handler) HandleListSchedules(c *gin.Context) {
	schedules := h.Controller.Schedules()
	views := make([]scheduleView, 0, len(schedules))
	for _, s := range schedules {
		views = append(views, h.view(s))
	}
	c.JSON(http.StatusOK, gin.H{"count": len(views), "schedules": views})
}

// HandleGetSchedule returns one schedule with its scrape config
func (h *Handler) HandleGetSchedule(c *gin.Context) {
	s, err := h.Controller.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedule": h.view(s), "scrapeConfig": s.ScrapeConfig})
}

// HandleRunSchedule runs a schedule synchronously
func (h *Handler) HandleRunSchedule(c *gin.Context) {
	// a client disconnect must not cut a run short
	ctx := context.WithoutCancel(c.Request.Context())

	outcome, err := h.Controller.ExecuteNow(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, scheduler.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

const defaultLogWindow = 24 * time.Hour

type logQuery struct {
	Start time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
	End   time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
}

// HandleScheduleLogs returns run log entries of a schedule. The window
// defaults to the last 24 hours ending now.
func (h *Handler) HandleScheduleLogs(c *gin.Context) {
	if h.RunLogs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run log is disabled"})
		return
	}

	id := c.Param("id")
	if _, err := h.Controller.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var req logQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.End.IsZero() {
		req.End = time.Now()
	}
	if req.Start.IsZero() {
		req.Start = req.End.Add(-defaultLogWindow)
	}
	if req.Start.After(req.End) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must not be after end"})
		return
	}

	logs, err := h.RunLogs.GetLogs(id, req.Start, req.End)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []executor.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(logs), "logs": logs})
}

type executionQuery struct {
	ScheduleID string `form:"schedule_id"`
	Status     string `form:"status" binding:"omitempty,oneof=success partial failed"`
	Limit      int    `form:"limit,default=50" binding:"min=0,max=500"`
	Offset     int    `form:"offset" binding:"min=0"`
}

// HandleListExecutions lists stored execution history
func (h *Handler) HandleListExecutions(c *gin.Context) {
	if h.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution history is disabled"})
		return
	}

	var req executionQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := storage.HistoryFilter{ScheduleID: req.ScheduleID, Status: model.ExecutionStatus(req.Status)}
	records, err := h.History.List(c.Request.Context(), filter, req.Offset, req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := h.History.Count(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":      total,
		"count":      len(records),
		"executions": records,
	})
}

// HandleGetExecution returns one execution record
func (h *Handler) HandleGetExecution(c *gin.Context) {
	if h.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution history is disabled"})
		return
	}

	record, err := h.History.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

// HandleListAlerts lists raised alerts, newest first
func (h *Handler) HandleListAlerts(c *gin.Context) {
	alerts := []*model.Alert{}
	if h.Alerts != nil {
		alerts = h.Alerts.Alerts()
	}
	c.JSON(http.StatusOK, gin.H{"count": len(alerts), "alerts": alerts})
}
