package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the gin engine for h
func NewRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/health", h.HandleHealth)
	r.GET("/stats", h.HandleStats)
	r.GET("/schedules", h.HandleListSchedules)
	r.GET("/schedules/:id", h.HandleGetSchedule)
	r.POST("/schedules/:id/run", h.HandleRunSchedule)
	r.GET("/schedules/:id/logs", h.HandleScheduleLogs)
	r.GET("/executions", h.HandleListExecutions)
	r.GET("/executions/:id", h.HandleGetExecution)
	r.GET("/alerts", h.HandleListAlerts)

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Server runs the control API
type Server struct {
	logger *zap.Logger
	http   *http.Server
}

// NewServer creates a server listening on addr
func NewServer(addr string, h *Handler, logger *zap.Logger) *Server {
	logger = logger.Named("api")
	return &Server{
		logger: logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(h, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves in the background
func (s *Server) Start() {
	s.logger.Info("Control API listening", zap.String("addr", s.http.Addr))
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Control API stopped", zap.Error(err))
		}
	}()
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down control API: %w", err)
	}
	return nil
}
