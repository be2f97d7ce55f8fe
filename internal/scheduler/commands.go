package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// commandError is the reply body of a failed command
type commandError struct {
	Error    string `json:"error"`
	NotFound bool   `json:"notFound,omitempty"`
}

// CommandServer answers operator requests over NATS request/reply:
// schedule.execute runs a schedule now and replies with its outcome,
// schedule.stats replies with registry stats.
type CommandServer struct {
	logger     *zap.Logger
	nc         *nats.Conn
	controller Controller

	mu   sync.Mutex
	subs []*nats.Subscription
	runs sync.WaitGroup
}

// NewCommandServer creates a command server
func NewCommandServer(nc *nats.Conn, controller Controller, logger *zap.Logger) *CommandServer {
	return &CommandServer{
		logger:     logger.Named("commands"),
		nc:         nc,
		controller: controller,
	}
}

// Start subscribes to command subjects. Runs started by schedule.execute use
// ctx.
func (s *CommandServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execSub, err := s.nc.QueueSubscribe(executeSubject, commandQueue, func(msg *nats.Msg) {
		// Runs may be long; don't hold up the subscription.
		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			s.handleExecute(ctx, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", executeSubject, err)
	}
	s.subs = append(s.subs, execSub)

	statsSub, err := s.nc.QueueSubscribe(statsSubject, commandQueue, func(msg *nats.Msg) {
		s.respond(msg, s.controller.Stats())
	})
	if err != nil {
		execSub.Unsubscribe()
		return fmt.Errorf("failed to subscribe to %s: %w", statsSubject, err)
	}
	s.subs = append(s.subs, statsSub)

	s.logger.Info("Listening for commands",
		zap.String("execute", executeSubject),
		zap.String("stats", statsSubject))
	return nil
}

// Stop unsubscribes and waits for command-triggered runs to finish
func (s *CommandServer) Stop() {
	s.mu.Lock()
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	s.subs = nil
	s.mu.Unlock()

	s.runs.Wait()
}

func (s *CommandServer) handleExecute(ctx context.Context, msg *nats.Msg) {
	id := parseScheduleID(msg.Data)
	if id == "" {
		s.respond(msg, commandError{Error: "schedule id is required"})
		return
	}

	outcome, err := s.controller.ExecuteNow(ctx, id)
	if err != nil {
		s.logger.Warn("Execute command failed", zap.String("id", id), zap.Error(err))
		s.respond(msg, commandError{Error: err.Error(), NotFound: errors.Is(err, ErrScheduleNotFound)})
		return
	}
	s.respond(msg, outcome)
}

func (s *CommandServer) respond(msg *nats.Msg, body interface{}) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Error("Failed to send reply", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// parseScheduleID accepts a bare id, a JSON string or {"id": "..."}
func parseScheduleID(data []byte) string {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &req); err == nil {
		return strings.TrimSpace(req.ID)
	}
	return strings.TrimSpace(string(data))
}
