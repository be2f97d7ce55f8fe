package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/scrape-scheduler/internal/model"
)

const (
	// ExecutionStream holds every published execution outcome
	ExecutionStream = "EXECUTIONS"
	// OutcomeSubjectPrefix is followed by the schedule id
	OutcomeSubjectPrefix = "execution.outcome."

	executionSubjects = "execution.>"
	streamMaxAge      = 7 * 24 * time.Hour
)

// OutcomeSubject returns the subject outcomes of a schedule are published on
func OutcomeSubject(scheduleID string) string {
	return OutcomeSubjectPrefix + scheduleID
}

// EnsureStream creates a file-backed stream unless it already exists
func EnsureStream(js nats.JetStreamContext, config *nats.StreamConfig, logger *zap.Logger) error {
	_, err := js.StreamInfo(config.Name)
	if err == nil {
		logger.Info("Using existing stream", zap.String("name", config.Name))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	if _, err := js.AddStream(config); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", config.Name, err)
	}
	logger.Info("Created stream", zap.String("name", config.Name), zap.Strings("subjects", config.Subjects))
	return nil
}

// OutcomePublisher publishes execution outcomes to JetStream
type OutcomePublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewOutcomePublisher creates a publisher and makes sure its stream exists
func NewOutcomePublisher(js nats.JetStreamContext, logger *zap.Logger) (*OutcomePublisher, error) {
	logger = logger.Named("publisher")

	err := EnsureStream(js, &nats.StreamConfig{
		Name:     ExecutionStream,
		Subjects: []string{executionSubjects},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
		MaxMsgs:  -1,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &OutcomePublisher{
		js:     js,
		logger: logger,
	}, nil
}

// Record implements executor.OutcomeSink
func (p *OutcomePublisher) Record(ctx context.Context, outcome *model.ExecutionOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	// Dedupe on redelivery of the same execution
	_, err = p.js.Publish(OutcomeSubject(outcome.ScheduleID), data,
		nats.Context(ctx),
		nats.MsgId(outcome.ExecutionID))
	if err != nil {
		p.logger.Error("Failed to publish outcome",
			zap.String("execution_id", outcome.ExecutionID),
			zap.Error(err))
		return fmt.Errorf("failed to publish outcome: %w", err)
	}

	p.logger.Debug("Outcome published",
		zap.String("execution_id", outcome.ExecutionID),
		zap.String("status", string(outcome.Status)))
	return nil
}

// SubscribeOutcomes delivers every outcome published from now on to handler
// until ctx is done
func SubscribeOutcomes(ctx context.Context, js nats.JetStreamContext, durable string, handler func(*model.ExecutionOutcome), logger *zap.Logger) error {
	opts := []nats.SubOpt{nats.DeliverNew(), nats.ManualAck()}
	if durable != "" {
		opts = append(opts, nats.Durable(durable))
	}

	sub, err := js.Subscribe(OutcomeSubjectPrefix+"*", func(msg *nats.Msg) {
		var outcome model.ExecutionOutcome
		if err := json.Unmarshal(msg.Data, &outcome); err != nil {
			logger.Error("Failed to unmarshal outcome", zap.Error(err))
			msg.Term()
			return
		}

		handler(&outcome)
		msg.Ack()
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to subscribe to outcomes: %w", err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}
