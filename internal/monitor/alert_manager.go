package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/scrape-scheduler/internal/model"
	"github.com/t77yq/scrape-scheduler/internal/service"
)

const (
	alertStream  = "ALERTS"
	maxAlerts    = 200
	alertDurable = "alert-manager"
)

// ErrRuleNotFound is returned for an unknown alert rule id
var ErrRuleNotFound = errors.New("rule not found")

// AlertManager evaluates alert rules against execution outcomes. Raised
// alerts are kept in memory and, when a JetStream context is set, published
// on alert.<type>.
type AlertManager struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	rules  sync.Map

	mu     sync.RWMutex
	alerts []*model.Alert
}

// NewAlertManager creates a new alert manager. js may be nil.
func NewAlertManager(logger *zap.Logger, js nats.JetStreamContext) *AlertManager {
	return &AlertManager{
		logger: logger.Named("alerts"),
		js:     js,
	}
}

// Start creates the alert stream
func (m *AlertManager) Start(ctx context.Context) error {
	if m.js == nil {
		m.logger.Info("Alert manager started without NATS")
		return nil
	}

	err := service.EnsureStream(m.js, &nats.StreamConfig{
		Name:     alertStream,
		Subjects: []string{"alert.*"},
		Storage:  nats.FileStorage,
	}, m.logger)
	if err != nil {
		return err
	}

	m.logger.Info("Alert manager started")
	return nil
}

// Subscribe evaluates outcomes published by any scheduler instance instead
// of being registered as a local sink
func (m *AlertManager) Subscribe(ctx context.Context) error {
	if m.js == nil {
		return errors.New("alert manager has no JetStream context")
	}
	return service.SubscribeOutcomes(ctx, m.js, alertDurable, func(outcome *model.ExecutionOutcome) {
		m.Evaluate(outcome)
	}, m.logger)
}

// GetRule returns a rule by ID
func (m *AlertManager) GetRule(id string) (*model.AlertRule, error) {
	value, ok := m.rules.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return value.(*model.AlertRule), nil
}

// Rules lists rules ordered by name
func (m *AlertManager) Rules() []*model.AlertRule {
	var rules []*model.AlertRule
	m.rules.Range(func(_, value interface{}) bool {
		rules = append(rules, value.(*model.AlertRule))
		return true
	})
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules
}

// AddRule adds a new alert rule
func (m *AlertManager) AddRule(rule *model.AlertRule) error {
	switch rule.Type {
	case model.AlertTypeRunFailed, model.AlertTypeRunPartial:
	case model.AlertTypeFailureRatio:
		if rule.Threshold < 0 || rule.Threshold >= 1 {
			return fmt.Errorf("failure_ratio threshold must be in [0, 1), got %v", rule.Threshold)
		}
	default:
		return fmt.Errorf("unknown alert type: %q", rule.Type)
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Severity == "" {
		rule.Severity = model.AlertSeverityWarning
	}
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt
	m.rules.Store(rule.ID, rule)
	return nil
}

// UpdateRule updates an existing alert rule
func (m *AlertManager) UpdateRule(rule *model.AlertRule) error {
	if _, ok := m.rules.Load(rule.ID); !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	rule.UpdatedAt = time.Now()
	m.rules.Store(rule.ID, rule)
	return nil
}

// DeleteRule deletes an alert rule
func (m *AlertManager) DeleteRule(id string) error {
	if _, ok := m.rules.Load(id); !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	m.rules.Delete(id)
	return nil
}

// Record implements executor.OutcomeSink
func (m *AlertManager) Record(_ context.Context, outcome *model.ExecutionOutcome) error {
	m.Evaluate(outcome)
	return nil
}

// Evaluate checks every rule against outcome and returns the alerts raised
func (m *AlertManager) Evaluate(outcome *model.ExecutionOutcome) []*model.Alert {
	var raised []*model.Alert

	for _, rule := range m.Rules() {
		if rule.Silenced || (rule.ScheduleID != "" && rule.ScheduleID != outcome.ScheduleID) {
			continue
		}

		var message string
		switch rule.Type {
		case model.AlertTypeRunFailed:
			if outcome.Status != model.StatusFailed {
				continue
			}
			message = fmt.Sprintf("run of %s failed", outcome.ScheduleID)
		case model.AlertTypeRunPartial:
			if outcome.Status != model.StatusPartial {
				continue
			}
			message = fmt.Sprintf("run of %s partially failed: %d of %d pages",
				outcome.ScheduleID, outcome.PagesFailed, outcome.PagesSubmitted+outcome.PagesFailed)
		case model.AlertTypeFailureRatio:
			ratio := outcome.FailureRatio()
			if ratio <= rule.Threshold {
				continue
			}
			message = fmt.Sprintf("failure ratio of %s is %.2f, above %.2f", outcome.ScheduleID, ratio, rule.Threshold)
		default:
			continue
		}

		alert := m.createAlert(rule, outcome, message)
		raised = append(raised, alert)
	}

	return raised
}

// Alerts returns raised alerts, newest first
func (m *AlertManager) Alerts() []*model.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alerts := make([]*model.Alert, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		alerts = append(alerts, m.alerts[i])
	}
	return alerts
}

// createAlert stores and publishes a new alert
func (m *AlertManager) createAlert(rule *model.AlertRule, outcome *model.ExecutionOutcome, message string) *model.Alert {
	alert := &model.Alert{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		Type:        rule.Type,
		Severity:    rule.Severity,
		Message:     message,
		ScheduleID:  outcome.ScheduleID,
		ExecutionID: outcome.ExecutionID,
		Data: map[string]interface{}{
			"status":          string(outcome.Status),
			"pages_submitted": outcome.PagesSubmitted,
			"pages_failed":    outcome.PagesFailed,
			"error":           outcome.Error,
		},
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}
	m.mu.Unlock()

	m.logger.Warn("Alert raised",
		zap.String("id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.String("schedule_id", alert.ScheduleID),
		zap.String("message", message))

	if m.js != nil {
		if err := m.publish(alert); err != nil {
			m.logger.Error("Failed to publish alert", zap.String("id", alert.ID), zap.Error(err))
		}
	}
	return alert
}

func (m *AlertManager) publish(alert *model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if _, err := m.js.Publish("alert."+string(alert.Type), data); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}
