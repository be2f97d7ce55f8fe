package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/scrape-scheduler/internal/model"
	"github.com/t77yq/scrape-scheduler/internal/service"
	"github.com/t77yq/scrape-scheduler/internal/testutil"
)

func outcome(scheduleID string, submitted, failed int) *model.ExecutionOutcome {
	return &model.ExecutionOutcome{
		ExecutionID:    "exec-" + scheduleID,
		ScheduleID:     scheduleID,
		PagesSubmitted: submitted,
		PagesFailed:    failed,
		Status:         model.DeriveStatus(submitted, failed),
	}
}

func TestAlertManager_Rules(t *testing.T) {
	manager := NewAlertManager(zap.NewNop(), nil)

	rule := &model.AlertRule{Name: "Failures", Type: model.AlertTypeRunFailed}
	require.NoError(t, manager.AddRule(rule))
	require.NotEmpty(t, rule.ID)
	assert.Equal(t, model.AlertSeverityWarning, rule.Severity)
	assert.Equal(t, rule.CreatedAt, rule.UpdatedAt)

	second := &model.AlertRule{Name: "Ratio", Type: model.AlertTypeFailureRatio, Threshold: 0.5}
	require.NoError(t, manager.AddRule(second))
	assert.NotEqual(t, rule.ID, second.ID)

	t.Run("Invalid rules", func(t *testing.T) {
		assert.Error(t, manager.AddRule(&model.AlertRule{Name: "x", Type: "cpu_usage"}))
		assert.Error(t, manager.AddRule(&model.AlertRule{Name: "x", Type: model.AlertTypeFailureRatio, Threshold: 1.5}))
	})

	t.Run("Update", func(t *testing.T) {
		time.Sleep(time.Millisecond)
		rule.Severity = model.AlertSeverityCritical
		require.NoError(t, manager.UpdateRule(rule))

		updated, err := manager.GetRule(rule.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AlertSeverityCritical, updated.Severity)
		assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

		assert.ErrorIs(t, manager.UpdateRule(&model.AlertRule{ID: "nope"}), ErrRuleNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, manager.DeleteRule(second.ID))
		_, err := manager.GetRule(second.ID)
		assert.ErrorIs(t, err, ErrRuleNotFound)
		assert.ErrorIs(t, manager.DeleteRule(second.ID), ErrRuleNotFound)
		assert.Len(t, manager.Rules(), 1)
	})
}

func TestAlertManager_Evaluate(t *testing.T) {
	manager := NewAlertManager(zaptest.NewLogger(t), nil)
	require.NoError(t, manager.AddRule(&model.AlertRule{Name: "a-failed", Type: model.AlertTypeRunFailed, Severity: model.AlertSeverityError}))
	require.NoError(t, manager.AddRule(&model.AlertRule{Name: "b-partial-shop", Type: model.AlertTypeRunPartial, ScheduleID: "shop"}))
	require.NoError(t, manager.AddRule(&model.AlertRule{Name: "c-ratio", Type: model.AlertTypeFailureRatio, Threshold: 0.25}))
	require.NoError(t, manager.AddRule(&model.AlertRule{Name: "d-silenced", Type: model.AlertTypeRunFailed, Silenced: true}))

	tests := []struct {
		name    string
		outcome *model.ExecutionOutcome
		want    []model.AlertType
	}{
		{"Success raises nothing", outcome("shop", 4, 0), nil},
		{"Failed run", outcome("news", 0, 3), []model.AlertType{model.AlertTypeRunFailed, model.AlertTypeFailureRatio}},
		{"Partial under ratio", outcome("shop", 9, 1), []model.AlertType{model.AlertTypeRunPartial}},
		{"Partial on other schedule", outcome("news", 9, 1), nil},
		{"Partial over ratio", outcome("shop", 1, 1), []model.AlertType{model.AlertTypeRunPartial, model.AlertTypeFailureRatio}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []model.AlertType
			for _, alert := range manager.Evaluate(tt.outcome) {
				got = append(got, alert.Type)
				assert.Equal(t, tt.outcome.ScheduleID, alert.ScheduleID)
				assert.Equal(t, tt.outcome.ExecutionID, alert.ExecutionID)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Len(t, manager.Alerts(), 5)
	assert.Equal(t, model.AlertTypeFailureRatio, manager.Alerts()[0].Type, "newest first")
}

func TestAlertManager_Publish(t *testing.T) {
	_, js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	logger := zaptest.NewLogger(t)
	manager := NewAlertManager(logger, js)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, manager.Start(ctx))
	require.NoError(t, testutil.WaitForStream(t, js, alertStream, 5*time.Second))

	rule := &model.AlertRule{Name: "Failures", Type: model.AlertTypeRunFailed, Severity: model.AlertSeverityError}
	require.NoError(t, manager.AddRule(rule))

	alertReceived := make(chan model.Alert, 1)
	sub, err := js.Subscribe("alert."+string(model.AlertTypeRunFailed), func(msg *nats.Msg) {
		var alert model.Alert
		if err := json.Unmarshal(msg.Data, &alert); err == nil {
			alertReceived <- alert
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	t.Run("Via outcome subscription", func(t *testing.T) {
		publisher, err := service.NewOutcomePublisher(js, logger)
		require.NoError(t, err)
		require.NoError(t, manager.Subscribe(ctx))

		failed := outcome("shop", 0, 2)
		failed.Error = "upstream down"
		require.NoError(t, publisher.Record(ctx, failed))

		select {
		case alert := <-alertReceived:
			assert.Equal(t, rule.ID, alert.RuleID)
			assert.Equal(t, model.AlertSeverityError, alert.Severity)
			assert.Equal(t, "shop", alert.ScheduleID)
			assert.Equal(t, "upstream down", alert.Data["error"])
		case <-ctx.Done():
			t.Fatal("timeout waiting for alert")
		}
	})
}
