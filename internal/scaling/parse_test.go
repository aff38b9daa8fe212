package scaling

import (
	"errors"
	"testing"

	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule_Conditions(t *testing.T) {
	tests := []struct {
		in   string
		want models.Condition
	}{
		{"ROAS < 1.0 over 3 days", models.Condition{Metric: models.MetricROAS, Operator: models.OpLess, Threshold: 1, WindowDays: 3}},
		{"roas<=1.2 last 7 days", models.Condition{Metric: models.MetricROAS, Operator: models.OpLessEqual, Threshold: 1.2, WindowDays: 7}},
		{"Spend > 50 in the last 1 day", models.Condition{Metric: models.MetricSpend, Operator: models.OpGreater, Threshold: 50, WindowDays: 1}},
		{"ROAS ≥ 2 yesterday", models.Condition{Metric: models.MetricROAS, Operator: models.OpGreaterEqual, Threshold: 2, WindowDays: 1}},
		{"Cost per purchase > 25 over 14 days", models.Condition{Metric: models.MetricCPA, Operator: models.OpGreater, Threshold: 25, WindowDays: 14}},
		{`{"metric":"roas","operator":"<","value":1,"days":3}`, models.Condition{Metric: models.MetricROAS, Operator: models.OpLess, Threshold: 1, WindowDays: 3}},
		{`{"metric":"purchases","operator":">=","threshold":10,"window_days":2}`, models.Condition{Metric: models.MetricPurchases, Operator: models.OpGreaterEqual, Threshold: 10, WindowDays: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			parsed, err := ParseRule(rule("r1", func(r *models.ScalingRule) { r.IfCondition = tt.in }))
			require.NoError(t, err)
			assert.Equal(t, tt.want, parsed.Condition)
		})
	}
}

func TestParseRule_Actions(t *testing.T) {
	tests := []struct {
		in   string
		want models.Action
	}{
		{"Increase budget by 20%", models.BudgetDelta{Percent: 20}},
		{"Decrease budget by 15 %", models.BudgetDelta{Percent: -15}},
		{"reduce daily budget 12.5%", models.BudgetDelta{Percent: -12.5}},
		{"Budget -20%", models.BudgetDelta{Percent: -20}},
		{"Scale budget by +30%", models.BudgetDelta{Percent: 30}},
		{"Pause", models.StatusChange{Target: models.StatusPaused}},
		{"pause campaign", models.StatusChange{Target: models.StatusPaused}},
		{"Resume", models.StatusChange{Target: models.StatusActive}},
		{`{"type":"budget","percent":-20}`, models.BudgetDelta{Percent: -20}},
		{`{"type":"status","status":"PAUSED"}`, models.StatusChange{Target: models.StatusPaused}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			parsed, err := ParseRule(rule("r1", func(r *models.ScalingRule) { r.ThenAction = tt.in }))
			require.NoError(t, err)
			assert.Equal(t, tt.want, parsed.Action)
		})
	}
}

func TestParseRule_Schedules(t *testing.T) {
	parsed, err := ParseRule(rule("r1", func(r *models.ScalingRule) {
		r.CheckAt = "Midnight"
		r.ExecuteActionAt = "Hourly"
	}))
	require.NoError(t, err)
	assert.Equal(t, models.CheckMidnight, parsed.CheckAt)
	assert.Equal(t, models.CheckHourly, parsed.ExecuteAt)
	assert.True(t, parsed.DefersAction())

	parsed, err = ParseRule(rule("r2", func(r *models.ScalingRule) { r.ExecuteActionAt = "Immediately" }))
	require.NoError(t, err)
	assert.False(t, parsed.DefersAction())

	parsed, err = ParseRule(rule("r3", func(r *models.ScalingRule) { r.ExecuteActionAt = "hourly" }))
	require.NoError(t, err)
	assert.False(t, parsed.DefersAction())
}

func TestParseRule_FailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		field string
		edit  func(*models.ScalingRule)
	}{
		{"unknown metric", "if_condition", func(r *models.ScalingRule) { r.IfCondition = "CTR < 1 over 3 days" }},
		{"missing window", "if_condition", func(r *models.ScalingRule) { r.IfCondition = "ROAS < 1" }},
		{"window too long", "if_condition", func(r *models.ScalingRule) { r.IfCondition = "ROAS < 1 over 365 days" }},
		{"zero window", "if_condition", func(r *models.ScalingRule) { r.IfCondition = "ROAS < 1 over 0 days" }},
		{"equality operator", "if_condition", func(r *models.ScalingRule) { r.IfCondition = "ROAS = 1 over 3 days" }},
		{"json unknown field", "if_condition", func(r *models.ScalingRule) {
			r.IfCondition = `{"metric":"roas","operator":"<","value":1,"days":3,"extra":true}`
		}},
		{"json missing days", "if_condition", func(r *models.ScalingRule) { r.IfCondition = `{"metric":"roas","operator":"<","value":1}` }},
		{"empty action", "then_action", func(r *models.ScalingRule) { r.ThenAction = "" }},
		{"zero percent", "then_action", func(r *models.ScalingRule) { r.ThenAction = "Increase budget by 0%" }},
		{"remove whole budget", "then_action", func(r *models.ScalingRule) { r.ThenAction = "Decrease budget by 100%" }},
		{"archive", "then_action", func(r *models.ScalingRule) { r.ThenAction = `{"type":"status","status":"ARCHIVED"}` }},
		{"prose", "then_action", func(r *models.ScalingRule) { r.ThenAction = "make it better" }},
		{"bad check_at", "check_at", func(r *models.ScalingRule) { r.CheckAt = "Weekly" }},
		{"immediate check_at", "check_at", func(r *models.ScalingRule) { r.CheckAt = "Immediately" }},
		{"bad execute_action_at", "execute_action_at", func(r *models.ScalingRule) { r.ExecuteActionAt = "Tomorrow" }},
		{"scoped without selection", "rule", func(r *models.ScalingRule) { r.Scope = models.ScopeScoped }},
		{"select type mismatch", "select_type", func(r *models.ScalingRule) { r.SelectType = "Budget Change" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRule(rule("r1", tt.edit))
			require.Error(t, err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "r1", pe.RuleID)
			assert.Equal(t, tt.field, pe.Field)
		})
	}
}
