package scaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/radiusdt/campaign-scaler/internal/models"
)

const (
	maxWindowDays  = 90
	maxPercentUp   = 1000.0
	minPercentDown = -100.0
)

var (
	ErrRuleNotFound    = errors.New("rule not found")
	ErrSweepInProgress = errors.New("another run is in progress")
)

// ParseError reports why a rule field could not be turned into structured logic.
type ParseError struct {
	RuleID string
	Field  string
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("rule %s: invalid %s %q: %s", e.RuleID, e.Field, e.Input, e.Reason)
}

var (
	conditionPattern = regexp.MustCompile(
		`(?i)^\s*([a-z][a-z _]*?)\s*(<=|>=|<|>)\s*([0-9]+(?:\.[0-9]+)?)\s*` +
			`(?:(?:over|in|for)\s+)?(?:(?:the\s+)?last\s+)?(?:([0-9]+)\s*days?|(yesterday))\s*$`)
	budgetVerbPattern = regexp.MustCompile(
		`(?i)^\s*(increase|raise|scale up|decrease|lower|reduce|scale down)\s+(?:daily\s+)?budget\s+(?:by\s+)?([0-9]+(?:\.[0-9]+)?)\s*%\s*$`)
	budgetSignedPattern = regexp.MustCompile(
		`(?i)^\s*(?:(?:scale|change|adjust)\s+)?(?:daily\s+)?budget\s+(?:by\s+)?([+-]?[0-9]+(?:\.[0-9]+)?)\s*%\s*$`)
	statusPattern = regexp.MustCompile(
		`(?i)^\s*(pause|resume|activate|unpause)(?:\s+(?:the\s+)?campaigns?)?\s*$`)
)

var metricAliases = map[string]models.Metric{
	"roas":              models.MetricROAS,
	"purchase roas":     models.MetricROAS,
	"spend":             models.MetricSpend,
	"amount spent":      models.MetricSpend,
	"revenue":           models.MetricRevenue,
	"purchase value":    models.MetricRevenue,
	"purchases":         models.MetricPurchases,
	"conversions":       models.MetricPurchases,
	"cpa":               models.MetricCPA,
	"cost per purchase": models.MetricCPA,
}

// ParseRule validates a rule and decomposes its free-form fields. Any field
// that cannot be parsed fails the whole rule.
func ParseRule(rule models.ScalingRule) (models.ParsedRule, error) {
	if err := rule.Validate(); err != nil {
		return models.ParsedRule{}, &ParseError{RuleID: rule.ID, Field: "rule", Reason: err.Error()}
	}

	checkAt, ok := parseSchedule(rule.CheckAt)
	if !ok || checkAt == models.CheckImmediately {
		return models.ParsedRule{}, &ParseError{RuleID: rule.ID, Field: "check_at", Input: rule.CheckAt, Reason: "expected Hourly or Midnight"}
	}

	executeAt := models.CheckImmediately
	if strings.TrimSpace(rule.ExecuteActionAt) != "" {
		if executeAt, ok = parseSchedule(rule.ExecuteActionAt); !ok {
			return models.ParsedRule{}, &ParseError{RuleID: rule.ID, Field: "execute_action_at", Input: rule.ExecuteActionAt, Reason: "expected Immediately, Hourly or Midnight"}
		}
	}

	cond, err := parseCondition(rule.IfCondition)
	if err != nil {
		return models.ParsedRule{}, &ParseError{RuleID: rule.ID, Field: "if_condition", Input: rule.IfCondition, Reason: err.Error()}
	}

	action, err := parseAction(rule.ThenAction)
	if err != nil {
		return models.ParsedRule{}, &ParseError{RuleID: rule.ID, Field: "then_action", Input: rule.ThenAction, Reason: err.Error()}
	}

	if err := checkSelectType(rule.SelectType, action); err != nil {
		return models.ParsedRule{}, &ParseError{RuleID: rule.ID, Field: "select_type", Input: rule.SelectType, Reason: err.Error()}
	}

	return models.ParsedRule{
		Rule:      rule,
		Condition: cond,
		Action:    action,
		CheckAt:   checkAt,
		ExecuteAt: executeAt,
	}, nil
}

func normalizeWord(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

func parseSchedule(s string) (models.CheckSchedule, bool) {
	switch normalizeWord(s) {
	case "hourly", "everyhour", "hour":
		return models.CheckHourly, true
	case "midnight", "atmidnight", "daily", "12am":
		return models.CheckMidnight, true
	case "immediately", "immediate", "now", "":
		return models.CheckImmediately, true
	}
	return "", false
}

// =============================================
// CONDITIONS
// =============================================

type conditionJSON struct {
	Metric     string   `json:"metric"`
	Operator   string   `json:"operator"`
	Value      *float64 `json:"value"`
	Threshold  *float64 `json:"threshold"`
	Days       *int     `json:"days"`
	WindowDays *int     `json:"window_days"`
}

func parseCondition(s string) (models.Condition, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.Condition{}, errors.New("condition is empty")
	}
	if strings.HasPrefix(s, "{") {
		return parseConditionJSON(s)
	}

	s = strings.NewReplacer("≤", "<=", "≥", ">=").Replace(s)
	m := conditionPattern.FindStringSubmatch(s)
	if m == nil {
		return models.Condition{}, errors.New(`expected "<metric> <op> <value> over <n> days"`)
	}

	threshold, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return models.Condition{}, fmt.Errorf("bad threshold: %w", err)
	}
	days := 1
	if m[4] != "" {
		if days, err = strconv.Atoi(m[4]); err != nil {
			return models.Condition{}, fmt.Errorf("bad window: %w", err)
		}
	}
	return buildCondition(m[1], m[2], threshold, days)
}

func parseConditionJSON(s string) (models.Condition, error) {
	var raw conditionJSON
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return models.Condition{}, fmt.Errorf("bad JSON condition: %w", err)
	}

	value := raw.Value
	if value == nil {
		value = raw.Threshold
	}
	if value == nil {
		return models.Condition{}, errors.New("value is required")
	}
	days := raw.Days
	if days == nil {
		days = raw.WindowDays
	}
	if days == nil {
		return models.Condition{}, errors.New("days is required")
	}
	return buildCondition(raw.Metric, raw.Operator, *value, *days)
}

func buildCondition(metric, op string, threshold float64, days int) (models.Condition, error) {
	m, ok := metricAliases[strings.Join(strings.Fields(strings.ToLower(metric)), " ")]
	if !ok {
		return models.Condition{}, fmt.Errorf("unknown metric %q", metric)
	}

	operator := models.Operator(strings.TrimSpace(op))
	switch operator {
	case models.OpLess, models.OpLessEqual, models.OpGreater, models.OpGreaterEqual:
	default:
		return models.Condition{}, fmt.Errorf("unknown operator %q", op)
	}

	if threshold < 0 {
		return models.Condition{}, errors.New("threshold must not be negative")
	}
	if days < 1 || days > maxWindowDays {
		return models.Condition{}, fmt.Errorf("window must be between 1 and %d days", maxWindowDays)
	}

	return models.Condition{Metric: m, Operator: operator, Threshold: threshold, WindowDays: days}, nil
}

// =============================================
// ACTIONS
// =============================================

type actionJSON struct {
	Type    string   `json:"type"`
	Percent *float64 `json:"percent"`
	Status  string   `json:"status"`
}

func parseAction(s string) (models.Action, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("action is empty")
	}
	if strings.HasPrefix(s, "{") {
		return parseActionJSON(s)
	}

	if m := budgetVerbPattern.FindStringSubmatch(s); m != nil {
		pct, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return nil, fmt.Errorf("bad percent: %w", err)
		}
		switch strings.ToLower(m[1]) {
		case "decrease", "lower", "reduce", "scale down":
			pct = -pct
		}
		return budgetDelta(pct)
	}
	if m := budgetSignedPattern.FindStringSubmatch(s); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad percent: %w", err)
		}
		return budgetDelta(pct)
	}
	if m := statusPattern.FindStringSubmatch(s); m != nil {
		return statusChange(m[1])
	}
	return nil, errors.New(`expected "Increase budget by N%", "Decrease budget by N%", "Pause" or "Resume"`)
}

func parseActionJSON(s string) (models.Action, error) {
	var raw actionJSON
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("bad JSON action: %w", err)
	}

	switch strings.ToLower(raw.Type) {
	case "budget", "budget_delta":
		if raw.Percent == nil {
			return nil, errors.New("percent is required")
		}
		return budgetDelta(*raw.Percent)
	case "status", "status_change":
		return statusChange(raw.Status)
	}
	return nil, fmt.Errorf("unknown action type %q", raw.Type)
}

func budgetDelta(pct float64) (models.Action, error) {
	if pct == 0 {
		return nil, errors.New("budget change of 0% does nothing")
	}
	if pct <= minPercentDown {
		return nil, errors.New("budget cannot be reduced by 100% or more")
	}
	if pct > maxPercentUp {
		return nil, fmt.Errorf("budget increase above %g%% is not allowed", maxPercentUp)
	}
	return models.BudgetDelta{Percent: pct}, nil
}

func statusChange(s string) (models.Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pause", "paused":
		return models.StatusChange{Target: models.StatusPaused}, nil
	case "resume", "activate", "unpause", "active":
		return models.StatusChange{Target: models.StatusActive}, nil
	}
	return nil, fmt.Errorf("unsupported target status %q", s)
}

// checkSelectType rejects rules whose declared mutation kind contradicts the action.
func checkSelectType(selectType string, action models.Action) error {
	st := strings.ToLower(selectType)
	switch action.(type) {
	case models.BudgetDelta:
		if strings.Contains(st, "status") || strings.Contains(st, "pause") {
			return errors.New("status rule has a budget action")
		}
	case models.StatusChange:
		if strings.Contains(st, "budget") {
			return errors.New("budget rule has a status action")
		}
	}
	return nil
}
