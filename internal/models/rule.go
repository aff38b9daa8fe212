package models

import (
	"errors"
	"fmt"
	"time"
)

// RuleScope selects which campaigns a scaling rule applies to.
type RuleScope string

const (
	ScopeGlobal RuleScope = "global"
	ScopeScoped RuleScope = "scoped"
)

// CheckSchedule is the cadence bucket a rule is due on.
type CheckSchedule string

const (
	CheckHourly   CheckSchedule = "hourly"
	CheckMidnight CheckSchedule = "midnight"
	// CheckImmediately is only valid for ExecuteActionAt and means "same run as the check".
	CheckImmediately CheckSchedule = "immediately"
)

// ScalingRule is a rule as authored in the record store. IfCondition and
// ThenAction are free-form and must go through the parser before use.
type ScalingRule struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Scope           RuleScope `json:"scope"`
	SelectType      string    `json:"select_type"`
	CheckAt         string    `json:"check_at"`
	IfCondition     string    `json:"if_condition"`
	ThenAction      string    `json:"then_action"`
	ExecuteActionAt string    `json:"execute_action_at"`
	AdAccountIDs    []string  `json:"ad_account_ids,omitempty"`
	CampaignIDs     []string  `json:"campaign_ids,omitempty"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks structural fields that do not require parsing.
func (r *ScalingRule) Validate() error {
	if r == nil {
		return errors.New("rule is nil")
	}
	if r.ID == "" {
		return errors.New("id is required")
	}
	switch r.Scope {
	case ScopeGlobal:
	case ScopeScoped:
		if len(r.AdAccountIDs) == 0 && len(r.CampaignIDs) == 0 {
			return errors.New("scoped rule requires an ad account or campaign selection")
		}
	default:
		return fmt.Errorf("unknown scope %q", r.Scope)
	}
	return nil
}

// Metric identifies the performance figure a condition compares.
type Metric string

const (
	MetricROAS      Metric = "roas"
	MetricSpend     Metric = "spend"
	MetricRevenue   Metric = "revenue"
	MetricPurchases Metric = "purchases"
	MetricCPA       Metric = "cpa"
)

// Operator is a numeric comparison.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
)

// Compare applies the operator to observed and threshold.
func (o Operator) Compare(observed, threshold float64) bool {
	switch o {
	case OpLess:
		return observed < threshold
	case OpLessEqual:
		return observed <= threshold
	case OpGreater:
		return observed > threshold
	case OpGreaterEqual:
		return observed >= threshold
	}
	return false
}

// Condition is the parsed form of a rule's IfCondition.
type Condition struct {
	Metric     Metric   `json:"metric"`
	Operator   Operator `json:"operator"`
	Threshold  float64  `json:"threshold"`
	WindowDays int      `json:"window_days"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %g over %d day(s)", c.Metric, c.Operator, c.Threshold, c.WindowDays)
}

// Action is the parsed form of a rule's ThenAction. The set of variants is
// closed: BudgetDelta and StatusChange.
type Action interface {
	isAction()
	Kind() string
}

// BudgetDelta scales the campaign daily budget by Percent (may be negative).
type BudgetDelta struct {
	Percent float64 `json:"percent"`
}

func (BudgetDelta) isAction() {}
func (BudgetDelta) Kind() string { return "budget_delta" }
func (b BudgetDelta) String() string { return fmt.Sprintf("budget %+g%%", b.Percent) }

// StatusChange moves the campaign to Target.
type StatusChange struct {
	Target CampaignStatus `json:"target"`
}

func (StatusChange) isAction() {}
func (StatusChange) Kind() string { return "status_change" }
func (s StatusChange) String() string { return "status -> " + string(s.Target) }

// ParsedRule is a validated rule ready for evaluation.
type ParsedRule struct {
	Rule      ScalingRule
	Condition Condition
	Action    Action
	CheckAt   CheckSchedule
	ExecuteAt CheckSchedule
}

// DefersAction reports whether the action runs on a different cadence than the check.
func (p ParsedRule) DefersAction() bool {
	return p.ExecuteAt != CheckImmediately && p.ExecuteAt != p.CheckAt
}
