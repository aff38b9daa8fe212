package models

import "time"

// ExecutionStatus is the overall outcome of one rule invocation.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionPartial ExecutionStatus = "partial"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerCronDaily  Trigger = "cron_daily"
	TriggerCronHourly Trigger = "cron_hourly"
	TriggerManual     Trigger = "manual"
)

// ActionResult is the per-campaign outcome of applying a rule's action.
type ActionResult struct {
	CampaignID     string         `json:"campaign_id"`
	CampaignName   string         `json:"campaign_name,omitempty"`
	Action         string         `json:"action"`
	Success        bool           `json:"success"`
	ObservedValue  float64        `json:"observed_value"`
	PreviousBudget int64          `json:"previous_budget,omitempty"`
	NewBudget      int64          `json:"new_budget,omitempty"`
	NewStatus      CampaignStatus `json:"new_status,omitempty"`
	Attempts       int            `json:"attempts"`
	Error          string         `json:"error,omitempty"`
	// Planned is set when the action was computed but not applied (dry or deferred runs).
	Planned bool `json:"planned,omitempty"`
}

// RuleExecutionLog is written once per rule invocation, including runs that
// matched nothing.
type RuleExecutionLog struct {
	ID                 string          `json:"id"`
	RuleID             string          `json:"rule_id"`
	RuleName           string          `json:"rule_name"`
	ExecutedAt         time.Time       `json:"executed_at"`
	Trigger            Trigger         `json:"trigger"`
	DryRun             bool            `json:"dry_run"`
	Deferred           bool            `json:"deferred"`
	CampaignsEvaluated int             `json:"campaigns_evaluated"`
	CampaignsMatched   int             `json:"campaigns_matched"`
	ActionsTaken       int             `json:"actions_taken"`
	Status             ExecutionStatus `json:"status"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	DurationMs         int64           `json:"duration_ms"`
	Results            []ActionResult  `json:"results,omitempty"`
}

// ActionsFailed counts applied results that did not succeed.
func (l *RuleExecutionLog) ActionsFailed() int {
	n := 0
	for _, r := range l.Results {
		if !r.Success && !r.Planned {
			n++
		}
	}
	return n
}
