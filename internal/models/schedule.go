package models

import (
	"errors"
	"fmt"
	"time"
)

// ScheduleStatus is the lifecycle state of a one-off scheduled action.
// Every transition out of pending is terminal.
type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleExecuted  ScheduleStatus = "executed"
	ScheduleFailed    ScheduleStatus = "failed"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s ScheduleStatus) Terminal() bool {
	return s != SchedulePending
}

// ScheduleAction is what a scheduled action does to its campaign.
type ScheduleAction string

const (
	ScheduleBudgetSet   ScheduleAction = "budget_set"
	ScheduleBudgetDelta ScheduleAction = "budget_delta"
	SchedulePause       ScheduleAction = "pause"
	ScheduleResume      ScheduleAction = "resume"
)

// ScheduleRecord is a one-off future mutation of a single campaign.
type ScheduleRecord struct {
	ID         string         `json:"id"`
	CampaignID string         `json:"campaign_id"`
	AccountID  string         `json:"account_id,omitempty"`
	Action     ScheduleAction `json:"action"`
	// Value is minor units for budget_set and a percentage for budget_delta.
	Value        float64        `json:"value,omitempty"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	Status       ScheduleStatus `json:"status"`
	ExecutedAt   *time.Time     `json:"executed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ResultBudget int64          `json:"result_budget,omitempty"`
	ResultStatus CampaignStatus `json:"result_status,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Validate checks that the record can be executed.
func (s *ScheduleRecord) Validate() error {
	if s == nil {
		return errors.New("schedule is nil")
	}
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.CampaignID == "" {
		return errors.New("campaign_id is required")
	}
	switch s.Action {
	case ScheduleBudgetSet:
		if s.Value <= 0 {
			return errors.New("budget_set requires a positive value")
		}
	case ScheduleBudgetDelta:
		if s.Value <= -100 {
			return fmt.Errorf("budget_delta of %g%% would remove the whole budget", s.Value)
		}
	case SchedulePause, ScheduleResume:
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

// ScheduleOutcome is the terminal write applied to a pending record.
type ScheduleOutcome struct {
	Status       ScheduleStatus
	ExecutedAt   time.Time
	ErrorMessage string
	ResultBudget int64
	ResultStatus CampaignStatus
}
