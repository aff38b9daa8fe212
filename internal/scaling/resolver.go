package scaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/radiusdt/campaign-scaler/internal/storage"
	"go.uber.org/zap"
)

// Cadence names the trigger a sweep runs for.
type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceHourly Cadence = "hourly"
	// CadenceManual runs Hourly rules, and Midnight rules when the local hour
	// is the configured midnight hour.
	CadenceManual Cadence = "manual"
)

// DueRule is a parsed rule selected for this run. Apply is false when the
// run only checks the condition and the action belongs to a later run.
type DueRule struct {
	Parsed models.ParsedRule
	Apply  bool
}

// ParseFailure is a rule that was selected but could not be parsed.
type ParseFailure struct {
	Rule models.ScalingRule
	Err  error
}

// RuleResolver loads rules and decides which are due.
type RuleResolver struct {
	rules        storage.RuleRepo
	loc          *time.Location
	midnightHour int
	logger       *zap.Logger
}

func NewRuleResolver(rules storage.RuleRepo, loc *time.Location, midnightHour int, logger *zap.Logger) *RuleResolver {
	if loc == nil {
		loc = time.UTC
	}
	return &RuleResolver{rules: rules, loc: loc, midnightHour: midnightHour, logger: logger}
}

// RuleSet is the outcome of one rule load.
type RuleSet struct {
	Due      []DueRule
	Failures []ParseFailure
	// NotDue holds the IDs of enabled rules whose bucket does not run on
	// this trigger.
	NotDue []string
}

// LoadDueRules returns the rules due at now for cadence, in record store
// order. With an explicit rule ID only that rule is loaded, the due check is
// bypassed and the action is applied. Parse failures are returned alongside,
// never dropped.
func (r *RuleResolver) LoadDueRules(ctx context.Context, now time.Time, cadence Cadence, explicitRuleID string) ([]DueRule, []ParseFailure, error) {
	res, err := r.Resolve(ctx, now, cadence, explicitRuleID)
	if err != nil {
		return nil, nil, err
	}
	return res.Due, res.Failures, nil
}

// Resolve is LoadDueRules that also reports the enabled rules left out by
// the due check.
func (r *RuleResolver) Resolve(ctx context.Context, now time.Time, cadence Cadence, explicitRuleID string) (*RuleSet, error) {
	if explicitRuleID != "" {
		rule, err := r.rules.GetRule(ctx, explicitRuleID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, explicitRuleID)
		}
		if err != nil {
			return nil, err
		}
		parsed, err := ParseRule(*rule)
		if err != nil {
			return &RuleSet{Failures: []ParseFailure{{Rule: *rule, Err: err}}}, nil
		}
		return &RuleSet{Due: []DueRule{{Parsed: parsed, Apply: true}}}, nil
	}

	rules, err := r.rules.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	var (
		due      []DueRule
		failures []ParseFailure
		notDue   []string
	)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		parsed, err := ParseRule(rule)
		if err != nil {
			// A rule whose schedule cannot be read is reported on every
			// sweep; otherwise only when its check bucket is due.
			var pe *ParseError
			if errors.As(err, &pe) && pe.Field != "check_at" && !r.scheduleDue(parseCheckAt(rule), cadence, now) {
				notDue = append(notDue, rule.ID)
				continue
			}
			r.logger.Warn("rule failed to parse", zap.String("rule_id", rule.ID), zap.Error(err))
			failures = append(failures, ParseFailure{Rule: rule, Err: err})
			continue
		}

		checkDue := r.scheduleDue(parsed.CheckAt, cadence, now)
		if !parsed.DefersAction() {
			if checkDue {
				due = append(due, DueRule{Parsed: parsed, Apply: true})
			} else {
				notDue = append(notDue, rule.ID)
			}
			continue
		}

		// Deferred actions: the check run only observes, the action run
		// re-evaluates and applies.
		actDue := r.scheduleDue(parsed.ExecuteAt, cadence, now)
		switch {
		case actDue:
			due = append(due, DueRule{Parsed: parsed, Apply: true})
		case checkDue:
			due = append(due, DueRule{Parsed: parsed, Apply: false})
		default:
			notDue = append(notDue, rule.ID)
		}
	}
	return &RuleSet{Due: due, Failures: failures, NotDue: notDue}, nil
}

func parseCheckAt(rule models.ScalingRule) models.CheckSchedule {
	s, _ := parseSchedule(rule.CheckAt)
	return s
}

// scheduleDue reports whether a rule bucket runs on this trigger.
func (r *RuleResolver) scheduleDue(s models.CheckSchedule, cadence Cadence, now time.Time) bool {
	switch s {
	case models.CheckHourly:
		return cadence == CadenceHourly || cadence == CadenceManual
	case models.CheckMidnight:
		switch cadence {
		case CadenceDaily:
			return true
		case CadenceManual:
			return now.In(r.loc).Hour() == r.midnightHour
		}
	}
	return false
}
