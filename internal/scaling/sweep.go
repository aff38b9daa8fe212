package scaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/campaign-scaler/internal/metrics"
	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/radiusdt/campaign-scaler/internal/platform"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const maxErrorMessage = 2000

// SweepSummary is returned to manual callers of a rule sweep.
type SweepSummary struct {
	Trigger            models.Trigger            `json:"trigger"`
	DryRun             bool                      `json:"dry_run"`
	RulesRun           int                       `json:"rules_run"`
	RulesFailed        int                       `json:"rules_failed"`
	CampaignsEvaluated int                       `json:"campaigns_evaluated"`
	CampaignsMatched   int                       `json:"campaigns_matched"`
	ActionsSucceeded   int                       `json:"actions_succeeded"`
	ActionsFailed      int                       `json:"actions_failed"`
	Logs               []models.RuleExecutionLog `json:"logs"`
	// RulesNotDue lists enabled rules the due check left out of this run.
	RulesNotDue []string `json:"rules_not_due,omitempty"`
}

func (s *SweepSummary) add(l *models.RuleExecutionLog) {
	s.RulesRun++
	if l.Status == models.ExecutionFailed {
		s.RulesFailed++
	}
	s.CampaignsEvaluated += l.CampaignsEvaluated
	s.CampaignsMatched += l.CampaignsMatched
	s.ActionsSucceeded += l.ActionsTaken
	s.ActionsFailed += l.ActionsFailed()
	s.Logs = append(s.Logs, *l)
}

// RuleRunner runs scaling rules: resolve, evaluate, apply, log.
type RuleRunner struct {
	Rules     *RuleResolver
	Campaigns *CampaignResolver
	Evaluator *Evaluator
	Executor  *Executor
	Logs      *DualLogger
	Creds     CredentialProvider
	Locker    Locker
	LockTTL   time.Duration
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func (r *RuleRunner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Sweep runs every rule due for cadence. Rules run one after another; a
// failing rule never stops the rest.
func (r *RuleRunner) Sweep(ctx context.Context, trigger models.Trigger, cadence Cadence, dryRun bool) (*SweepSummary, error) {
	return r.run(ctx, trigger, cadence, "", dryRun)
}

// RunRule runs one rule by ID regardless of its schedule.
func (r *RuleRunner) RunRule(ctx context.Context, ruleID string, dryRun bool) (*SweepSummary, error) {
	return r.run(ctx, models.TriggerManual, CadenceManual, ruleID, dryRun)
}

func (r *RuleRunner) run(ctx context.Context, trigger models.Trigger, cadence Cadence, ruleID string, dryRun bool) (*SweepSummary, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := r.now()
	resolved, err := r.Rules.Resolve(ctx, now, cadence, ruleID)
	if err != nil {
		return nil, err
	}
	due := resolved.Due

	summary := &SweepSummary{Trigger: trigger, DryRun: dryRun, Logs: []models.RuleExecutionLog{}, RulesNotDue: resolved.NotDue}
	for _, f := range resolved.Failures {
		r.Metrics.RecordParseFailure()
		l := r.newLog(f.Rule, trigger, dryRun, now)
		r.finish(ctx, l, models.ExecutionFailed, f.Err, now)
		summary.add(l)
	}
	if len(due) == 0 {
		return summary, nil
	}

	cred, credErr := r.Creds.Credential(ctx)
	for _, d := range due {
		var l *models.RuleExecutionLog
		if credErr != nil {
			l = r.newLog(d.Parsed.Rule, trigger, dryRun, r.now())
			r.finish(ctx, l, models.ExecutionFailed, credErr, r.now())
		} else {
			l = r.runRule(ctx, cred, d, trigger, dryRun)
		}
		summary.add(l)
	}

	r.Logger.Info("rule sweep finished",
		zap.String("trigger", string(trigger)),
		zap.Bool("dry_run", dryRun),
		zap.Int("rules", summary.RulesRun),
		zap.Int("matched", summary.CampaignsMatched),
		zap.Int("actions", summary.ActionsSucceeded),
		zap.Int("actions_failed", summary.ActionsFailed),
	)
	return summary, nil
}

func (r *RuleRunner) lock(ctx context.Context) (func(), error) {
	if r.Locker == nil {
		return func() {}, nil
	}
	unlock, ok, err := r.Locker.TryLock(ctx, sweepLockKey, r.LockTTL)
	if err != nil {
		// Lock store outage should not stop scaling; overlap is still
		// bounded by the cron cadence.
		r.Logger.Warn("sweep lock unavailable, continuing without it", zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, ErrSweepInProgress
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			r.Logger.Warn("failed to release sweep lock", zap.Error(err))
		}
	}, nil
}

func (r *RuleRunner) newLog(rule models.ScalingRule, trigger models.Trigger, dryRun bool, start time.Time) *models.RuleExecutionLog {
	return &models.RuleExecutionLog{
		ID:         uuid.NewString(),
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		ExecutedAt: start,
		Trigger:    trigger,
		DryRun:     dryRun,
		Results:    []models.ActionResult{},
	}
}

// runRule processes one rule. Panics are contained so the sweep continues.
func (r *RuleRunner) runRule(ctx context.Context, cred platform.Credential, d DueRule, trigger models.Trigger, dryRun bool) (l *models.RuleExecutionLog) {
	start := r.now()
	rule := d.Parsed
	l = r.newLog(rule.Rule, trigger, dryRun, start)
	l.Deferred = !d.Apply

	logger := r.Logger.With(zap.String("rule_id", rule.Rule.ID), zap.String("rule_name", rule.Rule.Name))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("rule run panicked", zap.Any("panic", rec), zap.Stack("stack"))
			r.finish(ctx, l, models.ExecutionFailed, fmt.Errorf("panic: %v", rec), start)
		}
	}()

	res, err := r.Campaigns.Resolve(ctx, cred, rule)
	if err != nil {
		logger.Warn("failed to resolve campaigns", zap.Error(err))
		r.finish(ctx, l, models.ExecutionFailed, err, start)
		return l
	}
	l.CampaignsEvaluated = res.Evaluated()

	var errs error
	for _, s := range res.Skipped {
		errs = multierr.Append(errs, s)
	}

	for _, c := range res.Campaigns {
		window := r.Evaluator.Window(c, rule.Condition.WindowDays, start)
		ev, err := r.Evaluator.Evaluate(ctx, cred, rule.Condition, c, window)
		if err != nil {
			logger.Warn("failed to evaluate campaign", zap.String("campaign_id", c.ID), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		if !ev.Matched {
			continue
		}
		l.CampaignsMatched++

		if dryRun || !d.Apply {
			l.Results = append(l.Results, r.Executor.Plan(rule.Action, c, ev.Observed))
			continue
		}

		result := r.Executor.Apply(ctx, cred, rule.Action, c, ev.Observed)
		l.Results = append(l.Results, result)
		if result.Success {
			l.ActionsTaken++
		} else {
			errs = multierr.Append(errs, fmt.Errorf("campaign %s: %s", c.ID, result.Error))
		}
	}

	r.finish(ctx, l, overallStatus(l, len(multierr.Errors(errs))), errs, start)
	return l
}

// overallStatus is decided from the results alone, before anything is written.
func overallStatus(l *models.RuleExecutionLog, problems int) models.ExecutionStatus {
	if problems == 0 {
		return models.ExecutionSuccess
	}
	// Every problem is a failed action and nothing succeeded.
	if failed := l.ActionsFailed(); failed > 0 && l.ActionsTaken == 0 && failed == problems {
		return models.ExecutionFailed
	}
	return models.ExecutionPartial
}

func (r *RuleRunner) finish(ctx context.Context, l *models.RuleExecutionLog, status models.ExecutionStatus, err error, start time.Time) {
	l.Status = status
	if err != nil {
		msg := err.Error()
		if len(msg) > maxErrorMessage {
			msg = msg[:maxErrorMessage]
		}
		l.ErrorMessage = msg
	}
	elapsed := r.now().Sub(start)
	l.DurationMs = elapsed.Milliseconds()

	r.Logs.Record(ctx, l)
	r.Metrics.RecordRuleRun(string(l.Trigger), string(l.Status), elapsed)

	fields := []zap.Field{
		zap.String("rule_id", l.RuleID),
		zap.String("status", string(l.Status)),
		zap.Bool("dry_run", l.DryRun),
		zap.Bool("deferred", l.Deferred),
		zap.Int("evaluated", l.CampaignsEvaluated),
		zap.Int("matched", l.CampaignsMatched),
		zap.Int("actions_taken", l.ActionsTaken),
		zap.Int64("duration_ms", l.DurationMs),
	}
	if l.Status == models.ExecutionSuccess {
		r.Logger.Info("rule executed", fields...)
		return
	}
	r.Logger.Warn("rule executed with errors", append(fields, zap.String("error", l.ErrorMessage))...)
}

// IsSweepInProgress reports whether err means another run holds the lock.
func IsSweepInProgress(err error) bool {
	return errors.Is(err, ErrSweepInProgress)
}
