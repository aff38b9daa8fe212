package scaling

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/metrics"
	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/radiusdt/campaign-scaler/internal/platform"
	"github.com/radiusdt/campaign-scaler/internal/storage"
	"go.uber.org/zap"
)

// ScheduleResult is the outcome of one scheduled action in a run.
type ScheduleResult struct {
	ScheduleID   string                `json:"schedule_id"`
	CampaignID   string                `json:"campaign_id"`
	Action       models.ScheduleAction `json:"action"`
	Status       models.ScheduleStatus `json:"status"`
	ResultBudget int64                 `json:"result_budget,omitempty"`
	ResultStatus models.CampaignStatus `json:"result_status,omitempty"`
	Error        string                `json:"error,omitempty"`
	// Skipped is set when another runner held the record or already completed it.
	Skipped bool `json:"skipped,omitempty"`
}

// ScheduleSummary is returned to manual callers of /run.
type ScheduleSummary struct {
	Due      int              `json:"due"`
	Executed int              `json:"executed"`
	Failed   int              `json:"failed"`
	Skipped  int              `json:"skipped"`
	Results  []ScheduleResult `json:"results"`
}

// ScheduleRunner executes due one-off scheduled actions. Each record moves
// from pending to executed or failed exactly once and is never retried.
type ScheduleRunner struct {
	Repo     storage.ScheduleRepo
	Platform Platform
	Executor *Executor
	Creds    CredentialProvider
	Locker   Locker
	ClaimTTL time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func (r *ScheduleRunner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// RunDue executes every pending record scheduled at or before now.
func (r *ScheduleRunner) RunDue(ctx context.Context) (*ScheduleSummary, error) {
	records, err := r.Repo.ListDue(ctx, r.now())
	if err != nil {
		return nil, fmt.Errorf("failed to load due schedules: %w", err)
	}

	summary := &ScheduleSummary{Due: len(records), Results: []ScheduleResult{}}
	if len(records) == 0 {
		return summary, nil
	}

	cred, err := r.Creds.Credential(ctx)
	if err != nil {
		// Nothing was attempted, so records stay pending for the next run.
		return nil, err
	}

	for _, rec := range records {
		res := r.runOne(ctx, cred, rec)
		switch {
		case res.Skipped:
			summary.Skipped++
		case res.Status == models.ScheduleExecuted:
			summary.Executed++
		default:
			summary.Failed++
		}
		summary.Results = append(summary.Results, res)
	}

	r.Logger.Info("scheduled actions processed",
		zap.Int("due", summary.Due),
		zap.Int("executed", summary.Executed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

func (r *ScheduleRunner) runOne(ctx context.Context, cred platform.Credential, rec models.ScheduleRecord) (res ScheduleResult) {
	res = ScheduleResult{ScheduleID: rec.ID, CampaignID: rec.CampaignID, Action: rec.Action}
	logger := r.Logger.With(
		zap.String("schedule_id", rec.ID),
		zap.String("campaign_id", rec.CampaignID),
		zap.String("action", string(rec.Action)),
	)

	release, claimed := r.claim(ctx, rec.ID, logger)
	if !claimed {
		res.Skipped = true
		return res
	}

	// The record was listed before the claim was taken; another runner may
	// have completed it since.
	pending, err := r.Repo.IsPending(ctx, rec.ID)
	if err != nil || !pending {
		if err != nil {
			logger.Warn("failed to re-read scheduled action, leaving it for the next run", zap.Error(err))
		} else {
			logger.Info("scheduled action already completed by another runner")
		}
		release()
		res.Skipped = true
		return res
	}

	var outcome models.ScheduleOutcome
	func() {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("scheduled action panicked", zap.Any("panic", p), zap.Stack("stack"))
				outcome = models.ScheduleOutcome{Status: models.ScheduleFailed, ErrorMessage: fmt.Sprintf("panic: %v", p)}
			}
		}()
		outcome = r.execute(ctx, cred, rec)
	}()
	outcome.ExecutedAt = r.now()

	// From here on the claim is left to expire.
	ok, err := r.complete(ctx, rec.ID, outcome, logger)
	switch {
	case err != nil:
		logger.Error("failed to record scheduled action outcome", zap.String("status", string(outcome.Status)), zap.Error(err))
	case !ok:
		logger.Warn("scheduled action was no longer pending")
		res.Skipped = true
		return res
	}

	res.Status = outcome.Status
	res.ResultBudget = outcome.ResultBudget
	res.ResultStatus = outcome.ResultStatus
	res.Error = outcome.ErrorMessage
	r.Metrics.RecordScheduledAction(string(rec.Action), string(outcome.Status))

	if outcome.Status == models.ScheduleExecuted {
		logger.Info("scheduled action executed",
			zap.Int64("result_budget", outcome.ResultBudget),
			zap.String("result_status", string(outcome.ResultStatus)),
		)
	} else {
		logger.Warn("scheduled action failed", zap.String("error", outcome.ErrorMessage))
	}
	return res
}

// complete writes the terminal status, retrying store errors with the
// executor's attempts and delay.
func (r *ScheduleRunner) complete(ctx context.Context, id string, outcome models.ScheduleOutcome, logger *zap.Logger) (bool, error) {
	policy := r.Executor.RetryPolicy()
	policy.Retryable = func(error) bool { return true }
	policy.OnRetry = func(attempt int, err error) {
		logger.Warn("retrying scheduled action outcome write", zap.Int("attempt", attempt), zap.Error(err))
	}

	var ok bool
	_, err := policy.Do(context.WithoutCancel(ctx), func(ctx context.Context) error {
		var err error
		ok, err = r.Repo.Complete(ctx, id, outcome)
		return err
	})
	return ok, err
}

// claim takes a short lease on the record. A lock store error does not block
// execution; the status re-read and the conditional terminal write still
// guard the record.
func (r *ScheduleRunner) claim(ctx context.Context, id string, logger *zap.Logger) (func(), bool) {
	if r.Locker == nil {
		return func() {}, true
	}
	unlock, ok, err := r.Locker.TryLock(ctx, scheduleClaimKey+id, r.ClaimTTL)
	if err != nil {
		logger.Warn("schedule claim unavailable, continuing without it", zap.Error(err))
		return func() {}, true
	}
	if !ok {
		logger.Info("scheduled action claimed by another runner")
		return nil, false
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release schedule claim", zap.Error(err))
		}
	}, true
}

func (r *ScheduleRunner) execute(ctx context.Context, cred platform.Credential, rec models.ScheduleRecord) models.ScheduleOutcome {
	fail := func(err error) models.ScheduleOutcome {
		return models.ScheduleOutcome{Status: models.ScheduleFailed, ErrorMessage: err.Error()}
	}

	if err := rec.Validate(); err != nil {
		return fail(err)
	}

	switch rec.Action {
	case models.ScheduleBudgetSet, models.ScheduleBudgetDelta:
		budget, err := r.targetBudget(ctx, cred, rec)
		if err != nil {
			return fail(err)
		}
		if _, err := r.Executor.SetBudget(ctx, cred, rec.CampaignID, budget); err != nil {
			return fail(err)
		}
		return models.ScheduleOutcome{Status: models.ScheduleExecuted, ResultBudget: budget}

	case models.SchedulePause, models.ScheduleResume:
		target := models.StatusPaused
		if rec.Action == models.ScheduleResume {
			target = models.StatusActive
		}
		if _, err := r.Executor.SetStatus(ctx, cred, rec.CampaignID, target); err != nil {
			return fail(err)
		}
		return models.ScheduleOutcome{Status: models.ScheduleExecuted, ResultStatus: target}
	}
	return fail(fmt.Errorf("unknown action %q", rec.Action))
}

func (r *ScheduleRunner) targetBudget(ctx context.Context, cred platform.Credential, rec models.ScheduleRecord) (int64, error) {
	if rec.Action == models.ScheduleBudgetSet {
		return ClampBudget(int64(math.Round(rec.Value)), r.Executor.MinBudget()), nil
	}

	c, err := r.Platform.GetCampaign(ctx, cred, rec.CampaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to read current budget: %w", err)
	}
	if c.DailyBudget <= 0 {
		return 0, errNoCampaignBudget
	}
	return ComputeBudget(c.DailyBudget, rec.Value, r.Executor.MinBudget()), nil
}
