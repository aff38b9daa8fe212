package scaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/radiusdt/campaign-scaler/internal/metrics"
	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/radiusdt/campaign-scaler/internal/platform"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errNoCampaignBudget = errors.New("campaign has no campaign-level daily budget")

var hundred = decimal.NewFromInt(100)

// ComputeBudget applies a percentage delta to a minor-unit budget, rounding
// half away from zero and clamping to minBudget.
func ComputeBudget(current int64, percent float64, minBudget int64) int64 {
	factor := hundred.Add(decimal.NewFromFloat(percent))
	next := decimal.NewFromInt(current).Mul(factor).Div(hundred).Round(0).IntPart()
	return ClampBudget(next, minBudget)
}

// ClampBudget raises budget to the platform minimum.
func ClampBudget(budget, minBudget int64) int64 {
	if budget < minBudget {
		return minBudget
	}
	return budget
}

// Executor applies actions to campaigns, one call at a time, under retry.
type Executor struct {
	platform  Platform
	minBudget int64
	retry     RetryPolicy
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewExecutor(p Platform, minBudget int64, retry RetryPolicy, logger *zap.Logger, m *metrics.Metrics) *Executor {
	return &Executor{platform: p, minBudget: minBudget, retry: retry, logger: logger, metrics: m}
}

// Plan computes the result of applying action without calling the platform.
func (e *Executor) Plan(action models.Action, c models.Campaign, observed float64) models.ActionResult {
	res := models.ActionResult{
		CampaignID:    c.ID,
		CampaignName:  c.Name,
		Action:        actionName(action),
		ObservedValue: observed,
		Planned:       true,
	}
	switch a := action.(type) {
	case models.BudgetDelta:
		if c.DailyBudget <= 0 {
			res.Error = errNoCampaignBudget.Error()
			return res
		}
		res.PreviousBudget = c.DailyBudget
		res.NewBudget = ComputeBudget(c.DailyBudget, a.Percent, e.minBudget)
	case models.StatusChange:
		res.NewStatus = a.Target
	default:
		res.Error = fmt.Sprintf("unsupported action %T", action)
	}
	return res
}

// Apply computes and applies action to one campaign. Definitive errors are
// recorded without retry.
func (e *Executor) Apply(ctx context.Context, cred platform.Credential, action models.Action, c models.Campaign, observed float64) models.ActionResult {
	res := models.ActionResult{
		CampaignID:    c.ID,
		CampaignName:  c.Name,
		Action:        actionName(action),
		ObservedValue: observed,
	}

	var err error
	switch a := action.(type) {
	case models.BudgetDelta:
		if c.DailyBudget <= 0 {
			err = errNoCampaignBudget
			break
		}
		res.PreviousBudget = c.DailyBudget
		res.NewBudget = ComputeBudget(c.DailyBudget, a.Percent, e.minBudget)
		if res.NewBudget == c.DailyBudget {
			break
		}
		res.Attempts, err = e.SetBudget(ctx, cred, c.ID, res.NewBudget)
	case models.StatusChange:
		res.NewStatus = a.Target
		if c.Status == a.Target {
			break
		}
		res.Attempts, err = e.SetStatus(ctx, cred, c.ID, a.Target)
	default:
		err = fmt.Errorf("unsupported action %T", action)
	}

	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
		e.logger.Warn("action failed",
			zap.String("campaign_id", c.ID),
			zap.String("action", res.Action),
			zap.Int("attempts", res.Attempts),
			zap.Error(err),
		)
	}
	e.metrics.RecordCampaignAction("rule", res.Action, res.Success)
	return res
}

// SetBudget updates the daily budget under the retry policy.
func (e *Executor) SetBudget(ctx context.Context, cred platform.Credential, campaignID string, budget int64) (int, error) {
	return e.withRetry(ctx, "update_budget", campaignID, func(ctx context.Context) error {
		return e.platform.UpdateDailyBudget(ctx, cred, campaignID, budget)
	})
}

// SetStatus transitions the campaign under the retry policy.
func (e *Executor) SetStatus(ctx context.Context, cred platform.Credential, campaignID string, status models.CampaignStatus) (int, error) {
	return e.withRetry(ctx, "update_status", campaignID, func(ctx context.Context) error {
		return e.platform.UpdateStatus(ctx, cred, campaignID, status)
	})
}

// MinBudget is the clamp floor in minor units.
func (e *Executor) MinBudget() int64 {
	return e.minBudget
}

// RetryPolicy returns the attempts and delay used for platform calls.
func (e *Executor) RetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: e.retry.Attempts, Delay: e.retry.Delay}
}

func (e *Executor) withRetry(ctx context.Context, op, campaignID string, fn func(ctx context.Context) error) (int, error) {
	policy := e.retry
	policy.OnRetry = func(attempt int, err error) {
		e.metrics.RecordPlatformRetry(op)
		e.logger.Info("retrying platform call",
			zap.String("operation", op),
			zap.String("campaign_id", campaignID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return policy.Do(ctx, fn)
}

func actionName(action models.Action) string {
	switch a := action.(type) {
	case models.BudgetDelta:
		return a.Kind()
	case models.StatusChange:
		if a.Target == models.StatusPaused {
			return "pause"
		}
		return "resume"
	}
	return "unknown"
}
