package scaling

import (
	"context"
	"fmt"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/radiusdt/campaign-scaler/internal/platform"
)

// Evaluation is the outcome of checking one campaign against a condition.
type Evaluation struct {
	Matched   bool
	Observed  float64
	Window    models.DateRange
	Spend     int64
	Revenue   int64
	Purchases int64
}

// Evaluator fetches daily insights and evaluates conditions.
type Evaluator struct {
	platform     Platform
	purchaseType string
	defaultLoc   *time.Location
}

func NewEvaluator(p Platform, purchaseType string, defaultLoc *time.Location) *Evaluator {
	return &Evaluator{platform: p, purchaseType: purchaseType, defaultLoc: defaultLoc}
}

// Window returns the lookback window for a campaign: the last days complete
// days in its reporting timezone, excluding today.
func (e *Evaluator) Window(c models.Campaign, days int, now time.Time) models.DateRange {
	return models.LookbackWindow(now, days, Location(c, e.defaultLoc))
}

// Evaluate fetches insights for window and compares the aggregate metric.
func (e *Evaluator) Evaluate(ctx context.Context, cred platform.Credential, cond models.Condition, c models.Campaign, window models.DateRange) (Evaluation, error) {
	rows, err := e.platform.GetDailyInsights(ctx, cred, c.ID, window, e.purchaseType)
	if err != nil {
		return Evaluation{Window: window}, fmt.Errorf("failed to fetch insights for campaign %s: %w", c.ID, err)
	}
	ev := EvaluateInsights(cond, rows)
	ev.Window = window
	return ev, nil
}

// EvaluateInsights aggregates rows in integer minor units and only then
// derives the metric. A window with no spend never matches.
func EvaluateInsights(cond models.Condition, rows []models.DailyInsight) Evaluation {
	var ev Evaluation
	for _, r := range rows {
		ev.Spend += r.Spend
		ev.Revenue += r.Revenue
		ev.Purchases += r.Purchases
	}
	if ev.Spend <= 0 {
		return ev
	}

	switch cond.Metric {
	case models.MetricROAS:
		ev.Observed = float64(ev.Revenue) / float64(ev.Spend)
	case models.MetricSpend:
		ev.Observed = float64(ev.Spend) / 100
	case models.MetricRevenue:
		ev.Observed = float64(ev.Revenue) / 100
	case models.MetricPurchases:
		ev.Observed = float64(ev.Purchases)
	case models.MetricCPA:
		if ev.Purchases == 0 {
			return ev
		}
		ev.Observed = float64(ev.Spend) / float64(ev.Purchases) / 100
	default:
		return ev
	}

	ev.Matched = cond.Operator.Compare(ev.Observed, cond.Threshold)
	return ev
}
