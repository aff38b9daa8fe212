package scaling

import (
	"context"
	"testing"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roasBelow(threshold float64, days int) models.Condition {
	return models.Condition{Metric: models.MetricROAS, Operator: models.OpLess, Threshold: threshold, WindowDays: days}
}

func TestEvaluateInsights_AggregatesBeforeDividing(t *testing.T) {
	rows := []models.DailyInsight{day(-3, 100, 150), day(-2, 200, 180), day(-1, 50, 90)}

	ev := EvaluateInsights(roasBelow(1.25, 3), rows)
	assert.InDelta(t, 1.2, ev.Observed, 1e-9)
	assert.True(t, ev.Matched)
	assert.Equal(t, int64(350), ev.Spend)
	assert.Equal(t, int64(420), ev.Revenue)

	ev = EvaluateInsights(roasBelow(1.2, 3), rows)
	assert.False(t, ev.Matched, "strict comparison at the boundary")
}

func TestEvaluateInsights_ZeroSpendNeverMatches(t *testing.T) {
	rows := []models.DailyInsight{day(-1, 0, 0)}

	for _, op := range []models.Operator{models.OpLess, models.OpLessEqual, models.OpGreater, models.OpGreaterEqual} {
		cond := models.Condition{Metric: models.MetricROAS, Operator: op, Threshold: 1, WindowDays: 1}
		assert.False(t, EvaluateInsights(cond, rows).Matched, op)
		assert.False(t, EvaluateInsights(cond, nil).Matched, op)
	}
}

func TestEvaluateInsights_MoneyMetricsInMajorUnits(t *testing.T) {
	rows := []models.DailyInsight{day(-2, 2500, 1000), day(-1, 2500, 3000)}

	ev := EvaluateInsights(models.Condition{Metric: models.MetricSpend, Operator: models.OpGreater, Threshold: 49.99, WindowDays: 2}, rows)
	assert.Equal(t, 50.0, ev.Observed)
	assert.True(t, ev.Matched)

	ev = EvaluateInsights(models.Condition{Metric: models.MetricRevenue, Operator: models.OpGreaterEqual, Threshold: 40, WindowDays: 2}, rows)
	assert.Equal(t, 40.0, ev.Observed)
	assert.True(t, ev.Matched)
}

func TestEvaluateInsights_CPA(t *testing.T) {
	rows := []models.DailyInsight{
		{Date: time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), Spend: 3000, Purchases: 1},
		{Date: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), Spend: 3000, Purchases: 1},
	}
	cond := models.Condition{Metric: models.MetricCPA, Operator: models.OpGreater, Threshold: 25, WindowDays: 2}

	ev := EvaluateInsights(cond, rows)
	assert.Equal(t, 30.0, ev.Observed)
	assert.True(t, ev.Matched)

	noPurchases := []models.DailyInsight{{Spend: 3000}}
	assert.False(t, EvaluateInsights(cond, noPurchases).Matched)
}

func TestEvaluator_WindowExcludesToday(t *testing.T) {
	e := NewEvaluator(newFakePlatform(), "omni_purchase", time.UTC)

	w := e.Window(models.Campaign{ID: "c1"}, 1, testNow)
	assert.Equal(t, "2024-03-09", w.SinceString())
	assert.Equal(t, "2024-03-09", w.UntilString())

	w = e.Window(models.Campaign{ID: "c1"}, 7, testNow)
	assert.Equal(t, "2024-03-03", w.SinceString())
	assert.Equal(t, "2024-03-09", w.UntilString())
	assert.Equal(t, 7, w.Days())
}

func TestEvaluator_WindowUsesCampaignTimezone(t *testing.T) {
	e := NewEvaluator(newFakePlatform(), "omni_purchase", time.UTC)

	// 2024-03-10 02:00 UTC is still 2024-03-09 in Los Angeles.
	now := time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)
	w := e.Window(models.Campaign{ID: "c1", Timezone: "America/Los_Angeles"}, 1, now)
	assert.Equal(t, "2024-03-08", w.SinceString())
	assert.Equal(t, "2024-03-08", w.UntilString())
}

func TestEvaluator_Evaluate(t *testing.T) {
	p := newFakePlatform()
	p.addCampaign(models.Campaign{ID: "c1", Status: models.StatusActive}, day(-1, 500, 400))
	p.insightErrs["c2"] = errDenied
	e := NewEvaluator(p, "omni_purchase", time.UTC)
	ctx := context.Background()

	window := e.Window(models.Campaign{ID: "c1"}, 1, testNow)
	ev, err := e.Evaluate(ctx, testCred, roasBelow(1, 1), models.Campaign{ID: "c1"}, window)
	require.NoError(t, err)
	assert.True(t, ev.Matched)
	assert.InDelta(t, 0.8, ev.Observed, 1e-9)
	assert.Equal(t, window, p.windows["c1"])

	_, err = e.Evaluate(ctx, testCred, roasBelow(1, 1), models.Campaign{ID: "c2"}, window)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDenied)
}
