package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/shopspring/decimal"
)

const insightFields = "spend,impressions,clicks,actions,action_values"

// minorUnitsPerMajor assumes two-decimal currencies, which is what the
// platform reports spend and action values in.
var minorUnitsPerMajor = decimal.NewFromInt(100)

type actionWire struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}

type insightWire struct {
	DateStart    string       `json:"date_start"`
	Spend        string       `json:"spend"`
	Impressions  string       `json:"impressions"`
	Clicks       string       `json:"clicks"`
	Actions      []actionWire `json:"actions"`
	ActionValues []actionWire `json:"action_values"`
}

func (w insightWire) model(campaignID, purchaseType string) (models.DailyInsight, error) {
	in := models.DailyInsight{CampaignID: campaignID}

	date, err := time.Parse("2006-01-02", w.DateStart)
	if err != nil {
		return in, fmt.Errorf("invalid date_start %q: %w", w.DateStart, err)
	}
	in.Date = date

	if in.Spend, err = parseMinorUnits(w.Spend); err != nil {
		return in, fmt.Errorf("spend: %w", err)
	}
	if in.Impressions, err = parseCount(w.Impressions); err != nil {
		return in, fmt.Errorf("impressions: %w", err)
	}
	if in.Clicks, err = parseCount(w.Clicks); err != nil {
		return in, fmt.Errorf("clicks: %w", err)
	}
	for _, a := range w.ActionValues {
		if a.ActionType != purchaseType {
			continue
		}
		v, err := parseMinorUnits(a.Value)
		if err != nil {
			return in, fmt.Errorf("action_values[%s]: %w", a.ActionType, err)
		}
		in.Revenue += v
	}
	for _, a := range w.Actions {
		if a.ActionType != purchaseType {
			continue
		}
		v, err := parseCount(a.Value)
		if err != nil {
			return in, fmt.Errorf("actions[%s]: %w", a.ActionType, err)
		}
		in.Purchases += v
	}
	return in, nil
}

// GetDailyInsights fetches one row per day of window for a campaign. Days
// with no delivery are omitted by the platform.
func (c *Client) GetDailyInsights(ctx context.Context, cred Credential, campaignID string, window models.DateRange, purchaseType string) ([]models.DailyInsight, error) {
	timeRange, err := json.Marshal(map[string]string{
		"since": window.SinceString(),
		"until": window.UntilString(),
	})
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("fields", insightFields)
	params.Set("level", "campaign")
	params.Set("time_increment", "1")
	params.Set("time_range", string(timeRange))
	params.Set("limit", listPageSize)

	wire, err := getAll[insightWire](ctx, c, cred, "get_insights", campaignID+"/insights", params)
	if err != nil {
		return nil, err
	}

	insights := make([]models.DailyInsight, 0, len(wire))
	for _, w := range wire {
		in, err := w.model(campaignID, purchaseType)
		if err != nil {
			return nil, fmt.Errorf("campaign %s insights: %w", campaignID, err)
		}
		insights = append(insights, in)
	}
	return insights, nil
}

// parseMinorUnits converts a decimal major-unit string ("12.34") to minor units.
func parseMinorUnits(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Mul(minorUnitsPerMajor).Round(0).IntPart(), nil
}

// parseCount parses a platform count, which may be sent as "3" or "3.0".
func parseCount(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Round(0).IntPart(), nil
}
