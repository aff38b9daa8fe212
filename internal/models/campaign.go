package models

import (
	"math"
	"time"
)

// CampaignStatus mirrors the platform's configured campaign status.
type CampaignStatus string

const (
	StatusActive   CampaignStatus = "ACTIVE"
	StatusPaused   CampaignStatus = "PAUSED"
	StatusArchived CampaignStatus = "ARCHIVED"
	StatusDeleted  CampaignStatus = "DELETED"
)

// AdAccount is a platform billing account reachable by the master credential.
type AdAccount struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Timezone string `json:"timezone_name"`
}

// Campaign is a platform campaign as fetched at evaluation time. It is never
// cached across runs.
type Campaign struct {
	ID        string         `json:"id"`
	AccountID string         `json:"account_id"`
	Name      string         `json:"name"`
	Status    CampaignStatus `json:"status"`
	// DailyBudget is in minor currency units; zero means the budget lives on ad sets.
	DailyBudget int64  `json:"daily_budget"`
	Timezone    string `json:"timezone,omitempty"`
}

// DailyInsight is one campaign-day of performance. Money is in minor units.
type DailyInsight struct {
	CampaignID  string    `json:"campaign_id"`
	Date        time.Time `json:"date"`
	Spend       int64     `json:"spend"`
	Revenue     int64     `json:"revenue"`
	Purchases   int64     `json:"purchases"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

const dateLayout = "2006-01-02"

// SinceString formats the first day as YYYY-MM-DD.
func (d DateRange) SinceString() string { return d.Since.Format(dateLayout) }

// UntilString formats the last day as YYYY-MM-DD.
func (d DateRange) UntilString() string { return d.Until.Format(dateLayout) }

// Days returns the number of calendar days in the range.
func (d DateRange) Days() int {
	return int(math.Round(d.Until.Sub(d.Since).Hours()/24)) + 1
}

// LookbackWindow returns [today-days, today-1] in loc, excluding the current
// still-accruing day.
func LookbackWindow(now time.Time, days int, loc *time.Location) DateRange {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return DateRange{
		Since: today.AddDate(0, 0, -days),
		Until: today.AddDate(0, 0, -1),
	}
}
