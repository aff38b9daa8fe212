package scaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/radiusdt/campaign-scaler/internal/platform"
	"go.uber.org/zap"
)

// Platform is the subset of the ads platform client the engine needs.
type Platform interface {
	ListAdAccounts(ctx context.Context, cred platform.Credential) ([]models.AdAccount, error)
	GetAdAccount(ctx context.Context, cred platform.Credential, accountID string) (models.AdAccount, error)
	ListCampaigns(ctx context.Context, cred platform.Credential, accountID string, statuses []models.CampaignStatus) ([]models.Campaign, error)
	GetCampaign(ctx context.Context, cred platform.Credential, campaignID string) (models.Campaign, error)
	GetDailyInsights(ctx context.Context, cred platform.Credential, campaignID string, window models.DateRange, purchaseType string) ([]models.DailyInsight, error)
	UpdateDailyBudget(ctx context.Context, cred platform.Credential, campaignID string, budget int64) error
	UpdateStatus(ctx context.Context, cred platform.Credential, campaignID string, status models.CampaignStatus) error
}

// Skip is an account or campaign that could not be read. It counts as
// evaluated but never as matched.
type Skip struct {
	AccountID  string
	CampaignID string
	Err        error
}

func (s Skip) Error() string {
	if s.CampaignID != "" {
		return fmt.Sprintf("campaign %s skipped: %v", s.CampaignID, s.Err)
	}
	return fmt.Sprintf("account %s skipped: %v", s.AccountID, s.Err)
}

var errOutsideAccounts = errors.New("campaign is outside the rule's ad accounts")

// Resolution is the concrete target set of one rule invocation.
type Resolution struct {
	Campaigns []models.Campaign
	Skipped   []Skip
}

// Evaluated is the number of targets that count toward campaigns_evaluated.
func (r Resolution) Evaluated() int {
	return len(r.Campaigns) + len(r.Skipped)
}

// EligibleStatuses lists the campaign statuses an action can act on. Pausing
// needs ACTIVE campaigns, resuming needs PAUSED ones, and a budget change
// applies to either.
func EligibleStatuses(action models.Action) []models.CampaignStatus {
	switch a := action.(type) {
	case models.StatusChange:
		if a.Target == models.StatusPaused {
			return []models.CampaignStatus{models.StatusActive}
		}
		return []models.CampaignStatus{models.StatusPaused}
	case models.BudgetDelta:
		return []models.CampaignStatus{models.StatusActive, models.StatusPaused}
	}
	return nil
}

func statusIn(s models.CampaignStatus, set []models.CampaignStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// CampaignResolver expands a rule's scope into campaigns. Nothing is cached
// between calls.
type CampaignResolver struct {
	platform Platform
	logger   *zap.Logger
}

func NewCampaignResolver(p Platform, logger *zap.Logger) *CampaignResolver {
	return &CampaignResolver{platform: p, logger: logger}
}

// Resolve returns the campaigns the rule applies to. An error means the scope
// could not be expanded at all; partial failures are reported as skips.
func (r *CampaignResolver) Resolve(ctx context.Context, cred platform.Credential, rule models.ParsedRule) (Resolution, error) {
	statuses := EligibleStatuses(rule.Action)

	switch rule.Rule.Scope {
	case models.ScopeGlobal:
		return r.resolveGlobal(ctx, cred, statuses)
	case models.ScopeScoped:
		if len(rule.Rule.CampaignIDs) > 0 {
			return r.resolveCampaigns(ctx, cred, rule.Rule.CampaignIDs, rule.Rule.AdAccountIDs, statuses), nil
		}
		return r.resolveAccounts(ctx, cred, rule.Rule.AdAccountIDs, statuses), nil
	}
	return Resolution{}, fmt.Errorf("unknown scope %q", rule.Rule.Scope)
}

func (r *CampaignResolver) resolveGlobal(ctx context.Context, cred platform.Credential, statuses []models.CampaignStatus) (Resolution, error) {
	accounts, err := r.platform.ListAdAccounts(ctx, cred)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to list ad accounts: %w", err)
	}

	var res Resolution
	for _, acct := range accounts {
		r.appendAccount(ctx, cred, acct, statuses, &res)
	}
	return res, nil
}

func (r *CampaignResolver) resolveAccounts(ctx context.Context, cred platform.Credential, accountIDs []string, statuses []models.CampaignStatus) Resolution {
	var res Resolution
	seen := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		id = platform.NormalizeAccountID(id)
		if seen[id] {
			continue
		}
		seen[id] = true

		acct, err := r.platform.GetAdAccount(ctx, cred, id)
		if err != nil {
			r.skip(&res, Skip{AccountID: id, Err: err})
			continue
		}
		r.appendAccount(ctx, cred, acct, statuses, &res)
	}
	return res
}

func (r *CampaignResolver) appendAccount(ctx context.Context, cred platform.Credential, acct models.AdAccount, statuses []models.CampaignStatus, res *Resolution) {
	campaigns, err := r.platform.ListCampaigns(ctx, cred, acct.ID, statuses)
	if err != nil {
		r.skip(res, Skip{AccountID: acct.ID, Err: err})
		return
	}
	for _, c := range campaigns {
		if !statusIn(c.Status, statuses) {
			continue
		}
		if c.Timezone == "" {
			c.Timezone = acct.Timezone
		}
		res.Campaigns = append(res.Campaigns, c)
	}
}

// resolveCampaigns fetches each selected campaign directly. When accounts are
// also selected, campaigns outside them are skipped.
func (r *CampaignResolver) resolveCampaigns(ctx context.Context, cred platform.Credential, campaignIDs, accountIDs []string, statuses []models.CampaignStatus) Resolution {
	allowed := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		allowed[platform.NormalizeAccountID(id)] = true
	}

	var res Resolution
	timezones := make(map[string]string)
	seen := make(map[string]bool, len(campaignIDs))
	for _, id := range campaignIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		c, err := r.platform.GetCampaign(ctx, cred, id)
		if err != nil {
			r.skip(&res, Skip{CampaignID: id, Err: err})
			continue
		}
		if len(allowed) > 0 && !allowed[c.AccountID] {
			r.skip(&res, Skip{AccountID: c.AccountID, CampaignID: id, Err: errOutsideAccounts})
			continue
		}
		if !statusIn(c.Status, statuses) {
			continue
		}

		if c.Timezone == "" && c.AccountID != "" {
			tz, ok := timezones[c.AccountID]
			if !ok {
				if acct, err := r.platform.GetAdAccount(ctx, cred, c.AccountID); err == nil {
					tz = acct.Timezone
				}
				timezones[c.AccountID] = tz
			}
			c.Timezone = tz
		}
		res.Campaigns = append(res.Campaigns, c)
	}
	return res
}

func (r *CampaignResolver) skip(res *Resolution, s Skip) {
	r.logger.Warn("target skipped",
		zap.String("account_id", s.AccountID),
		zap.String("campaign_id", s.CampaignID),
		zap.Error(s.Err),
	)
	res.Skipped = append(res.Skipped, s)
}

// Location returns the reporting timezone for a campaign, falling back to def.
func Location(c models.Campaign, def *time.Location) *time.Location {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	if def == nil {
		return time.UTC
	}
	return def
}
