package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/radiusdt/campaign-scaler/internal/models"
)

const (
	adAccountFields = "id,name,currency,timezone_name,account_status"
	campaignFields  = "id,name,status,daily_budget,account_id"
	listPageSize    = "100"
)

type adAccountWire struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Timezone string `json:"timezone_name"`
}

func (w adAccountWire) model() models.AdAccount {
	return models.AdAccount{
		ID:       NormalizeAccountID(w.ID),
		Name:     w.Name,
		Currency: w.Currency,
		Timezone: w.Timezone,
	}
}

type campaignWire struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	DailyBudget string `json:"daily_budget"`
	AccountID   string `json:"account_id"`
}

func (w campaignWire) model() (models.Campaign, error) {
	c := models.Campaign{
		ID:     w.ID,
		Name:   w.Name,
		Status: models.CampaignStatus(w.Status),
	}
	if w.AccountID != "" {
		c.AccountID = NormalizeAccountID(w.AccountID)
	}
	if w.DailyBudget != "" {
		budget, err := strconv.ParseInt(w.DailyBudget, 10, 64)
		if err != nil {
			return c, fmt.Errorf("campaign %s: invalid daily_budget %q: %w", w.ID, w.DailyBudget, err)
		}
		c.DailyBudget = budget
	}
	return c, nil
}

// NormalizeAccountID returns the act_-prefixed form of an ad account ID.
func NormalizeAccountID(id string) string {
	if id == "" || strings.HasPrefix(id, "act_") {
		return id
	}
	return "act_" + id
}

// ListAdAccounts lists every ad account reachable by the credential.
func (c *Client) ListAdAccounts(ctx context.Context, cred Credential) ([]models.AdAccount, error) {
	params := url.Values{}
	params.Set("fields", adAccountFields)
	params.Set("limit", listPageSize)

	wire, err := getAll[adAccountWire](ctx, c, cred, "list_ad_accounts", "me/adaccounts", params)
	if err != nil {
		return nil, err
	}
	accounts := make([]models.AdAccount, 0, len(wire))
	for _, w := range wire {
		accounts = append(accounts, w.model())
	}
	return accounts, nil
}

// GetAdAccount fetches one ad account.
func (c *Client) GetAdAccount(ctx context.Context, cred Credential, accountID string) (models.AdAccount, error) {
	params := url.Values{}
	params.Set("fields", adAccountFields)

	var w adAccountWire
	if err := c.get(ctx, cred, "get_ad_account", NormalizeAccountID(accountID), params, &w); err != nil {
		return models.AdAccount{}, err
	}
	return w.model(), nil
}

// ListCampaigns lists campaigns in an ad account whose effective status is
// one of statuses. An empty statuses slice lists all campaigns.
func (c *Client) ListCampaigns(ctx context.Context, cred Credential, accountID string, statuses []models.CampaignStatus) ([]models.Campaign, error) {
	accountID = NormalizeAccountID(accountID)
	params := url.Values{}
	params.Set("fields", campaignFields)
	params.Set("limit", listPageSize)
	if len(statuses) > 0 {
		filter, err := json.Marshal(statuses)
		if err != nil {
			return nil, err
		}
		params.Set("effective_status", string(filter))
	}

	wire, err := getAll[campaignWire](ctx, c, cred, "list_campaigns", accountID+"/campaigns", params)
	if err != nil {
		return nil, err
	}
	campaigns := make([]models.Campaign, 0, len(wire))
	for _, w := range wire {
		cp, err := w.model()
		if err != nil {
			return nil, err
		}
		if cp.AccountID == "" {
			cp.AccountID = accountID
		}
		campaigns = append(campaigns, cp)
	}
	return campaigns, nil
}

// GetCampaign fetches one campaign by ID.
func (c *Client) GetCampaign(ctx context.Context, cred Credential, campaignID string) (models.Campaign, error) {
	params := url.Values{}
	params.Set("fields", campaignFields)

	var w campaignWire
	if err := c.get(ctx, cred, "get_campaign", campaignID, params, &w); err != nil {
		return models.Campaign{}, err
	}
	return w.model()
}

type mutationResponse struct {
	Success bool `json:"success"`
}

// UpdateDailyBudget sets the campaign daily budget in minor units.
func (c *Client) UpdateDailyBudget(ctx context.Context, cred Credential, campaignID string, budget int64) error {
	params := url.Values{}
	params.Set("daily_budget", strconv.FormatInt(budget, 10))
	return c.mutate(ctx, cred, "update_budget", campaignID, params)
}

// UpdateStatus transitions the campaign to status.
func (c *Client) UpdateStatus(ctx context.Context, cred Credential, campaignID string, status models.CampaignStatus) error {
	params := url.Values{}
	params.Set("status", string(status))
	return c.mutate(ctx, cred, "update_status", campaignID, params)
}

func (c *Client) mutate(ctx context.Context, cred Credential, op, campaignID string, params url.Values) error {
	var resp mutationResponse
	if err := c.post(ctx, cred, op, campaignID, params, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &APIError{StatusCode: 200, Message: op + " was not acknowledged"}
	}
	return nil
}
