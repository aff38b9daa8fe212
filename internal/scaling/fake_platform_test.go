package scaling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/radiusdt/campaign-scaler/internal/platform"
	"github.com/radiusdt/campaign-scaler/internal/storage"
	"go.uber.org/zap"
)

var (
	testCred = platform.Credential{AccessToken: "tok", AppSecret: "sec"}
	testNow  = time.Date(2024, 3, 10, 10, 30, 0, 0, time.UTC)
)

type budgetCall struct {
	CampaignID string
	Budget     int64
}

type statusCall struct {
	CampaignID string
	Status     models.CampaignStatus
}

// fakePlatform is an in-memory ads platform.
type fakePlatform struct {
	mu sync.Mutex

	accounts    []models.AdAccount
	accountErrs map[string]error
	campaigns   map[string]models.Campaign
	insights    map[string][]models.DailyInsight
	insightErrs map[string]error
	// mutationErrs are returned in order, one per mutation call on a campaign.
	mutationErrs map[string][]error

	budgetCalls  []budgetCall
	statusCalls  []statusCall
	windows      map[string]models.DateRange
	getCampaigns []string
	listAccounts int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		accountErrs:  make(map[string]error),
		campaigns:    make(map[string]models.Campaign),
		insights:     make(map[string][]models.DailyInsight),
		insightErrs:  make(map[string]error),
		mutationErrs: make(map[string][]error),
		windows:      make(map[string]models.DateRange),
	}
}

func (f *fakePlatform) addAccount(id, tz string) {
	f.accounts = append(f.accounts, models.AdAccount{ID: id, Name: id, Timezone: tz})
}

func (f *fakePlatform) addCampaign(c models.Campaign, days ...models.DailyInsight) {
	f.campaigns[c.ID] = c
	for i := range days {
		days[i].CampaignID = c.ID
	}
	f.insights[c.ID] = days
}

func (f *fakePlatform) ListAdAccounts(ctx context.Context, cred platform.Credential) ([]models.AdAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listAccounts++
	return append([]models.AdAccount(nil), f.accounts...), nil
}

func (f *fakePlatform) GetAdAccount(ctx context.Context, cred platform.Credential, accountID string) (models.AdAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.accountErrs[accountID]; err != nil {
		return models.AdAccount{}, err
	}
	for _, a := range f.accounts {
		if a.ID == accountID {
			return a, nil
		}
	}
	return models.AdAccount{}, &platform.APIError{StatusCode: 400, Code: 100, Message: "unknown account " + accountID}
}

func (f *fakePlatform) ListCampaigns(ctx context.Context, cred platform.Credential, accountID string, statuses []models.CampaignStatus) ([]models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.accountErrs[accountID]; err != nil {
		return nil, err
	}
	var out []models.Campaign
	for _, id := range sortedKeys(f.campaigns) {
		c := f.campaigns[id]
		if c.AccountID == accountID && statusIn(c.Status, statuses) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakePlatform) GetCampaign(ctx context.Context, cred platform.Credential, campaignID string) (models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCampaigns = append(f.getCampaigns, campaignID)
	c, ok := f.campaigns[campaignID]
	if !ok {
		return models.Campaign{}, &platform.APIError{StatusCode: 400, Code: 100, Message: "unknown campaign " + campaignID}
	}
	return c, nil
}

func (f *fakePlatform) GetDailyInsights(ctx context.Context, cred platform.Credential, campaignID string, window models.DateRange, purchaseType string) ([]models.DailyInsight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows[campaignID] = window
	if err := f.insightErrs[campaignID]; err != nil {
		return nil, err
	}
	return f.insights[campaignID], nil
}

func (f *fakePlatform) nextMutationErr(campaignID string) error {
	errs := f.mutationErrs[campaignID]
	if len(errs) == 0 {
		return nil
	}
	f.mutationErrs[campaignID] = errs[1:]
	return errs[0]
}

func (f *fakePlatform) UpdateDailyBudget(ctx context.Context, cred platform.Credential, campaignID string, budget int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.budgetCalls = append(f.budgetCalls, budgetCall{campaignID, budget})
	if err := f.nextMutationErr(campaignID); err != nil {
		return err
	}
	c := f.campaigns[campaignID]
	c.DailyBudget = budget
	f.campaigns[campaignID] = c
	return nil
}

func (f *fakePlatform) UpdateStatus(ctx context.Context, cred platform.Credential, campaignID string, status models.CampaignStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusCall{campaignID, status})
	if err := f.nextMutationErr(campaignID); err != nil {
		return err
	}
	c := f.campaigns[campaignID]
	c.Status = status
	f.campaigns[campaignID] = c
	return nil
}

func sortedKeys(m map[string]models.Campaign) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func day(offset int, spend, revenue int64) models.DailyInsight {
	return models.DailyInsight{
		Date:    time.Date(2024, 3, 10+offset, 0, 0, 0, 0, time.UTC),
		Spend:   spend,
		Revenue: revenue,
	}
}

var (
	errThrottled = &platform.APIError{StatusCode: 400, Code: 17, Message: "User request limit reached"}
	errDenied    = &platform.APIError{StatusCode: 403, Code: 200, Message: "Permissions error"}
)

type failingLogStore struct{ err error }

func (f failingLogStore) WriteExecutionLog(ctx context.Context, l *models.RuleExecutionLog) error {
	return f.err
}

type testEngine struct {
	platform *fakePlatform
	rules    *storage.InMemoryRuleRepo
	records  *storage.InMemoryLogStore
	metrics  *storage.InMemoryLogStore
	runner   *RuleRunner
}

func newTestEngine(p *fakePlatform, rules ...models.ScalingRule) *testEngine {
	logger := zap.NewNop()
	repo := storage.NewInMemoryRuleRepo(rules...)
	records := storage.NewInMemoryLogStore()
	metricsStore := storage.NewInMemoryLogStore()
	executor := NewExecutor(p, 100, RetryPolicy{Attempts: 3}, logger, nil)

	return &testEngine{
		platform: p,
		rules:    repo,
		records:  records,
		metrics:  metricsStore,
		runner: &RuleRunner{
			Rules:     NewRuleResolver(repo, time.UTC, 0, logger),
			Campaigns: NewCampaignResolver(p, logger),
			Evaluator: NewEvaluator(p, "omni_purchase", time.UTC),
			Executor:  executor,
			Logs:      NewDualLogger(records, metricsStore, logger, nil),
			Creds:     StaticCredentials(testCred),
			Locker:    NewLocalLocker(),
			LockTTL:   time.Minute,
			Logger:    logger,
			Now:       func() time.Time { return testNow },
		},
	}
}

func rule(id string, mutate ...func(*models.ScalingRule)) models.ScalingRule {
	r := models.ScalingRule{
		ID:          id,
		Name:        fmt.Sprintf("rule %s", id),
		Scope:       models.ScopeGlobal,
		CheckAt:     "Hourly",
		IfCondition: "ROAS < 1.0 over 1 day",
		ThenAction:  "Pause",
		Enabled:     true,
	}
	for _, m := range mutate {
		m(&r)
	}
	return r
}
