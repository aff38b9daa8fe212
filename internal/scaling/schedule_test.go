package scaling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/radiusdt/campaign-scaler/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newScheduleRunner(p *fakePlatform, repo *storage.InMemoryScheduleRepo) *ScheduleRunner {
	return &ScheduleRunner{
		Repo:     repo,
		Platform: p,
		Executor: newTestExecutor(p),
		Creds:    StaticCredentials(testCred),
		Locker:   NewLocalLocker(),
		ClaimTTL: time.Minute,
		Logger:   zap.NewNop(),
		Now:      func() time.Time { return testNow },
	}
}

func schedule(id string, action models.ScheduleAction, value float64) models.ScheduleRecord {
	return models.ScheduleRecord{
		ID:           id,
		CampaignID:   "c1",
		Action:       action,
		Value:        value,
		ScheduledFor: testNow.Add(-time.Minute),
	}
}

func schedulePlatform() *fakePlatform {
	p := newFakePlatform()
	p.addAccount("act_1", "")
	p.addCampaign(models.Campaign{ID: "c1", AccountID: "act_1", Status: models.StatusActive, DailyBudget: 10000})
	return p
}

func TestRunDue_ExecutesEachAction(t *testing.T) {
	tests := []struct {
		name        string
		rec         models.ScheduleRecord
		wantBudget  int64
		wantStatus  models.CampaignStatus
		budgetCalls int
		statusCalls int
	}{
		{"budget set rounds", schedule("s1", models.ScheduleBudgetSet, 5000.4), 5000, "", 1, 0},
		{"budget set clamps", schedule("s1", models.ScheduleBudgetSet, 20), 100, "", 1, 0},
		{"budget delta", schedule("s1", models.ScheduleBudgetDelta, -20), 8000, "", 1, 0},
		{"pause", schedule("s1", models.SchedulePause, 0), 0, models.StatusPaused, 0, 1},
		{"resume", schedule("s1", models.ScheduleResume, 0), 0, models.StatusActive, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := schedulePlatform()
			repo := storage.NewInMemoryScheduleRepo(tt.rec)

			summary, err := newScheduleRunner(p, repo).RunDue(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, summary.Due)
			assert.Equal(t, 1, summary.Executed)
			assert.Len(t, p.budgetCalls, tt.budgetCalls)
			assert.Len(t, p.statusCalls, tt.statusCalls)

			stored, ok := repo.GetSchedule("s1")
			require.True(t, ok)
			assert.Equal(t, models.ScheduleExecuted, stored.Status)
			assert.Equal(t, tt.wantBudget, stored.ResultBudget)
			assert.Equal(t, tt.wantStatus, stored.ResultStatus)
			require.NotNil(t, stored.ExecutedAt)
			assert.Equal(t, testNow, *stored.ExecutedAt)
		})
	}
}

func TestRunDue_IsIdempotent(t *testing.T) {
	p := schedulePlatform()
	repo := storage.NewInMemoryScheduleRepo(schedule("s1", models.SchedulePause, 0))
	runner := newScheduleRunner(p, repo)
	ctx := context.Background()

	_, err := runner.RunDue(ctx)
	require.NoError(t, err)

	summary, err := runner.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Due)
	assert.Len(t, p.statusCalls, 1)
}

func TestRunDue_FailureIsRecordedAndNotRetried(t *testing.T) {
	p := schedulePlatform()
	p.mutationErrs["c1"] = []error{errDenied}
	repo := storage.NewInMemoryScheduleRepo(schedule("s1", models.ScheduleBudgetSet, 5000))
	runner := newScheduleRunner(p, repo)
	ctx := context.Background()

	summary, err := runner.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 1)
	assert.Contains(t, summary.Results[0].Error, "Permissions error")

	stored, _ := repo.GetSchedule("s1")
	assert.Equal(t, models.ScheduleFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "Permissions error")

	summary, err = runner.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Due)
	assert.Len(t, p.budgetCalls, 1)
}

func TestRunDue_InvalidRecordFails(t *testing.T) {
	p := schedulePlatform()
	repo := storage.NewInMemoryScheduleRepo(schedule("s1", models.ScheduleBudgetSet, 0))

	summary, err := newScheduleRunner(p, repo).RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, p.budgetCalls)
}

func TestRunDue_DeltaWithoutCampaignBudgetFails(t *testing.T) {
	p := schedulePlatform()
	p.addCampaign(models.Campaign{ID: "c1", AccountID: "act_1", Status: models.StatusActive})
	repo := storage.NewInMemoryScheduleRepo(schedule("s1", models.ScheduleBudgetDelta, 10))

	summary, err := newScheduleRunner(p, repo).RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	stored, _ := repo.GetSchedule("s1")
	assert.Equal(t, errNoCampaignBudget.Error(), stored.ErrorMessage)
}

func TestRunDue_SkipsFutureAndTerminalRecords(t *testing.T) {
	p := schedulePlatform()
	future := schedule("future", models.SchedulePause, 0)
	future.ScheduledFor = testNow.Add(time.Hour)
	cancelled := schedule("cancelled", models.SchedulePause, 0)
	cancelled.Status = models.ScheduleCancelled
	repo := storage.NewInMemoryScheduleRepo(future, cancelled)

	summary, err := newScheduleRunner(p, repo).RunDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Due)
	assert.Empty(t, p.statusCalls)
}

func TestRunDue_ClaimedRecordIsSkipped(t *testing.T) {
	p := schedulePlatform()
	repo := storage.NewInMemoryScheduleRepo(schedule("s1", models.SchedulePause, 0))
	runner := newScheduleRunner(p, repo)
	ctx := context.Background()

	_, ok, err := runner.Locker.TryLock(ctx, scheduleClaimKey+"s1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	summary, err := runner.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, p.statusCalls)

	stored, _ := repo.GetSchedule("s1")
	assert.Equal(t, models.SchedulePending, stored.Status)
}

func TestRunDue_CredentialFailureLeavesRecordsPending(t *testing.T) {
	p := schedulePlatform()
	repo := storage.NewInMemoryScheduleRepo(schedule("s1", models.SchedulePause, 0))
	runner := newScheduleRunner(p, repo)
	runner.Creds = StaticCredentials{}

	_, err := runner.RunDue(context.Background())
	require.Error(t, err)

	stored, _ := repo.GetSchedule("s1")
	assert.Equal(t, models.SchedulePending, stored.Status)
}

func TestRunDue_StaleListingIsNotReapplied(t *testing.T) {
	tests := []struct {
		name        string
		sharedClaim bool
	}{
		{"claim still held", true},
		{"claim unavailable", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := schedulePlatform()
			repo := storage.NewInMemoryScheduleRepo(schedule("s1", models.ScheduleBudgetDelta, 20))
			first := newScheduleRunner(p, repo)
			second := newScheduleRunner(p, repo)
			if tt.sharedClaim {
				second.Locker = first.Locker
			} else {
				second.Locker = nil
			}
			ctx := context.Background()

			stale, err := repo.ListDue(ctx, testNow)
			require.NoError(t, err)
			require.Len(t, stale, 1)

			summary, err := first.RunDue(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, summary.Executed)

			res := second.runOne(ctx, testCred, stale[0])
			assert.True(t, res.Skipped)
			assert.Equal(t, []budgetCall{{CampaignID: "c1", Budget: 12000}}, p.budgetCalls)

			stored, _ := repo.GetSchedule("s1")
			assert.Equal(t, models.ScheduleExecuted, stored.Status)
			assert.Equal(t, int64(12000), stored.ResultBudget)
		})
	}
}

type flakyScheduleRepo struct {
	*storage.InMemoryScheduleRepo
	failures      int
	completeCalls int
}

func (f *flakyScheduleRepo) Complete(ctx context.Context, id string, out models.ScheduleOutcome) (bool, error) {
	f.completeCalls++
	if f.failures > 0 {
		f.failures--
		return false, errors.New("connection reset")
	}
	return f.InMemoryScheduleRepo.Complete(ctx, id, out)
}

func TestRunDue_TerminalWriteIsRetried(t *testing.T) {
	p := schedulePlatform()
	repo := &flakyScheduleRepo{InMemoryScheduleRepo: storage.NewInMemoryScheduleRepo(schedule("s1", models.SchedulePause, 0)), failures: 2}
	runner := newScheduleRunner(p, repo.InMemoryScheduleRepo)
	runner.Repo = repo

	summary, err := runner.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Executed)
	assert.Equal(t, 3, repo.completeCalls)
	assert.Len(t, p.statusCalls, 1)

	stored, _ := repo.GetSchedule("s1")
	assert.Equal(t, models.ScheduleExecuted, stored.Status)
}

func TestRunDue_UnrecordedOutcomeKeepsClaim(t *testing.T) {
	p := schedulePlatform()
	repo := &flakyScheduleRepo{InMemoryScheduleRepo: storage.NewInMemoryScheduleRepo(schedule("s1", models.SchedulePause, 0)), failures: 10}
	runner := newScheduleRunner(p, repo.InMemoryScheduleRepo)
	runner.Repo = repo
	ctx := context.Background()

	_, err := runner.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.completeCalls)

	stored, _ := repo.GetSchedule("s1")
	assert.Equal(t, models.SchedulePending, stored.Status)

	summary, err := runner.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Len(t, p.statusCalls, 1)
}
