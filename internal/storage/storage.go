package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/models"
)

// =============================================
// IN-MEMORY IMPLEMENTATIONS
// =============================================

// InMemoryRuleRepo keeps rules in insertion order.
type InMemoryRuleRepo struct {
	mu    sync.RWMutex
	order []string
	rules map[string]models.ScalingRule
}

func NewInMemoryRuleRepo(rules ...models.ScalingRule) *InMemoryRuleRepo {
	r := &InMemoryRuleRepo{rules: make(map[string]models.ScalingRule)}
	for _, rule := range rules {
		r.PutRule(rule)
	}
	return r
}

// PutRule inserts or replaces a rule. Replacing keeps the original position.
func (r *InMemoryRuleRepo) PutRule(rule models.ScalingRule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[rule.ID]; !ok {
		r.order = append(r.order, rule.ID)
	}
	r.rules[rule.ID] = rule
}

func (r *InMemoryRuleRepo) ListRules(ctx context.Context) ([]models.ScalingRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]models.ScalingRule, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.rules[id])
	}
	return result, nil
}

func (r *InMemoryRuleRepo) GetRule(ctx context.Context, id string) (*models.ScalingRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rule, nil
}

// InMemoryScheduleRepo stores scheduled actions by ID.
type InMemoryScheduleRepo struct {
	mu        sync.RWMutex
	schedules map[string]models.ScheduleRecord
}

func NewInMemoryScheduleRepo(records ...models.ScheduleRecord) *InMemoryScheduleRepo {
	r := &InMemoryScheduleRepo{schedules: make(map[string]models.ScheduleRecord)}
	for _, s := range records {
		r.PutSchedule(s)
	}
	return r
}

func (r *InMemoryScheduleRepo) PutSchedule(s models.ScheduleRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Status == "" {
		s.Status = models.SchedulePending
	}
	r.schedules[s.ID] = s
}

// GetSchedule returns a copy of the stored record.
func (r *InMemoryScheduleRepo) GetSchedule(id string) (models.ScheduleRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedules[id]
	return s, ok
}

func (r *InMemoryScheduleRepo) ListDue(ctx context.Context, now time.Time) ([]models.ScheduleRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []models.ScheduleRecord
	for _, s := range r.schedules {
		if s.Status == models.SchedulePending && !s.ScheduledFor.After(now) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ScheduledFor.Before(due[j].ScheduledFor)
		}
		return due[i].ID < due[j].ID
	})
	return due, nil
}

func (r *InMemoryScheduleRepo) IsPending(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedules[id]
	if !ok {
		return false, ErrNotFound
	}
	return s.Status == models.SchedulePending, nil
}

func (r *InMemoryScheduleRepo) Complete(ctx context.Context, id string, out models.ScheduleOutcome) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok || s.Status != models.SchedulePending {
		return false, nil
	}
	executedAt := out.ExecutedAt
	s.Status = out.Status
	s.ExecutedAt = &executedAt
	s.ErrorMessage = out.ErrorMessage
	s.ResultBudget = out.ResultBudget
	s.ResultStatus = out.ResultStatus
	r.schedules[id] = s
	return true, nil
}

// InMemoryLogStore is an append-only execution log.
type InMemoryLogStore struct {
	mu   sync.RWMutex
	logs []models.RuleExecutionLog
}

func NewInMemoryLogStore() *InMemoryLogStore {
	return &InMemoryLogStore{}
}

func (s *InMemoryLogStore) WriteExecutionLog(ctx context.Context, l *models.RuleExecutionLog) error {
	if l == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *l
	cp.Results = append([]models.ActionResult(nil), l.Results...)
	s.logs = append(s.logs, cp)
	return nil
}

func (s *InMemoryLogStore) ListExecutionLogs(ctx context.Context, q LogQuery) ([]models.RuleExecutionLog, error) {
	q = q.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.RuleExecutionLog
	for i := len(s.logs) - 1; i >= 0 && len(result) < q.Limit; i-- {
		if q.RuleID != "" && s.logs[i].RuleID != q.RuleID {
			continue
		}
		result = append(result, s.logs[i])
	}
	return result, nil
}

// All returns every stored log in write order.
func (s *InMemoryLogStore) All() []models.RuleExecutionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.RuleExecutionLog(nil), s.logs...)
}

// StaticCredentialRepo serves a fixed credential.
type StaticCredentialRepo struct {
	AccessToken string
	AppSecret   string
}

func (r StaticCredentialRepo) MasterCredential(ctx context.Context) (string, string, error) {
	if r.AccessToken == "" {
		return "", "", ErrNotFound
	}
	return r.AccessToken, r.AppSecret, nil
}
