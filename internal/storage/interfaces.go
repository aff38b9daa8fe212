package storage

import (
	"context"
	"errors"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// =============================================
// RECORD STORE
// =============================================

// RuleRepo reads scaling rules. The engine never writes rules.
type RuleRepo interface {
	// ListRules returns every rule in creation order.
	ListRules(ctx context.Context) ([]models.ScalingRule, error)
	// GetRule returns ErrNotFound when id is unknown.
	GetRule(ctx context.Context, id string) (*models.ScalingRule, error)
}

// ScheduleRepo reads pending scheduled actions and applies terminal writes.
type ScheduleRepo interface {
	// ListDue returns records with status pending and scheduled_for <= now.
	ListDue(ctx context.Context, now time.Time) ([]models.ScheduleRecord, error)
	// IsPending re-reads the record's status. It returns ErrNotFound when id
	// is unknown.
	IsPending(ctx context.Context, id string) (bool, error)
	// Complete moves a pending record to a terminal status. It reports false
	// when the record was no longer pending.
	Complete(ctx context.Context, id string, outcome models.ScheduleOutcome) (bool, error)
}

// CredentialRepo resolves the platform master credential.
type CredentialRepo interface {
	MasterCredential(ctx context.Context) (accessToken, appSecret string, err error)
}

// =============================================
// EXECUTION LOGS
// =============================================

// ExecutionLogWriter appends one execution log row.
type ExecutionLogWriter interface {
	WriteExecutionLog(ctx context.Context, log *models.RuleExecutionLog) error
}

// ExecutionLogReader lists recent execution logs, newest first.
type ExecutionLogReader interface {
	ListExecutionLogs(ctx context.Context, q LogQuery) ([]models.RuleExecutionLog, error)
}

// LogStore is a store that both writes and serves execution logs.
type LogStore interface {
	ExecutionLogWriter
	ExecutionLogReader
}

// LogQuery filters execution log reads.
type LogQuery struct {
	RuleID string
	Limit  int
}

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// Normalize clamps Limit into (0, maxLogLimit].
func (q LogQuery) Normalize() LogQuery {
	if q.Limit <= 0 {
		q.Limit = defaultLogLimit
	}
	if q.Limit > maxLogLimit {
		q.Limit = maxLogLimit
	}
	return q
}
