package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/models"
	"go.uber.org/zap"
)

// ClickHouseConn is the subset of clickhouse-go's driver.Conn the log store uses.
type ClickHouseConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Select(ctx context.Context, dest any, query string, args ...any) error
}

// ClickHouseLogStore is the engine-owned execution log. Its table is created
// on first use.
type ClickHouseLogStore struct {
	conn    ClickHouseConn
	table   string
	ttlDays int
	logger  *zap.Logger

	mu    sync.Mutex
	ready bool
}

func NewClickHouseLogStore(conn ClickHouseConn, table string, ttlDays int, logger *zap.Logger) *ClickHouseLogStore {
	if table == "" {
		table = "rule_execution_logs"
	}
	if ttlDays <= 0 {
		ttlDays = 30
	}
	return &ClickHouseLogStore{conn: conn, table: table, ttlDays: ttlDays, logger: logger}
}

func (s *ClickHouseLogStore) createTableSQL() string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id                  String,
			rule_id             String,
			rule_name           String,
			executed_at         DateTime64(3, 'UTC'),
			trigger             LowCardinality(String),
			dry_run             Bool,
			deferred            Bool,
			campaigns_evaluated UInt32,
			campaigns_matched   UInt32,
			actions_taken       UInt32,
			actions_failed      UInt32,
			status              LowCardinality(String),
			error_message       String,
			duration_ms         UInt64,
			results             String
		) ENGINE = MergeTree
		ORDER BY (rule_id, executed_at)
		TTL toDateTime(executed_at) + INTERVAL %d DAY
	`, s.table, s.ttlDays)
}

// ensureTable runs CREATE TABLE IF NOT EXISTS until it succeeds once.
func (s *ClickHouseLogStore) ensureTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}
	if err := s.conn.Exec(ctx, s.createTableSQL()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	s.ready = true
	s.logger.Info("execution log table ready", zap.String("table", s.table))
	return nil
}

func (s *ClickHouseLogStore) WriteExecutionLog(ctx context.Context, l *models.RuleExecutionLog) error {
	if l == nil {
		return nil
	}
	if err := s.ensureTable(ctx); err != nil {
		return err
	}

	results, err := json.Marshal(nonNilResults(l.Results))
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	err = s.conn.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, rule_id, rule_name, executed_at, trigger, dry_run, deferred,
			campaigns_evaluated, campaigns_matched, actions_taken, actions_failed,
			status, error_message, duration_ms, results
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.table),
		l.ID, l.RuleID, l.RuleName, l.ExecutedAt.UTC(), string(l.Trigger), l.DryRun, l.Deferred,
		uint32(l.CampaignsEvaluated), uint32(l.CampaignsMatched), uint32(l.ActionsTaken), uint32(l.ActionsFailed()),
		string(l.Status), l.ErrorMessage, uint64(l.DurationMs), string(results),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution log: %w", err)
	}
	return nil
}

type clickHouseLogRow struct {
	ID                 string    `ch:"id"`
	RuleID             string    `ch:"rule_id"`
	RuleName           string    `ch:"rule_name"`
	ExecutedAt         time.Time `ch:"executed_at"`
	Trigger            string    `ch:"trigger"`
	DryRun             bool      `ch:"dry_run"`
	Deferred           bool      `ch:"deferred"`
	CampaignsEvaluated uint32    `ch:"campaigns_evaluated"`
	CampaignsMatched   uint32    `ch:"campaigns_matched"`
	ActionsTaken       uint32    `ch:"actions_taken"`
	Status             string    `ch:"status"`
	ErrorMessage       string    `ch:"error_message"`
	DurationMs         uint64    `ch:"duration_ms"`
	Results            string    `ch:"results"`
}

func (r clickHouseLogRow) model() (models.RuleExecutionLog, error) {
	l := models.RuleExecutionLog{
		ID:                 r.ID,
		RuleID:             r.RuleID,
		RuleName:           r.RuleName,
		ExecutedAt:         r.ExecutedAt,
		Trigger:            models.Trigger(r.Trigger),
		DryRun:             r.DryRun,
		Deferred:           r.Deferred,
		CampaignsEvaluated: int(r.CampaignsEvaluated),
		CampaignsMatched:   int(r.CampaignsMatched),
		ActionsTaken:       int(r.ActionsTaken),
		Status:             models.ExecutionStatus(r.Status),
		ErrorMessage:       r.ErrorMessage,
		DurationMs:         int64(r.DurationMs),
	}
	if r.Results != "" {
		if err := json.Unmarshal([]byte(r.Results), &l.Results); err != nil {
			return l, fmt.Errorf("failed to decode results for log %s: %w", r.ID, err)
		}
	}
	return l, nil
}

func (s *ClickHouseLogStore) ListExecutionLogs(ctx context.Context, q LogQuery) ([]models.RuleExecutionLog, error) {
	q = q.Normalize()
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}

	var rows []clickHouseLogRow
	err := s.conn.Select(ctx, &rows, fmt.Sprintf(`
		SELECT id, rule_id, rule_name, executed_at, trigger, dry_run, deferred,
			campaigns_evaluated, campaigns_matched, actions_taken, status,
			error_message, duration_ms, results
		FROM %s
		WHERE (? = '' OR rule_id = ?)
		ORDER BY executed_at DESC
		LIMIT ?
	`, s.table), q.RuleID, q.RuleID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}

	logs := make([]models.RuleExecutionLog, 0, len(rows))
	for _, r := range rows {
		l, err := r.model()
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, nil
}
