package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/campaign-scaler/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// ApplySchema creates the record store tables when they are missing.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// =============================================
// RULES
// =============================================

// PostgresRuleRepo implements RuleRepo using PostgreSQL.
type PostgresRuleRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRuleRepo(pool *pgxpool.Pool) *PostgresRuleRepo {
	return &PostgresRuleRepo{pool: pool}
}

const ruleColumns = `id, name, scope, select_type, check_at, if_condition, then_action,
	execute_action_at, ad_account_ids, campaign_ids, enabled, created_at`

func scanRule(row pgx.Row) (*models.ScalingRule, error) {
	var r models.ScalingRule
	err := row.Scan(&r.ID, &r.Name, &r.Scope, &r.SelectType, &r.CheckAt, &r.IfCondition, &r.ThenAction,
		&r.ExecuteActionAt, &r.AdAccountIDs, &r.CampaignIDs, &r.Enabled, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *PostgresRuleRepo) ListRules(ctx context.Context) ([]models.ScalingRule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM scaling_rules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []models.ScalingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func (r *PostgresRuleRepo) GetRule(ctx context.Context, id string) (*models.ScalingRule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM scaling_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// =============================================
// SCHEDULED ACTIONS
// =============================================

// PostgresScheduleRepo implements ScheduleRepo using PostgreSQL.
type PostgresScheduleRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresScheduleRepo(pool *pgxpool.Pool) *PostgresScheduleRepo {
	return &PostgresScheduleRepo{pool: pool}
}

func (r *PostgresScheduleRepo) ListDue(ctx context.Context, now time.Time) ([]models.ScheduleRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, campaign_id, COALESCE(account_id, ''), action, value, scheduled_for, status, created_at
		FROM scheduled_actions
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for, created_at, id
	`, models.SchedulePending, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	defer rows.Close()

	var records []models.ScheduleRecord
	for rows.Next() {
		var s models.ScheduleRecord
		if err := rows.Scan(&s.ID, &s.CampaignID, &s.AccountID, &s.Action, &s.Value,
			&s.ScheduledFor, &s.Status, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		records = append(records, s)
	}
	return records, rows.Err()
}

func (r *PostgresScheduleRepo) IsPending(ctx context.Context, id string) (bool, error) {
	var pending bool
	err := r.pool.QueryRow(ctx, `SELECT status = 'pending' FROM scheduled_actions WHERE id = $1`, id).Scan(&pending)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read schedule %s: %w", id, err)
	}
	return pending, nil
}

// Complete is conditional on the row still being pending, so a record is
// transitioned at most once even when two runners race on it.
func (r *PostgresScheduleRepo) Complete(ctx context.Context, id string, out models.ScheduleOutcome) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_actions
		SET status = $2, executed_at = $3, error_message = $4, result_budget = $5, result_status = $6
		WHERE id = $1 AND status = 'pending'
	`, id, out.Status, out.ExecutedAt, nullString(out.ErrorMessage), nullInt64(out.ResultBudget), nullString(string(out.ResultStatus)))
	if err != nil {
		return false, fmt.Errorf("failed to complete schedule %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// =============================================
// EXECUTION LOGS
// =============================================

// PostgresExecutionLogRepo is the record store copy of the execution log.
type PostgresExecutionLogRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresExecutionLogRepo(pool *pgxpool.Pool) *PostgresExecutionLogRepo {
	return &PostgresExecutionLogRepo{pool: pool}
}

func (r *PostgresExecutionLogRepo) WriteExecutionLog(ctx context.Context, l *models.RuleExecutionLog) error {
	if l == nil {
		return nil
	}
	results, err := json.Marshal(nonNilResults(l.Results))
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO rule_execution_logs (
			id, rule_id, rule_name, executed_at, trigger, dry_run, deferred,
			campaigns_evaluated, campaigns_matched, actions_taken, status,
			error_message, duration_ms, results
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`, l.ID, l.RuleID, l.RuleName, l.ExecutedAt, l.Trigger, l.DryRun, l.Deferred,
		l.CampaignsEvaluated, l.CampaignsMatched, l.ActionsTaken, l.Status,
		nullString(l.ErrorMessage), l.DurationMs, results)
	if err != nil {
		return fmt.Errorf("failed to save execution log: %w", err)
	}
	return nil
}

func (r *PostgresExecutionLogRepo) ListExecutionLogs(ctx context.Context, q LogQuery) ([]models.RuleExecutionLog, error) {
	q = q.Normalize()
	rows, err := r.pool.Query(ctx, `
		SELECT id, rule_id, rule_name, executed_at, trigger, dry_run, deferred,
			campaigns_evaluated, campaigns_matched, actions_taken, status,
			COALESCE(error_message, ''), duration_ms, results
		FROM rule_execution_logs
		WHERE ($1 = '' OR rule_id = $1)
		ORDER BY executed_at DESC
		LIMIT $2
	`, q.RuleID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer rows.Close()

	var logs []models.RuleExecutionLog
	for rows.Next() {
		var l models.RuleExecutionLog
		var results []byte
		if err := rows.Scan(&l.ID, &l.RuleID, &l.RuleName, &l.ExecutedAt, &l.Trigger, &l.DryRun, &l.Deferred,
			&l.CampaignsEvaluated, &l.CampaignsMatched, &l.ActionsTaken, &l.Status,
			&l.ErrorMessage, &l.DurationMs, &results); err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		if len(results) > 0 {
			if err := json.Unmarshal(results, &l.Results); err != nil {
				return nil, fmt.Errorf("failed to decode results for log %s: %w", l.ID, err)
			}
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =============================================
// CREDENTIALS
// =============================================

// PostgresCredentialRepo reads the master platform credential.
type PostgresCredentialRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCredentialRepo(pool *pgxpool.Pool) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{pool: pool}
}

func (r *PostgresCredentialRepo) MasterCredential(ctx context.Context) (string, string, error) {
	var token, secret string
	err := r.pool.QueryRow(ctx, `
		SELECT access_token, app_secret FROM platform_credentials
		WHERE is_master ORDER BY updated_at DESC LIMIT 1
	`).Scan(&token, &secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load master credential: %w", err)
	}
	return token, secret, nil
}

// Helper functions

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func nonNilResults(r []models.ActionResult) []models.ActionResult {
	if r == nil {
		return []models.ActionResult{}
	}
	return r
}
