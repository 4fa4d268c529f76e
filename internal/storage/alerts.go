package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/alert"
)

const (
	insertRuleSQL = `INSERT INTO alert_rules (
        owner_email, instrument_id, kind, comparison, threshold_price, duration_minutes, active
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at, updated_at;`

	listActiveRulesSQL = `SELECT
        r.id, r.owner_email, r.instrument_id, i.symbol,
        r.kind, r.comparison, r.threshold_price, r.duration_minutes, r.active,
        r.condition_first_met_at, r.condition_currently_met,
        r.created_at, r.updated_at
    FROM alert_rules r
    JOIN instruments i ON i.id = r.instrument_id
    WHERE r.active
    ORDER BY r.id;`

	getRuleSQL = `SELECT
        r.id, r.owner_email, r.instrument_id, i.symbol,
        r.kind, r.comparison, r.threshold_price, r.duration_minutes, r.active,
        r.condition_first_met_at, r.condition_currently_met,
        r.created_at, r.updated_at
    FROM alert_rules r
    JOIN instruments i ON i.id = r.instrument_id
    WHERE r.id = $1;`

	updateDurationStateSQL = `UPDATE alert_rules
    SET condition_first_met_at = $2,
        condition_currently_met = $3,
        updated_at = now()
    WHERE id = $1;`

	lockRuleForFireSQL = `SELECT active FROM alert_rules WHERE id = $1 FOR UPDATE;`

	deactivateRuleSQL = `UPDATE alert_rules
    SET active = false,
        condition_first_met_at = NULL,
        condition_currently_met = false,
        updated_at = now()
    WHERE id = $1;`

	insertTriggerSQL = `INSERT INTO trigger_events (alert_id, trigger_price, triggered_at)
    VALUES ($1, $2, $3)
    RETURNING id;`

	deleteRuleSQL = `DELETE FROM alert_rules WHERE id = $1;`
)

// AlertRuleStore defines operations for alert rules, including the atomic
// fire path.
type AlertRuleStore interface {
	CreateRule(ctx context.Context, rule alert.Rule) (alert.Rule, error)
	ListActiveRules(ctx context.Context) ([]alert.Rule, error)
	GetRule(ctx context.Context, id int64) (alert.Rule, error)
	UpdateDurationState(ctx context.Context, id int64, firstMetAt *time.Time, currentlyMet bool) error
	FireAlert(ctx context.Context, rule alert.Rule, price decimal.Decimal, at time.Time) (TriggerEvent, error)
	DeleteRule(ctx context.Context, id int64) error
}

// CreateRule validates and persists a new rule. An identical active rule for
// the same owner maps to ErrDuplicateRule via the partial unique index.
func (s *Store) CreateRule(ctx context.Context, rule alert.Rule) (alert.Rule, error) {
	if err := rule.Validate(); err != nil {
		return alert.Rule{}, err
	}

	pool, err := s.getPool()
	if err != nil {
		return alert.Rule{}, err
	}

	var duration interface{}
	if rule.Kind == alert.KindDuration {
		duration = rule.DurationMinutes
	}

	row := pool.QueryRow(ctx, insertRuleSQL,
		rule.Owner,
		rule.InstrumentID,
		string(rule.Kind),
		string(rule.Comparison),
		rule.Threshold.String(),
		duration,
		true,
	)
	if scanErr := row.Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt); scanErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(scanErr, &pgErr) && pgErr.Code == "23505" {
			return alert.Rule{}, ErrDuplicateRule
		}
		return alert.Rule{}, fmt.Errorf("insert alert rule: %w", scanErr)
	}

	rule.Active = true
	return rule, nil
}

// ListActiveRules lists rules pending evaluation.
func (s *Store) ListActiveRules(ctx context.Context) ([]alert.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveRulesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]alert.Rule, 0)
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// GetRule fetches one rule by id.
func (s *Store) GetRule(ctx context.Context, id int64) (alert.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return alert.Rule{}, err
	}

	rows, queryErr := pool.Query(ctx, getRuleSQL, id)
	if queryErr != nil {
		return alert.Rule{}, fmt.Errorf("get rule %d: %w", id, queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return alert.Rule{}, rows.Err()
		}
		return alert.Rule{}, fmt.Errorf("alert rule %d: %w", id, pgx.ErrNoRows)
	}
	return scanRule(rows)
}

// UpdateDurationState persists a duration-tracking transition. Only the
// evaluator path calls this; steady-state re-evaluations write nothing.
func (s *Store) UpdateDurationState(ctx context.Context, id int64, firstMetAt *time.Time, currentlyMet bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tag, execErr := pool.Exec(ctx, updateDurationStateSQL, id, firstMetAt, currentlyMet)
	if execErr != nil {
		return fmt.Errorf("update duration state: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert rule %d: %w", id, pgx.ErrNoRows)
	}
	return nil
}

// FireAlert records one firing atomically: it row-locks the rule, re-checks
// that it is still active, inserts the trigger event, and deactivates the
// rule in a single transaction. Losing a race returns ErrRuleInactive and
// writes nothing, so a crossing produces at most one trigger event even under
// concurrent evaluation cycles.
func (s *Store) FireAlert(ctx context.Context, rule alert.Rule, price decimal.Decimal, at time.Time) (TriggerEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return TriggerEvent{}, err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TriggerEvent{}, fmt.Errorf("begin fire transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var active bool
	if scanErr := tx.QueryRow(ctx, lockRuleForFireSQL, rule.ID).Scan(&active); scanErr != nil {
		if scanErr == pgx.ErrNoRows {
			return TriggerEvent{}, fmt.Errorf("alert rule %d: %w", rule.ID, pgx.ErrNoRows)
		}
		return TriggerEvent{}, fmt.Errorf("lock alert rule: %w", scanErr)
	}
	if !active {
		return TriggerEvent{}, ErrRuleInactive
	}

	event := TriggerEvent{
		AlertID:      rule.ID,
		Symbol:       rule.Symbol,
		Owner:        rule.Owner,
		TriggerPrice: price,
		TriggeredAt:  at,
	}
	if scanErr := tx.QueryRow(ctx, insertTriggerSQL, rule.ID, price.String(), at).Scan(&event.ID); scanErr != nil {
		return TriggerEvent{}, fmt.Errorf("insert trigger event: %w", scanErr)
	}

	if _, execErr := tx.Exec(ctx, deactivateRuleSQL, rule.ID); execErr != nil {
		return TriggerEvent{}, fmt.Errorf("deactivate alert rule: %w", execErr)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return TriggerEvent{}, fmt.Errorf("commit fire transaction: %w", commitErr)
	}
	return event, nil
}

// DeleteRule removes a rule and, via cascade, its trigger history.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, deleteRuleSQL, id)
	if execErr != nil {
		return fmt.Errorf("delete alert rule: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert rule %d: %w", id, pgx.ErrNoRows)
	}
	return nil
}

func scanRule(rows pgx.Rows) (alert.Rule, error) {
	var (
		rule         alert.Rule
		kind         string
		comparison   string
		thresholdStr string
		duration     sql.NullInt32
		firstMetAt   sql.NullTime
	)

	if err := rows.Scan(
		&rule.ID,
		&rule.Owner,
		&rule.InstrumentID,
		&rule.Symbol,
		&kind,
		&comparison,
		&thresholdStr,
		&duration,
		&rule.Active,
		&firstMetAt,
		&rule.ConditionCurrentlyMet,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return alert.Rule{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return alert.Rule{}, fmt.Errorf("parse threshold price: %w", err)
	}

	rule.Kind = alert.Kind(kind)
	rule.Comparison = alert.Comparison(comparison)
	rule.Threshold = threshold
	if duration.Valid {
		rule.DurationMinutes = int(duration.Int32)
	}
	if firstMetAt.Valid {
		at := firstMetAt.Time
		rule.ConditionFirstMetAt = &at
	}

	return rule, nil
}
