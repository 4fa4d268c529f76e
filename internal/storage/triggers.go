package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	markTriggerNotifiedSQL = `UPDATE trigger_events
    SET notified = true, notified_at = $2, notify_error = NULL
    WHERE id = $1;`

	markTriggerNotifyFailedSQL = `UPDATE trigger_events
    SET notified = false, notify_error = $2
    WHERE id = $1;`

	listRecentTriggersSQL = `SELECT
        t.id, t.alert_id, i.symbol, r.owner_email,
        t.trigger_price, t.triggered_at, t.notified, t.notified_at, t.notify_error
    FROM trigger_events t
    JOIN alert_rules r ON r.id = t.alert_id
    JOIN instruments i ON i.id = r.instrument_id
    ORDER BY t.triggered_at DESC
    LIMIT $1;`

	deleteTriggersBeforeSQL = `DELETE FROM trigger_events WHERE triggered_at < $1;`
)

// TriggerStore defines operations on trigger events after creation. The
// firing itself happens inside AlertRuleStore.FireAlert.
type TriggerStore interface {
	MarkTriggerNotified(ctx context.Context, id int64, at time.Time) error
	MarkTriggerNotifyFailed(ctx context.Context, id int64, reason string) error
	ListRecentTriggers(ctx context.Context, limit int) ([]TriggerEvent, error)
	DeleteTriggersBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// MarkTriggerNotified records a successful notification dispatch.
func (s *Store) MarkTriggerNotified(ctx context.Context, id int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, markTriggerNotifiedSQL, id, at)
	if execErr != nil {
		return fmt.Errorf("mark trigger notified: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trigger event %d: %w", id, pgx.ErrNoRows)
	}
	return nil
}

// MarkTriggerNotifyFailed records the last notification error. The firing
// stands regardless.
func (s *Store) MarkTriggerNotifyFailed(ctx context.Context, id int64, reason string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, markTriggerNotifyFailedSQL, id, reason)
	if execErr != nil {
		return fmt.Errorf("mark trigger notify failed: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trigger event %d: %w", id, pgx.ErrNoRows)
	}
	return nil
}

// ListRecentTriggers lists the newest firings.
func (s *Store) ListRecentTriggers(ctx context.Context, limit int) ([]TriggerEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTriggersSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent triggers: %w", queryErr)
	}
	defer rows.Close()

	events := make([]TriggerEvent, 0, limit)
	for rows.Next() {
		event, scanErr := scanTrigger(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// DeleteTriggersBefore purges firings older than the retention window.
func (s *Store) DeleteTriggersBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteTriggersBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete triggers before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanTrigger(rows pgx.Rows) (TriggerEvent, error) {
	var (
		event      TriggerEvent
		priceStr   string
		notifiedAt sql.NullTime
		notifyErr  sql.NullString
	)

	if err := rows.Scan(
		&event.ID,
		&event.AlertID,
		&event.Symbol,
		&event.Owner,
		&priceStr,
		&event.TriggeredAt,
		&event.Notified,
		&notifiedAt,
		&notifyErr,
	); err != nil {
		return TriggerEvent{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return TriggerEvent{}, fmt.Errorf("parse trigger price: %w", err)
	}
	event.TriggerPrice = price

	if notifiedAt.Valid {
		at := notifiedAt.Time
		event.NotifiedAt = &at
	}
	if notifyErr.Valid {
		reason := notifyErr.String
		event.NotifyError = &reason
	}

	return event, nil
}
