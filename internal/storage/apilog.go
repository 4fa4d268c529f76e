package storage

import (
	"context"
	"fmt"
	"time"
)

const (
	recordAPICallSQL = `INSERT INTO api_call_log (endpoint, call_date, call_count, last_call_at)
    VALUES ($1, $2, 1, $3)
    ON CONFLICT (endpoint, call_date) DO UPDATE
    SET call_count   = api_call_log.call_count + 1,
        last_call_at = EXCLUDED.last_call_at;`

	dailyCallCountSQL = `SELECT COALESCE(SUM(call_count), 0)
    FROM api_call_log
    WHERE call_date = $1;`
)

// CallLogStore accounts outbound API calls for quota introspection.
type CallLogStore interface {
	RecordCall(ctx context.Context, endpoint string, at time.Time) error
	DailyCallCount(ctx context.Context, day time.Time) (int64, error)
}

// RecordCall increments the per-endpoint daily counter.
func (s *Store) RecordCall(ctx context.Context, endpoint string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	day := at.UTC().Truncate(24 * time.Hour)
	if _, execErr := pool.Exec(ctx, recordAPICallSQL, endpoint, day, at); execErr != nil {
		return fmt.Errorf("record api call: %w", execErr)
	}
	return nil
}

// DailyCallCount sums the day's calls across endpoints.
func (s *Store) DailyCallCount(ctx context.Context, day time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, dailyCallCountSQL, day.UTC().Truncate(24*time.Hour)).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("daily call count: %w", scanErr)
	}
	return count, nil
}
