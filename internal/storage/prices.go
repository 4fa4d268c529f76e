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
	insertObservationSQL = `INSERT INTO price_observations (
        instrument_id, price, open_price, high_price, low_price, close_price, volume, ts
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (instrument_id, ts) DO NOTHING
    RETURNING id;`

	latestPriceSQL = `SELECT price, ts
    FROM price_observations
    WHERE instrument_id = $1
    ORDER BY ts DESC
    LIMIT 1;`

	listObservationsBetweenSQL = `SELECT
        o.id, o.instrument_id, i.symbol, o.price,
        o.open_price, o.high_price, o.low_price, o.close_price,
        o.volume, o.ts, o.created_at
    FROM price_observations o
    JOIN instruments i ON i.id = o.instrument_id
    WHERE o.instrument_id = $1
      AND o.ts >= $2
      AND o.ts < $3
    ORDER BY o.ts;`

	listRecentObservationsSQL = `SELECT
        o.id, o.instrument_id, i.symbol, o.price,
        o.open_price, o.high_price, o.low_price, o.close_price,
        o.volume, o.ts, o.created_at
    FROM price_observations o
    JOIN instruments i ON i.id = o.instrument_id
    ORDER BY o.ts DESC
    LIMIT $1;`

	deleteObservationsBeforeSQL = `DELETE FROM price_observations WHERE ts < $1;`
)

// PriceStore defines operations for the observed price time series.
type PriceStore interface {
	InsertObservation(ctx context.Context, obs PriceObservation) (int64, error)
	LatestPrice(ctx context.Context, instrumentID int64) (decimal.Decimal, time.Time, error)
	ListObservationsBetween(ctx context.Context, instrumentID int64, from, to time.Time) ([]PriceObservation, error)
	ListRecentObservations(ctx context.Context, limit int) ([]PriceObservation, error)
	DeleteObservationsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// InsertObservation appends one observation. A duplicate (instrument, ts)
// pair is silently absorbed and reported with id zero.
func (s *Store) InsertObservation(ctx context.Context, obs PriceObservation) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertObservationSQL,
		obs.InstrumentID,
		obs.Price.String(),
		decimalArg(obs.Open),
		decimalArg(obs.High),
		decimalArg(obs.Low),
		decimalArg(obs.Close),
		obs.Volume,
		obs.Timestamp,
	).Scan(&id)
	if scanErr != nil {
		if scanErr == pgx.ErrNoRows {
			// Conflict on (instrument_id, ts); the series already holds it.
			return 0, nil
		}
		return 0, fmt.Errorf("insert observation: %w", scanErr)
	}
	return id, nil
}

// LatestPrice returns the most recent observed price for an instrument.
func (s *Store) LatestPrice(ctx context.Context, instrumentID int64) (decimal.Decimal, time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	var (
		priceStr string
		ts       time.Time
	)
	scanErr := pool.QueryRow(ctx, latestPriceSQL, instrumentID).Scan(&priceStr, &ts)
	if scanErr != nil {
		if scanErr == pgx.ErrNoRows {
			return decimal.Decimal{}, time.Time{}, ErrNoPriceData
		}
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("latest price: %w", scanErr)
	}

	price, convErr := decimal.NewFromString(priceStr)
	if convErr != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("parse latest price: %w", convErr)
	}
	return price, ts, nil
}

// ListObservationsBetween lists one instrument's series within a window.
func (s *Store) ListObservationsBetween(ctx context.Context, instrumentID int64, from, to time.Time) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, instrumentID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations between: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows)
}

// ListRecentObservations lists the newest observations across instruments.
func (s *Store) ListRecentObservations(ctx context.Context, limit int) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentObservationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent observations: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows)
}

// DeleteObservationsBefore purges history older than the retention window.
func (s *Store) DeleteObservationsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteObservationsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete observations before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectObservations(rows pgx.Rows) ([]PriceObservation, error) {
	observations := make([]PriceObservation, 0)
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

func scanObservation(rows pgx.Rows) (PriceObservation, error) {
	var (
		obs      PriceObservation
		priceStr string
		openStr  sql.NullString
		highStr  sql.NullString
		lowStr   sql.NullString
		closeStr sql.NullString
		volume   sql.NullInt64
	)

	if err := rows.Scan(
		&obs.ID,
		&obs.InstrumentID,
		&obs.Symbol,
		&priceStr,
		&openStr,
		&highStr,
		&lowStr,
		&closeStr,
		&volume,
		&obs.Timestamp,
		&obs.CreatedAt,
	); err != nil {
		return PriceObservation{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceObservation{}, fmt.Errorf("parse observation price: %w", err)
	}
	obs.Price = price

	if obs.Open, err = nullDecimal(openStr); err != nil {
		return PriceObservation{}, fmt.Errorf("parse open price: %w", err)
	}
	if obs.High, err = nullDecimal(highStr); err != nil {
		return PriceObservation{}, fmt.Errorf("parse high price: %w", err)
	}
	if obs.Low, err = nullDecimal(lowStr); err != nil {
		return PriceObservation{}, fmt.Errorf("parse low price: %w", err)
	}
	if obs.Close, err = nullDecimal(closeStr); err != nil {
		return PriceObservation{}, fmt.Errorf("parse close price: %w", err)
	}
	if volume.Valid {
		v := volume.Int64
		obs.Volume = &v
	}

	return obs, nil
}

func nullDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
