package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	upsertInstrumentSQL = `INSERT INTO instruments (symbol, name, exchange, active)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (symbol) DO UPDATE
    SET name       = EXCLUDED.name,
        exchange   = EXCLUDED.exchange,
        updated_at = now()
    RETURNING id;`

	listActiveInstrumentsSQL = `SELECT
        id, symbol, name, exchange, active,
        latest_price, latest_price_at, created_at, updated_at
    FROM instruments
    WHERE active
    ORDER BY symbol;`

	getInstrumentBySymbolSQL = `SELECT
        id, symbol, name, exchange, active,
        latest_price, latest_price_at, created_at, updated_at
    FROM instruments
    WHERE symbol = $1;`

	updateLatestPriceSQL = `UPDATE instruments
    SET latest_price = $2, latest_price_at = $3, updated_at = now()
    WHERE id = $1;`

	setInstrumentActiveSQL = `UPDATE instruments
    SET active = $2, updated_at = now()
    WHERE symbol = $1;`
)

// InstrumentStore defines operations for monitored instruments.
type InstrumentStore interface {
	UpsertInstrument(ctx context.Context, inst Instrument) (int64, error)
	ListActiveInstruments(ctx context.Context) ([]Instrument, error)
	GetInstrumentBySymbol(ctx context.Context, symbol string) (Instrument, error)
	UpdateLatestPrice(ctx context.Context, instrumentID int64, price decimal.Decimal, at time.Time) error
	SetInstrumentActive(ctx context.Context, symbol string, active bool) error
}

// UpsertInstrument creates or refreshes a monitored instrument.
func (s *Store) UpsertInstrument(ctx context.Context, inst Instrument) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	if err := pool.QueryRow(ctx, upsertInstrumentSQL, inst.Symbol, inst.Name, inst.Exchange, inst.Active).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert instrument %s: %w", inst.Symbol, err)
	}
	return id, nil
}

// ListActiveInstruments lists instruments currently being fetched.
func (s *Store) ListActiveInstruments(ctx context.Context) ([]Instrument, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveInstrumentsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active instruments: %w", queryErr)
	}
	defer rows.Close()

	instruments := make([]Instrument, 0)
	for rows.Next() {
		inst, scanErr := scanInstrument(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		instruments = append(instruments, inst)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return instruments, nil
}

// GetInstrumentBySymbol fetches one instrument by its unique symbol.
func (s *Store) GetInstrumentBySymbol(ctx context.Context, symbol string) (Instrument, error) {
	pool, err := s.getPool()
	if err != nil {
		return Instrument{}, err
	}

	rows, queryErr := pool.Query(ctx, getInstrumentBySymbolSQL, symbol)
	if queryErr != nil {
		return Instrument{}, fmt.Errorf("get instrument %s: %w", symbol, queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return Instrument{}, rows.Err()
		}
		return Instrument{}, fmt.Errorf("instrument %s: %w", symbol, pgx.ErrNoRows)
	}
	return scanInstrument(rows)
}

// UpdateLatestPrice refreshes the cached latest price on the instrument row.
func (s *Store) UpdateLatestPrice(ctx context.Context, instrumentID int64, price decimal.Decimal, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateLatestPriceSQL, instrumentID, price.String(), at); execErr != nil {
		return fmt.Errorf("update latest price: %w", execErr)
	}
	return nil
}

// SetInstrumentActive toggles fetching for a symbol without deleting history.
func (s *Store) SetInstrumentActive(ctx context.Context, symbol string, active bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, setInstrumentActiveSQL, symbol, active)
	if execErr != nil {
		return fmt.Errorf("set instrument active: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instrument %s: %w", symbol, pgx.ErrNoRows)
	}
	return nil
}

func scanInstrument(rows pgx.Rows) (Instrument, error) {
	var (
		inst     Instrument
		priceStr sql.NullString
		priceAt  sql.NullTime
	)

	if err := rows.Scan(
		&inst.ID,
		&inst.Symbol,
		&inst.Name,
		&inst.Exchange,
		&inst.Active,
		&priceStr,
		&priceAt,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	); err != nil {
		return Instrument{}, err
	}

	if priceStr.Valid {
		price, err := decimal.NewFromString(priceStr.String)
		if err != nil {
			return Instrument{}, fmt.Errorf("parse latest price: %w", err)
		}
		inst.LatestPrice = &price
	}
	if priceAt.Valid {
		at := priceAt.Time
		inst.LatestPriceAt = &at
	}

	return inst, nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
