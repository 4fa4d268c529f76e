package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is one monitored tradable symbol. Deactivated instruments stay
// on record but are no longer fetched.
type Instrument struct {
	ID       int64
	Symbol   string
	Name     string
	Exchange string
	Active   bool

	// Cached latest observation for cheap evaluator reads.
	LatestPrice   *decimal.Decimal
	LatestPriceAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PriceObservation is one appended point in an instrument's time series.
// At most one observation exists per (instrument, timestamp) pair.
type PriceObservation struct {
	ID           int64
	InstrumentID int64
	Symbol       string
	Price        decimal.Decimal
	Open         *decimal.Decimal
	High         *decimal.Decimal
	Low          *decimal.Decimal
	Close        *decimal.Decimal
	Volume       *int64
	Timestamp    time.Time
	CreatedAt    time.Time
}

// TriggerEvent is the immutable record of one alert firing. Only the
// notification fields mutate after creation.
type TriggerEvent struct {
	ID           int64
	AlertID      int64
	Symbol       string
	Owner        string
	TriggerPrice decimal.Decimal
	TriggeredAt  time.Time

	Notified    bool
	NotifiedAt  *time.Time
	NotifyError *string
}
