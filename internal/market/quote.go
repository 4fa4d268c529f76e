package market

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one parsed price snapshot for a symbol. Optional fields stay nil
// when the source does not carry them; they are never coerced to zero.
type Quote struct {
	Symbol    string
	Price     decimal.Decimal
	Open      *decimal.Decimal
	High      *decimal.Decimal
	Low       *decimal.Decimal
	Close     *decimal.Decimal
	Volume    *int64
	Timestamp time.Time
}

// quotePayload mirrors the source's quote response. All numeric fields arrive
// as strings.
type quotePayload struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
	Timestamp int64  `json:"timestamp"`

	// Error envelope; the source reports some failures with HTTP 200.
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (p quotePayload) toQuote(symbol string, now time.Time) (Quote, error) {
	if p.Close == "" {
		return Quote{}, fmt.Errorf("quote for %s carries no close price", symbol)
	}

	price, err := decimal.NewFromString(p.Close)
	if err != nil {
		return Quote{}, fmt.Errorf("parse close price for %s: %w", symbol, err)
	}

	q := Quote{
		Symbol:    symbol,
		Price:     price.Round(2),
		Timestamp: now,
	}
	if p.Symbol != "" {
		q.Symbol = p.Symbol
	}
	if p.Timestamp > 0 {
		q.Timestamp = time.Unix(p.Timestamp, 0).UTC()
	}

	if q.Open, err = optionalDecimal(p.Open); err != nil {
		return Quote{}, fmt.Errorf("parse open price for %s: %w", symbol, err)
	}
	if q.High, err = optionalDecimal(p.High); err != nil {
		return Quote{}, fmt.Errorf("parse high price for %s: %w", symbol, err)
	}
	if q.Low, err = optionalDecimal(p.Low); err != nil {
		return Quote{}, fmt.Errorf("parse low price for %s: %w", symbol, err)
	}
	closeCopy := q.Price
	q.Close = &closeCopy

	if q.Volume, err = optionalInt(p.Volume); err != nil {
		return Quote{}, fmt.Errorf("parse volume for %s: %w", symbol, err)
	}

	return q, nil
}

func optionalDecimal(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	rounded := d.Round(2)
	return &rounded, nil
}

func optionalInt(raw string) (*int64, error) {
	if raw == "" || raw == "0" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
