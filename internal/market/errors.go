package market

import "errors"

var (
	// ErrRateLimited indicates the local quota rejected the call; retry next cycle.
	ErrRateLimited = errors.New("market: rate limited")
	// ErrMarketClosed indicates the exchange calendar gate skipped the call.
	ErrMarketClosed = errors.New("market: market closed")
	// ErrSymbolNotFound indicates the source does not know the symbol.
	ErrSymbolNotFound = errors.New("market: symbol not found")
	// ErrQuotaExhausted indicates the source rejected too many consecutive
	// calls for quota reasons. This is an integration failure, not a
	// per-symbol error.
	ErrQuotaExhausted = errors.New("market: remote quota exhausted")
)
