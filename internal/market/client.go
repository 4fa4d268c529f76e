// Package market fetches quotes from the external price source under its
// request quota. One Client is shared per process; every call serialises
// through its limiter and is accounted regardless of outcome.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const quoteEndpoint = "quote"

// defaultRejectionCeiling bounds how many consecutive remote quota rejections
// are tolerated before the integration is considered broken.
const defaultRejectionCeiling = 5

// CallRecorder accounts one outbound call attempt for quota introspection.
type CallRecorder interface {
	RecordCall(ctx context.Context, endpoint string, at time.Time) error
}

// Options parameterise the quote client.
type Options struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	UserAgent        string
	RejectionCeiling int
}

// Client retrieves quotes over HTTP, metered by a shared Limiter and gated by
// an exchange calendar.
type Client struct {
	opts     Options
	limiter  *Limiter
	calendar *Calendar
	recorder CallRecorder
	client   *http.Client
	logger   zerolog.Logger

	mu                 sync.Mutex
	consecutiveRejects int
}

// NewClient constructs the fetcher. The recorder may be nil.
func NewClient(opts Options, limiter *Limiter, calendar *Calendar, recorder CallRecorder, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.RejectionCeiling <= 0 {
		opts.RejectionCeiling = defaultRejectionCeiling
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		opts:     opts,
		limiter:  limiter,
		calendar: calendar,
		recorder: recorder,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "market_client").Logger(),
	}
}

// Quote fetches one symbol's current quote.
//
// Outside trading hours it returns ErrMarketClosed; a spent local quota
// returns ErrRateLimited (or blocks, per policy); repeated remote quota
// rejections escalate to ErrQuotaExhausted.
func (c *Client) Quote(ctx context.Context, symbol string) (Quote, error) {
	if symbol == "" {
		return Quote{}, errors.New("symbol is required")
	}
	if c.opts.APIKey == "" {
		return Quote{}, errors.New("market api key not configured")
	}

	if !c.calendar.IsOpen(time.Now()) {
		return Quote{}, ErrMarketClosed
	}

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return Quote{}, err
		}
	}

	c.recordCall(ctx, quoteEndpoint)

	quote, err := c.fetchQuote(ctx, symbol)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			if ceilingErr := c.noteRemoteReject(); ceilingErr != nil {
				return Quote{}, ceilingErr
			}
			return Quote{}, err
		}
		c.resetRemoteRejects()
		return Quote{}, err
	}

	c.resetRemoteRejects()
	c.logger.Debug().Str("symbol", symbol).Str("price", quote.Price.String()).Msg("quote fetched")
	return quote, nil
}

func (c *Client) fetchQuote(ctx context.Context, symbol string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/%s?%s", c.opts.BaseURL, quoteEndpoint, url.Values{
		"symbol": {symbol},
		"apikey": {c.opts.APIKey},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("quote request for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("read quote response for %s: %w", symbol, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return Quote{}, ErrRateLimited
	case http.StatusNotFound:
		return Quote{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	default:
		return Quote{}, fmt.Errorf("quote request for %s returned status %d: %s", symbol, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload quotePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Quote{}, fmt.Errorf("decode quote response for %s: %w", symbol, err)
	}

	// The source reports some failures inside a 200 body.
	if payload.Status == "error" || payload.Code != 0 {
		switch payload.Code {
		case http.StatusTooManyRequests:
			return Quote{}, ErrRateLimited
		case http.StatusNotFound, http.StatusBadRequest:
			return Quote{}, fmt.Errorf("%w: %s (%s)", ErrSymbolNotFound, symbol, payload.Message)
		default:
			return Quote{}, fmt.Errorf("quote api error %d for %s: %s", payload.Code, symbol, payload.Message)
		}
	}

	return payload.toQuote(symbol, time.Now().UTC())
}

func (c *Client) recordCall(ctx context.Context, endpoint string) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordCall(ctx, endpoint, time.Now().UTC()); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("failed to account api call")
	}
}

func (c *Client) noteRemoteReject() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveRejects++
	if c.consecutiveRejects >= c.opts.RejectionCeiling {
		return fmt.Errorf("%w: %d consecutive rejections", ErrQuotaExhausted, c.consecutiveRejects)
	}
	return nil
}

func (c *Client) resetRemoteRejects() {
	c.mu.Lock()
	c.consecutiveRejects = 0
	c.mu.Unlock()
}
