package market

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Policy selects what happens when the quota is spent.
type Policy string

const (
	// PolicyBlock waits for the next slot, honouring context cancellation.
	PolicyBlock Policy = "block"
	// PolicyReject fails fast with ErrRateLimited.
	PolicyReject Policy = "reject"
)

// Limiter spaces outbound calls so that no sixty-second window ever carries
// more than the configured quota. All fetches in the process share one
// instance.
type Limiter struct {
	rl        *rate.Limiter
	policy    Policy
	perMinute int
}

// NewLimiter builds a limiter for perMinute calls. Tokens are spaced evenly
// across the window rather than granted as a burst, so the external quota
// holds no matter how the window is aligned.
func NewLimiter(perMinute int, policy Policy) (*Limiter, error) {
	if perMinute <= 0 {
		return nil, fmt.Errorf("calls per minute must be positive, got %d", perMinute)
	}
	switch policy {
	case PolicyBlock, PolicyReject:
	default:
		return nil, fmt.Errorf("unknown rate limit policy %q", policy)
	}

	interval := time.Minute / time.Duration(perMinute)
	return &Limiter{
		rl:        rate.NewLimiter(rate.Every(interval), 1),
		policy:    policy,
		perMinute: perMinute,
	}, nil
}

// Acquire spends one call slot according to the configured policy.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.policy == PolicyReject {
		if !l.rl.Allow() {
			return ErrRateLimited
		}
		return nil
	}
	if err := l.rl.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limit slot: %w", err)
	}
	return nil
}

// PerMinute reports the configured quota.
func (l *Limiter) PerMinute() int {
	return l.perMinute
}
