package market

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterRejectPolicy(t *testing.T) {
	limiter, err := NewLimiter(2, PolicyReject)
	if err != nil {
		t.Fatalf("build limiter: %v", err)
	}

	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}

	// The next slot opens 30s away for a 2/min quota; an immediate retry
	// must be rejected rather than exceed the window.
	if err := limiter.Acquire(context.Background()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("immediate second call should be rejected, got %v", err)
	}
}

func TestLimiterReplenishes(t *testing.T) {
	// 6000/min spaces slots 10ms apart.
	limiter, err := NewLimiter(6000, PolicyReject)
	if err != nil {
		t.Fatalf("build limiter: %v", err)
	}

	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("call after replenish should pass: %v", err)
	}
}

func TestLimiterBlockPolicyHonoursCancellation(t *testing.T) {
	limiter, err := NewLimiter(1, PolicyBlock)
	if err != nil {
		t.Fatalf("build limiter: %v", err)
	}

	// Spend the only slot for the next minute.
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = limiter.Acquire(ctx)
	if err == nil {
		t.Fatal("blocked call should fail once the context expires")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancelled wait should return promptly, took %s", elapsed)
	}
}

func TestNewLimiterValidation(t *testing.T) {
	if _, err := NewLimiter(0, PolicyBlock); err == nil {
		t.Fatal("zero quota should be rejected")
	}
	if _, err := NewLimiter(5, Policy("queue")); err == nil {
		t.Fatal("unknown policy should be rejected")
	}
}
