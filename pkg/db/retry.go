package db

import (
	"context"
	"fmt"
	"time"
)

// Sleeper abstracts the delay between connection attempts so retry
// behavior can be tested without real sleeping.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy bounds connection setup retries. This covers startup
// availability only; per-operation business logic is never retried here.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Sleeper     Sleeper
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		Delay:       5 * time.Second,
		Sleeper:     realSleeper{},
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.Delay <= 0 {
		p.Delay = defaults.Delay
	}
	if p.Sleeper == nil {
		p.Sleeper = defaults.Sleeper
	}
	return p
}

// Do runs fn up to MaxAttempts times with a fixed delay between attempts.
// The last error is surfaced when the bound is exceeded.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := p.Sleeper.Sleep(ctx, p.Delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("exhausted %d attempts: %w", p.MaxAttempts, lastErr)
}
