package scraper

import (
	"context"
	"fmt"
	"time"

	"pricewatch/logger"
)

// SleepFunc pauses for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy bounds how many times an operation is attempted and how long to wait
// between attempts
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the pause after the given 1-based failed attempt
	Backoff func(attempt int) time.Duration
	Sleep   SleepFunc
}

// DefaultRetryPolicy returns two attempts with 0.7s linear backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Backoff:     LinearBackoff(700 * time.Millisecond),
		Sleep:       SleepContext,
	}
}

// LinearBackoff waits step × attempt
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

// SleepContext is the real-clock SleepFunc
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempt budget
// is spent. A nil retryable treats every error as retryable. Exhaustion is reported as
// an error wrapping both ErrNoPrice and the last attempt error.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		lastErr = err
		logger.Warn("attempt failed", "attempt", attempt, "max_attempts", attempts, "error", err)

		if attempt < attempts && p.Backoff != nil {
			if err := sleep(ctx, p.Backoff(attempt)); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrNoPrice, attempts, lastErr)
}
