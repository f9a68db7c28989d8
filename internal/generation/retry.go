package generation

import (
	"context"
	"time"

	"atelier-api/internal/shared"
)

// RetryPolicy bounds the attempt loop for one request. Backoff maps the
// attempt number (1 based, counted in failures so far) to the delay before the
// next attempt and must be monotonically non decreasing.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = shared.DefaultMaxRetryAttempts
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     DefaultBackoff,
	}
}

// DefaultBackoff doubles per attempt, capped at 10s: 2s, 4s, 8s, 10s, 10s...
func DefaultBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return shared.MaxBackoffDelay
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	return min(delay, shared.MaxBackoffDelay)
}

// sleep suspends for d, waking early if the caller cancels.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
