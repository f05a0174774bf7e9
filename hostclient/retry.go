package hostclient

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy configures WithRetry's exponential backoff.
type RetryPolicy struct {
	Attempts int           // default 3, per spec §7
	Base     time.Duration // default 100ms
	Max      time.Duration // default 5s
}

// DefaultRetryPolicy matches spec §7's "retry with exponential backoff up
// to N attempts (default 3)".
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 100 * time.Millisecond, Max: 5 * time.Second}
}

// WithRetry runs fn, retrying only on *TransientError up to policy.Attempts
// times with exponential backoff. A *PermanentError, or any non-transient
// error, returns immediately without retrying — modeled on
// connectivity.WithRetry's errors.As gate on retryable-only errors.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff(attempt, policy)); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		var transient *TransientError
		if !errors.As(err, &transient) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func backoff(attempt int, p RetryPolicy) time.Duration {
	d := p.Base * (1 << attempt)
	if d > p.Max {
		d = p.Max
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
