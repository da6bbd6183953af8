package v1

import (
	"context"
	"time"
)

type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	JitterFn    func(time.Duration) time.Duration
}

// Retry runs fn until it returns nil, MaxRetries is exhausted or ctx is done.
// Backoff doubles after every failed attempt and is capped at MaxBackoff.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var attempt int
	backoff := policy.BaseBackoff

	for {
		err := fn()
		if err == nil {
			return nil
		}

		attempt++
		if attempt > policy.MaxRetries {
			return err
		}

		delay := backoff
		if policy.JitterFn != nil {
			delay += policy.JitterFn(backoff)
		}
		if policy.MaxBackoff > 0 && delay > policy.MaxBackoff {
			delay = policy.MaxBackoff
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			backoff *= 2
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
