// Package retry runs read operations again after transient backend failures.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts  int
	BaseDelay time.Duration
}

// DefaultPolicy tries three times starting at 100ms.
var DefaultPolicy = Policy{Attempts: 3, BaseDelay: 100 * time.Millisecond}

// Backoff returns exponential backoff with jitter. The base delay doubles each attempt,
// capped at 30 seconds, with up to ±25% jitter.
func Backoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 || baseDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	backoff := baseDelay * time.Duration(1<<uint(attempt))
	if backoff > 30*time.Second || backoff <= 0 {
		backoff = 30 * time.Second
	}
	if half := int64(backoff) / 2; half > 0 {
		backoff += time.Duration(rand.Int64N(half)) - backoff/4
	}
	return backoff
}

// Do calls fn until it succeeds, returns an error retryable rejects, the policy runs out of
// attempts or ctx is done. The last error is returned.
func Do[T any](ctx context.Context, p Policy, retryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var (
		out T
		err error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(Backoff(p.BaseDelay, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return out, err
			case <-timer.C:
			}
		}
		out, err = fn(ctx)
		if err == nil || retryable == nil || !retryable(err) {
			return out, err
		}
	}
	return out, err
}
