package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"progresskit/core"
)

// RetryPolicy bounds how often a conflicting commit is re-run.
type RetryPolicy struct {
	// MaxRetries is the number of re-runs after the first attempt.
	MaxRetries int
	// InitialBackoff is the first delay; it doubles on every retry up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy retries three times starting at 10ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 200 * time.Millisecond}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}

// withRetry runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. Only concurrent modification and storage unavailability
// are retried.
func withRetry[T any](ctx context.Context, p RetryPolicy, log *slog.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil && !core.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Debug("retrying after conflict", "op", op, "attempt", attempt, "delay", d, "error", err)
		}),
	)
	if err == nil {
		return res, nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if errors.Is(err, core.ErrConcurrentModification) {
		log.Warn("giving up after conflicts", "op", op, "attempts", attempt)
	}
	return res, err
}
