package util

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds a retried call: Attempts total tries, exponential delay
// starting at BaseDelay, randomized by up to MaxJitter either way.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxJitter time.Duration
}

// BackOff builds the exponential schedule for the policy. Each delay doubles,
// capped at a minute.
func (p RetryPolicy) BackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.MaxInterval = time.Minute
	b.RandomizationFactor = 0
	if p.BaseDelay > 0 && p.MaxJitter > 0 {
		b.RandomizationFactor = min(float64(p.MaxJitter)/float64(p.BaseDelay), 1)
	}
	b.Reset()
	return b
}

func (p RetryPolicy) tries() uint {
	if p.Attempts < 1 {
		return 1
	}
	return uint(p.Attempts)
}

// Retry calls fn until it succeeds, the attempts are exhausted or ctx is done.
// The last error is returned, or the context error once ctx is done.
func Retry(ctx context.Context, name string, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy.BackOff()),
		backoff.WithMaxTries(policy.tries()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("util.Retry: attempt failed", "operation", name, "attempt", attempt, "maxAttempts", policy.tries(), "retryIn", next, "error", err)
		}),
	)
	if err != nil && attempt >= int(policy.tries()) {
		slog.Warn("util.Retry: attempts exhausted", "operation", name, "attempts", attempt, "error", err)
	}
	return err
}
