package numbering

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type retryPolicy struct {
	budget  time.Duration
	initial time.Duration
	max     time.Duration
}

// backOff returns a fresh randomized exponential schedule that stops once
// the budget has elapsed or ctx ends.
func (p retryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initial
	b.MaxInterval = p.max
	b.MaxElapsedTime = p.budget
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// retry runs op until it succeeds, returns a permanent error, or the
// schedule stops. notify sees every failure that is followed by a wait.
func retry[T any](ctx context.Context, p retryPolicy, op func() (T, error), notify func(error, time.Duration)) (T, error) {
	return backoff.RetryNotifyWithData(op, p.backOff(ctx), notify)
}

func permanent(err error) error {
	return backoff.Permanent(err)
}
