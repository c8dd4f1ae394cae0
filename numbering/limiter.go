package numbering

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter admits one caller at a time, in arrival order.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter creates a single-slot limiter.
func NewLimiter() *Limiter {
	return &Limiter{sem: semaphore.NewWeighted(1)}
}

// Do waits for the slot and runs fn while holding it. It returns ctx's
// error without running fn if ctx ends first.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	_, err := runLimited(ctx, l, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func runLimited[T any](ctx context.Context, l *Limiter, fn func() (T, error)) (T, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		var zero T
		return zero, err
	}
	defer l.sem.Release(1)
	return fn()
}
