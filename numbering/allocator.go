package numbering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/numbering/internal/record"
	"github.com/roach88/numbering/store"
)

// Allocator issues designators. It is safe for concurrent use.
type Allocator struct {
	store        store.Store
	ancestorKind string
	itemKind     string
	policy       retryPolicy
	limiter      *Limiter
	logger       *slog.Logger
	metrics      *Metrics
	clock        func() time.Time
}

// Allocation describes one issued designator.
type Allocation struct {
	Prefix     string
	ID         int64
	Designator string
	IssuedAt   time.Time

	// Attempts is the number of transactions the allocation took.
	Attempts int
}

// Series is the current state of a series counter.
type Series struct {
	Prefix    string
	LastID    int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates an Allocator on st.
func New(st store.Store, opts Options) (*Allocator, error) {
	if st == nil {
		return nil, configurationError("store is nil")
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Allocator{
		store:        st,
		ancestorKind: opts.KindNamePrefix + "Ancestor",
		itemKind:     opts.KindNamePrefix + "Item",
		policy: retryPolicy{
			budget:  opts.RetryBudget,
			initial: opts.InitialBackoff,
			max:     opts.MaxBackoff,
		},
		limiter: opts.Limiter,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		clock:   opts.Clock,
	}, nil
}

// AllocateID returns the next designator of the series prefix: the prefix
// followed by the decimal id. initialID is the first id of a series that
// does not exist yet and is ignored afterwards.
func (a *Allocator) AllocateID(ctx context.Context, prefix string, initialID int64) (string, error) {
	al, err := a.Allocate(ctx, prefix, initialID)
	if err != nil {
		return "", err
	}
	return al.Designator, nil
}

// NextID allocates from the series with the empty prefix, starting at 1.
func (a *Allocator) NextID(ctx context.Context) (string, error) {
	return a.AllocateID(ctx, "", DefaultInitialID)
}

// Allocate is AllocateID returning the full allocation.
//
// Failed attempts are retried until the retry budget elapses; the error is
// then an Exhausted *Error wrapping the last attempt's failure. Invalid
// arguments fail at once with a Configuration error, and a series whose
// counter reached math.MaxInt64 fails with an Overflow error.
func (a *Allocator) Allocate(ctx context.Context, prefix string, initialID int64) (Allocation, error) {
	start := time.Now()
	if err := validatePrefix(prefix); err != nil {
		a.metrics.allocation(ResultConfiguration, time.Since(start).Seconds())
		return Allocation{}, err
	}
	if initialID == math.MinInt64 {
		a.metrics.allocation(ResultConfiguration, time.Since(start).Seconds())
		return Allocation{}, configurationError("initial id %d is out of range", initialID)
	}

	logger := a.logger.With(
		slog.String("allocation_id", newAllocationID()),
		slog.String("prefix", prefix),
	)

	ctx, cancel := context.WithTimeout(ctx, a.policy.budget)
	defer cancel()

	req := &request{prefix: prefix, initialID: initialID}
	attempts := 0
	var lastErr error

	res, err := retry(ctx, a.policy, func() (issued, error) {
		attempts++
		res, err := runLimited(ctx, a.limiter, func() (issued, error) {
			return a.attempt(ctx, req)
		})
		if err == nil {
			a.metrics.attempt(OutcomeCommitted)
			return res, nil
		}
		a.metrics.attempt(attemptOutcome(err))

		var aerr *Error
		if !errors.As(err, &aerr) {
			// The limiter gave up waiting; ctx is done.
			logger.Debug("allocation attempt not admitted", "attempt", attempts, "error", err)
			return issued{}, err
		}
		lastErr = err
		logger.Debug("allocation attempt aborted",
			"attempt", attempts,
			"state", aerr.State.String(),
			"code", string(aerr.Code),
			"designator", aerr.Designator,
			"error", err,
		)
		switch {
		case aerr.Code == ErrCodeOverflow:
			return issued{}, permanent(err)
		case aerr.Reason == ConflictDuplicate:
			logger.Warn("duplicate designator detected, retrying past it",
				"designator", aerr.Designator,
				"attempt", attempts,
			)
			if !req.raiseFloor(aerr.ID) {
				return issued{}, permanent(&Error{
					Code:       ErrCodeOverflow,
					Message:    "no designator left above the duplicate",
					Prefix:     req.prefix,
					Designator: aerr.Designator,
					ID:         aerr.ID,
					State:      aerr.State,
					Reason:     aerr.Reason,
				})
			}
		}
		return issued{}, err
	}, func(err error, wait time.Duration) {
		logger.Debug("retrying allocation", "attempt", attempts, "wait", wait)
	})

	elapsed := time.Since(start)
	if err != nil {
		if IsOverflow(err) {
			a.metrics.allocation(ResultOverflow, elapsed.Seconds())
			var aerr *Error
			errors.As(err, &aerr)
			aerr.Attempts = attempts
			logger.Error("series overflow", "attempts", attempts)
			return Allocation{}, aerr
		}

		cause := lastErr
		if ctxErr := ctx.Err(); ctxErr != nil {
			if cause == nil || errors.Is(cause, ctxErr) {
				cause = ctxErr
			} else {
				cause = errors.Join(ctxErr, cause)
			}
		}
		if cause == nil {
			cause = err
		}
		a.metrics.allocation(ResultExhausted, elapsed.Seconds())
		logger.Error("allocation exhausted",
			"attempts", attempts,
			"elapsed", elapsed,
			"error", cause,
		)
		return Allocation{}, &Error{
			Code:     ErrCodeExhausted,
			Message:  fmt.Sprintf("no designator issued after %d attempts in %s", attempts, elapsed.Round(time.Millisecond)),
			Prefix:   prefix,
			Attempts: attempts,
			Err:      cause,
		}
	}

	a.metrics.allocation(ResultIssued, elapsed.Seconds())
	logger.Info("designator issued",
		"designator", res.designator,
		"attempts", attempts,
		"elapsed", elapsed,
	)
	return Allocation{
		Prefix:     prefix,
		ID:         res.id,
		Designator: res.designator,
		IssuedAt:   res.at,
		Attempts:   attempts,
	}, nil
}

// Series returns the counter of prefix, or ErrSeriesNotFound if nothing was
// ever allocated from it. It does not write.
func (a *Allocator) Series(ctx context.Context, prefix string) (Series, error) {
	if err := validatePrefix(prefix); err != nil {
		return Series{}, err
	}

	tx, err := a.store.Begin(ctx)
	if err != nil {
		return Series{}, fmt.Errorf("series %q: %w", prefix, err)
	}
	defer tx.Rollback()

	key := a.ancestorKey(prefix)
	ent, err := tx.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return Series{}, ErrSeriesNotFound
	}
	if err != nil {
		return Series{}, fmt.Errorf("series %q: %w", prefix, err)
	}
	counter, err := record.UnmarshalSeriesCounter(ent.Data)
	if err != nil {
		return Series{}, fmt.Errorf("series %q: %w", prefix, err)
	}
	return Series{
		Prefix:    counter.Prefix,
		LastID:    counter.LastID,
		CreatedAt: counter.CreatedAt,
		UpdatedAt: counter.UpdatedAt,
	}, nil
}

func attemptOutcome(err error) string {
	var aerr *Error
	if !errors.As(err, &aerr) {
		return OutcomeCancelled
	}
	switch {
	case aerr.Code == ErrCodeOverflow:
		return OutcomeOverflow
	case aerr.Reason == ConflictDuplicate:
		return OutcomeDuplicate
	case aerr.Code == ErrCodeConflict:
		return OutcomeConflict
	default:
		return OutcomeTransient
	}
}

// newAllocationID returns a time-ordered id that correlates the log lines
// of one allocation.
func newAllocationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
