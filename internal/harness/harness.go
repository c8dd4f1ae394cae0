package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/numbering/internal/record"
	"github.com/roach88/numbering/internal/testutil"
	"github.com/roach88/numbering/numbering"
	"github.com/roach88/numbering/store"
	"github.com/roach88/numbering/store/memstore"
)

// Harness executes one scenario.
type Harness struct {
	store *store.Optimistic
	alloc *numbering.Allocator
	clock *testutil.FakeClock
	seq   int64

	// prefixes touched by seeds or steps, in first-seen order
	prefixes []string
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory backend with a fake clock and
// millisecond backoff, so results are reproducible and fast.
//
// Execution flow:
// 1. Create the backend and allocator
// 2. Write seed records
// 3. Arm conflict injection and execute flow steps with expect validation
// 4. Read final counters and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	budget, err := scenario.retryBudget()
	if err != nil {
		return nil, fmt.Errorf("invalid retry budget: %w", err)
	}

	var armed atomic.Bool
	var commits atomic.Int64
	backend := memstore.NewWithOptions(memstore.Options{
		BeforeApply: func(*store.Changeset) error {
			if !armed.Load() {
				return nil
			}
			n := commits.Add(1)
			if scenario.AlwaysConflict || n <= int64(scenario.Conflicts) {
				return store.ErrConflict
			}
			return nil
		},
	})
	st := store.New(backend)
	defer st.Close()

	clock := testutil.NewFakeClock()
	alloc, err := numbering.New(st, numbering.Options{
		KindNamePrefix: scenario.KindNamePrefix,
		RetryBudget:    budget,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		Clock:          clock.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create allocator: %w", err)
	}

	h := &Harness{
		store: st,
		alloc: alloc,
		clock: clock,
	}

	if err := h.seed(ctx, scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}
	armed.Store(true)

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute flow: %w", err)
		}
	}

	// Injected conflicts apply to allocations only.
	armed.Store(false)
	if err := h.collectCounters(ctx, result); err != nil {
		return nil, err
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func (h *Harness) seed(ctx context.Context, seed Seed) error {
	if len(seed.Counters) == 0 && len(seed.Issuances) == 0 {
		return nil
	}
	tx, err := h.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := h.clock.Now()
	for _, c := range seed.Counters {
		h.touch(c.Prefix)
		data, err := record.SeriesCounter{
			Prefix:    c.Prefix,
			LastID:    c.LastID,
			CreatedAt: now,
			UpdatedAt: now,
		}.Marshal()
		if err != nil {
			return err
		}
		if err := tx.Insert(h.alloc.SeriesKey(c.Prefix), data); err != nil {
			return fmt.Errorf("seed counter %q: %w", c.Prefix, err)
		}
	}
	for _, is := range seed.Issuances {
		h.touch(is.Prefix)
		data, err := record.Issuance{ID: is.ID, Designator: is.Designator}.Marshal()
		if err != nil {
			return err
		}
		if err := tx.Insert(h.alloc.IssuanceKey(is.Prefix, is.Designator), data); err != nil {
			return fmt.Errorf("seed issuance %q: %w", is.Designator, err)
		}
	}
	return tx.Commit(ctx)
}

func (h *Harness) touch(prefix string) {
	if !slices.Contains(h.prefixes, prefix) {
		h.prefixes = append(h.prefixes, prefix)
	}
}

func (h *Harness) nextSeq() int64 {
	h.seq++
	return h.seq
}

func (h *Harness) executeStep(ctx context.Context, index int, step FlowStep, result *Result) error {
	switch step.Op {
	case OpAllocate:
		h.touch(step.Prefix)
		if step.Concurrent {
			h.allocateConcurrent(ctx, index, step, result)
		} else {
			h.allocateSequential(ctx, index, step, result)
		}
	case OpSeries:
		h.series(ctx, index, step, result)
	default:
		return fmt.Errorf("flow step %d: unknown op %q", index, step.Op)
	}
	return nil
}

func (step FlowStep) initialID() int64 {
	if step.InitialID == nil {
		return numbering.DefaultInitialID
	}
	return *step.InitialID
}

func (step FlowStep) count() int {
	if step.Count == 0 {
		return 1
	}
	return step.Count
}

func (h *Harness) allocateSequential(ctx context.Context, index int, step FlowStep, result *Result) {
	var issued []string
	var errCode string
	for range step.count() {
		al, err := h.alloc.Allocate(ctx, step.Prefix, step.initialID())
		if err != nil {
			errCode = ErrorCode(err)
			result.Trace = append(result.Trace, TraceEvent{
				Seq:    h.nextSeq(),
				Op:     OpAllocate,
				Prefix: step.Prefix,
				Error:  errCode,
			})
			break
		}
		issued = append(issued, al.Designator)
		result.Trace = append(result.Trace, TraceEvent{
			Seq:        h.nextSeq(),
			Op:         OpAllocate,
			Prefix:     step.Prefix,
			Designator: al.Designator,
			ID:         al.ID,
			Attempts:   al.Attempts,
		})
	}
	checkAllocateExpect(index, step.Expect, issued, errCode, result)
}

func (h *Harness) allocateConcurrent(ctx context.Context, index int, step FlowStep, result *Result) {
	var (
		mu     sync.Mutex
		issued []string
		g      errgroup.Group
	)
	for range step.count() {
		g.Go(func() error {
			al, err := h.alloc.Allocate(ctx, step.Prefix, step.initialID())
			if err != nil {
				return err
			}
			mu.Lock()
			issued = append(issued, al.Designator)
			mu.Unlock()
			return nil
		})
	}
	var errCode string
	if err := g.Wait(); err != nil {
		errCode = ErrorCode(err)
	}
	slices.Sort(issued)
	result.Trace = append(result.Trace, TraceEvent{
		Seq:         h.nextSeq(),
		Op:          OpAllocate,
		Prefix:      step.Prefix,
		Designators: issued,
		Error:       errCode,
	})
	checkAllocateExpect(index, step.Expect, issued, errCode, result)
}

func (h *Harness) series(ctx context.Context, index int, step FlowStep, result *Result) {
	ev := TraceEvent{Seq: h.nextSeq(), Op: OpSeries, Prefix: step.Prefix}
	s, err := h.alloc.Series(ctx, step.Prefix)
	if err != nil {
		ev.Error = ErrorCode(err)
	} else {
		lastID := s.LastID
		ev.LastID = &lastID
	}
	result.Trace = append(result.Trace, ev)

	exp := step.Expect
	if exp == nil {
		if ev.Error != "" {
			result.AddError(fmt.Sprintf("flow[%d]: series %q failed: %s", index, step.Prefix, ev.Error))
		}
		return
	}
	if exp.Error != ev.Error {
		result.AddError(fmt.Sprintf("flow[%d]: expected error %q, got %q", index, exp.Error, ev.Error))
	}
	if exp.LastID != nil {
		if ev.LastID == nil {
			result.AddError(fmt.Sprintf("flow[%d]: expected last_id %d, series not found", index, *exp.LastID))
		} else if *ev.LastID != *exp.LastID {
			result.AddError(fmt.Sprintf("flow[%d]: expected last_id %d, got %d", index, *exp.LastID, *ev.LastID))
		}
	}
}

func checkAllocateExpect(index int, exp *ExpectClause, issued []string, errCode string, result *Result) {
	if exp == nil {
		if errCode != "" {
			result.AddError(fmt.Sprintf("flow[%d]: allocation failed: %s", index, errCode))
		}
		return
	}
	if exp.Error != errCode {
		result.AddError(fmt.Sprintf("flow[%d]: expected error %q, got %q", index, exp.Error, errCode))
	}
	if exp.Designators != nil && !slices.Equal(exp.Designators, issued) {
		result.AddError(fmt.Sprintf("flow[%d]: expected designators %v, got %v", index, exp.Designators, issued))
	}
}

func (h *Harness) collectCounters(ctx context.Context, result *Result) error {
	for _, prefix := range h.prefixes {
		s, err := h.alloc.Series(ctx, prefix)
		if errors.Is(err, numbering.ErrSeriesNotFound) || numbering.IsConfiguration(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read counter %q: %w", prefix, err)
		}
		result.Counters[prefix] = s.LastID
	}
	return nil
}

// ErrorCode names err for traces: the numbering error code, SERIES_NOT_FOUND,
// or UNKNOWN.
func ErrorCode(err error) string {
	var nerr *numbering.Error
	switch {
	case errors.As(err, &nerr):
		return string(nerr.Code)
	case errors.Is(err, numbering.ErrSeriesNotFound):
		return "SERIES_NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}
