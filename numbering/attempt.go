package numbering

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/roach88/numbering/internal/record"
	"github.com/roach88/numbering/store"
)

// AttemptState is the progress of one allocation attempt.
//
// An attempt moves Idle → TransactionOpen → CounterResolved →
// CandidateComputed → DupeChecked → Staged → Committed. A failure at any
// point ends it as Aborted; the error records the last state reached.
type AttemptState int

const (
	StateIdle AttemptState = iota
	StateTransactionOpen
	StateCounterResolved
	StateCandidateComputed
	StateDupeChecked
	StateStaged
	StateCommitted
	StateAborted
)

func (s AttemptState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateTransactionOpen:
		return "TransactionOpen"
	case StateCounterResolved:
		return "CounterResolved"
	case StateCandidateComputed:
		return "CandidateComputed"
	case StateDupeChecked:
		return "DupeChecked"
	case StateStaged:
		return "Staged"
	case StateCommitted:
		return "Committed"
	case StateAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("AttemptState(%d)", int(s))
	}
}

// request is one allocation call, shared by its attempts.
type request struct {
	prefix    string
	initialID int64

	// floor is the lowest candidate an attempt may use once hasFloor is
	// set. A duplicate found by the guard raises it past the recorded id so
	// the next attempt moves the counter beyond the witness instead of
	// hitting it again.
	floor    int64
	hasFloor bool
}

// raiseFloor moves the floor past a duplicate id. It reports false when no
// id above dup exists.
func (r *request) raiseFloor(dup int64) bool {
	if dup == math.MaxInt64 {
		return false
	}
	if !r.hasFloor || dup >= r.floor {
		r.floor = dup + 1
		r.hasFloor = true
	}
	return true
}

type issued struct {
	id         int64
	designator string
	at         time.Time
}

// attempt runs one allocation transaction.
func (a *Allocator) attempt(ctx context.Context, req *request) (issued, error) {
	state := StateIdle
	var designator string
	var candidate int64
	fail := func(code ErrorCode, reason ConflictReason, msg string, err error) error {
		return &Error{
			Code:       code,
			Message:    msg,
			Prefix:     req.prefix,
			Designator: designator,
			ID:         candidate,
			State:      state,
			Reason:     reason,
			Err:        err,
		}
	}

	tx, err := a.store.Begin(ctx)
	if err != nil {
		return issued{}, fail(ErrCodeTransient, "", "begin transaction", err)
	}
	state = StateTransactionOpen
	finished := false
	defer func() {
		if !finished {
			_ = tx.Rollback()
		}
	}()

	now := a.clock().UTC()
	counter, err := a.resolveCounter(ctx, tx, req, now)
	if err != nil {
		return issued{}, fail(ErrCodeTransient, "", "resolve counter", err)
	}
	state = StateCounterResolved

	if counter.LastID == math.MaxInt64 {
		return issued{}, fail(ErrCodeOverflow, "", "series counter is at its maximum", nil)
	}
	candidate = counter.LastID + 1
	if req.hasFloor && candidate < req.floor {
		candidate = req.floor
	}
	designator = req.prefix + strconv.FormatInt(candidate, 10)
	state = StateCandidateComputed

	itemKey := a.itemKey(req.prefix, designator)
	if err := a.guardDuplicate(ctx, tx, itemKey); err != nil {
		if errors.Is(err, errDuplicate) {
			finished = true
			_ = tx.Rollback()
			return issued{}, fail(ErrCodeConflict, ConflictDuplicate, "designator already issued", nil)
		}
		return issued{}, fail(ErrCodeTransient, "", "duplicate check", err)
	}
	state = StateDupeChecked

	counter.LastID = candidate
	counter.UpdatedAt = now
	counterData, err := counter.Marshal()
	if err != nil {
		return issued{}, fail(ErrCodeTransient, "", "encode counter", err)
	}
	itemData, err := record.Issuance{ID: candidate, Designator: designator}.Marshal()
	if err != nil {
		return issued{}, fail(ErrCodeTransient, "", "encode issuance", err)
	}
	if err := tx.Upsert(a.ancestorKey(req.prefix), counterData); err != nil {
		return issued{}, fail(ErrCodeTransient, "", "stage counter", err)
	}
	if err := tx.Insert(itemKey, itemData); err != nil {
		return issued{}, fail(ErrCodeTransient, "", "stage issuance", err)
	}
	state = StateStaged

	finished = true
	if err := tx.Commit(ctx); err != nil {
		return issued{}, fail(ErrCodeConflict, ConflictCommit, "commit rejected", err)
	}
	return issued{id: candidate, designator: designator, at: now}, nil
}

// resolveCounter reads the series counter, or synthesizes one just below
// the initial id when the series does not exist yet.
func (a *Allocator) resolveCounter(ctx context.Context, tx store.Tx, req *request, now time.Time) (record.SeriesCounter, error) {
	key := a.ancestorKey(req.prefix)
	ent, err := tx.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return record.SeriesCounter{
			Prefix:    req.prefix,
			LastID:    req.initialID - 1,
			CreatedAt: now,
		}, nil
	}
	if err != nil {
		return record.SeriesCounter{}, err
	}
	if ent == nil || !key.Equal(ent.Key) {
		return record.SeriesCounter{}, fmt.Errorf("store answered %v for %s", entityKey(ent), key)
	}
	counter, err := record.UnmarshalSeriesCounter(ent.Data)
	if err != nil {
		return record.SeriesCounter{}, fmt.Errorf("decode counter %s: %w", key, err)
	}
	return counter, nil
}

var errDuplicate = errors.New("issuance record exists")

// guardDuplicate fails with errDuplicate if an issuance record exists at
// exactly key. An entity under any other key is a store fault, not a
// duplicate.
func (a *Allocator) guardDuplicate(ctx context.Context, tx store.Tx, key *store.Key) error {
	ent, err := tx.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if ent == nil || !key.Equal(ent.Key) {
		return fmt.Errorf("store answered %v for %s", entityKey(ent), key)
	}
	return errDuplicate
}

func entityKey(ent *store.Entity) *store.Key {
	if ent == nil {
		return nil
	}
	return ent.Key
}
