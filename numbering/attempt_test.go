package numbering

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/numbering/internal/record"
	"github.com/roach88/numbering/store"
	"github.com/roach88/numbering/store/memstore"
)

// skewedStore answers every item lookup with an entity under another key.
type skewedStore struct {
	store.Store
	itemKind string
}

func (s *skewedStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &skewedTx{Tx: tx, itemKind: s.itemKind}, nil
}

type skewedTx struct {
	store.Tx
	itemKind string
}

func (tx *skewedTx) Get(ctx context.Context, key *store.Key) (*store.Entity, error) {
	if key.Kind == tx.itemKind {
		other := store.NameKey(key.Kind, key.Name+"-other", key.Parent)
		return &store.Entity{Key: other, Data: []byte(`{}`)}, nil
	}
	return tx.Tx.Get(ctx, key)
}

// failingStore fails to begin transactions.
type failingStore struct{}

func (failingStore) Begin(context.Context) (store.Tx, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Close() error { return nil }

func TestAttemptState_String(t *testing.T) {
	states := []AttemptState{
		StateIdle, StateTransactionOpen, StateCounterResolved, StateCandidateComputed,
		StateDupeChecked, StateStaged, StateCommitted, StateAborted,
	}
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	assert.Equal(t, []string{
		"Idle", "TransactionOpen", "CounterResolved", "CandidateComputed",
		"DupeChecked", "Staged", "Committed", "Aborted",
	}, names)
	assert.Equal(t, "AttemptState(42)", AttemptState(42).String())
}

func TestAttempt_CommitsCounterAndIssuance(t *testing.T) {
	b := memstore.New()
	a := newTestAllocator(t, b, fastOptions())

	res, err := a.attempt(context.Background(), &request{prefix: "A_", initialID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.id)
	assert.Equal(t, "A_7", res.designator)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 1, b.Applied())
}

func TestAttempt_FloorRaisesCandidate(t *testing.T) {
	a := newTestAllocator(t, memstore.New(), fastOptions())

	res, err := a.attempt(context.Background(), &request{prefix: "F", initialID: 1, floor: 10, hasFloor: true})
	require.NoError(t, err)
	assert.Equal(t, "F10", res.designator)
}

func TestAttempt_UnsetFloorKeepsNegativeCandidate(t *testing.T) {
	a := newTestAllocator(t, memstore.New(), fastOptions())

	res, err := a.attempt(context.Background(), &request{prefix: "N", initialID: -5})
	require.NoError(t, err)
	assert.Equal(t, int64(-5), res.id)
	assert.Equal(t, "N-5", res.designator)
}

func TestRequest_RaiseFloor(t *testing.T) {
	req := &request{prefix: "R", initialID: -10}

	require.True(t, req.raiseFloor(-4))
	assert.True(t, req.hasFloor)
	assert.Equal(t, int64(-3), req.floor)

	require.True(t, req.raiseFloor(-8), "a lower duplicate keeps the floor")
	assert.Equal(t, int64(-3), req.floor)

	require.True(t, req.raiseFloor(math.MaxInt64-1))
	assert.Equal(t, int64(math.MaxInt64), req.floor)

	assert.False(t, req.raiseFloor(math.MaxInt64), "no id exists above MaxInt64")
	assert.Equal(t, int64(math.MaxInt64), req.floor)
}

func TestAttempt_DuplicateIsConflict(t *testing.T) {
	b := memstore.New()
	a := newTestAllocator(t, b, fastOptions())
	seedIssuance(t, b, a, "D", "D1", 1)

	_, err := a.attempt(context.Background(), &request{prefix: "D", initialID: 1})
	require.Error(t, err)

	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, ErrCodeConflict, aerr.Code)
	assert.Equal(t, ConflictDuplicate, aerr.Reason)
	assert.Equal(t, StateCandidateComputed, aerr.State)
	assert.Equal(t, "D1", aerr.Designator)
	assert.Equal(t, int64(1), aerr.ID)
	assert.Equal(t, 1, b.Applied(), "the duplicate attempt must not commit")
	assert.Equal(t, 1, b.Len())
}

func TestAttempt_KeyMismatchIsTransient(t *testing.T) {
	a := newTestAllocator(t, memstore.New(), fastOptions())
	a.store = &skewedStore{Store: a.store, itemKind: a.itemKind}

	_, err := a.attempt(context.Background(), &request{prefix: "K", initialID: 1})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsConflict(err))

	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, StateCandidateComputed, aerr.State)
	assert.Contains(t, err.Error(), "K1-other")
}

func TestAttempt_BeginFailureIsTransient(t *testing.T) {
	a := newTestAllocator(t, memstore.New(), fastOptions())
	a.store = failingStore{}

	_, err := a.attempt(context.Background(), &request{prefix: "B", initialID: 1})
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, StateIdle, aerr.State)
}

func TestAttempt_CommitConflict(t *testing.T) {
	b := memstore.NewWithOptions(memstore.Options{
		BeforeApply: func(*store.Changeset) error { return store.ErrConflict },
	})
	a := newTestAllocator(t, b, fastOptions())

	_, err := a.attempt(context.Background(), &request{prefix: "C", initialID: 1})
	require.Error(t, err)

	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, ErrCodeConflict, aerr.Code)
	assert.Equal(t, ConflictCommit, aerr.Reason)
	assert.Equal(t, StateStaged, aerr.State)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func seedIssuance(t *testing.T, b store.Backend, a *Allocator, prefix, designator string, id int64) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.New(b).Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(a.itemKey(prefix, designator), issuanceData(t, designator, id)))
	require.NoError(t, tx.Commit(ctx))
}

func issuanceData(t *testing.T, designator string, id int64) []byte {
	t.Helper()
	data, err := record.Issuance{ID: id, Designator: designator}.Marshal()
	require.NoError(t, err)
	return data
}
