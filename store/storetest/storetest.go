// Package storetest is a conformance suite for store.Backend
// implementations. Each backend package runs it from its own tests.
package storetest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/numbering/store"
)

// Run exercises the store contract against backends produced by open. open
// must return a fresh, empty backend; Run closes it after each subtest.
func Run(t *testing.T, open func(t *testing.T) store.Backend) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"GetMissing", testGetMissing},
		{"InsertThenGet", testInsertThenGet},
		{"InsertExistingConflicts", testInsertExistingConflicts},
		{"UpsertOverwrites", testUpsertOverwrites},
		{"ConcurrentReadersConflict", testConcurrentReadersConflict},
		{"StaleReadConflicts", testStaleReadConflicts},
		{"ConflictIsAtomic", testConflictIsAtomic},
		{"RollbackDiscards", testRollbackDiscards},
		{"ParentsSeparateKeys", testParentsSeparateKeys},
		{"ConcurrentIncrements", testConcurrentIncrements},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := open(t)
			s := store.New(b)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

var (
	counterKey = store.NameKey("TestAncestor", "A_", nil)
	itemKey    = store.NameKey("TestItem", "A_1", counterKey)
)

func begin(t *testing.T, s store.Store) store.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func put(t *testing.T, s store.Store, key *store.Key, data string) {
	t.Helper()
	tx := begin(t, s)
	require.NoError(t, tx.Upsert(key, []byte(data)))
	require.NoError(t, tx.Commit(context.Background()))
}

func get(t *testing.T, s store.Store, key *store.Key) (*store.Entity, error) {
	t.Helper()
	tx := begin(t, s)
	defer tx.Rollback()
	return tx.Get(context.Background(), key)
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := get(t, s, counterKey)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testInsertThenGet(t *testing.T, s store.Store) {
	tx := begin(t, s)
	require.NoError(t, tx.Insert(itemKey, []byte(`{"id":1}`)))
	require.NoError(t, tx.Commit(context.Background()))

	ent, err := get(t, s, itemKey)
	require.NoError(t, err)
	assert.True(t, ent.Key.Equal(itemKey), "got key %s", ent.Key)
	assert.Equal(t, `{"id":1}`, string(ent.Data))
}

func testInsertExistingConflicts(t *testing.T, s store.Store) {
	put(t, s, itemKey, "first")

	tx := begin(t, s)
	require.NoError(t, tx.Insert(itemKey, []byte("second")))
	err := tx.Commit(context.Background())
	require.ErrorIs(t, err, store.ErrConflict)

	ent, err := get(t, s, itemKey)
	require.NoError(t, err)
	assert.Equal(t, "first", string(ent.Data))
}

func testUpsertOverwrites(t *testing.T, s store.Store) {
	put(t, s, counterKey, "1")
	put(t, s, counterKey, "2")

	ent, err := get(t, s, counterKey)
	require.NoError(t, err)
	assert.Equal(t, "2", string(ent.Data))
}

func testConcurrentReadersConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	tx1 := begin(t, s)
	tx2 := begin(t, s)

	_, err := tx1.Get(ctx, counterKey)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = tx2.Get(ctx, counterKey)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, tx1.Upsert(counterKey, []byte("tx1")))
	require.NoError(t, tx2.Upsert(counterKey, []byte("tx2")))

	require.NoError(t, tx1.Commit(ctx))
	require.ErrorIs(t, tx2.Commit(ctx), store.ErrConflict)

	ent, err := get(t, s, counterKey)
	require.NoError(t, err)
	assert.Equal(t, "tx1", string(ent.Data))
}

func testStaleReadConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()
	put(t, s, counterKey, "0")

	stale := begin(t, s)
	_, err := stale.Get(ctx, counterKey)
	require.NoError(t, err)

	put(t, s, counterKey, "1")

	require.NoError(t, stale.Upsert(counterKey, []byte("stale")))
	require.ErrorIs(t, stale.Commit(ctx), store.ErrConflict)
}

func testConflictIsAtomic(t *testing.T, s store.Store) {
	ctx := context.Background()
	put(t, s, itemKey, "witness")

	tx := begin(t, s)
	_, err := tx.Get(ctx, counterKey)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, tx.Upsert(counterKey, []byte("1")))
	require.NoError(t, tx.Insert(itemKey, []byte("dupe")))
	require.ErrorIs(t, tx.Commit(ctx), store.ErrConflict)

	_, err = get(t, s, counterKey)
	assert.ErrorIs(t, err, store.ErrNotFound, "counter must not be written when the insert conflicts")
}

func testRollbackDiscards(t *testing.T, s store.Store) {
	ctx := context.Background()
	tx := begin(t, s)
	require.NoError(t, tx.Insert(itemKey, []byte("x")))
	require.NoError(t, tx.Rollback())

	assert.ErrorIs(t, tx.Rollback(), store.ErrTxDone)
	assert.ErrorIs(t, tx.Commit(ctx), store.ErrTxDone)
	assert.ErrorIs(t, tx.Upsert(itemKey, nil), store.ErrTxDone)

	_, err := get(t, s, itemKey)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testParentsSeparateKeys(t *testing.T, s store.Store) {
	a := store.NameKey("TestItem", "1", store.NameKey("TestAncestor", "A", nil))
	b := store.NameKey("TestItem", "1", store.NameKey("TestAncestor", "B", nil))
	put(t, s, a, "a")
	put(t, s, b, "b")

	ent, err := get(t, s, a)
	require.NoError(t, err)
	assert.Equal(t, "a", string(ent.Data))

	ent, err = get(t, s, b)
	require.NoError(t, err)
	assert.Equal(t, "b", string(ent.Data))
}

// testConcurrentIncrements runs read-modify-write loops from many
// goroutines. Every successful commit must be reflected exactly once.
func testConcurrentIncrements(t *testing.T, s store.Store) {
	const workers = 8
	const perWorker = 5
	ctx := context.Background()

	increment := func() error {
		for {
			tx, err := s.Begin(ctx)
			if err != nil {
				return err
			}
			n := 0
			ent, err := tx.Get(ctx, counterKey)
			switch {
			case err == nil:
				if n, err = strconv.Atoi(string(ent.Data)); err != nil {
					_ = tx.Rollback()
					return err
				}
			case errors.Is(err, store.ErrNotFound):
			default:
				_ = tx.Rollback()
				return err
			}
			if err := tx.Upsert(counterKey, []byte(strconv.Itoa(n+1))); err != nil {
				return err
			}
			err = tx.Commit(ctx)
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return err
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				errs <- increment()
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	ent, err := get(t, s, counterKey)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers*perWorker), string(ent.Data))
}
