package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/numbering/store"
	"github.com/roach88/numbering/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		return New()
	})
}

func TestBeforeApplyAbortsCommit(t *testing.T) {
	injected := errors.New("injected")
	b := NewWithOptions(Options{
		BeforeApply: func(cs *store.Changeset) error { return injected },
	})
	s := store.New(b)

	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Upsert(store.NameKey("K", "k", nil), []byte("v")))

	err = tx.Commit(context.Background())
	assert.ErrorIs(t, err, injected)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Applied())
}

func TestKeysSorted(t *testing.T) {
	b := New()
	s := store.New(b)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Upsert(store.NameKey("K", "b", nil), []byte("2")))
	require.NoError(t, tx.Upsert(store.NameKey("K", "a", nil), []byte("1")))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, []string{`["K","a"]`, `["K","b"]`}, b.Keys())
	assert.Equal(t, 1, b.Applied())
}

func TestLoadHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Load(ctx, `["K","a"]`)
	assert.ErrorIs(t, err, context.Canceled)
}
