package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/numbering/store"
	"github.com/roach88/numbering/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		b, err := Open(filepath.Join(t.TempDir(), "numbering.bolt"))
		require.NoError(t, err)
		return b
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "numbering.bolt")

	b, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, b.Apply(ctx, &store.Changeset{Writes: []store.Write{
		{Op: store.OpInsert, Key: `["K","a"]`, Kind: "K", Data: []byte("one")},
	}}))
	require.NoError(t, b.Close())

	b, err = Open(path)
	require.NoError(t, err)
	defer b.Close()

	rec, err := b.Load(ctx, `["K","a"]`)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Version)
	assert.Equal(t, "one", string(rec.Data))
}
