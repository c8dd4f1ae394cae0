package pgstore

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/numbering/store"
	"github.com/roach88/numbering/store/storetest"
)

func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("NUMBERING_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NUMBERING_TEST_POSTGRES_DSN not set")
	}
	return dsn
}

// openTable opens a backend on a fresh table that is dropped after the test.
func openTable(t *testing.T) *Backend {
	t.Helper()
	table := "numbering_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	dsn := testDSN(t)
	b, err := Open(dsn, table)
	require.NoError(t, err)
	t.Cleanup(func() {
		// The backend under test may already be closed.
		other, err := Open(dsn, table)
		if err != nil {
			return
		}
		_ = other.db.Migrator().DropTable(table)
		_ = other.Close()
	})
	return b
}

func TestConformance(t *testing.T) {
	testDSN(t)
	storetest.Run(t, func(t *testing.T) store.Backend {
		return openTable(t)
	})
}

func TestKindIsRecorded(t *testing.T) {
	ctx := context.Background()
	b := openTable(t)
	defer b.Close()

	require.NoError(t, b.Apply(ctx, &store.Changeset{Writes: []store.Write{
		{Op: store.OpInsert, Key: `["NumberingAncestor","A_"]`, Kind: "NumberingAncestor", Data: []byte("{}")},
	}}))

	var n int64
	require.NoError(t, b.db.Table(b.table).Where("kind = ?", "NumberingAncestor").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}
