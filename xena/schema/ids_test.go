package schema

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDAllocatorMonotonic(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	a, err := NewIDAllocator(ctx, db, "field_ids")
	require.NoError(t, err)

	seen := make(map[int64]bool)
	var prev int64
	for i := 0; i < BlockSize*2+5; i++ {
		id, err := a.Next(ctx, db)
		require.NoError(t, err)
		require.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
		if i > 0 {
			require.Greater(t, id, prev)
		}
		prev = id
	}
}

func TestIDAllocatorSeparateSequencesIndependent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	fieldIDs, err := NewIDAllocator(ctx, db, "field_ids")
	require.NoError(t, err)
	featureIDs, err := NewIDAllocator(ctx, db, "feature_ids")
	require.NoError(t, err)

	a, err := fieldIDs.Next(ctx, db)
	require.NoError(t, err)
	b, err := featureIDs.Next(ctx, db)
	require.NoError(t, err)
	require.Equal(t, a, b) // both sequences start at 1 independently
}

func TestIDAllocatorSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	f, err := os.CreateTemp(t.TempDir(), "xenadb-*.sqlite")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())

	db, err := Open(ctx, path)
	require.NoError(t, err)

	a, err := NewIDAllocator(ctx, db, "field_ids")
	require.NoError(t, err)
	for i := 0; i < BlockSize+1; i++ {
		_, err := a.Next(ctx, db)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	db2, err := Open(ctx, path)
	require.NoError(t, err)
	defer db2.Close()
	b, err := NewIDAllocator(ctx, db2, "field_ids")
	require.NoError(t, err)
	next, err := b.Next(ctx, db2)
	require.NoError(t, err)
	// A fresh allocator must resume past the block already persisted, not
	// reuse ids the first allocator already reserved.
	require.Greater(t, next, int64(BlockSize+1))
}
