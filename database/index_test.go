package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeIndexType(t *testing.T) {
	store := initStore(t)
	ctx := context.Background()

	t.Run("Default index is hnsw", func(t *testing.T) {
		indexType, err := store.Chunks.IndexType(ctx)
		require.NoError(t, err)
		assert.Equal(t, IndexHNSW, indexType)
	})

	t.Run("Switch to ivfflat and back", func(t *testing.T) {
		err := store.Chunks.ChangeIndexType(ctx, IndexIVFFlat, map[string]int{"lists": 10})
		require.NoError(t, err)
		indexType, err := store.Chunks.IndexType(ctx)
		require.NoError(t, err)
		assert.Equal(t, IndexIVFFlat, indexType)

		err = store.Chunks.ChangeIndexType(ctx, IndexHNSW, nil)
		require.NoError(t, err)
		indexType, err = store.Chunks.IndexType(ctx)
		require.NoError(t, err)
		assert.Equal(t, IndexHNSW, indexType)
	})

	t.Run("Unsupported index type", func(t *testing.T) {
		err := store.Chunks.ChangeIndexType(ctx, "btree", nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported index type")
	})
}
