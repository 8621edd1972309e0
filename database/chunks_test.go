package database

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunksNewChunksDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewChunksDBHandler", func(t *testing.T) {
		chunksDbHandler, err := NewChunksDBHandler(database, testDimensions, true)
		assert.NoError(t, err, "Expected NewChunksDBHandler to not return an error")
		require.NotNil(t, chunksDbHandler)
		assert.Equal(t, testDimensions, chunksDbHandler.dimensions)
	})

	t.Run("Invalid call NewChunksDBHandler with nil database", func(t *testing.T) {
		_, err := NewChunksDBHandler(nil, testDimensions, false)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "database connection is nil")
	})

	t.Run("Invalid call NewChunksDBHandler with zero dimensions", func(t *testing.T) {
		_, err := NewChunksDBHandler(database, 0, false)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "dimensions must be positive")
	})
}

func TestChunksUpsert(t *testing.T) {
	store := initStore(t)
	ctx := context.Background()

	content := "First sentence about chunks. Second sentence about vectors."
	doc, _ := seedDocument(t, store, content)
	page := 2
	first := &model.Chunk{
		ID:         identity.ChunkID(doc.ID, 0, 28),
		DocumentID: doc.ID,
		Index:      0,
		Text:       content[:28],
		ByteEnd:    28,
		Page:       &page,
		Embedding:  []float32{0, 1, 0},
	}
	second := &model.Chunk{
		ID:         identity.ChunkID(doc.ID, 29, len(content)),
		DocumentID: doc.ID,
		Index:      1,
		Text:       content[29:],
		ByteStart:  29,
		ByteEnd:    len(content),
		Embedding:  []float32{0, 0, 1},
	}

	t.Run("Insert and select chunks", func(t *testing.T) {
		err := store.Chunks.UpsertChunks(ctx, []*model.Chunk{second, first})
		require.NoError(t, err)

		stored, err := store.Chunks.SelectChunk(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Text, stored.Text)
		require.NotNil(t, stored.Page)
		assert.Equal(t, 2, *stored.Page)
		assert.Nil(t, stored.Timestamp)
		assert.Equal(t, []float32{0, 1, 0}, stored.Embedding)

		chunks, err := store.Chunks.SelectChunksByDocument(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, chunks, 3, "Expected the seeded chunk and both new chunks")
	})

	t.Run("Upsert refreshes the embedding of an existing chunk", func(t *testing.T) {
		refreshed := *first
		refreshed.Embedding = []float32{0.5, 0.5, 0}
		require.NoError(t, store.Chunks.UpsertChunks(ctx, []*model.Chunk{&refreshed}))

		stored, err := store.Chunks.SelectChunk(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0.5, 0}, stored.Embedding)
	})

	t.Run("Same ID with different text is a collision", func(t *testing.T) {
		clash := *first
		clash.Text = "something else"
		err := store.Chunks.UpsertChunks(ctx, []*model.Chunk{&clash})
		var collision *model.IdentityCollisionError
		require.ErrorAs(t, err, &collision)
		assert.Equal(t, "chunk", collision.Kind)
	})

	t.Run("Wrong embedding dimensions are rejected", func(t *testing.T) {
		wrong := *second
		wrong.Embedding = []float32{1, 2}
		err := store.Chunks.UpsertChunks(ctx, []*model.Chunk{&wrong})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "expected 3")
	})

	t.Run("Missing chunk is not found", func(t *testing.T) {
		_, err := store.Chunks.SelectChunk(ctx, uuid.New())
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestChunksVectors(t *testing.T) {
	store := initStore(t)
	ctx := context.Background()

	docA, chunkA := seedDocument(t, store, "Vector document A talks about rivers.")
	_, chunkB := seedDocument(t, store, "Vector document B talks about mountains.")

	err := store.UpsertVectors(ctx, []model.VectorPoint{
		{ID: chunkA.ID, Vector: []float32{1, 0, 0}},
		{ID: chunkB.ID, Vector: []float32{0.6, 0.8, 0}},
	})
	require.NoError(t, err)

	t.Run("Query ranks by cosine similarity", func(t *testing.T) {
		hits, err := store.Query(ctx, []float32{1, 0, 0}, 100, &model.VectorFilter{ChunkIDs: []uuid.UUID{chunkA.ID, chunkB.ID}})
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, chunkA.ID, hits[0].ID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
		assert.Equal(t, chunkB.ID, hits[1].ID)
		assert.InDelta(t, 0.6, hits[1].Score, 1e-5)
		assert.Equal(t, docA.ID.String(), hits[0].Metadata["document_id"])
	})

	t.Run("Query filters by document", func(t *testing.T) {
		hits, err := store.Query(ctx, []float32{0, 1, 0}, 10, &model.VectorFilter{DocumentIDs: []uuid.UUID{docA.ID}})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, chunkA.ID, hits[0].ID)
	})

	t.Run("Vector for a missing chunk is not found", func(t *testing.T) {
		err := store.UpsertVectors(ctx, []model.VectorPoint{{ID: uuid.New(), Vector: []float32{1, 0, 0}}})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}
