package pipeline

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	embedder := NewHashEmbedder(256)

	t.Run("Embedding has the configured dimensions and unit length", func(t *testing.T) {
		embedding, err := embedder.Embed(ctx, "OpenAI was founded in 2015.")
		require.NoError(t, err)
		assert.Len(t, embedding, 256)

		var norm float64
		for _, v := range embedding {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1, norm, 1e-5)
	})

	t.Run("Same text produces same embedding", func(t *testing.T) {
		a, err := embedder.Embed(ctx, "Deterministic embedding test")
		require.NoError(t, err)
		b, err := NewHashEmbedder(256).Embed(ctx, "deterministic   EMBEDDING test")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("Overlapping texts are closer than unrelated ones", func(t *testing.T) {
		a, _ := embedder.Embed(ctx, "Sam Altman founded OpenAI in San Francisco")
		b, _ := embedder.Embed(ctx, "Who founded OpenAI?")
		c, _ := embedder.Embed(ctx, "Quantum physics is complex")
		assert.Greater(t, cosineSimilarity(a, b), cosineSimilarity(a, c))
	})

	t.Run("Empty text yields the zero vector", func(t *testing.T) {
		embedding, err := embedder.Embed(ctx, "")
		require.NoError(t, err)
		assert.Len(t, embedding, 256)
		assert.Zero(t, cosineSimilarity(embedding, embedding))
	})

	t.Run("Default dimensions", func(t *testing.T) {
		assert.Equal(t, 384, NewHashEmbedder(0).Dimensions)
	})

	t.Run("Batch keeps input order", func(t *testing.T) {
		texts := []string{"first text", "second text", "third text"}
		batch, err := embedder.EmbedBatch(ctx, texts)
		require.NoError(t, err)
		require.Len(t, batch, 3)
		for i, text := range texts {
			single, _ := embedder.Embed(ctx, text)
			assert.Equal(t, single, batch[i])
		}
	})

	t.Run("Batch honours a cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := embedder.EmbedBatch(cancelled, []string{"a"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestHugotEmbedder(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping HugotEmbedder test in short mode (requires model download)")
	}

	embedder, err := NewHugotEmbedder("")
	require.NoError(t, err)
	defer embedder.Close()
	ctx := context.Background()

	t.Run("Generate embedding for text", func(t *testing.T) {
		embedding, err := embedder.Embed(ctx, "This is a test sentence.")
		require.NoError(t, err)
		assert.Equal(t, 384, len(embedding), "all-MiniLM-L6-v2 produces 384-dimensional embeddings")
	})

	t.Run("Similar texts have similar embeddings", func(t *testing.T) {
		vectors, err := embedder.EmbedBatch(ctx, []string{"The dog is happy", "The puppy is joyful", "Quantum physics is complex"})
		require.NoError(t, err)
		require.Len(t, vectors, 3)
		assert.Greater(t, cosineSimilarity(vectors[0], vectors[1]), cosineSimilarity(vectors[0], vectors[2]))
	})

	t.Run("Handle very long text", func(t *testing.T) {
		embedding, err := embedder.Embed(ctx, strings.Repeat("This is a sentence that makes the text very long. ", 100))
		require.NoError(t, err)
		assert.Equal(t, 384, len(embedding))
	})

	t.Run("Empty batch", func(t *testing.T) {
		vectors, err := embedder.EmbedBatch(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, vectors)
	})
}
