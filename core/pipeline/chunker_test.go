package pipeline

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func longText(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog near the river bank. ")
	}
	return strings.TrimSpace(b.String())
}

func TestDefaultChunker(t *testing.T) {
	config := model.ChunkerConfig{TargetSize: 200, Overlap: 40, BoundaryWindow: 40}

	t.Run("Chunks cover the text without gaps", func(t *testing.T) {
		text := longText(20)
		spans, err := DefaultChunker(config)(text)
		require.NoError(t, err)
		require.Greater(t, len(spans), 1, "Expected multiple chunks")

		assert.Equal(t, 0, spans[0].Start)
		assert.Equal(t, len(text), spans[len(spans)-1].End)
		for i := 1; i < len(spans); i++ {
			assert.LessOrEqual(t, spans[i].Start, spans[i-1].End, "Expected no gap before chunk %d", i)
			assert.Greater(t, spans[i].Start, spans[i-1].Start, "Expected chunks to advance")
		}
		assert.NoError(t, ValidateSpans(uuid.New(), text, spans))
	})

	t.Run("Chunks overlap", func(t *testing.T) {
		spans, err := DefaultChunker(config)(longText(20))
		require.NoError(t, err)
		assert.Less(t, spans[1].Start, spans[0].End, "Expected the second chunk to start inside the first")
	})

	t.Run("Chunk ends prefer sentence boundaries", func(t *testing.T) {
		text := longText(20)
		spans, err := DefaultChunker(config)(text)
		require.NoError(t, err)
		for _, s := range spans[:len(spans)-1] {
			assert.True(t, strings.HasSuffix(strings.TrimSpace(text[s.Start:s.End]), "."), "Expected chunk to end a sentence: %q", text[s.Start:s.End])
		}
	})

	t.Run("Multibyte text is never split inside a rune", func(t *testing.T) {
		text := strings.Repeat("äöü€", 300)
		spans, err := DefaultChunker(config)(text)
		require.NoError(t, err)
		assert.NoError(t, ValidateSpans(uuid.New(), text, spans))
	})

	t.Run("Short text is one chunk", func(t *testing.T) {
		spans, err := DefaultChunker(config)("OpenAI announced GPT-4.")
		require.NoError(t, err)
		assert.Equal(t, []Span{{Start: 0, End: 23}}, spans)
	})

	t.Run("Empty text yields no chunks", func(t *testing.T) {
		spans, err := DefaultChunker(config)("   ")
		require.NoError(t, err)
		assert.Empty(t, spans)
	})

	t.Run("Invalid overlap", func(t *testing.T) {
		_, err := DefaultChunker(model.ChunkerConfig{TargetSize: 10, Overlap: 10})("text")
		assert.Error(t, err)
	})
}

func TestSentenceChunker(t *testing.T) {
	t.Run("Groups sentences", func(t *testing.T) {
		text := "One. Two. Three."
		spans, err := SentenceChunker(2)(text)
		require.NoError(t, err)
		require.Len(t, spans, 2)
		assert.Equal(t, "One. Two. ", text[spans[0].Start:spans[0].End])
		assert.Equal(t, "Three.", text[spans[1].Start:spans[1].End])
	})

	t.Run("Error with zero max sentences", func(t *testing.T) {
		_, err := SentenceChunker(0)("Some text.")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "must be positive")
	})
}

func TestValidateSpans(t *testing.T) {
	documentID := uuid.New()
	text := "abcdefghij"

	tests := []struct {
		name   string
		spans  []Span
		reason string
	}{
		{"Gap between chunks", []Span{{0, 4}, {5, 10}}, "gap between chunks"},
		{"Missing tail", []Span{{0, 4}}, "text after last chunk"},
		{"Missing head", []Span{{2, 10}}, "text before first chunk"},
		{"Out of range", []Span{{0, 11}}, "empty or out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSpans(documentID, text, tt.spans)
			var boundary *model.ChunkBoundaryError
			require.ErrorAs(t, err, &boundary)
			assert.Equal(t, tt.reason, boundary.Reason)
			assert.Equal(t, documentID, boundary.DocumentID)
		})
	}

	t.Run("Build chunks keeps exact offsets", func(t *testing.T) {
		chunks, err := BuildChunks(documentID, text, []Span{{0, 6}, {4, 10}})
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "efghij", chunks[1].Text)
		assert.Equal(t, 4, chunks[1].ByteStart)
		assert.Equal(t, 1, chunks[1].Index)
	})
}
