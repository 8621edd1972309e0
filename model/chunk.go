package model

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is a byte range of exactly one Document.
// Text always equals document.Content[ByteStart:ByteEnd].
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	ByteStart  int       `json:"byte_start"`
	ByteEnd    int       `json:"byte_end"`
	Page       *int      `json:"page,omitempty"`
	Timestamp  *string   `json:"timestamp,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Contains reports whether the document range [start, end) lies inside the chunk.
func (c *Chunk) Contains(start, end int) bool {
	return start >= c.ByteStart && end <= c.ByteEnd
}

// ChunkWithDocument is a chunk joined with its parent document.
// Document is nil when the parent could not be resolved.
type ChunkWithDocument struct {
	Chunk    *Chunk    `json:"chunk"`
	Document *Document `json:"document,omitempty"`
}
