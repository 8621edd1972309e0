package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/model"
)

// Span is a byte range [Start, End) of the original text.
type Span struct {
	Start int
	End   int
}

// ChunkFunc splits text into ordered, possibly overlapping spans that cover it without gaps.
type ChunkFunc func(text string) ([]Span, error)

// EntityExtractor is the NER backend. Returned mentions carry SurfaceText,
// EntityType, Score and byte offsets relative to text; IDs are assigned by the pipeline.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]*model.Mention, error)
}

// EntityExtractFunc adapts a function to EntityExtractor.
type EntityExtractFunc func(ctx context.Context, text string) ([]*model.Mention, error)

func (f EntityExtractFunc) Extract(ctx context.Context, text string) ([]*model.Mention, error) {
	return f(ctx, text)
}

// Embedder is the embedding backend.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedFunc adapts a single text embedding function to Embedder.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

func (f EmbedFunc) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ProgressFunc is called whenever a document enters a stage.
type ProgressFunc func(documentID uuid.UUID, stage model.Stage, detail string)
