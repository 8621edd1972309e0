package retrieval

import (
	"context"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/model"
)

// Strategy ranks the chunks answering a query embedding.
type Strategy interface {
	Retrieve(ctx context.Context, embedding []float32, config *model.QueryConfig) ([]*model.RetrievedChunk, error)
}

// VectorOnlyStrategy performs pure vector similarity search
type VectorOnlyStrategy struct {
	engine *Engine
}

// NewVectorOnlyStrategy creates a new vector-only strategy
func NewVectorOnlyStrategy(engine *Engine) *VectorOnlyStrategy {
	return &VectorOnlyStrategy{engine: engine}
}

// Retrieve performs vector-only retrieval
func (s *VectorOnlyStrategy) Retrieve(ctx context.Context, embedding []float32, config *model.QueryConfig) ([]*model.RetrievedChunk, error) {
	results, err := s.engine.VectorRetrieve(ctx, embedding, config)
	if err != nil {
		return nil, err
	}
	return sortResults(results, config.TopK), nil
}

// HybridStrategy combines vector similarity with the entity graph: chunks
// mentioning an entity of the query gain EntityBoost per matched entity.
type HybridStrategy struct {
	engine *Engine
}

// NewHybridStrategy creates a new hybrid strategy
func NewHybridStrategy(engine *Engine) *HybridStrategy {
	return &HybridStrategy{engine: engine}
}

// Retrieve over-fetches candidates so boosted chunks below the vector cut can still rank.
func (s *HybridStrategy) Retrieve(ctx context.Context, embedding []float32, config *model.QueryConfig) ([]*model.RetrievedChunk, error) {
	if len(config.EntityIDs) == 0 || s.engine.config.EntityBoost <= 0 {
		return NewVectorOnlyStrategy(s.engine).Retrieve(ctx, embedding, config)
	}

	wide := *config
	wide.TopK = config.TopK * 3
	results, err := s.engine.VectorRetrieve(ctx, embedding, &wide)
	if err != nil {
		return nil, err
	}

	entities, err := s.engine.chunkEntities(ctx, results)
	if err != nil {
		return nil, err
	}

	wanted := make(map[uuid.UUID]bool, len(config.EntityIDs))
	for _, id := range config.EntityIDs {
		wanted[id] = true
	}
	for _, r := range results {
		matched := 0
		for _, id := range entities[r.Chunk.ID] {
			if wanted[id] {
				matched++
			}
		}
		r.Relevance += float64(matched) * s.engine.config.EntityBoost
	}

	return sortResults(results, config.TopK), nil
}
