package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/siherrmann/citegraph/core/backend"
	"github.com/siherrmann/citegraph/core/graph"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/core/metrics"
	"github.com/siherrmann/citegraph/core/pipeline"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

// Engine answers queries over the ingested corpus with cited sources.
type Engine struct {
	store     graph.Store
	vectors   graph.VectorStore
	embedder  pipeline.Embedder
	generator backend.Generator
	extractor pipeline.EntityExtractor
	strategy  Strategy
	config    model.RetrievalConfig
	cache     *gocache.Cache
	tokens    *tokenCounter
	logger    *slog.Logger
}

// NewEngine creates a retrieval engine. Query entities are recognized with the
// rule extractor and boosted with the hybrid strategy unless replaced.
func NewEngine(store graph.Store, vectors graph.VectorStore, embedder pipeline.Embedder, generator backend.Generator, config model.RetrievalConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := config.EmbeddingCache
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}

	e := &Engine{
		store:     store,
		vectors:   vectors,
		embedder:  embedder,
		generator: generator,
		extractor: pipeline.NewRuleExtractor(nil),
		config:    config,
		cache:     gocache.New(ttl, 2*ttl),
		tokens:    newTokenCounter(logger),
		logger:    logger,
	}
	e.strategy = NewHybridStrategy(e)
	return e
}

// SetStrategy replaces the retrieval strategy.
func (e *Engine) SetStrategy(strategy Strategy) {
	e.strategy = strategy
}

// SetGenerator replaces the generation backend used for answers.
func (e *Engine) SetGenerator(generator backend.Generator) {
	e.generator = generator
}

// SetEntityExtractor replaces the extractor recognizing entities in queries. Nil disables it.
func (e *Engine) SetEntityExtractor(extractor pipeline.EntityExtractor) {
	e.extractor = extractor
}

func (e *Engine) normalize(config *model.QueryConfig) *model.QueryConfig {
	c := model.QueryConfig{}
	if config != nil {
		c = *config
	}
	if c.TopK <= 0 {
		c.TopK = e.config.TopK
	}
	if c.MinRelevance <= 0 {
		c.MinRelevance = e.config.MinRelevance
	}
	return &c
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.Timeout)
}

// EmbedQuery embeds a query, serving repeated queries from the cache.
func (e *Engine) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	sum := sha256.Sum256([]byte(identity.NormalizeClaim(query)))
	key := hex.EncodeToString(sum[:])

	if cached, ok := e.cache.Get(key); ok {
		metrics.CacheHits.WithLabelValues("query_embedding").Inc()
		return cached.([]float32), nil
	}
	metrics.CacheMisses.WithLabelValues("query_embedding").Inc()

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	e.cache.SetDefault(key, vector)
	return vector, nil
}

// Retrieve ranks the sources for query and numbers them 1..n in presentation order.
func (e *Engine) Retrieve(ctx context.Context, query string, config *model.QueryConfig) ([]model.RetrievedChunk, error) {
	start := time.Now()
	defer func() {
		metrics.RetrievalDuration.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())
	}()

	config = e.normalize(config)
	vector, err := e.EmbedQuery(ctx, query)
	if err != nil {
		return nil, &model.RetrievalError{Op: "embed query", Retryable: true, Err: err}
	}

	entityIDs, err := e.queryEntities(ctx, query)
	if err != nil {
		return nil, &model.RetrievalError{Op: "query entities", Retryable: true, Err: err}
	}
	for _, id := range entityIDs {
		if !slices.Contains(config.EntityIDs, id) {
			config.EntityIDs = append(config.EntityIDs, id)
		}
	}

	results, err := e.strategy.Retrieve(ctx, vector, config)
	if err != nil {
		return nil, &model.RetrievalError{Op: "retrieve", Retryable: true, Err: err}
	}

	out := make([]model.RetrievedChunk, len(results))
	for i, r := range results {
		out[i] = *r
		out[i].Ordinal = i + 1
	}
	return out, nil
}

// VectorRetrieve performs pure vector similarity search. Hits below the
// minimum relevance and hits whose chunk is gone are skipped.
func (e *Engine) VectorRetrieve(ctx context.Context, embedding []float32, config *model.QueryConfig) ([]*model.RetrievedChunk, error) {
	var filter *model.VectorFilter
	if len(config.DocumentIDs) > 0 {
		filter = &model.VectorFilter{DocumentIDs: config.DocumentIDs}
	}

	hits, err := e.vectors.Query(ctx, embedding, config.TopK, filter)
	if err != nil {
		return nil, helper.NewError("vector query", err)
	}

	results := make([]*model.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < config.MinRelevance {
			continue
		}
		joined, err := e.store.SelectChunk(ctx, hit.ID)
		if errors.Is(err, model.ErrNotFound) {
			e.logger.Warn("Vector hit without chunk", slog.String("chunk_id", hit.ID.String()))
			continue
		}
		if err != nil {
			return nil, helper.NewError("select chunk", err)
		}
		results = append(results, &model.RetrievedChunk{
			Chunk:     joined.Chunk,
			Document:  joined.Document,
			Relevance: hit.Score,
		})
	}
	return results, nil
}

// queryEntities resolves the names recognized in query to stored entities.
// Only exact canonical name or alias matches count.
func (e *Engine) queryEntities(ctx context.Context, query string) ([]uuid.UUID, error) {
	if e.extractor == nil {
		return nil, nil
	}
	mentions, err := e.extractor.Extract(ctx, query)
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for _, m := range mentions {
		name := identity.NormalizeName(m.SurfaceText)
		if name == "" {
			continue
		}
		candidates, err := e.store.SearchEntities(ctx, m.SurfaceText, 5)
		if err != nil {
			return nil, err
		}
		for _, c := range candidates {
			if (identity.NormalizeName(c.CanonicalName) == name || c.HasAlias(name)) && !slices.Contains(ids, c.ID) {
				ids = append(ids, c.ID)
			}
		}
	}
	return ids, nil
}

// chunkEntities returns the entities linked from mentions inside each chunk.
func (e *Engine) chunkEntities(ctx context.Context, results []*model.RetrievedChunk) (map[uuid.UUID][]uuid.UUID, error) {
	byChunk := make(map[uuid.UUID][]uuid.UUID)
	loaded := make(map[uuid.UUID]bool)
	for _, r := range results {
		documentID := r.Chunk.DocumentID
		if loaded[documentID] {
			continue
		}
		loaded[documentID] = true

		mentions, err := e.store.SelectMentionsByDocument(ctx, documentID)
		if err != nil {
			return nil, helper.NewError("select mentions", err)
		}
		for _, m := range mentions {
			if m.EntityID != nil && !slices.Contains(byChunk[m.ChunkID], *m.EntityID) {
				byChunk[m.ChunkID] = append(byChunk[m.ChunkID], *m.EntityID)
			}
		}
	}
	return byChunk, nil
}

// sortResults orders by relevance, breaking ties by document and position.
func sortResults(results []*model.RetrievedChunk, topK int) []*model.RetrievedChunk {
	slices.SortStableFunc(results, func(a, b *model.RetrievedChunk) int {
		switch {
		case a.Relevance > b.Relevance:
			return -1
		case a.Relevance < b.Relevance:
			return 1
		}
		if c := slices.Compare(a.Chunk.DocumentID[:], b.Chunk.DocumentID[:]); c != 0 {
			return c
		}
		return a.Chunk.ByteStart - b.Chunk.ByteStart
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
