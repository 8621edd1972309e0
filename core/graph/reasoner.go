package graph

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

// Reasoner answers relationship, path and subgraph queries over a Store.
// Every result uses the model.Page envelope.
type Reasoner struct {
	store  Store
	config model.ReasoningConfig
	logger *slog.Logger
}

// NewReasoner creates a new graph reasoning engine
func NewReasoner(store Store, config model.ReasoningConfig, logger *slog.Logger) *Reasoner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reasoner{
		store:  store,
		config: config,
		logger: logger,
	}
}

// Relationships pages the relations of an entity, filtered and sorted by the query.
func (r *Reasoner) Relationships(ctx context.Context, entityID uuid.UUID, query model.RelationQuery) (model.Page[*model.Relation], error) {
	query = query.Normalize()

	relations, total, err := r.store.SelectRelations(ctx, entityID, query)
	if err != nil {
		return model.Page[*model.Relation]{}, helper.NewError("select relations", err)
	}

	return model.NewPage(relations, total, query.PageRequest), nil
}

// ShortestPaths pages the shortest paths between two entities. MaxDepth and MaxPaths
// default to the configured values and are clamped to the hard limits.
func (r *Reasoner) ShortestPaths(ctx context.Context, from, to uuid.UUID, query model.PathQuery) (model.Page[*model.Path], error) {
	maxDepth := clamp(query.MaxDepth, r.config.DefaultMaxDepth, r.config.HardMaxDepth)
	maxPaths := clamp(query.MaxPaths, r.config.DefaultMaxPaths, r.config.HardMaxPaths)

	var paths []*model.Path
	var err error
	if finder, ok := r.store.(PathFinder); ok {
		paths, err = finder.ShortestPaths(ctx, from, to, maxDepth, maxPaths, query.Types)
	} else {
		paths, err = ShortestPaths(ctx, r.store, from, to, maxDepth, maxPaths, query.Types)
	}
	if err != nil {
		return model.Page[*model.Path]{}, helper.NewError("shortest paths", err)
	}

	r.logger.Debug("Shortest paths computed", "from", from, "to", to, "paths", len(paths), "max_depth", maxDepth)

	return model.Paginate(paths, query.PageRequest), nil
}

// Subgraph extracts the bounded neighbourhood of root. Nodes are ordered by
// distance and canonical name before pagination.
func (r *Reasoner) Subgraph(ctx context.Context, root uuid.UUID, query model.SubgraphQuery) (*model.Subgraph, error) {
	depth := clamp(query.Depth, 2, r.config.HardMaxDepth)
	maxNodes := clamp(query.MaxNodes, r.config.MaxSubgraphNodes, r.config.MaxSubgraphNodes)

	if _, err := r.store.SelectEntity(ctx, root); err != nil {
		return nil, helper.NewError("select root entity", err)
	}

	reached, relations, truncated, err := BFS(ctx, r.store, root, depth, maxNodes, query.Types, query.MinConfidence)
	if err != nil {
		return nil, helper.NewError("bfs", err)
	}

	ids := make([]uuid.UUID, len(reached))
	distance := make(map[uuid.UUID]int, len(reached))
	for i, res := range reached {
		ids[i] = res.EntityID
		distance[res.EntityID] = res.Distance
	}

	entities, err := r.store.SelectEntities(ctx, ids)
	if err != nil {
		return nil, helper.NewError("select entities", err)
	}
	slices.SortFunc(entities, func(a, b *model.Entity) int {
		if distance[a.ID] != distance[b.ID] {
			return distance[a.ID] - distance[b.ID]
		}
		return strings.Compare(a.CanonicalName, b.CanonicalName)
	})

	return &model.Subgraph{
		RootID:    root,
		Nodes:     model.Paginate(entities, query.PageRequest),
		Relations: relations,
		NodeCount: len(entities),
		EdgeCount: len(relations),
		Truncated: truncated,
	}, nil
}

func clamp(value, fallback, max int) int {
	if value <= 0 {
		value = fallback
	}
	if max > 0 && value > max {
		value = max
	}
	return value
}
