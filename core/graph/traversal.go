package graph

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/model"
)

// TraversalResult is an entity reached by BFS with its distance from the source.
type TraversalResult struct {
	EntityID uuid.UUID
	Distance int
	Path     []uuid.UUID
}

// BFS walks relations in both directions from sourceID up to maxHops, visiting at most maxNodes entities.
// The second return value reports whether maxNodes cut the traversal short.
func BFS(ctx context.Context, db Neighborer, sourceID uuid.UUID, maxHops int, maxNodes int, types []model.RelationType, minConfidence float64) ([]*TraversalResult, []*model.Relation, bool, error) {
	visited := map[uuid.UUID]bool{sourceID: true}
	queue := []*TraversalResult{{EntityID: sourceID, Distance: 0, Path: []uuid.UUID{sourceID}}}
	relations := make(map[uuid.UUID]*model.Relation)
	truncated := false

	var results []*TraversalResult
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, false, err
		}

		current := queue[0]
		queue = queue[1:]
		results = append(results, current)

		if current.Distance >= maxHops {
			continue
		}

		edges, err := db.Neighbors(ctx, current.EntityID, types)
		if err != nil {
			return nil, nil, false, err
		}
		sortRelations(edges)

		for _, edge := range edges {
			if edge.Confidence < minConfidence {
				continue
			}
			targetID := edge.Other(current.EntityID)
			if visited[targetID] {
				if _, ok := relations[edge.ID]; !ok {
					relations[edge.ID] = edge
				}
				continue
			}
			if maxNodes > 0 && len(visited) >= maxNodes {
				truncated = true
				continue
			}

			visited[targetID] = true
			relations[edge.ID] = edge

			newPath := make([]uuid.UUID, len(current.Path), len(current.Path)+1)
			copy(newPath, current.Path)
			newPath = append(newPath, targetID)

			queue = append(queue, &TraversalResult{
				EntityID: targetID,
				Distance: current.Distance + 1,
				Path:     newPath,
			})
		}
	}

	edges := make([]*model.Relation, 0, len(relations))
	for _, r := range relations {
		if visited[r.SourceID] && visited[r.TargetID] {
			edges = append(edges, r)
		}
	}
	sortRelations(edges)

	return results, edges, truncated, nil
}

type parentLink struct {
	from     uuid.UUID
	relation *model.Relation
}

// ShortestPaths returns up to maxPaths shortest paths between from and to with at most maxDepth hops.
// Relations are followed in both directions. No path yields an empty result, not an error.
func ShortestPaths(ctx context.Context, db Neighborer, from, to uuid.UUID, maxDepth, maxPaths int, types []model.RelationType) ([]*model.Path, error) {
	if from == to {
		return []*model.Path{{EntityIDs: []uuid.UUID{from}, Relations: []*model.Relation{}, Length: 0, Confidence: 1}}, nil
	}

	dist := map[uuid.UUID]int{from: 0}
	parents := make(map[uuid.UUID][]parentLink)
	frontier := []uuid.UUID{from}
	found := false

	for depth := 1; depth <= maxDepth && len(frontier) > 0 && !found; depth++ {
		var next []uuid.UUID
		for _, node := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			edges, err := db.Neighbors(ctx, node, types)
			if err != nil {
				return nil, err
			}
			sortRelations(edges)

			for _, edge := range edges {
				other := edge.Other(node)
				d, seen := dist[other]
				if !seen {
					dist[other] = depth
					next = append(next, other)
					d = depth
				}
				if d == depth {
					parents[other] = append(parents[other], parentLink{from: node, relation: edge})
				}
				if other == to {
					found = true
				}
			}
		}
		frontier = next
	}

	if !found {
		return []*model.Path{}, nil
	}

	// All shortest paths are collected before the cap; maxDepth bounds their length.
	var paths []*model.Path
	dfsPaths(to, from, parents, []uuid.UUID{to}, nil, &paths)

	slices.SortStableFunc(paths, func(a, b *model.Path) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return comparePathRelations(a, b)
	})
	if maxPaths > 0 && len(paths) > maxPaths {
		paths = paths[:maxPaths]
	}
	return paths, nil
}

func comparePathRelations(a, b *model.Path) int {
	for i := range min(len(a.Relations), len(b.Relations)) {
		if c := slices.Compare(a.Relations[i].ID[:], b.Relations[i].ID[:]); c != 0 {
			return c
		}
	}
	return len(a.Relations) - len(b.Relations)
}

// dfsPaths walks the parent links back from node to source, emitting complete paths.
func dfsPaths(node, source uuid.UUID, parents map[uuid.UUID][]parentLink, reversed []uuid.UUID, rels []*model.Relation, paths *[]*model.Path) {
	if node == source {
		ids := slices.Clone(reversed)
		slices.Reverse(ids)
		pathRels := slices.Clone(rels)
		slices.Reverse(pathRels)

		confidence := 1.0
		for _, r := range pathRels {
			confidence *= r.Confidence
		}
		*paths = append(*paths, &model.Path{
			EntityIDs:  ids,
			Relations:  pathRels,
			Length:     len(pathRels),
			Confidence: confidence,
		})
		return
	}

	for _, p := range parents[node] {
		dfsPaths(p.from, source, parents, append(reversed, p.from), append(rels, p.relation), paths)
	}
}

// sortRelations orders relations by confidence, then ID, so traversal is deterministic.
func sortRelations(relations []*model.Relation) {
	slices.SortFunc(relations, func(a, b *model.Relation) int {
		if a.Confidence != b.Confidence {
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
}
