package neo4jstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

// UpsertRelation merges r into the RELATION with the same ID. Both endpoint
// nodes are write-locked first so concurrent merges of one relation serialize.
func (s *Store) UpsertRelation(ctx context.Context, r *model.Relation) (*model.Relation, error) {
	if len(r.Evidence) == 0 {
		return nil, fmt.Errorf("relation %s has no evidence", r.ID)
	}

	params := map[string]any{
		"id":     r.ID.String(),
		"source": r.SourceID.String(),
		"target": r.TargetID.String(),
	}

	stored, err := s.write(ctx, func(tx neo4j.Transaction) (any, error) {
		locked, err := collectProps(tx, `
			OPTIONAL MATCH (s:Entity {id: $source})
			OPTIONAL MATCH (t:Entity {id: $target})
			FOREACH (n IN [x IN [s, t] WHERE x IS NOT NULL] | SET n._lock = true)
			RETURN {source: s IS NOT NULL, target: t IS NOT NULL}`, params)
		if err != nil {
			return nil, err
		}
		if !locked[0].boolean("source") {
			return nil, fmt.Errorf("relation endpoint: %w", notFound("entity", r.SourceID))
		}
		if !locked[0].boolean("target") {
			return nil, fmt.Errorf("relation endpoint: %w", notFound("entity", r.TargetID))
		}

		chunkIDs := make([]uuid.UUID, 0, len(r.Evidence))
		for _, e := range r.Evidence {
			chunkIDs = append(chunkIDs, e.ChunkID)
		}
		missing, err := collectProps(tx, `
			UNWIND $chunk_ids AS chunk_id
			OPTIONAL MATCH (c:Chunk {id: chunk_id})
			WITH chunk_id, c
			WHERE c IS NULL
			RETURN {id: chunk_id}`,
			map[string]any{"chunk_ids": uuidParams(chunkIDs)})
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("relation evidence: %w", notFound("chunk", missing[0].str("id")))
		}

		existing, err := collectProps(tx, `
			MATCH (:Entity {id: $source})-[r:RELATION {id: $id}]->(:Entity {id: $target})
			RETURN properties(r)`, params)
		if err != nil {
			return nil, err
		}

		var merged *model.Relation
		if len(existing) > 0 {
			merged = relationFromProps(existing[0])
		} else {
			merged = r.Clone()
			merged.Evidence = nil
		}
		merged.Merge(r)

		evidence, err := json.Marshal(merged.Evidence)
		if err != nil {
			return nil, err
		}
		rows, err := collectProps(tx, `
			MATCH (s:Entity {id: $source}), (t:Entity {id: $target})
			MERGE (s)-[r:RELATION {id: $id}]->(t)
			ON CREATE SET r.created_at = $now
			SET r.source_id = $source,
				r.target_id = $target,
				r.type = $type,
				r.confidence = $confidence,
				r.temporal = $temporal,
				r.evidence = $evidence,
				r.updated_at = $now
			REMOVE s._lock, t._lock
			RETURN properties(r)`,
			map[string]any{
				"id":         params["id"],
				"source":     params["source"],
				"target":     params["target"],
				"type":       string(merged.Type),
				"confidence": merged.Confidence,
				"temporal":   optionalString(merged.Temporal),
				"evidence":   string(evidence),
				"now":        time.Now().UTC(),
			})
		if err != nil {
			return nil, err
		}
		return relationFromProps(rows[0]), nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, helper.NewError("upsert relation", err)
	}
	return stored.(*model.Relation), nil
}

// SelectRelation returns the relation or model.ErrNotFound.
func (s *Store) SelectRelation(ctx context.Context, id uuid.UUID) (*model.Relation, error) {
	p, err := s.readOne(ctx, "relation", id, `
		MATCH (:Entity)-[r:RELATION]->(:Entity)
		WHERE r.id = $id
		RETURN properties(r)`)
	if err != nil {
		return nil, err
	}
	return relationFromProps(p), nil
}

// Neighbors returns every relation touching entityID, optionally restricted to types.
func (s *Store) Neighbors(ctx context.Context, entityID uuid.UUID, types []model.RelationType) ([]*model.Relation, error) {
	rows, err := s.readProps(ctx, `
		MATCH (:Entity {id: $id})-[r:RELATION]-(:Entity)
		WHERE size($types) = 0 OR r.type IN $types
		WITH DISTINCT r
		RETURN properties(r)
		ORDER BY r.id`,
		map[string]any{"id": entityID.String(), "types": typeParams(types)})
	if err != nil {
		return nil, err
	}
	return relationsFromProps(rows), nil
}

var relationSortKeys = map[model.RelationSort]string{
	model.RelationSortConfidence: "r.confidence",
	model.RelationSortType:       "r.type",
	model.RelationSortUpdated:    "r.updated_at",
}

// SelectRelations filters, sorts and pages the relations of an entity with
// Cypher SKIP and LIMIT and returns the total count alongside.
func (s *Store) SelectRelations(ctx context.Context, entityID uuid.UUID, query model.RelationQuery) ([]*model.Relation, int, error) {
	query = query.Normalize()

	pattern := "(:Entity {id: $id})-[r:RELATION]-(:Entity)"
	switch query.Direction {
	case model.DirectionOutgoing:
		pattern = "(:Entity {id: $id})-[r:RELATION]->(:Entity)"
	case model.DirectionIncoming:
		pattern = "(:Entity {id: $id})<-[r:RELATION]-(:Entity)"
	}
	sortKey, ok := relationSortKeys[query.SortBy]
	if !ok {
		sortKey = relationSortKeys[model.RelationSortConfidence]
	}
	order := "DESC"
	if query.Order == model.SortAsc {
		order = "ASC"
	}

	match := fmt.Sprintf(`
		MATCH %s
		WHERE (size($types) = 0 OR r.type IN $types) AND r.confidence >= $min_confidence
		WITH DISTINCT r`, pattern)
	params := map[string]any{
		"id":             entityID.String(),
		"types":          typeParams(query.Types),
		"min_confidence": query.MinConfidence,
		"skip":           query.Offset(),
		"limit":          query.PageSize,
	}

	result, err := s.read(ctx, func(tx neo4j.Transaction) (any, error) {
		counted, err := tx.Run(match+` RETURN count(r) AS total`, params)
		if err != nil {
			return nil, err
		}
		record, err := counted.Single()
		if err != nil {
			return nil, err
		}
		total, _ := record.Values[0].(int64)

		rows, err := collectProps(tx, match+fmt.Sprintf(`
			RETURN properties(r)
			ORDER BY %s %s, r.id ASC
			SKIP $skip LIMIT $limit`, sortKey, order), params)
		if err != nil {
			return nil, err
		}
		return relationPage{relations: relationsFromProps(rows), total: int(total)}, nil
	})
	if err != nil {
		return nil, 0, helper.NewError("select relations", err)
	}
	page := result.(relationPage)
	return page.relations, page.total, nil
}

type relationPage struct {
	relations []*model.Relation
	total     int
}

// ShortestPaths runs a bounded allShortestPaths over RELATION in both
// directions. Paths are ordered by the product of their relation confidences.
func (s *Store) ShortestPaths(ctx context.Context, from, to uuid.UUID, maxDepth, maxPaths int, types []model.RelationType) ([]*model.Path, error) {
	if from == to {
		return []*model.Path{{EntityIDs: []uuid.UUID{from}, Relations: []*model.Relation{}, Length: 0, Confidence: 1}}, nil
	}
	if maxDepth < 1 {
		return []*model.Path{}, nil
	}

	cypher := fmt.Sprintf(`
		MATCH (a:Entity {id: $from}), (b:Entity {id: $to})
		MATCH p = allShortestPaths((a)-[:RELATION*..%d]-(b))
		WHERE size($types) = 0 OR all(r IN relationships(p) WHERE r.type IN $types)
		RETURN [n IN nodes(p) | n.id], [r IN relationships(p) | properties(r)]`, maxDepth)

	result, err := s.read(ctx, func(tx neo4j.Transaction) (any, error) {
		res, err := tx.Run(cypher, map[string]any{
			"from":  from.String(),
			"to":    to.String(),
			"types": typeParams(types),
		})
		if err != nil {
			return nil, err
		}
		paths := []*model.Path{}
		for res.Next() {
			values := res.Record().Values
			path := &model.Path{Confidence: 1}
			for _, id := range values[0].([]any) {
				parsed, _ := uuid.Parse(fmt.Sprint(id))
				path.EntityIDs = append(path.EntityIDs, parsed)
			}
			for _, rel := range values[1].([]any) {
				r := relationFromProps(rel.(map[string]any))
				path.Relations = append(path.Relations, r)
				path.Confidence *= r.Confidence
			}
			path.Length = len(path.Relations)
			paths = append(paths, path)
		}
		return paths, res.Err()
	})
	if err != nil {
		return nil, helper.NewError("shortest paths", err)
	}

	paths := result.([]*model.Path)
	slices.SortStableFunc(paths, func(a, b *model.Path) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return strings.Compare(pathKey(a), pathKey(b))
	})
	if maxPaths > 0 && len(paths) > maxPaths {
		paths = paths[:maxPaths]
	}
	return paths, nil
}

func pathKey(p *model.Path) string {
	ids := make([]string, len(p.Relations))
	for i, r := range p.Relations {
		ids[i] = r.ID.String()
	}
	return strings.Join(ids, ",")
}

func relationsFromProps(rows []props) []*model.Relation {
	relations := make([]*model.Relation, 0, len(rows))
	for _, p := range rows {
		relations = append(relations, relationFromProps(p))
	}
	return relations
}

func relationFromProps(p props) *model.Relation {
	r := &model.Relation{
		ID:         p.id("id"),
		SourceID:   p.id("source_id"),
		TargetID:   p.id("target_id"),
		Type:       model.RelationType(p.str("type")),
		Confidence: p.float("confidence"),
		Temporal:   p.strPtr("temporal"),
		CreatedAt:  p.timestamp("created_at"),
		UpdatedAt:  p.timestamp("updated_at"),
	}
	if raw := p.str("evidence"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &r.Evidence)
	}
	return r
}

func typeParams(types []model.RelationType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
