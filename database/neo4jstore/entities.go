package neo4jstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

// ApplyLinkBatch writes one linking step in a single transaction. New entities
// rely on the id constraint; updates lock the node before comparing versions.
func (s *Store) ApplyLinkBatch(ctx context.Context, batch *model.LinkBatch) error {
	_, err := s.write(ctx, func(tx neo4j.Transaction) (any, error) {
		now := time.Now().UTC()
		for _, e := range batch.Entities {
			if err := writeEntity(tx, e, now); err != nil {
				return nil, err
			}
		}
		for _, m := range batch.Mentions {
			if err := writeMention(tx, m); err != nil {
				return nil, err
			}
		}
		for _, chain := range batch.Chains {
			if _, err := tx.Run(`
				MERGE (c:Chain {id: $id})
				SET c.document_id = $document_id,
					c.representative_id = $representative_id,
					c.entity_type = $entity_type,
					c.mention_ids = $mention_ids`,
				map[string]any{
					"id":                chain.ID.String(),
					"document_id":       chain.DocumentID.String(),
					"representative_id": chain.RepresentativeID.String(),
					"entity_type":       string(chain.EntityType),
					"mention_ids":       uuidParams(chain.MentionIDs),
				}); err != nil {
				return nil, err
			}
		}
		for _, edge := range batch.Edges {
			if _, err := tx.Run(`
				MERGE (e:Edge {id: $id})
				ON CREATE SET
					e.source_id = $source_id,
					e.target_id = $target_id,
					e.edge_type = $edge_type,
					e.document_id = $document_id,
					e.weight = $weight,
					e.metadata = $metadata,
					e.created_at = $now`,
				map[string]any{
					"id":          edge.ID.String(),
					"source_id":   edge.SourceID.String(),
					"target_id":   edge.TargetID.String(),
					"edge_type":   string(edge.EdgeType),
					"document_id": edge.DocumentID.String(),
					"weight":      edge.Weight,
					"metadata":    metadataParam(edge.Metadata),
					"now":         now,
				}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err == nil {
		return nil
	}
	if model.IsConflict(err) || errors.Is(err, model.ErrNotFound) {
		return err
	}
	if isConstraintViolation(err) {
		return &model.GraphWriteConflictError{Op: "apply link batch", Err: err}
	}
	return helper.NewError("apply link batch", err)
}

func writeEntity(tx neo4j.Transaction, e *model.Entity, now time.Time) error {
	params := map[string]any{
		"id":             e.ID.String(),
		"canonical_name": e.CanonicalName,
		"search_name":    identity.NormalizeName(e.CanonicalName),
		"entity_type":    string(e.EntityType),
		"aliases":        e.Aliases,
		"mention_count":  e.MentionCount,
		"confidence":     e.Confidence,
		"metadata":       metadataParam(e.Metadata),
		"version":        e.Version,
		"now":            now,
	}
	if e.Aliases == nil {
		params["aliases"] = []string{}
	}

	if e.Version == 0 {
		firstSeen := e.FirstSeen
		if firstSeen.IsZero() {
			firstSeen = now
		}
		params["first_seen"] = firstSeen.UTC()
		_, err := tx.Run(`
			CREATE (e:Entity {
				id: $id,
				canonical_name: $canonical_name,
				search_name: $search_name,
				entity_type: $entity_type,
				aliases: $aliases,
				first_seen: $first_seen,
				mention_count: $mention_count,
				confidence: $confidence,
				metadata: $metadata,
				version: 1,
				updated_at: $now
			})`, params)
		return err
	}

	// Setting _lock takes the node write lock before the version is compared.
	result, err := tx.Run(`
		MATCH (e:Entity {id: $id})
		SET e._lock = true
		WITH e
		WHERE e.version = $version
		SET e.canonical_name = $canonical_name,
			e.search_name = $search_name,
			e.aliases = $aliases,
			e.mention_count = $mention_count,
			e.confidence = $confidence,
			e.metadata = $metadata,
			e.version = e.version + 1,
			e.updated_at = $now
		REMOVE e._lock
		RETURN e.version`, params)
	if err != nil {
		return err
	}
	if !result.Next() {
		if err := result.Err(); err != nil {
			return err
		}
		return &model.GraphWriteConflictError{
			Op:  "apply link batch",
			Err: fmt.Errorf("entity %s changed since version %d", e.ID, e.Version),
		}
	}
	return nil
}

func writeMention(tx neo4j.Transaction, m *model.Mention) error {
	result, err := tx.Run(`MATCH (c:Chunk {id: $chunk_id}) RETURN c.id`, map[string]any{"chunk_id": m.ChunkID.String()})
	if err != nil {
		return err
	}
	if !result.Next() {
		if err := result.Err(); err != nil {
			return err
		}
		return fmt.Errorf("mention %s: %w", m.ID, notFound("chunk", m.ChunkID))
	}

	_, err = tx.Run(`
		MERGE (m:Mention {id: $id})
		ON CREATE SET
			m.document_id = $document_id,
			m.chunk_id = $chunk_id,
			m.surface_text = $surface_text,
			m.entity_type = $entity_type,
			m.kind = $kind,
			m.byte_start = $byte_start,
			m.byte_end = $byte_end,
			m.score = $score,
			m.coref_chain_id = $coref_chain_id,
			m.entity_id = $entity_id`,
		map[string]any{
			"id":             m.ID.String(),
			"document_id":    m.DocumentID.String(),
			"chunk_id":       m.ChunkID.String(),
			"surface_text":   m.SurfaceText,
			"entity_type":    string(m.EntityType),
			"kind":           string(m.Kind),
			"byte_start":     m.ByteStart,
			"byte_end":       m.ByteEnd,
			"score":          m.Score,
			"coref_chain_id": optionalUUID(m.CorefChainID),
			"entity_id":      optionalUUID(m.EntityID),
		})
	return err
}

// LinkedMentions returns the entity of every already linked mention.
func (s *Store) LinkedMentions(ctx context.Context, mentionIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	rows, err := s.readProps(ctx, `
		MATCH (m:Mention)
		WHERE m.id IN $ids AND m.entity_id IS NOT NULL
		RETURN {id: m.id, entity_id: m.entity_id}`,
		map[string]any{"ids": uuidParams(mentionIDs)})
	if err != nil {
		return nil, err
	}
	linked := make(map[uuid.UUID]uuid.UUID, len(rows))
	for _, p := range rows {
		linked[p.id("id")] = p.id("entity_id")
	}
	return linked, nil
}

// SelectMentionsByDocument returns the mentions of a document ordered by offset.
func (s *Store) SelectMentionsByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Mention, error) {
	rows, err := s.readProps(ctx, `
		MATCH (m:Mention {document_id: $id})
		RETURN properties(m)
		ORDER BY m.byte_start, m.byte_end`,
		map[string]any{"id": documentID.String()})
	if err != nil {
		return nil, err
	}
	mentions := make([]*model.Mention, 0, len(rows))
	for _, p := range rows {
		mentions = append(mentions, &model.Mention{
			ID:           p.id("id"),
			DocumentID:   p.id("document_id"),
			ChunkID:      p.id("chunk_id"),
			SurfaceText:  p.str("surface_text"),
			EntityType:   model.EntityType(p.str("entity_type")),
			Kind:         model.MentionKind(p.str("kind")),
			ByteStart:    p.integer("byte_start"),
			ByteEnd:      p.integer("byte_end"),
			Score:        p.float("score"),
			CorefChainID: p.idPtr("coref_chain_id"),
			EntityID:     p.idPtr("entity_id"),
		})
	}
	return mentions, nil
}

// SelectEdgesByDocument returns the structural edges of one type created for a document.
func (s *Store) SelectEdgesByDocument(ctx context.Context, documentID uuid.UUID, edgeType model.EdgeType) ([]*model.Edge, error) {
	rows, err := s.readProps(ctx, `
		MATCH (e:Edge {document_id: $id, edge_type: $edge_type})
		RETURN properties(e)
		ORDER BY e.id`,
		map[string]any{"id": documentID.String(), "edge_type": string(edgeType)})
	if err != nil {
		return nil, err
	}
	edges := make([]*model.Edge, 0, len(rows))
	for _, p := range rows {
		edges = append(edges, &model.Edge{
			ID:         p.id("id"),
			SourceID:   p.id("source_id"),
			TargetID:   p.id("target_id"),
			EdgeType:   model.EdgeType(p.str("edge_type")),
			DocumentID: p.id("document_id"),
			Weight:     p.float("weight"),
			Metadata:   p.metadata("metadata"),
			CreatedAt:  p.timestamp("created_at"),
		})
	}
	return edges, nil
}

// SelectEntity returns the entity or model.ErrNotFound.
func (s *Store) SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	p, err := s.readOne(ctx, "entity", id, `MATCH (e:Entity {id: $id}) RETURN properties(e)`)
	if err != nil {
		return nil, err
	}
	return entityFromProps(p), nil
}

// SelectEntities returns the existing entities among ids in the order of ids.
func (s *Store) SelectEntities(ctx context.Context, ids []uuid.UUID) ([]*model.Entity, error) {
	return s.queryEntities(ctx, `
		UNWIND range(0, size($ids) - 1) AS i
		MATCH (e:Entity {id: $ids[i]})
		RETURN properties(e)
		ORDER BY i`,
		map[string]any{"ids": uuidParams(ids)})
}

// SelectEntitiesByType returns every entity of a type.
func (s *Store) SelectEntitiesByType(ctx context.Context, entityType model.EntityType) ([]*model.Entity, error) {
	return s.queryEntities(ctx, `
		MATCH (e:Entity {entity_type: $entity_type})
		RETURN properties(e)
		ORDER BY e.id`,
		map[string]any{"entity_type": string(entityType)})
}

// SearchEntities matches the normalized name against canonical names and aliases.
func (s *Store) SearchEntities(ctx context.Context, name string, limit int) ([]*model.Entity, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.queryEntities(ctx, `
		MATCH (e:Entity)
		WHERE e.search_name CONTAINS $needle OR $needle IN e.aliases
		RETURN properties(e)
		ORDER BY e.mention_count DESC, e.canonical_name
		LIMIT $limit`,
		map[string]any{"needle": identity.NormalizeName(name), "limit": limit})
}

func (s *Store) queryEntities(ctx context.Context, cypher string, params map[string]any) ([]*model.Entity, error) {
	rows, err := s.readProps(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	entities := make([]*model.Entity, 0, len(rows))
	for _, p := range rows {
		entities = append(entities, entityFromProps(p))
	}
	return entities, nil
}

func entityFromProps(p props) *model.Entity {
	return &model.Entity{
		ID:            p.id("id"),
		CanonicalName: p.str("canonical_name"),
		EntityType:    model.EntityType(p.str("entity_type")),
		Aliases:       p.stringList("aliases"),
		FirstSeen:     p.timestamp("first_seen"),
		MentionCount:  p.integer("mention_count"),
		Confidence:    p.float("confidence"),
		Metadata:      p.metadata("metadata"),
		Version:       p.integer("version"),
		UpdatedAt:     p.timestamp("updated_at"),
	}
}
