package graph

import (
	"context"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/model"
)

// Neighborer is the narrow view traversal needs: the relations touching an entity.
type Neighborer interface {
	Neighbors(ctx context.Context, entityID uuid.UUID, types []model.RelationType) ([]*model.Relation, error)
}

// Store is the property-graph backend. Every write is an idempotent upsert keyed
// by deterministic IDs. Lookups of missing records return model.ErrNotFound.
type Store interface {
	Neighborer

	UpsertDocument(ctx context.Context, doc *model.Document) error
	SelectDocument(ctx context.Context, id uuid.UUID) (*model.Document, error)

	UpsertChunks(ctx context.Context, chunks []*model.Chunk) error
	// SelectChunk joins the chunk with its parent document. Document is nil
	// when the parent is missing; the chunk itself must exist.
	SelectChunk(ctx context.Context, id uuid.UUID) (*model.ChunkWithDocument, error)
	SelectChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Chunk, error)

	// LinkedMentions returns the entity each already linked mention points to.
	LinkedMentions(ctx context.Context, mentionIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
	SelectMentionsByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Mention, error)
	SelectEdgesByDocument(ctx context.Context, documentID uuid.UUID, edgeType model.EdgeType) ([]*model.Edge, error)

	SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error)
	SelectEntities(ctx context.Context, ids []uuid.UUID) ([]*model.Entity, error)
	SelectEntitiesByType(ctx context.Context, entityType model.EntityType) ([]*model.Entity, error)
	SearchEntities(ctx context.Context, name string, limit int) ([]*model.Entity, error)

	// ApplyLinkBatch writes a linking step atomically. Entities carry the Version
	// they were read at; a stale version fails the whole batch with a
	// model.GraphWriteConflictError and nothing is written.
	ApplyLinkBatch(ctx context.Context, batch *model.LinkBatch) error

	// UpsertRelation merges r into the relation with the same ID and returns the stored state.
	UpsertRelation(ctx context.Context, r *model.Relation) (*model.Relation, error)
	SelectRelation(ctx context.Context, id uuid.UUID) (*model.Relation, error)
	// SelectRelations returns one page of an entity's relations and the total count.
	SelectRelations(ctx context.Context, entityID uuid.UUID, query model.RelationQuery) ([]*model.Relation, int, error)
}

// PathFinder is implemented by stores able to run bounded shortest path queries natively.
type PathFinder interface {
	ShortestPaths(ctx context.Context, from, to uuid.UUID, maxDepth, maxPaths int, types []model.RelationType) ([]*model.Path, error)
}

// VectorStore is the similarity index over chunk embeddings.
type VectorStore interface {
	UpsertVectors(ctx context.Context, points []model.VectorPoint) error
	Query(ctx context.Context, vector []float32, limit int, filter *model.VectorFilter) ([]model.VectorHit, error)
}
