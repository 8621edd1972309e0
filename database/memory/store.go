// Package memory is an in-process graph, vector and provenance store.
// It keeps the same contracts as the Postgres and Neo4j stores and backs tests and single-node demos.
package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/model"
)

// Store holds all records behind one RWMutex. Returned records are copies.
type Store struct {
	mu sync.RWMutex

	documents map[uuid.UUID]*model.Document
	chunks    map[uuid.UUID]*model.Chunk
	docChunks map[uuid.UUID][]uuid.UUID
	mentions  map[uuid.UUID]*model.Mention
	chains    map[uuid.UUID]*model.CoreferenceChain
	edges     map[uuid.UUID]*model.Edge
	entities  map[uuid.UUID]*model.Entity
	relations map[uuid.UUID]*model.Relation
	adjacency map[uuid.UUID][]uuid.UUID
	vectors   map[uuid.UUID]model.VectorPoint

	agents          map[string]*model.Agent
	statements      map[uuid.UUID]*model.ProvenanceStatement
	verifications   map[uuid.UUID][]*model.VerificationRecord
	verificationIDs map[uuid.UUID]bool

	// FailLinkAfter makes ApplyLinkBatch fail after validating n entities. Used by tests.
	FailLinkAfter int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		documents:       make(map[uuid.UUID]*model.Document),
		chunks:          make(map[uuid.UUID]*model.Chunk),
		docChunks:       make(map[uuid.UUID][]uuid.UUID),
		mentions:        make(map[uuid.UUID]*model.Mention),
		chains:          make(map[uuid.UUID]*model.CoreferenceChain),
		edges:           make(map[uuid.UUID]*model.Edge),
		entities:        make(map[uuid.UUID]*model.Entity),
		relations:       make(map[uuid.UUID]*model.Relation),
		adjacency:       make(map[uuid.UUID][]uuid.UUID),
		vectors:         make(map[uuid.UUID]model.VectorPoint),
		agents:          make(map[string]*model.Agent),
		statements:      make(map[uuid.UUID]*model.ProvenanceStatement),
		verifications:   make(map[uuid.UUID][]*model.VerificationRecord),
		verificationIDs: make(map[uuid.UUID]bool),
	}
}

// UpsertDocument inserts doc once. Documents are immutable.
func (s *Store) UpsertDocument(ctx context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.documents[doc.ID]; ok {
		if identity.Normalize(existing.Content) != identity.Normalize(doc.Content) {
			return &model.IdentityCollisionError{ID: doc.ID, Kind: "document"}
		}
		doc.CreatedAt = existing.CreatedAt
		return nil
	}

	stored := *doc
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	doc.CreatedAt = stored.CreatedAt
	s.documents[doc.ID] = &stored
	return nil
}

// SelectDocument returns the document or model.ErrNotFound.
func (s *Store) SelectDocument(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	c := *doc
	return &c, nil
}

// UpsertChunks inserts new chunks and refreshes embeddings of existing ones.
func (s *Store) UpsertChunks(ctx context.Context, chunks []*model.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range chunks {
		if existing, ok := s.chunks[chunk.ID]; ok {
			if existing.Text != chunk.Text {
				return &model.IdentityCollisionError{ID: chunk.ID, Kind: "chunk"}
			}
			if len(chunk.Embedding) > 0 {
				existing.Embedding = slices.Clone(chunk.Embedding)
			}
			continue
		}

		stored := *chunk
		stored.Embedding = slices.Clone(chunk.Embedding)
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
		s.chunks[chunk.ID] = &stored
		s.docChunks[chunk.DocumentID] = append(s.docChunks[chunk.DocumentID], chunk.ID)
	}
	return nil
}

// SelectChunk joins the chunk with its parent document.
func (s *Store) SelectChunk(ctx context.Context, id uuid.UUID) (*model.ChunkWithDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunk, ok := s.chunks[id]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", id, model.ErrNotFound)
	}
	c := *chunk
	result := &model.ChunkWithDocument{Chunk: &c}
	if doc, ok := s.documents[chunk.DocumentID]; ok {
		d := *doc
		result.Document = &d
	}
	return result, nil
}

// SelectChunksByDocument returns the chunks of a document ordered by index.
func (s *Store) SelectChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make([]*model.Chunk, 0, len(s.docChunks[documentID]))
	for _, id := range s.docChunks[documentID] {
		c := *s.chunks[id]
		chunks = append(chunks, &c)
	}
	slices.SortFunc(chunks, func(a, b *model.Chunk) int { return a.Index - b.Index })
	return chunks, nil
}

// DeleteDocument removes a document without its chunks. Used by tests to simulate a broken parent join.
func (s *Store) DeleteDocument(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
}

// LinkedMentions returns the entity of every already linked mention.
func (s *Store) LinkedMentions(ctx context.Context, mentionIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	linked := make(map[uuid.UUID]uuid.UUID)
	for _, id := range mentionIDs {
		if m, ok := s.mentions[id]; ok && m.EntityID != nil {
			linked[id] = *m.EntityID
		}
	}
	return linked, nil
}

// SelectMentionsByDocument returns the mentions of a document ordered by offset.
func (s *Store) SelectMentionsByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mentions []*model.Mention
	for _, m := range s.mentions {
		if m.DocumentID == documentID {
			c := *m
			mentions = append(mentions, &c)
		}
	}
	slices.SortFunc(mentions, func(a, b *model.Mention) int {
		if a.ByteStart != b.ByteStart {
			return a.ByteStart - b.ByteStart
		}
		return a.ByteEnd - b.ByteEnd
	})
	return mentions, nil
}

// SelectEdgesByDocument returns the structural edges of one type created for a document.
func (s *Store) SelectEdgesByDocument(ctx context.Context, documentID uuid.UUID, edgeType model.EdgeType) ([]*model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var edges []*model.Edge
	for _, e := range s.edges {
		if e.DocumentID == documentID && e.EdgeType == edgeType {
			c := *e
			edges = append(edges, &c)
		}
	}
	slices.SortFunc(edges, func(a, b *model.Edge) int { return slices.Compare(a.ID[:], b.ID[:]) })
	return edges, nil
}

// SelectEntity returns the entity or model.ErrNotFound.
func (s *Store) SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, model.ErrNotFound)
	}
	return e.Clone(), nil
}

// SelectEntities returns the existing entities among ids.
func (s *Store) SelectEntities(ctx context.Context, ids []uuid.UUID) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entities := make([]*model.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.entities[id]; ok {
			entities = append(entities, e.Clone())
		}
	}
	return entities, nil
}

// SelectEntitiesByType returns every entity of a type.
func (s *Store) SelectEntitiesByType(ctx context.Context, entityType model.EntityType) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entities []*model.Entity
	for _, e := range s.entities {
		if e.EntityType == entityType {
			entities = append(entities, e.Clone())
		}
	}
	slices.SortFunc(entities, func(a, b *model.Entity) int { return slices.Compare(a.ID[:], b.ID[:]) })
	return entities, nil
}

// SearchEntities matches name against canonical names and aliases.
func (s *Store) SearchEntities(ctx context.Context, name string, limit int) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := identity.NormalizeName(name)
	var entities []*model.Entity
	for _, e := range s.entities {
		if strings.Contains(identity.NormalizeName(e.CanonicalName), needle) || e.HasAlias(needle) {
			entities = append(entities, e.Clone())
		}
	}
	slices.SortFunc(entities, func(a, b *model.Entity) int {
		if a.MentionCount != b.MentionCount {
			return b.MentionCount - a.MentionCount
		}
		return strings.Compare(a.CanonicalName, b.CanonicalName)
	})
	if limit > 0 && len(entities) > limit {
		entities = entities[:limit]
	}
	return entities, nil
}

// ApplyLinkBatch validates the whole batch before writing anything.
func (s *Store) ApplyLinkBatch(ctx context.Context, batch *model.LinkBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range batch.Entities {
		if s.FailLinkAfter > 0 && i >= s.FailLinkAfter {
			return &model.GraphWriteConflictError{Op: "apply link batch", Err: fmt.Errorf("injected failure after %d entities", i)}
		}
		existing, ok := s.entities[e.ID]
		switch {
		case !ok && e.Version != 0:
			return &model.GraphWriteConflictError{Op: "apply link batch", Err: fmt.Errorf("entity %s vanished", e.ID)}
		case ok && existing.Version != e.Version:
			return &model.GraphWriteConflictError{Op: "apply link batch", Err: fmt.Errorf("entity %s version %d, expected %d", e.ID, existing.Version, e.Version)}
		}
	}
	for _, m := range batch.Mentions {
		if _, ok := s.chunks[m.ChunkID]; !ok {
			return fmt.Errorf("mention %s references chunk %s: %w", m.ID, m.ChunkID, model.ErrNotFound)
		}
	}

	now := time.Now().UTC()
	for _, e := range batch.Entities {
		stored := e.Clone()
		stored.Version = e.Version + 1
		stored.UpdatedAt = now
		s.entities[e.ID] = stored
	}
	for _, m := range batch.Mentions {
		if _, ok := s.mentions[m.ID]; ok {
			continue
		}
		c := *m
		s.mentions[m.ID] = &c
	}
	for _, chain := range batch.Chains {
		c := *chain
		c.MentionIDs = slices.Clone(chain.MentionIDs)
		s.chains[chain.ID] = &c
	}
	for _, edge := range batch.Edges {
		if _, ok := s.edges[edge.ID]; ok {
			continue
		}
		c := *edge
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		s.edges[edge.ID] = &c
	}
	return nil
}

// UpsertRelation merges r into the stored relation with the same ID.
func (s *Store) UpsertRelation(ctx context.Context, r *model.Relation) (*model.Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range []uuid.UUID{r.SourceID, r.TargetID} {
		if _, ok := s.entities[id]; !ok {
			return nil, fmt.Errorf("relation endpoint %s: %w", id, model.ErrNotFound)
		}
	}
	if len(r.Evidence) == 0 {
		return nil, fmt.Errorf("relation %s has no evidence", r.ID)
	}
	for _, e := range r.Evidence {
		if _, ok := s.chunks[e.ChunkID]; !ok {
			return nil, fmt.Errorf("relation evidence chunk %s: %w", e.ChunkID, model.ErrNotFound)
		}
	}

	now := time.Now().UTC()
	existing, ok := s.relations[r.ID]
	if !ok {
		stored := r.Clone()
		stored.Evidence = nil
		stored.Merge(r)
		stored.CreatedAt = now
		stored.UpdatedAt = now
		s.relations[r.ID] = stored
		s.adjacency[r.SourceID] = append(s.adjacency[r.SourceID], r.ID)
		if r.TargetID != r.SourceID {
			s.adjacency[r.TargetID] = append(s.adjacency[r.TargetID], r.ID)
		}
		return stored.Clone(), nil
	}

	existing.Merge(r)
	existing.UpdatedAt = now
	return existing.Clone(), nil
}

// SelectRelation returns the relation or model.ErrNotFound.
func (s *Store) SelectRelation(ctx context.Context, id uuid.UUID) (*model.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.relations[id]
	if !ok {
		return nil, fmt.Errorf("relation %s: %w", id, model.ErrNotFound)
	}
	return r.Clone(), nil
}

// Neighbors returns every relation touching entityID, optionally restricted to types.
func (s *Store) Neighbors(ctx context.Context, entityID uuid.UUID, types []model.RelationType) ([]*model.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var relations []*model.Relation
	for _, id := range s.adjacency[entityID] {
		r := s.relations[id]
		if len(types) > 0 && !slices.Contains(types, r.Type) {
			continue
		}
		relations = append(relations, r.Clone())
	}
	return relations, nil
}

// SelectRelations filters, sorts and pages the relations of an entity.
func (s *Store) SelectRelations(ctx context.Context, entityID uuid.UUID, query model.RelationQuery) ([]*model.Relation, int, error) {
	query = query.Normalize()

	all, err := s.Neighbors(ctx, entityID, query.Types)
	if err != nil {
		return nil, 0, err
	}

	filtered := all[:0]
	for _, r := range all {
		if r.Confidence < query.MinConfidence {
			continue
		}
		if query.Direction == model.DirectionOutgoing && r.SourceID != entityID {
			continue
		}
		if query.Direction == model.DirectionIncoming && r.TargetID != entityID {
			continue
		}
		filtered = append(filtered, r)
	}

	SortRelations(filtered, query.SortBy, query.Order)
	page := model.Paginate(filtered, query.PageRequest)
	return page.Results, len(filtered), nil
}

// SortRelations orders relations by field and order with the ID as final tie-break.
func SortRelations(relations []*model.Relation, field model.RelationSort, order model.SortOrder) {
	slices.SortFunc(relations, func(a, b *model.Relation) int {
		c := 0
		switch field {
		case model.RelationSortType:
			c = strings.Compare(string(a.Type), string(b.Type))
		case model.RelationSortUpdated:
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			switch {
			case a.Confidence < b.Confidence:
				c = -1
			case a.Confidence > b.Confidence:
				c = 1
			}
		}
		if order == model.SortDesc {
			c = -c
		}
		if c == 0 {
			c = slices.Compare(a.ID[:], b.ID[:])
		}
		return c
	})
}

// UpsertVectors stores or replaces points.
func (s *Store) UpsertVectors(ctx context.Context, points []model.VectorPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		p.Vector = slices.Clone(p.Vector)
		s.vectors[p.ID] = p
	}
	return nil
}

// Query ranks stored points by cosine similarity.
func (s *Store) Query(ctx context.Context, vector []float32, limit int, filter *model.VectorFilter) ([]model.VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []model.VectorHit
	for id, p := range s.vectors {
		if !matchesFilter(id, p.Metadata, filter) {
			continue
		}
		hits = append(hits, model.VectorHit{
			ID:       id,
			Score:    cosine(vector, p.Vector),
			Metadata: p.Metadata,
		})
	}
	slices.SortFunc(hits, func(a, b model.VectorHit) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func matchesFilter(id uuid.UUID, metadata model.Metadata, filter *model.VectorFilter) bool {
	if filter == nil {
		return true
	}
	if len(filter.ChunkIDs) > 0 && !slices.Contains(filter.ChunkIDs, id) {
		return false
	}
	if len(filter.DocumentIDs) > 0 {
		docID, err := uuid.Parse(metadata.String("document_id"))
		if err != nil || !slices.Contains(filter.DocumentIDs, docID) {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
