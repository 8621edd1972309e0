package database

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraphStore(t *testing.T) {
	t.Run("Valid call NewGraphStore", func(t *testing.T) {
		store := initStore(t)
		assert.NotNil(t, store.Documents)
		assert.NotNil(t, store.Chunks)
		assert.NotNil(t, store.Entities)
		assert.NotNil(t, store.Mentions)
		assert.NotNil(t, store.Edges)
		assert.NotNil(t, store.Relations)
		assert.NotNil(t, store.Provenance)
	})

	t.Run("Invalid call NewGraphStore with nil database", func(t *testing.T) {
		_, err := NewGraphStore(nil, testDimensions, false)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "database connection is nil")
	})
}

func TestSelectChunkWithDocument(t *testing.T) {
	store := initStore(t)
	ctx := context.Background()

	doc, chunk := seedDocument(t, store, "Joined chunk text for the citation lookup.")

	t.Run("Chunk joined with its document", func(t *testing.T) {
		joined, err := store.SelectChunk(ctx, chunk.ID)
		require.NoError(t, err)
		require.NotNil(t, joined.Document)
		assert.Equal(t, doc.ID, joined.Document.ID)
		assert.Equal(t, chunk.Text, joined.Chunk.Text)
	})

	t.Run("Orphan chunk has no document", func(t *testing.T) {
		orphanDoc := uuid.New()
		orphan := &model.Chunk{
			ID:         identity.ChunkID(orphanDoc, 0, 6),
			DocumentID: orphanDoc,
			Text:       "orphan",
			ByteEnd:    6,
		}
		require.NoError(t, store.UpsertChunks(ctx, []*model.Chunk{orphan}))

		joined, err := store.SelectChunk(ctx, orphan.ID)
		require.NoError(t, err)
		assert.Nil(t, joined.Document)
	})

	t.Run("Missing chunk is not found", func(t *testing.T) {
		_, err := store.SelectChunk(ctx, uuid.New())
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestApplyLinkBatch(t *testing.T) {
	store := initStore(t)
	ctx := context.Background()

	content := "Marie Curie worked in Paris. She won the Nobel Prize."
	doc, chunk := seedDocument(t, store, content)
	curie := newEntity("Marie Curie", model.EntityTypePerson)

	name := &model.Mention{
		ID:          identity.MentionID(doc.ID, 0, 11),
		DocumentID:  doc.ID,
		ChunkID:     chunk.ID,
		SurfaceText: "Marie Curie",
		EntityType:  model.EntityTypePerson,
		Kind:        model.MentionKindName,
		ByteEnd:     11,
		Score:       0.95,
		EntityID:    &curie.ID,
	}
	pronoun := &model.Mention{
		ID:          identity.MentionID(doc.ID, 29, 32),
		DocumentID:  doc.ID,
		ChunkID:     chunk.ID,
		SurfaceText: "She",
		EntityType:  model.EntityTypePerson,
		Kind:        model.MentionKindPronoun,
		ByteStart:   29,
		ByteEnd:     32,
		Score:       0.8,
		EntityID:    &curie.ID,
	}
	chain := &model.CoreferenceChain{
		ID:               identity.ChainID(doc.ID, name.ID),
		DocumentID:       doc.ID,
		RepresentativeID: name.ID,
		EntityType:       model.EntityTypePerson,
		MentionIDs:       []uuid.UUID{name.ID, pronoun.ID},
	}
	edge := &model.Edge{
		ID:         identity.EdgeID(model.EdgeTypeCorefWith, pronoun.ID, name.ID),
		SourceID:   pronoun.ID,
		TargetID:   name.ID,
		EdgeType:   model.EdgeTypeCorefWith,
		DocumentID: doc.ID,
		Weight:     1,
	}

	t.Run("Batch writes all records", func(t *testing.T) {
		err := store.ApplyLinkBatch(ctx, &model.LinkBatch{
			DocumentID: doc.ID,
			Entities:   []*model.Entity{curie},
			Mentions:   []*model.Mention{name, pronoun},
			Chains:     []*model.CoreferenceChain{chain},
			Edges:      []*model.Edge{edge},
		})
		require.NoError(t, err)

		stored, err := store.SelectEntity(ctx, curie.ID)
		require.NoError(t, err)
		assert.Equal(t, "Marie Curie", stored.CanonicalName)
		assert.Equal(t, 1, stored.Version)
		assert.Equal(t, []string{"marie curie"}, stored.Aliases)

		linked, err := store.LinkedMentions(ctx, []uuid.UUID{name.ID, pronoun.ID, uuid.New()})
		require.NoError(t, err)
		assert.Equal(t, map[uuid.UUID]uuid.UUID{name.ID: curie.ID, pronoun.ID: curie.ID}, linked)

		mentions, err := store.SelectMentionsByDocument(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, mentions, 2)
		assert.Equal(t, name.ID, mentions[0].ID, "Expected mentions ordered by offset")

		edges, err := store.SelectEdgesByDocument(ctx, doc.ID, model.EdgeTypeCorefWith)
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, edge.ID, edges[0].ID)
	})

	t.Run("Update at the read version bumps it", func(t *testing.T) {
		stored, err := store.SelectEntity(ctx, curie.ID)
		require.NoError(t, err)
		stored.MentionCount = 2
		stored.Aliases = append(stored.Aliases, "curie")

		err = store.ApplyLinkBatch(ctx, &model.LinkBatch{DocumentID: doc.ID, Entities: []*model.Entity{stored}})
		require.NoError(t, err)

		updated, err := store.SelectEntity(ctx, curie.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)
		assert.Equal(t, 2, updated.MentionCount)
		assert.Contains(t, updated.Aliases, "curie")
	})

	t.Run("Stale version conflicts and writes nothing", func(t *testing.T) {
		stale := newEntity("Marie Curie", model.EntityTypePerson)
		stale.Version = 1
		fresh := newEntity("Pierre Curie", model.EntityTypePerson)

		err := store.ApplyLinkBatch(ctx, &model.LinkBatch{DocumentID: doc.ID, Entities: []*model.Entity{fresh, stale}})
		assert.True(t, model.IsConflict(err), "Expected a graph write conflict, got %v", err)

		_, err = store.SelectEntity(ctx, fresh.ID)
		assert.ErrorIs(t, err, model.ErrNotFound, "Expected the batch to be rolled back")
	})

	t.Run("Inserting an existing entity conflicts", func(t *testing.T) {
		again := newEntity("Marie Curie", model.EntityTypePerson)
		err := store.ApplyLinkBatch(ctx, &model.LinkBatch{DocumentID: doc.ID, Entities: []*model.Entity{again}})
		assert.True(t, model.IsConflict(err), "Expected a graph write conflict, got %v", err)
	})

	t.Run("Mention on a missing chunk is not found", func(t *testing.T) {
		lost := *name
		lost.ID = uuid.New()
		lost.ChunkID = uuid.New()
		err := store.ApplyLinkBatch(ctx, &model.LinkBatch{DocumentID: doc.ID, Mentions: []*model.Mention{&lost}})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("Invalid edges roll back the batch", func(t *testing.T) {
		marie := newEntity("Marie Sklodowska", model.EntityTypePerson)
		loop := &model.Edge{ID: uuid.New(), SourceID: name.ID, TargetID: name.ID, EdgeType: model.EdgeTypeCorefWith, DocumentID: doc.ID, Weight: 1}
		unknown := &model.Edge{ID: uuid.New(), SourceID: name.ID, TargetID: marie.ID, EdgeType: "MENTIONS", DocumentID: doc.ID, Weight: 1}

		for _, e := range []*model.Edge{loop, unknown} {
			err := store.ApplyLinkBatch(ctx, &model.LinkBatch{DocumentID: doc.ID, Entities: []*model.Entity{marie}, Edges: []*model.Edge{e}})
			assert.Error(t, err)
		}

		_, err := store.SelectEntity(ctx, marie.ID)
		assert.ErrorIs(t, err, model.ErrNotFound, "Expected the batch to be rolled back")
	})

	t.Run("Search and list entities", func(t *testing.T) {
		found, err := store.SearchEntities(ctx, "The Marie Curie", 5)
		require.NoError(t, err)
		require.NotEmpty(t, found)
		assert.Equal(t, curie.ID, found[0].ID)

		byType, err := store.SelectEntitiesByType(ctx, model.EntityTypePerson)
		require.NoError(t, err)
		ids := make([]uuid.UUID, 0, len(byType))
		for _, e := range byType {
			ids = append(ids, e.ID)
		}
		assert.Contains(t, ids, curie.ID)

		missing := uuid.New()
		entities, err := store.SelectEntities(ctx, []uuid.UUID{missing, curie.ID})
		require.NoError(t, err)
		require.Len(t, entities, 1)
		assert.Equal(t, curie.ID, entities[0].ID)
	})
}

func TestUpsertRelation(t *testing.T) {
	store := initStore(t)
	ctx := context.Background()

	_, chunkA := seedDocument(t, store, "Globex was founded by Hank Scorpio in Cypress Creek.")
	_, chunkB := seedDocument(t, store, "Hank Scorpio founded Globex and later moved it.")

	globex := newEntity("Globex", model.EntityTypeOrganization)
	hank := newEntity("Hank Scorpio", model.EntityTypePerson)
	creek := newEntity("Cypress Creek", model.EntityTypeLocation)
	require.NoError(t, store.ApplyLinkBatch(ctx, &model.LinkBatch{Entities: []*model.Entity{globex, hank, creek}}))

	t.Run("New relation is stored with its evidence", func(t *testing.T) {
		stored, err := store.UpsertRelation(ctx, newRelation(hank, globex, model.RelationFounded, chunkA.ID, 0.6))
		require.NoError(t, err)
		assert.InDelta(t, 0.6, stored.Confidence, 1e-9)
		require.Len(t, stored.Evidence, 1)
		assert.Equal(t, chunkA.ID, stored.Evidence[0].ChunkID)
	})

	t.Run("Same evidence twice is idempotent", func(t *testing.T) {
		stored, err := store.UpsertRelation(ctx, newRelation(hank, globex, model.RelationFounded, chunkA.ID, 0.6))
		require.NoError(t, err)
		assert.Len(t, stored.Evidence, 1)
		assert.InDelta(t, 0.6, stored.Confidence, 1e-9)
	})

	t.Run("New evidence merges with noisy-or", func(t *testing.T) {
		stored, err := store.UpsertRelation(ctx, newRelation(hank, globex, model.RelationFounded, chunkB.ID, 0.5))
		require.NoError(t, err)
		assert.Len(t, stored.Evidence, 2)
		assert.InDelta(t, 0.8, stored.Confidence, 1e-9)

		selected, err := store.SelectRelation(ctx, stored.ID)
		require.NoError(t, err)
		assert.InDelta(t, 0.8, selected.Confidence, 1e-9)
		assert.Len(t, selected.Evidence, 2)
	})

	t.Run("Concurrent upserts of one relation keep all evidence", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, chunkID := range []uuid.UUID{chunkA.ID, chunkB.ID} {
			wg.Add(1)
			go func(i int, chunkID uuid.UUID) {
				defer wg.Done()
				_, errs[i] = store.UpsertRelation(ctx, newRelation(globex, creek, model.RelationLocatedIn, chunkID, 0.5))
			}(i, chunkID)
		}
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		stored, err := store.SelectRelation(ctx, identity.RelationID(globex.ID, model.RelationLocatedIn, creek.ID))
		require.NoError(t, err)
		assert.Len(t, stored.Evidence, 2)
		assert.InDelta(t, 0.75, stored.Confidence, 1e-9)
	})

	t.Run("Missing endpoint is not found", func(t *testing.T) {
		ghost := newEntity("Ghost Corp", model.EntityTypeOrganization)
		_, err := store.UpsertRelation(ctx, newRelation(hank, ghost, model.RelationFounded, chunkA.ID, 0.5))
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("Missing evidence chunk is not found", func(t *testing.T) {
		_, err := store.UpsertRelation(ctx, newRelation(hank, creek, model.RelationLocatedIn, uuid.New(), 0.5))
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("Relation without evidence is rejected", func(t *testing.T) {
		r := newRelation(hank, creek, model.RelationLocatedIn, chunkA.ID, 0.5)
		r.Evidence = nil
		_, err := store.UpsertRelation(ctx, r)
		assert.Error(t, err)
	})

	t.Run("Neighbors and paged relations", func(t *testing.T) {
		neighbors, err := store.Neighbors(ctx, globex.ID, nil)
		require.NoError(t, err)
		assert.Len(t, neighbors, 2)

		founded, err := store.Neighbors(ctx, globex.ID, []model.RelationType{model.RelationFounded})
		require.NoError(t, err)
		require.Len(t, founded, 1)
		assert.Equal(t, hank.ID, founded[0].SourceID)

		page, total, err := store.SelectRelations(ctx, globex.ID, model.RelationQuery{
			PageRequest: model.PageRequest{Page: 1, PageSize: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, page, 1)
		assert.Equal(t, model.RelationFounded, page[0].Type, "Expected the most confident relation first")

		outgoing, total, err := store.SelectRelations(ctx, globex.ID, model.RelationQuery{Direction: model.DirectionOutgoing})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, outgoing, 1)
		assert.Equal(t, model.RelationLocatedIn, outgoing[0].Type)

		confident, total, err := store.SelectRelations(ctx, globex.ID, model.RelationQuery{MinConfidence: 0.78})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, confident, 1)
		assert.Equal(t, model.RelationFounded, confident[0].Type)
	})
}
