package memory

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

func seedDocument(t *testing.T, s *Store, text string) (*model.Document, *model.Chunk) {
	t.Helper()
	ctx := context.Background()
	doc := &model.Document{ID: identity.DocumentID(text), Content: text}
	require.NoError(t, s.UpsertDocument(ctx, doc))
	chunk := &model.Chunk{ID: identity.ChunkID(doc.ID, 0, len(text)), DocumentID: doc.ID, Text: text, ByteEnd: len(text)}
	require.NoError(t, s.UpsertChunks(ctx, []*model.Chunk{chunk}))
	return doc, chunk
}

func TestDocumentsAndChunks(t *testing.T) {
	ctx := context.Background()
	s := New()
	doc, chunk := seedDocument(t, s, "OpenAI was founded in 2015.")

	t.Run("Upsert document twice keeps one record", func(t *testing.T) {
		again := &model.Document{ID: doc.ID, Content: doc.Content}
		require.NoError(t, s.UpsertDocument(ctx, again))
		assert.Equal(t, doc.CreatedAt, again.CreatedAt)
	})

	t.Run("Different content with same ID is a collision", func(t *testing.T) {
		err := s.UpsertDocument(ctx, &model.Document{ID: doc.ID, Content: "something else"})
		var collision *model.IdentityCollisionError
		assert.ErrorAs(t, err, &collision)
	})

	t.Run("Select chunk joins parent document", func(t *testing.T) {
		joined, err := s.SelectChunk(ctx, chunk.ID)
		require.NoError(t, err)
		require.NotNil(t, joined.Document)
		assert.Equal(t, doc.ID, joined.Document.ID)
	})

	t.Run("Missing chunk", func(t *testing.T) {
		_, err := s.SelectChunk(ctx, uuid.New())
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("Re-upserting chunks does not duplicate them", func(t *testing.T) {
		require.NoError(t, s.UpsertChunks(ctx, []*model.Chunk{chunk}))
		chunks, err := s.SelectChunksByDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Len(t, chunks, 1)
	})
}

func TestApplyLinkBatch(t *testing.T) {
	ctx := context.Background()
	s := New()
	doc, chunk := seedDocument(t, s, "OpenAI released GPT-4.")
	entityID := identity.EntityID(model.EntityTypeOrganization, "openai")
	mentionID := identity.MentionID(doc.ID, 0, 6)

	batch := &model.LinkBatch{
		DocumentID: doc.ID,
		Entities:   []*model.Entity{{ID: entityID, CanonicalName: "OpenAI", EntityType: model.EntityTypeOrganization, MentionCount: 1}},
		Mentions:   []*model.Mention{{ID: mentionID, DocumentID: doc.ID, ChunkID: chunk.ID, SurfaceText: "OpenAI", ByteEnd: 6, EntityID: &entityID}},
	}

	t.Run("New entity is stored with version 1", func(t *testing.T) {
		require.NoError(t, s.ApplyLinkBatch(ctx, batch))
		e, err := s.SelectEntity(ctx, entityID)
		require.NoError(t, err)
		assert.Equal(t, 1, e.Version)

		linked, err := s.LinkedMentions(ctx, []uuid.UUID{mentionID, uuid.New()})
		require.NoError(t, err)
		assert.Equal(t, map[uuid.UUID]uuid.UUID{mentionID: entityID}, linked)
	})

	t.Run("Stale version is a conflict and writes nothing", func(t *testing.T) {
		stale := &model.LinkBatch{
			DocumentID: doc.ID,
			Entities:   []*model.Entity{{ID: entityID, CanonicalName: "OpenAI", MentionCount: 5, Version: 0}},
		}
		err := s.ApplyLinkBatch(ctx, stale)
		assert.True(t, model.IsConflict(err), "Expected conflict, got %v", err)

		e, err := s.SelectEntity(ctx, entityID)
		require.NoError(t, err)
		assert.Equal(t, 1, e.MentionCount)
	})

	t.Run("Mention in unknown chunk is rejected", func(t *testing.T) {
		bad := &model.LinkBatch{Mentions: []*model.Mention{{ID: uuid.New(), ChunkID: uuid.New()}}}
		assert.ErrorIs(t, s.ApplyLinkBatch(ctx, bad), model.ErrNotFound)
	})

	t.Run("Concurrent writers on one version, exactly one wins", func(t *testing.T) {
		current, err := s.SelectEntity(ctx, entityID)
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]error, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				e := current.Clone()
				e.MentionCount++
				results[i] = s.ApplyLinkBatch(ctx, &model.LinkBatch{Entities: []*model.Entity{e}})
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range results {
			if err == nil {
				wins++
			} else {
				assert.True(t, model.IsConflict(err))
			}
		}
		assert.Equal(t, 1, wins)
	})
}

func TestRelationsAndVectors(t *testing.T) {
	ctx := context.Background()
	s := New()
	doc, chunk := seedDocument(t, s, "Sam Altman co-founded OpenAI in 2015.")
	sam := identity.EntityID(model.EntityTypePerson, "sam altman")
	openai := identity.EntityID(model.EntityTypeOrganization, "openai")
	require.NoError(t, s.ApplyLinkBatch(ctx, &model.LinkBatch{Entities: []*model.Entity{
		{ID: sam, CanonicalName: "Sam Altman", EntityType: model.EntityTypePerson},
		{ID: openai, CanonicalName: "OpenAI", EntityType: model.EntityTypeOrganization},
	}}))

	relation := &model.Relation{
		ID:       identity.RelationID(sam, model.RelationFounded, openai),
		SourceID: sam,
		TargetID: openai,
		Type:     model.RelationFounded,
		Evidence: []model.RelationEvidence{{ChunkID: chunk.ID, TriggerStart: 11, TriggerEnd: 21, Confidence: 0.9}},
	}

	t.Run("Upserting the same evidence twice is idempotent", func(t *testing.T) {
		first, err := s.UpsertRelation(ctx, relation)
		require.NoError(t, err)
		second, err := s.UpsertRelation(ctx, relation)
		require.NoError(t, err)
		assert.Len(t, second.Evidence, 1)
		assert.Equal(t, first.Confidence, second.Confidence)
		assert.InDelta(t, 0.9, second.Confidence, 1e-9)
	})

	t.Run("Evidence in unknown chunk is rejected", func(t *testing.T) {
		bad := relation.Clone()
		bad.Evidence[0].ChunkID = uuid.New()
		_, err := s.UpsertRelation(ctx, bad)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("Neighbors sees the relation from both ends", func(t *testing.T) {
		fromSam, err := s.Neighbors(ctx, sam, nil)
		require.NoError(t, err)
		fromOpenAI, err := s.Neighbors(ctx, openai, nil)
		require.NoError(t, err)
		assert.Len(t, fromSam, 1)
		assert.Len(t, fromOpenAI, 1)
	})

	t.Run("Vector query ranks by cosine and filters by document", func(t *testing.T) {
		other := uuid.New()
		require.NoError(t, s.UpsertVectors(ctx, []model.VectorPoint{
			{ID: chunk.ID, Vector: []float32{1, 0}, Metadata: model.Metadata{"document_id": doc.ID.String()}},
			{ID: other, Vector: []float32{0.6, 0.8}, Metadata: model.Metadata{"document_id": uuid.NewString()}},
		}))

		hits, err := s.Query(ctx, []float32{1, 0}, 5, nil)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, chunk.ID, hits[0].ID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-9)

		hits, err = s.Query(ctx, []float32{0, 1}, 5, &model.VectorFilter{DocumentIDs: []uuid.UUID{doc.ID}})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, chunk.ID, hits[0].ID)
	})
}
