package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/database/memory"
	"github.com/siherrmann/citegraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reasonerFixture struct {
	store    *memory.Store
	reasoner *Reasoner
	chunk    *model.Chunk
	ids      map[string]uuid.UUID
}

func newReasonerFixture(t *testing.T) *reasonerFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	text := "Sam Altman co-founded OpenAI. Microsoft invested in OpenAI."
	doc := &model.Document{ID: identity.DocumentID(text), Content: text, SourceURI: "https://example.com/a"}
	require.NoError(t, store.UpsertDocument(ctx, doc))
	chunk := &model.Chunk{ID: identity.ChunkID(doc.ID, 0, len(text)), DocumentID: doc.ID, Text: text, ByteEnd: len(text)}
	require.NoError(t, store.UpsertChunks(ctx, []*model.Chunk{chunk}))

	f := &reasonerFixture{store: store, chunk: chunk, ids: map[string]uuid.UUID{}}
	batch := &model.LinkBatch{DocumentID: doc.ID}
	for _, e := range []struct {
		name string
		typ  model.EntityType
	}{
		{"Sam Altman", model.EntityTypePerson},
		{"OpenAI", model.EntityTypeOrganization},
		{"Microsoft", model.EntityTypeOrganization},
		{"San Francisco", model.EntityTypeLocation},
		{"Redmond", model.EntityTypeLocation},
	} {
		id := identity.EntityID(e.typ, e.name)
		f.ids[e.name] = id
		batch.Entities = append(batch.Entities, &model.Entity{ID: id, CanonicalName: e.name, EntityType: e.typ, MentionCount: 1, Confidence: 0.9})
	}
	require.NoError(t, store.ApplyLinkBatch(ctx, batch))

	f.relate(t, "Sam Altman", model.RelationFounded, "OpenAI", 0, 0.95)
	f.relate(t, "Microsoft", model.RelationAcquired, "OpenAI", 30, 0.7)
	f.relate(t, "OpenAI", model.RelationLocatedIn, "San Francisco", 40, 0.8)
	f.relate(t, "Microsoft", model.RelationLocatedIn, "Redmond", 50, 0.9)

	f.reasoner = NewReasoner(store, model.DefaultConfig().Reasoning, nil)
	return f
}

func (f *reasonerFixture) relate(t *testing.T, source string, relationType model.RelationType, target string, offset int, confidence float64) {
	t.Helper()
	r := &model.Relation{
		ID:       identity.RelationID(f.ids[source], relationType, f.ids[target]),
		SourceID: f.ids[source],
		TargetID: f.ids[target],
		Type:     relationType,
		Evidence: []model.RelationEvidence{{ChunkID: f.chunk.ID, TriggerStart: offset, TriggerEnd: offset + 5, Confidence: confidence}},
	}
	_, err := f.store.UpsertRelation(context.Background(), r)
	require.NoError(t, err)
}

func TestReasonerRelationships(t *testing.T) {
	f := newReasonerFixture(t)
	ctx := context.Background()
	openai := f.ids["OpenAI"]

	t.Run("All relations ordered by confidence", func(t *testing.T) {
		page, err := f.reasoner.Relationships(ctx, openai, model.RelationQuery{})
		require.NoError(t, err)
		assert.Equal(t, 3, page.TotalCount)
		require.Len(t, page.Results, 3)
		assert.Equal(t, model.RelationFounded, page.Results[0].Type)
		assert.Equal(t, model.RelationAcquired, page.Results[2].Type)
	})

	t.Run("Outgoing only", func(t *testing.T) {
		page, err := f.reasoner.Relationships(ctx, openai, model.RelationQuery{Direction: model.DirectionOutgoing})
		require.NoError(t, err)
		require.Len(t, page.Results, 1)
		assert.Equal(t, model.RelationLocatedIn, page.Results[0].Type)
	})

	t.Run("Second page of size one", func(t *testing.T) {
		page, err := f.reasoner.Relationships(ctx, openai, model.RelationQuery{PageRequest: model.PageRequest{Page: 2, PageSize: 1}})
		require.NoError(t, err)
		assert.Equal(t, 3, page.TotalPages)
		require.Len(t, page.Results, 1)
		assert.Equal(t, model.RelationLocatedIn, page.Results[0].Type)
	})

	t.Run("Min confidence filter", func(t *testing.T) {
		page, err := f.reasoner.Relationships(ctx, openai, model.RelationQuery{MinConfidence: 0.75})
		require.NoError(t, err)
		assert.Equal(t, 2, page.TotalCount)
	})
}

func TestReasonerShortestPaths(t *testing.T) {
	f := newReasonerFixture(t)
	ctx := context.Background()

	t.Run("Path across two organisations", func(t *testing.T) {
		page, err := f.reasoner.ShortestPaths(ctx, f.ids["Sam Altman"], f.ids["Redmond"], model.PathQuery{})
		require.NoError(t, err)
		require.Len(t, page.Results, 1)
		path := page.Results[0]
		assert.Equal(t, 3, path.Length)
		assert.Equal(t, []uuid.UUID{f.ids["Sam Altman"], f.ids["OpenAI"], f.ids["Microsoft"], f.ids["Redmond"]}, path.EntityIDs)
	})

	t.Run("Depth limit yields empty page", func(t *testing.T) {
		page, err := f.reasoner.ShortestPaths(ctx, f.ids["Sam Altman"], f.ids["Redmond"], model.PathQuery{MaxDepth: 2})
		require.NoError(t, err)
		assert.Equal(t, 0, page.TotalCount)
		assert.Empty(t, page.Results)
	})
}

func TestReasonerSubgraph(t *testing.T) {
	f := newReasonerFixture(t)
	ctx := context.Background()

	t.Run("Depth one around OpenAI", func(t *testing.T) {
		sub, err := f.reasoner.Subgraph(ctx, f.ids["OpenAI"], model.SubgraphQuery{Depth: 1})
		require.NoError(t, err)
		assert.Equal(t, 4, sub.NodeCount)
		assert.Equal(t, 3, sub.EdgeCount)
		assert.False(t, sub.Truncated)
		assert.Equal(t, "OpenAI", sub.Nodes.Results[0].CanonicalName, "Expected root first")
	})

	t.Run("Node limit truncates", func(t *testing.T) {
		sub, err := f.reasoner.Subgraph(ctx, f.ids["OpenAI"], model.SubgraphQuery{Depth: 2, MaxNodes: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, sub.NodeCount)
		assert.True(t, sub.Truncated)
	})

	t.Run("Unknown root", func(t *testing.T) {
		_, err := f.reasoner.Subgraph(ctx, uuid.New(), model.SubgraphQuery{})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}
