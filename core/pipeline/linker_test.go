package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/database/memory"
	"github.com/siherrmann/citegraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type linkFixture struct {
	store      *memory.Store
	linker     *Linker
	documentID uuid.UUID
	chunk      *model.Chunk
}

func newLinkFixture(t *testing.T, text string) *linkFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	documentID := identity.DocumentID(text)
	require.NoError(t, store.UpsertDocument(ctx, &model.Document{ID: documentID, Content: text}))
	chunks, err := BuildChunks(documentID, text, []Span{{0, len(text)}})
	require.NoError(t, err)
	require.NoError(t, store.UpsertChunks(ctx, chunks))

	return &linkFixture{
		store:      store,
		linker:     NewLinker(store, model.DefaultConfig().Linker, 3, 0, nil),
		documentID: documentID,
		chunk:      chunks[0],
	}
}

func (f *linkFixture) mention(text, surface string, entityType model.EntityType) *model.Mention {
	start := strings.LastIndex(text, surface)
	return &model.Mention{
		ID:          identity.MentionID(f.documentID, start, start+len(surface)),
		DocumentID:  f.documentID,
		ChunkID:     f.chunk.ID,
		SurfaceText: surface,
		EntityType:  entityType,
		Kind:        model.MentionKindName,
		ByteStart:   start,
		ByteEnd:     start + len(surface),
		Score:       0.9,
	}
}

func TestLinker(t *testing.T) {
	ctx := context.Background()

	t.Run("New mention creates an entity", func(t *testing.T) {
		text := "OpenAI released a model."
		f := newLinkFixture(t, text)
		m := f.mention(text, "OpenAI", model.EntityTypeOrganization)

		stats, err := f.linker.Link(ctx, f.documentID, []*model.Mention{m}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.EntitiesCreated)
		require.NotNil(t, m.EntityID)

		e, err := f.store.SelectEntity(ctx, *m.EntityID)
		require.NoError(t, err)
		assert.Equal(t, "OpenAI", e.CanonicalName)
		assert.Equal(t, 1, e.MentionCount)
		assert.InDelta(t, 0.9, e.Confidence, 1e-9)
	})

	t.Run("Linking the same mentions again is a no-op", func(t *testing.T) {
		text := "OpenAI released a model."
		f := newLinkFixture(t, text)
		m := f.mention(text, "OpenAI", model.EntityTypeOrganization)
		_, err := f.linker.Link(ctx, f.documentID, []*model.Mention{m}, nil)
		require.NoError(t, err)

		again := f.mention(text, "OpenAI", model.EntityTypeOrganization)
		stats, err := f.linker.Link(ctx, f.documentID, []*model.Mention{again}, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.NewMentions)
		assert.Equal(t, *m.EntityID, *again.EntityID)

		e, err := f.store.SelectEntity(ctx, *m.EntityID)
		require.NoError(t, err)
		assert.Equal(t, 1, e.MentionCount)
	})

	t.Run("Fuzzy match above threshold merges, below creates", func(t *testing.T) {
		text := "Microsoft Corporation and Microsoft Corporatio and Mikrosaft met."
		f := newLinkFixture(t, text)
		first := f.mention(text, "Microsoft Corporation", model.EntityTypeOrganization)
		_, err := f.linker.Link(ctx, f.documentID, []*model.Mention{first}, nil)
		require.NoError(t, err)
		before, err := f.store.SelectEntity(ctx, *first.EntityID)
		require.NoError(t, err)

		typo := f.mention(text, "Microsoft Corporatio", model.EntityTypeOrganization)
		far := f.mention(text, "Mikrosaft", model.EntityTypeOrganization)
		stats, err := f.linker.Link(ctx, f.documentID, []*model.Mention{typo, far}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.EntitiesMerged)
		assert.Equal(t, 1, stats.EntitiesCreated)
		assert.Equal(t, *first.EntityID, *typo.EntityID)
		assert.NotEqual(t, *first.EntityID, *far.EntityID)

		after, err := f.store.SelectEntity(ctx, *first.EntityID)
		require.NoError(t, err)
		assert.Equal(t, 2, after.MentionCount)
		assert.GreaterOrEqual(t, after.Confidence, before.Confidence, "Expected confidence never to decrease")
		assert.True(t, after.HasAlias("microsoft corporatio"))
	})

	t.Run("Different types never merge", func(t *testing.T) {
		text := "Paris met Paris."
		f := newLinkFixture(t, text)
		person := f.mention(text, "Paris", model.EntityTypePerson)
		place := &model.Mention{
			ID: identity.MentionID(f.documentID, 10, 15), DocumentID: f.documentID, ChunkID: f.chunk.ID,
			SurfaceText: "Paris", EntityType: model.EntityTypeLocation, Kind: model.MentionKindName, ByteStart: 10, ByteEnd: 15,
		}
		stats, err := f.linker.Link(ctx, f.documentID, []*model.Mention{person, place}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.EntitiesCreated)
		assert.NotEqual(t, *person.EntityID, *place.EntityID)
	})

	t.Run("Chain members link to one entity and count as mentions", func(t *testing.T) {
		text := "OpenAI announced GPT-4. The company said it was a major step."
		f := newLinkFixture(t, text)
		mentions, chains := NewCorefResolver(nil).Resolve(f.documentID, text, detect(t, f.documentID, text))
		for _, m := range mentions {
			m.ChunkID = f.chunk.ID
		}

		_, err := f.linker.Link(ctx, f.documentID, mentions, chains)
		require.NoError(t, err)

		openai, err := f.store.SelectEntity(ctx, identity.EntityID(model.EntityTypeOrganization, "OpenAI"))
		require.NoError(t, err)
		assert.Equal(t, 2, openai.MentionCount)

		edges, err := f.store.SelectEdgesByDocument(ctx, f.documentID, model.EdgeTypeLinkedTo)
		require.NoError(t, err)
		assert.Len(t, edges, 3)
	})

	t.Run("Failed batch leaves no partial entities", func(t *testing.T) {
		text := "Google and Amazon."
		f := newLinkFixture(t, text)
		f.store.FailLinkAfter = 1
		mentions := []*model.Mention{
			f.mention(text, "Google", model.EntityTypeOrganization),
			f.mention(text, "Amazon", model.EntityTypeOrganization),
		}
		_, err := f.linker.Link(ctx, f.documentID, mentions, nil)
		require.Error(t, err)

		entities, err := f.store.SelectEntitiesByType(ctx, model.EntityTypeOrganization)
		require.NoError(t, err)
		assert.Empty(t, entities)
	})

	t.Run("Noisy-or rule never decreases confidence", func(t *testing.T) {
		config := model.DefaultConfig().Linker
		config.ConfidenceRule = model.ConfidenceNoisyOr
		l := NewLinker(nil, config, 1, 0, nil)
		e := &model.Entity{Confidence: 0.6, MentionCount: 3}
		l.absorb(e, 0.5, 1)
		assert.InDelta(t, 0.8, e.Confidence, 1e-9)
	})

	t.Run("Running average never decreases confidence", func(t *testing.T) {
		l := NewLinker(nil, model.DefaultConfig().Linker, 1, 0, nil)
		e := &model.Entity{Confidence: 0.9, MentionCount: 1}
		l.absorb(e, 0.5, 1)
		assert.InDelta(t, 0.9, e.Confidence, 1e-9)

		e = &model.Entity{Confidence: 0.5, MentionCount: 1}
		l.absorb(e, 1, 1)
		assert.InDelta(t, 0.75, e.Confidence, 1e-9)
	})
}

func TestLinkerTieBreak(t *testing.T) {
	ctx := context.Background()
	text := "Acme Corp."
	f := newLinkFixture(t, text)

	// Two stored entities at the same distance from "acme corx".
	low := &model.Entity{ID: identity.EntityID(model.EntityTypeOrganization, "acme cory"), CanonicalName: "Acme Cory", EntityType: model.EntityTypeOrganization, MentionCount: 1}
	high := &model.Entity{ID: identity.EntityID(model.EntityTypeOrganization, "acme corz"), CanonicalName: "Acme Corz", EntityType: model.EntityTypeOrganization, MentionCount: 7}
	require.NoError(t, f.store.ApplyLinkBatch(ctx, &model.LinkBatch{Entities: []*model.Entity{low, high}}))

	m := f.mention(text, "Acme Corp", model.EntityTypeOrganization)
	m.SurfaceText = "Acme Corx"
	stats, err := f.linker.Link(ctx, f.documentID, []*model.Mention{m}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Ambiguous)
	assert.Equal(t, high.ID, *m.EntityID, "Expected the candidate with more mentions")
}
