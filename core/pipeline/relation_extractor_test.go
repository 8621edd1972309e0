package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linked builds a linked mention of surface, searched from byte offset from.
func linked(t *testing.T, chunk *model.Chunk, surface string, from int, entityType model.EntityType) *model.Mention {
	t.Helper()
	i := strings.Index(chunk.Text[from:], surface)
	require.GreaterOrEqual(t, i, 0, "surface %q not found", surface)
	start := chunk.ByteStart + from + i
	entityID := identity.EntityID(entityType, surface)
	return &model.Mention{
		ID:          identity.MentionID(chunk.DocumentID, start, start+len(surface)),
		DocumentID:  chunk.DocumentID,
		ChunkID:     chunk.ID,
		EntityID:    &entityID,
		SurfaceText: surface,
		EntityType:  entityType,
		Kind:        model.MentionKindName,
		ByteStart:   start,
		ByteEnd:     start + len(surface),
	}
}

func singleChunk(t *testing.T, text string) *model.Chunk {
	t.Helper()
	chunks, err := BuildChunks(identity.DocumentID(text), text, []Span{{0, len(text)}})
	require.NoError(t, err)
	return chunks[0]
}

func TestRelationExtractor(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	extractor := NewRelationExtractor(catalog, model.DefaultConfig().Relation)

	samAltman := identity.EntityID(model.EntityTypePerson, "Sam Altman")
	openAI := identity.EntityID(model.EntityTypeOrganization, "OpenAI")

	t.Run("Active founding with a year", func(t *testing.T) {
		chunk := singleChunk(t, "Sam Altman founded OpenAI in 2015.")
		mentions := []*model.Mention{
			linked(t, chunk, "Sam Altman", 0, model.EntityTypePerson),
			linked(t, chunk, "OpenAI", 0, model.EntityTypeOrganization),
		}

		relations := extractor.Extract(chunk, mentions)
		require.Len(t, relations, 1)
		r := relations[0]
		assert.Equal(t, model.RelationFounded, r.Type)
		assert.Equal(t, samAltman, r.SourceID)
		assert.Equal(t, openAI, r.TargetID)
		assert.Equal(t, identity.RelationID(samAltman, model.RelationFounded, openAI), r.ID)
		require.NotNil(t, r.Temporal)
		assert.Equal(t, "2015", *r.Temporal)
		assert.GreaterOrEqual(t, r.Confidence, 0.9)

		require.Len(t, r.Evidence, 1)
		assert.Equal(t, "founded", r.Evidence[0].Trigger)
		assert.Equal(t, chunk.ID, r.Evidence[0].ChunkID)
		assert.Equal(t, []uuid.UUID{mentions[0].ID, mentions[1].ID}, r.Evidence[0].MentionIDs)
	})

	t.Run("Passive founding swaps the arguments", func(t *testing.T) {
		chunk := singleChunk(t, "OpenAI was founded by Sam Altman.")
		mentions := []*model.Mention{
			linked(t, chunk, "OpenAI", 0, model.EntityTypeOrganization),
			linked(t, chunk, "Sam Altman", 0, model.EntityTypePerson),
		}

		relations := extractor.Extract(chunk, mentions)
		require.Len(t, relations, 1, "Expected the active trigger inside the passive phrase to be consumed")
		assert.Equal(t, samAltman, relations[0].SourceID)
		assert.Equal(t, openAI, relations[0].TargetID)
		assert.Equal(t, "was founded by", relations[0].Evidence[0].Trigger)
		assert.Nil(t, relations[0].Temporal)
	})

	t.Run("No trigger, no relation", func(t *testing.T) {
		chunk := singleChunk(t, "OpenAI announced GPT-4. The company said it was a major step.")
		mentions := []*model.Mention{
			linked(t, chunk, "OpenAI", 0, model.EntityTypeOrganization),
			linked(t, chunk, "GPT-4", 0, model.EntityTypeProduct),
		}
		assert.Empty(t, extractor.Extract(chunk, mentions))
	})

	t.Run("Arguments must share the trigger sentence", func(t *testing.T) {
		chunk := singleChunk(t, "Sam Altman was happy. nobody founded anything near OpenAI.")
		mentions := []*model.Mention{
			linked(t, chunk, "Sam Altman", 0, model.EntityTypePerson),
			linked(t, chunk, "OpenAI", 0, model.EntityTypeOrganization),
		}
		assert.Empty(t, extractor.Extract(chunk, mentions))
	})

	t.Run("Type constraints reject incompatible arguments", func(t *testing.T) {
		chunk := singleChunk(t, "Paris founded Berlin.")
		mentions := []*model.Mention{
			linked(t, chunk, "Paris", 0, model.EntityTypeLocation),
			linked(t, chunk, "Berlin", 0, model.EntityTypeLocation),
		}
		assert.Empty(t, extractor.Extract(chunk, mentions))
	})

	t.Run("Unlinked mentions are ignored", func(t *testing.T) {
		chunk := singleChunk(t, "Sam Altman founded OpenAI in 2015.")
		person := linked(t, chunk, "Sam Altman", 0, model.EntityTypePerson)
		person.EntityID = nil
		mentions := []*model.Mention{person, linked(t, chunk, "OpenAI", 0, model.EntityTypeOrganization)}
		assert.Empty(t, extractor.Extract(chunk, mentions))
	})

	t.Run("Weak trigger has lower confidence", func(t *testing.T) {
		chunk := singleChunk(t, "Microsoft took over GitHub in 2018.")
		mentions := []*model.Mention{
			linked(t, chunk, "Microsoft", 0, model.EntityTypeOrganization),
			linked(t, chunk, "GitHub", 0, model.EntityTypeOrganization),
		}
		relations := extractor.Extract(chunk, mentions)
		require.Len(t, relations, 1)
		assert.Equal(t, model.RelationAcquired, relations[0].Type)
		assert.InDelta(t, 0.7, relations[0].Confidence, 1e-9)
	})

	t.Run("Repeated trigger merges into one relation", func(t *testing.T) {
		chunk := singleChunk(t, "Sam Altman founded OpenAI. Sam Altman co-founded OpenAI.")
		second := strings.Index(chunk.Text, ". ") + 2
		mentions := []*model.Mention{
			linked(t, chunk, "Sam Altman", 0, model.EntityTypePerson),
			linked(t, chunk, "OpenAI", 0, model.EntityTypeOrganization),
			linked(t, chunk, "Sam Altman", second, model.EntityTypePerson),
			linked(t, chunk, "OpenAI", second, model.EntityTypeOrganization),
		}
		relations := extractor.Extract(chunk, mentions)
		require.Len(t, relations, 1)
		assert.Len(t, relations[0].Evidence, 2)
		assert.InDelta(t, 1-0.05*0.05, relations[0].Confidence, 1e-9)
	})

	t.Run("Evidence offsets are document offsets", func(t *testing.T) {
		text := "Intro sentence here. Sam Altman founded OpenAI."
		split := strings.Index(text, "Sam")
		chunks, err := BuildChunks(identity.DocumentID(text), text, []Span{{0, split}, {split, len(text)}})
		require.NoError(t, err)
		chunk := chunks[1]
		mentions := []*model.Mention{
			linked(t, chunk, "Sam Altman", 0, model.EntityTypePerson),
			linked(t, chunk, "OpenAI", 0, model.EntityTypeOrganization),
		}

		relations := extractor.Extract(chunk, mentions)
		require.Len(t, relations, 1)
		ev := relations[0].Evidence[0]
		assert.Equal(t, "founded", text[ev.TriggerStart:ev.TriggerEnd])
	})
}

func TestCatalog(t *testing.T) {
	t.Run("Default catalog lists passive patterns first", func(t *testing.T) {
		catalog, err := DefaultCatalog()
		require.NoError(t, err)
		require.NotEmpty(t, catalog.Patterns)

		seenActive := false
		types := map[model.RelationType]bool{}
		for _, p := range catalog.Patterns {
			types[p.Type] = true
			if !p.Passive {
				seenActive = true
				continue
			}
			assert.False(t, seenActive, "Passive pattern %q after an active one", p.Trigger)
		}
		for _, rt := range []model.RelationType{
			model.RelationFounded, model.RelationEmployedBy, model.RelationCites,
			model.RelationLocatedIn, model.RelationAcquired,
		} {
			assert.True(t, types[rt], "Missing patterns for %s", rt)
		}
	})

	t.Run("Invalid catalogs are rejected", func(t *testing.T) {
		cases := map[string]string{
			"not yaml":         "- type: [",
			"missing trigger":  "- type: FOUNDED\n  strength: 0.9\n",
			"strength too big": "- type: FOUNDED\n  trigger: founded\n  strength: 1.5\n",
			"bad regexp":       "- type: FOUNDED\n  trigger: '(founded'\n  strength: 0.9\n",
		}
		for name, data := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := ParseCatalog([]byte(data))
				assert.Error(t, err)
			})
		}
	})

	t.Run("Load catalog from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "patterns.yaml")
		data := "- type: CITES\n  trigger: '\\bsays\\b'\n  strength: 0.8\n"
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

		catalog, err := LoadCatalog(path)
		require.NoError(t, err)
		require.Len(t, catalog.Patterns, 1)
		assert.Equal(t, model.RelationCites, catalog.Patterns[0].Type)

		_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
