package pipeline

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detect(t *testing.T, documentID uuid.UUID, text string) []*model.Mention {
	t.Helper()
	mentions, err := NewRuleExtractor(nil).Extract(context.Background(), text)
	require.NoError(t, err)
	for _, m := range mentions {
		m.ID = identity.MentionID(documentID, m.ByteStart, m.ByteEnd)
		m.DocumentID = documentID
	}
	return mentions
}

func TestCorefResolver(t *testing.T) {
	resolver := NewCorefResolver(nil)

	t.Run("Nominal resolves to the company, ambiguous pronoun stays unresolved", func(t *testing.T) {
		text := "OpenAI announced GPT-4. The company said it was a major step."
		documentID := identity.DocumentID(text)

		mentions, chains := resolver.Resolve(documentID, text, detect(t, documentID, text))
		require.Len(t, chains, 1)
		assert.Len(t, mentions, 3, "Expected OpenAI, GPT-4 and the company")

		chain := chains[0]
		assert.Equal(t, model.EntityTypeOrganization, chain.EntityType)
		assert.Len(t, chain.MentionIDs, 2)
		assert.Equal(t, identity.MentionID(documentID, 0, 6), chain.RepresentativeID)

		nominal := mentions[2]
		assert.Equal(t, "The company", nominal.SurfaceText)
		assert.Equal(t, model.MentionKindNominal, nominal.Kind)
		require.NotNil(t, nominal.CorefChainID)
		assert.Equal(t, chain.ID, *nominal.CorefChainID)
	})

	t.Run("Surname and unique pronoun join the person", func(t *testing.T) {
		text := "Sam Altman spoke on Monday. Altman said he was optimistic."
		documentID := identity.DocumentID(text)

		mentions, chains := resolver.Resolve(documentID, text, detect(t, documentID, text))
		require.Len(t, chains, 1)
		assert.Len(t, chains[0].MentionIDs, 3)
		assert.Equal(t, model.EntityTypePerson, chains[0].EntityType)

		kinds := map[model.MentionKind]int{}
		for _, m := range mentions {
			kinds[m.Kind]++
			assert.Equal(t, model.EntityTypePerson, m.EntityType)
		}
		assert.Equal(t, 2, kinds[model.MentionKindName])
		assert.Equal(t, 1, kinds[model.MentionKindPronoun])
	})

	t.Run("Pronoun without referent in reach is dropped", func(t *testing.T) {
		text := "Sam Altman spoke. The weather was cold. After a while he left."
		documentID := identity.DocumentID(text)

		mentions, chains := resolver.Resolve(documentID, text, detect(t, documentID, text))
		assert.Empty(t, chains)
		assert.Len(t, mentions, 1)
	})

	t.Run("Coref edges point at the representative", func(t *testing.T) {
		text := "OpenAI announced GPT-4. The company said it was a major step."
		documentID := identity.DocumentID(text)
		_, chains := resolver.Resolve(documentID, text, detect(t, documentID, text))

		edges := CorefEdges(chains)
		require.Len(t, edges, 1)
		assert.Equal(t, model.EdgeTypeCorefWith, edges[0].EdgeType)
		assert.Equal(t, chains[0].RepresentativeID, edges[0].TargetID)
	})
}
