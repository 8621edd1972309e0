package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/model"
	"github.com/stretchr/testify/assert"
)

func TestDocumentID(t *testing.T) {
	t.Run("Same content yields same ID", func(t *testing.T) {
		a := DocumentID("OpenAI announced GPT-4.")
		b := DocumentID("OpenAI announced GPT-4.")

		assert.Equal(t, a, b, "Expected identical content to hash identically")
		assert.Equal(t, uuid.Version(5), a.Version(), "Expected a name based UUID")
	})

	t.Run("Whitespace differences collapse", func(t *testing.T) {
		assert.Equal(t, DocumentID("OpenAI  announced\nGPT-4."), DocumentID("  OpenAI announced GPT-4. "), "Expected normalized content to match")
	})

	t.Run("Different content yields different IDs", func(t *testing.T) {
		assert.NotEqual(t, DocumentID("OpenAI announced GPT-4."), DocumentID("OpenAI announced GPT-5."), "Expected different IDs")
	})

	t.Run("Empty content yields sentinel", func(t *testing.T) {
		assert.True(t, IsSentinel(DocumentID("")), "Expected sentinel for empty content")
		assert.True(t, IsSentinel(DocumentID(" \n\t ")), "Expected sentinel for whitespace only content")
	})
}

func TestChunkAndMentionID(t *testing.T) {
	doc := DocumentID("Sam Altman founded OpenAI in 2015.")

	t.Run("Chunk ID depends on range", func(t *testing.T) {
		assert.Equal(t, ChunkID(doc, 0, 100), ChunkID(doc, 0, 100), "Expected stable chunk IDs")
		assert.NotEqual(t, ChunkID(doc, 0, 100), ChunkID(doc, 0, 101), "Expected different ranges to differ")
		assert.NotEqual(t, ChunkID(doc, 0, 100), ChunkID(DocumentID("other"), 0, 100), "Expected different documents to differ")
	})

	t.Run("Mention and chunk spaces differ", func(t *testing.T) {
		assert.NotEqual(t, ChunkID(doc, 0, 10), MentionID(doc, 0, 10), "Expected namespaces to separate record kinds")
	})
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"OpenAI", "openai"},
		{"The Company", "company"},
		{"OpenAI's", "openai"},
		{"  Sam   Altman. ", "sam altman"},
		{"AT&T", "at&t"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in), "Expected normalized name")
		})
	}
}

func TestEntityAndRelationID(t *testing.T) {
	t.Run("Entity ID ignores surface variation", func(t *testing.T) {
		assert.Equal(t, EntityID(model.EntityTypeOrganization, "OpenAI"), EntityID(model.EntityTypeOrganization, "openai's"), "Expected normalized names to match")
		assert.NotEqual(t, EntityID(model.EntityTypeOrganization, "Apple"), EntityID(model.EntityTypeProduct, "Apple"), "Expected type to be part of the key")
	})

	t.Run("Relation ID is directed", func(t *testing.T) {
		a, b := uuid.New(), uuid.New()
		assert.Equal(t, RelationID(a, model.RelationFounded, b), RelationID(a, model.RelationFounded, b), "Expected stable relation IDs")
		assert.NotEqual(t, RelationID(a, model.RelationFounded, b), RelationID(b, model.RelationFounded, a), "Expected direction to matter")
	})
}

func TestStatementID(t *testing.T) {
	t.Run("Case and whitespace variants collapse", func(t *testing.T) {
		a := StatementID("agent-7", "The budget is $4M.")
		b := StatementID("agent-7", "  the   BUDGET is $4m. ")

		assert.Equal(t, a, b, "Expected one statement ID for normalized claims")
	})

	t.Run("Agent is part of the key", func(t *testing.T) {
		assert.NotEqual(t, StatementID("agent-7", "claim"), StatementID("agent-8", "claim"), "Expected different agents to differ")
	})
}

func TestVerificationID(t *testing.T) {
	statement := uuid.New()
	base := model.VerificationRecord{
		StatementID: statement,
		AgentID:     "verifier",
		Verdict:     model.VerdictValidated,
		Confidence:  0.8,
		Findings:    map[string]string{"quote_matches": "yes", "source_reachable": "yes"},
	}

	t.Run("Identical verifications share an ID", func(t *testing.T) {
		other := base
		other.Findings = map[string]string{"source_reachable": "yes", "quote_matches": "yes"}
		assert.Equal(t, VerificationID(&base), VerificationID(&other), "Expected findings order to be irrelevant")
	})

	t.Run("Different verdicts append", func(t *testing.T) {
		other := base
		other.Verdict = model.VerdictChallenged
		assert.NotEqual(t, VerificationID(&base), VerificationID(&other), "Expected verdict to be part of the key")
	})
}
