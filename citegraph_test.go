package citegraph

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/backend"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() model.Config {
	config := model.DefaultConfig()
	config.RetryBackoff = 0
	config.Backends.Dimensions = 64
	return config
}

func initCiteGraph(t *testing.T) *CiteGraph {
	t.Helper()
	g, err := NewCiteGraph(context.Background(), testConfig(), helper.NewLogger(os.Stdout, slog.LevelDebug))
	require.NoError(t, err, "Expected NewCiteGraph to not return an error")
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func reply(text string) backend.Generator {
	return backend.GenerateFunc(func(ctx context.Context, prompt string, opts ...backend.GenerateOption) (string, error) {
		return text, nil
	})
}

func TestNewCiteGraph(t *testing.T) {
	ctx := context.Background()

	t.Run("In-memory defaults", func(t *testing.T) {
		g := initCiteGraph(t)
		assert.NotNil(t, g.Store)
		assert.NotNil(t, g.Vectors)
		assert.NotNil(t, g.Pipeline)
		assert.NotNil(t, g.Engine)
		assert.NotNil(t, g.Reasoner)
		assert.NotNil(t, g.Provenance)
	})

	t.Run("Unknown graph store", func(t *testing.T) {
		config := testConfig()
		config.Store.Graph = "cassandra"
		_, err := NewCiteGraph(ctx, config, nil)
		assert.ErrorContains(t, err, "cassandra")
	})

	t.Run("Postgres vectors need the postgres graph store", func(t *testing.T) {
		config := testConfig()
		config.Store.Vector = StorePostgres
		_, err := NewCiteGraph(ctx, config, nil)
		assert.Error(t, err)
	})

	t.Run("Unknown backend", func(t *testing.T) {
		config := testConfig()
		config.Backends.NER = "spacy"
		_, err := NewCiteGraph(ctx, config, nil)
		assert.ErrorContains(t, err, "spacy")
	})

	t.Run("Remote generators are registered", func(t *testing.T) {
		config := testConfig()
		config.Backends.Generator = "ollama"
		config.Backends.BaseURL = "http://localhost:11434"
		config.Backends.ChatModel = "llama3"
		g, err := NewCiteGraph(ctx, config, nil)
		require.NoError(t, err)
		assert.NotNil(t, g.generator)
		require.NoError(t, g.Close())
	})
}

func TestIngestAndAsk(t *testing.T) {
	ctx := context.Background()
	g := initCiteGraph(t)

	var stages []model.Stage
	g.SetProgress(func(documentID uuid.UUID, stage model.Stage, detail string) {
		stages = append(stages, stage)
	})

	result, err := g.IngestDocument(ctx, &model.SourceDocument{
		Text:      "Sam Altman founded OpenAI in 2015.",
		SourceURI: "https://example.com/openai-history",
		Title:     "OpenAI history",
	})
	require.NoError(t, err, "Expected IngestDocument to not return an error")
	assert.Equal(t, model.IngestSuccess, result.Status)
	assert.Equal(t, []model.Stage{
		model.StageChunking,
		model.StageExtracting,
		model.StageLinking,
		model.StageRelating,
		model.StageStoring,
		model.StageDone,
	}, stages)
	g.SetProgress(nil)

	results, err := g.IngestBatch(ctx, []*model.SourceDocument{
		{Text: "Microsoft invested in OpenAI in 2019.", SourceURI: "https://example.com/microsoft"},
		{Text: "   "},
	})
	require.NoError(t, err, "Expected a failing document to not fail the batch")
	require.Len(t, results, 2)
	assert.Equal(t, model.IngestSuccess, results[0].Status)
	assert.Equal(t, model.IngestFailure, results[1].Status)

	t.Run("Ask without a generator", func(t *testing.T) {
		_, err := g.Ask(ctx, "Who founded OpenAI?", nil)
		var retrievalErr *model.RetrievalError
		assert.ErrorAs(t, err, &retrievalErr)
	})

	t.Run("Ask cites a source document", func(t *testing.T) {
		g.SetGenerator(reply("Sam Altman founded OpenAI [1]."))
		answer, err := g.Ask(ctx, "Who founded OpenAI?", nil)
		require.NoError(t, err)
		require.Len(t, answer.Citations, 1)
		assert.Equal(t, 1, answer.Citations[0].Index)
		require.NotNil(t, answer.Citations[0].DocURL)
		assert.Contains(t, *answer.Citations[0].DocURL, "https://example.com/")

		page := g.CitationPage(answer, model.ListOptions{PageRequest: model.PageRequest{Page: 1, PageSize: 1}})
		assert.Equal(t, 1, page.Citations.TotalCount)
	})

	t.Run("List chunks", func(t *testing.T) {
		page, err := g.ListChunks(ctx, "OpenAI", nil, model.ListOptions{PageRequest: model.PageRequest{Page: 1, PageSize: 1}})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, page.TotalCount, 1)
		assert.Len(t, page.Results, 1)
	})

	openAI := identity.EntityID(model.EntityTypeOrganization, "OpenAI")
	samAltman := identity.EntityID(model.EntityTypePerson, "Sam Altman")

	t.Run("Find entities", func(t *testing.T) {
		entities, err := g.FindEntities(ctx, "openai", 10)
		require.NoError(t, err)
		require.NotEmpty(t, entities)
		assert.Equal(t, openAI, entities[0].ID)
	})

	t.Run("Relationships", func(t *testing.T) {
		page, err := g.Relationships(ctx, openAI, model.RelationQuery{
			Types:     []model.RelationType{model.RelationFounded},
			Direction: model.DirectionBoth,
		})
		require.NoError(t, err)
		require.Equal(t, 1, page.TotalCount)
		assert.Equal(t, samAltman, page.Results[0].SourceID)
	})

	t.Run("Shortest paths and subgraph", func(t *testing.T) {
		paths, err := g.ShortestPaths(ctx, samAltman, openAI, model.PathQuery{MaxDepth: 2})
		require.NoError(t, err)
		require.NotEmpty(t, paths.Results)
		assert.Equal(t, 1, paths.Results[0].Length)

		subgraph, err := g.Subgraph(ctx, samAltman, model.SubgraphQuery{Depth: 1})
		require.NoError(t, err)
		assert.Equal(t, samAltman, subgraph.RootID)
		assert.NotEmpty(t, subgraph.Relations)
	})
}

func TestProvenance(t *testing.T) {
	ctx := context.Background()
	g := initCiteGraph(t)

	for _, agent := range []*model.Agent{
		{ID: "analyst"},
		{ID: "senior", Reputation: 0.9},
		{ID: "junior", Reputation: 0.6},
	} {
		_, err := g.RegisterAgent(ctx, agent)
		require.NoError(t, err)
	}

	quote := "Sam Altman founded OpenAI"
	statement, created, err := g.SubmitStatement(ctx, &model.ProvenanceStatement{
		AgentID:    "analyst",
		ClaimText:  "Sam Altman founded OpenAI.",
		Confidence: 0.9,
		Critical:   true,
		Evidence: []model.EvidenceSegment{{
			SourceURL: "https://example.com/openai-history",
			ByteStart: 0,
			ByteEnd:   len(quote),
			Quote:     quote,
		}},
	})
	require.NoError(t, err)
	assert.True(t, created)

	pending, err := g.PendingCritical(ctx, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = g.Verify(ctx, &model.VerificationRecord{StatementID: statement.ID, AgentID: "senior", Verdict: model.VerdictValidated, Confidence: 0.8})
	require.NoError(t, err)
	verified, err := g.Verify(ctx, &model.VerificationRecord{StatementID: statement.ID, AgentID: "junior", Verdict: model.VerdictValidated, Confidence: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.68, verified.ConsensusScore, 1e-9)
	assert.False(t, verified.Verified, "Expected 0.68 to stay below the 0.7 threshold")

	t.Run("Extract claims needs a generator", func(t *testing.T) {
		_, err := g.ExtractClaims(ctx, "Sam Altman founded OpenAI in 2015.", "https://example.com", "analyst")
		assert.ErrorContains(t, err, "no generation backend")
	})

	t.Run("Extract claims", func(t *testing.T) {
		g.SetGenerator(reply(`{"claims": [{"claim": "OpenAI was founded in 2015.", "quote": "founded OpenAI in 2015", "confidence": 0.7}]}`))
		result, err := g.ExtractClaims(ctx, "Sam Altman founded OpenAI in 2015.", "https://example.com", "analyst")
		require.NoError(t, err)
		require.Len(t, result.Statements, 1)
		assert.Empty(t, result.Rejected)
	})
}
