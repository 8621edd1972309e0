package retrieval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/siherrmann/citegraph/core/backend"
	"github.com/siherrmann/citegraph/core/pipeline"
	"github.com/siherrmann/citegraph/database/memory"
	"github.com/siherrmann/citegraph/model"
	"github.com/stretchr/testify/require"
)

const testDimensions = 256

// scriptedGenerator replies with a fixed text and records the prompts it received.
type scriptedGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string, opts ...backend.GenerateOption) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

func (g *scriptedGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

func date(year int) *time.Time {
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

// corpus is the two-document fixture most retrieval tests run against.
var corpus = []*model.SourceDocument{
	{
		Text:        "Sam Altman founded OpenAI in 2015.",
		SourceURI:   "https://example.com/openai-history",
		Title:       "OpenAI history",
		PublishedAt: date(2020),
	},
	{
		Text:        "Microsoft invested in OpenAI in 2019.",
		SourceURI:   "https://example.com/microsoft-investment",
		Title:       "Microsoft investment",
		PublishedAt: date(2021),
	},
}

func newTestEngine(t *testing.T, generator backend.Generator, sources ...*model.SourceDocument) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	config := model.DefaultConfig()
	config.RetryBackoff = 0
	config.Backends.Dimensions = testDimensions
	// Signed feature hashing can score unrelated text slightly below zero.
	config.Retrieval.MinRelevance = -1

	p, err := pipeline.NewPipeline(store, store, config, nil)
	require.NoError(t, err)
	for _, source := range sources {
		result, err := p.Process(context.Background(), source)
		require.NoError(t, err)
		require.Equal(t, model.IngestSuccess, result.Status, "Expected fixture %q to ingest cleanly: %v", source.SourceURI, result.Reasons)
	}

	engine := NewEngine(store, store, p.Embedder(), generator, config.Retrieval, nil)
	return engine, store
}
