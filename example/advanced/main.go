package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph"
	"github.com/siherrmann/citegraph/database"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

const history = `Sam Altman founded OpenAI in 2015. Microsoft invested in OpenAI in 2019.
Satya Nadella is the CEO of Microsoft. Microsoft acquired GitHub in 2018.
GitHub is headquartered in San Francisco.`

func main() {
	ctx := context.Background()

	teardown, port, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := teardown(ctx); err != nil {
			log.Printf("Failed to terminate container: %v", err)
		}
	}()

	for key, value := range map[string]string{
		"DB_HOST":     "localhost",
		"DB_PORT":     port,
		"DB_DATABASE": "citegraph",
		"DB_USERNAME": "citegraph",
		"DB_PASSWORD": "citegraph",
	} {
		os.Setenv(key, value)
	}

	// Postgres graph and vector store, prose NER and the hugot sentence
	// transformer for embeddings. The model is downloaded on first use.
	config := model.DefaultConfig()
	config.Store.Graph = citegraph.StorePostgres
	config.Store.Vector = citegraph.StorePostgres
	config.Backends.NER = "prose"
	config.Backends.Embedder = "hugot"
	config.Backends.Generator = os.Getenv("CITEGRAPH_GENERATOR")

	logger := helper.NewLogger(os.Stdout, slog.LevelInfo)
	g, err := citegraph.NewCiteGraph(ctx, config, logger)
	if err != nil {
		log.Fatalf("Failed to create citegraph: %v", err)
	}
	defer g.Close()

	g.SetProgress(func(documentID uuid.UUID, stage model.Stage, detail string) {
		fmt.Printf("  %s %s %s\n", documentID, stage, detail)
	})

	sources := splitSources(history)
	fmt.Println("=== Ingesting ===")
	results, err := g.IngestBatch(ctx, sources)
	if err != nil {
		log.Fatalf("Failed to ingest: %v", err)
	}
	printResults(results)

	// Ingesting the same sources again converges to the same graph: no mention is new.
	g.SetProgress(nil)
	fmt.Println("\n=== Re-ingesting ===")
	results, err = g.IngestBatch(ctx, sources)
	if err != nil {
		log.Fatalf("Failed to re-ingest: %v", err)
	}
	printResults(results)

	if store, ok := g.Store.(*database.GraphStore); ok {
		if err := store.Chunks.ChangeIndexType(ctx, database.IndexIVFFlat, map[string]int{"lists": 10}); err != nil {
			log.Fatalf("Failed to change index type: %v", err)
		}
		indexType, err := store.Chunks.IndexType(ctx)
		if err != nil {
			log.Fatalf("Failed to read index type: %v", err)
		}
		fmt.Printf("\nVector index: %s\n", indexType)
	}

	fmt.Println("\n=== Chunks by title ===")
	chunks, err := g.ListChunks(ctx, "Who invested in OpenAI?", &model.QueryConfig{TopK: 5}, model.ListOptions{
		PageRequest: model.PageRequest{Page: 1, PageSize: 2},
		SortBy:      model.SortByTitle,
	})
	if err != nil {
		log.Fatalf("Failed to list chunks: %v", err)
	}
	fmt.Printf("Page %d of %d (%d chunks)\n", chunks.Page, chunks.TotalPages, chunks.TotalCount)
	for _, c := range chunks.Results {
		title := "(unknown document)"
		if c.Document != nil {
			title = c.Document.Title
		}
		fmt.Printf("[%d] %s: %q\n", c.Ordinal, title, c.Chunk.Text)
	}

	reason(ctx, g)
	verify(ctx, g)

	if config.Backends.Generator == "" {
		return
	}

	fmt.Println("\n=== Answer from the second page of sources ===")
	answer, err := g.AskPage(ctx, "Who owns GitHub?", nil, model.PageRequest{Page: 2, PageSize: 2})
	if err != nil {
		log.Fatalf("Failed to answer: %v", err)
	}
	fmt.Println(answer.Text)

	full, err := g.Ask(ctx, "Who owns GitHub?", nil)
	if err != nil {
		log.Fatalf("Failed to answer: %v", err)
	}
	page := g.CitationPage(full, model.ListOptions{PageRequest: model.PageRequest{Page: 1, PageSize: 1}})
	fmt.Printf("Excerpt: %s\n", page.Excerpt)
	for _, c := range page.Citations.Results {
		fmt.Printf("[%d] %s %q\n", c.Index, c.Title, c.Quote)
	}
}

// splitSources turns every line into a source document of its own.
func splitSources(text string) []*model.SourceDocument {
	var sources []*model.SourceDocument
	for i, line := range strings.Split(text, "\n") {
		sources = append(sources, &model.SourceDocument{
			Title:     fmt.Sprintf("History %d", i+1),
			SourceURI: fmt.Sprintf("https://example.org/history/%d", i+1),
			Tier:      "primary",
			Text:      line,
			Metadata:  model.Metadata{"line": i + 1},
		})
	}
	return sources
}

func printResults(results []*model.IngestResult) {
	for _, r := range results {
		fmt.Printf("%s: %s (%d chunks, %d new mentions, %d relations)\n", r.SourceURI, r.Status, r.Chunks, r.NewMentions, r.Relations)
	}
}

func reason(ctx context.Context, g *citegraph.CiteGraph) {
	altman := mustFindEntity(ctx, g, "Sam Altman")
	github := mustFindEntity(ctx, g, "GitHub")

	fmt.Println("\n=== Paths from Sam Altman to GitHub ===")
	paths, err := g.ShortestPaths(ctx, altman.ID, github.ID, model.PathQuery{MaxDepth: 4})
	if err != nil {
		log.Fatalf("Failed to search paths: %v", err)
	}
	for _, p := range paths.Results {
		hops := make([]string, 0, len(p.Relations))
		for _, r := range p.Relations {
			hops = append(hops, string(r.Type))
		}
		fmt.Printf("length %d, confidence %.3f: %s\n", p.Length, p.Confidence, strings.Join(hops, " -> "))
	}

	fmt.Println("\n=== Neighborhood of Sam Altman ===")
	subgraph, err := g.Subgraph(ctx, altman.ID, model.SubgraphQuery{Depth: 2, MaxNodes: 10})
	if err != nil {
		log.Fatalf("Failed to extract subgraph: %v", err)
	}
	for _, e := range subgraph.Nodes.Results {
		fmt.Printf("%s (%s, %d mentions)\n", e.CanonicalName, e.EntityType, e.MentionCount)
	}
	fmt.Printf("%d nodes, %d relations, truncated: %v\n", subgraph.NodeCount, subgraph.EdgeCount, subgraph.Truncated)
}

func verify(ctx context.Context, g *citegraph.CiteGraph) {
	fmt.Println("\n=== Provenance ===")
	for _, agent := range []*model.Agent{
		{ID: "analyst", Name: "Analyst"},
		{ID: "auditor", Name: "Auditor", Reputation: 0.9},
	} {
		if _, err := g.RegisterAgent(ctx, agent); err != nil {
			log.Fatalf("Failed to register agent: %v", err)
		}
	}

	quote := "Microsoft acquired GitHub in 2018"
	line := strings.Split(history, "\n")[1]
	start := strings.Index(line, quote)
	statement, _, err := g.SubmitStatement(ctx, &model.ProvenanceStatement{
		AgentID:    "analyst",
		ClaimText:  "Microsoft acquired GitHub in 2018.",
		Confidence: 0.8,
		Critical:   true,
		Evidence: []model.EvidenceSegment{{
			SourceURL: "https://example.org/history/2",
			ByteStart: start,
			ByteEnd:   start + len(quote),
			Quote:     quote,
		}},
	})
	if err != nil {
		log.Fatalf("Failed to submit statement: %v", err)
	}

	pending, err := g.PendingCritical(ctx, 5)
	if err != nil {
		log.Fatalf("Failed to list pending statements: %v", err)
	}
	fmt.Printf("%d critical statement(s) pending\n", len(pending))

	statement, err = g.Verify(ctx, &model.VerificationRecord{
		StatementID: statement.ID,
		AgentID:     "auditor",
		Verdict:     model.VerdictValidated,
		Confidence:  0.9,
	})
	if err != nil {
		log.Fatalf("Failed to verify statement: %v", err)
	}
	fmt.Printf("Consensus %.2f, verified: %v\n", statement.ConsensusScore, statement.Verified)
}

func mustFindEntity(ctx context.Context, g *citegraph.CiteGraph, name string) *model.Entity {
	entities, err := g.FindEntities(ctx, name, 1)
	if err != nil || len(entities) == 0 {
		log.Fatalf("Entity %q not found: %v", name, err)
	}
	return entities[0]
}
