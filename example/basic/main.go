package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/siherrmann/citegraph"
	"github.com/siherrmann/citegraph/model"
)

var sources = []*model.SourceDocument{
	{
		Title:     "OpenAI history",
		SourceURI: "https://example.org/openai",
		Text: `Sam Altman founded OpenAI in 2015. OpenAI is headquartered in San Francisco.
Microsoft invested in OpenAI in 2019. Altman was the CEO of OpenAI.`,
	},
	{
		Title:     "Microsoft",
		SourceURI: "https://example.org/microsoft",
		Text:      `Microsoft is headquartered in Redmond. Satya Nadella is the CEO of Microsoft.`,
	},
}

func main() {
	ctx := context.Background()

	// In-memory stores with the rule based NER and the hashing embedder.
	// Set CITEGRAPH_GENERATOR=ollama (or openai) to answer questions.
	config := model.DefaultConfig()
	config.Backends.Generator = os.Getenv("CITEGRAPH_GENERATOR")

	g, err := citegraph.NewCiteGraph(ctx, config, nil)
	if err != nil {
		log.Fatalf("Failed to create citegraph: %v", err)
	}
	defer g.Close()

	results, err := g.IngestBatch(ctx, sources)
	if err != nil {
		log.Fatalf("Failed to ingest: %v", err)
	}
	for _, r := range results {
		fmt.Printf("Ingested %s: %s, %d chunks, %d entities, %d relations\n", r.SourceURI, r.Status, r.Chunks, r.EntitiesCreated, r.Relations)
	}

	fmt.Println("\n=== Chunks for \"Who founded OpenAI?\" ===")
	chunks, err := g.ListChunks(ctx, "Who founded OpenAI?", &model.QueryConfig{TopK: 3}, model.ListOptions{SortBy: model.SortByRelevance})
	if err != nil {
		log.Fatalf("Failed to list chunks: %v", err)
	}
	for _, c := range chunks.Results {
		fmt.Printf("[%d] %.3f %q\n", c.Ordinal, c.Relevance, c.Chunk.Text)
	}

	entities, err := g.FindEntities(ctx, "OpenAI", 1)
	if err != nil || len(entities) == 0 {
		log.Fatalf("OpenAI not found: %v", err)
	}
	openAI := entities[0]

	fmt.Printf("\n=== Relations of %s ===\n", openAI.CanonicalName)
	relations, err := g.Relationships(ctx, openAI.ID, model.RelationQuery{Direction: model.DirectionBoth})
	if err != nil {
		log.Fatalf("Failed to page relations: %v", err)
	}
	for _, r := range relations.Results {
		fmt.Printf("%s %s %s (%.2f, %d evidence)\n", r.SourceID, r.Type, r.TargetID, r.Confidence, len(r.Evidence))
	}

	if config.Backends.Generator == "" {
		return
	}

	fmt.Println("\n=== Answer ===")
	answer, err := g.Ask(ctx, "Who founded OpenAI and when?", nil)
	if err != nil {
		log.Fatalf("Failed to answer: %v", err)
	}
	fmt.Println(answer.Text)
	for _, c := range answer.Citations {
		fmt.Printf("[%d] %s bytes %d-%d: %q\n", c.Index, c.Title, c.ByteOffset, c.ByteEnd, c.Quote)
	}
}
