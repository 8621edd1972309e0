package citegraph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/backend"
	"github.com/siherrmann/citegraph/core/backend/goopenai"
	"github.com/siherrmann/citegraph/core/backend/ollama"
	"github.com/siherrmann/citegraph/core/backend/openaiv3"
	"github.com/siherrmann/citegraph/core/graph"
	"github.com/siherrmann/citegraph/core/pipeline"
	"github.com/siherrmann/citegraph/core/provenance"
	"github.com/siherrmann/citegraph/core/retrieval"
	"github.com/siherrmann/citegraph/database"
	"github.com/siherrmann/citegraph/database/memory"
	"github.com/siherrmann/citegraph/database/neo4jstore"
	"github.com/siherrmann/citegraph/database/qdrantstore"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

// Store names accepted in model.StoreConfig.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreNeo4j    = "neo4j"
	StoreQdrant   = "qdrant"
)

// CiteGraph wires storage, backends, ingestion, retrieval, graph reasoning and
// provenance into one instance.
type CiteGraph struct {
	Config     model.Config
	Store      graph.Store
	Vectors    graph.VectorStore
	Registry   *backend.Registry
	Pipeline   *pipeline.Pipeline
	Engine     *retrieval.Engine
	Reasoner   *graph.Reasoner
	Provenance *provenance.Protocol

	generator backend.Generator
	closers   []func() error
	// Logging
	log *slog.Logger
}

// NewCiteGraph opens the configured stores and resolves the configured
// backends once. A nil logger logs at info level to stdout.
func NewCiteGraph(ctx context.Context, config model.Config, logger *slog.Logger) (*CiteGraph, error) {
	if logger == nil {
		logger = helper.NewLogger(os.Stdout, slog.LevelInfo)
	}

	registry := backend.NewRegistry()
	openaiv3.Register(registry)
	ollama.Register(registry)
	goopenai.Register(registry)

	return NewCiteGraphWithRegistry(ctx, config, registry, logger)
}

// NewCiteGraphWithRegistry is NewCiteGraph with a caller provided backend registry.
func NewCiteGraphWithRegistry(ctx context.Context, config model.Config, registry *backend.Registry, logger *slog.Logger) (*CiteGraph, error) {
	if logger == nil {
		logger = helper.NewLogger(os.Stdout, slog.LevelInfo)
	}

	g := &CiteGraph{Config: config, Registry: registry, log: logger}
	provenanceStore, err := g.openStores(ctx)
	if err != nil {
		_ = g.Close()
		return nil, err
	}

	g.Pipeline, err = pipeline.NewPipeline(g.Store, g.Vectors, config, logger)
	if err != nil {
		_ = g.Close()
		return nil, helper.NewError("create pipeline", err)
	}

	extractor, err := registry.NER(config.Backends.NER, config.Backends)
	if err != nil {
		_ = g.Close()
		return nil, helper.NewError("resolve NER backend", err)
	}
	g.Pipeline.SetEntityExtractor(extractor)

	embedder, err := registry.Embedder(config.Backends.Embedder, config.Backends)
	if err != nil {
		_ = g.Close()
		return nil, helper.NewError("resolve embedding backend", err)
	}
	g.Pipeline.SetEmbedder(embedder)

	if config.Backends.Generator != "" {
		g.generator, err = registry.RoutedGenerator(config.Backends)
		if err != nil {
			_ = g.Close()
			return nil, helper.NewError("resolve generation backend", err)
		}
	}

	g.Engine = retrieval.NewEngine(g.Store, g.Vectors, embedder, g.generator, config.Retrieval, logger)
	g.Engine.SetEntityExtractor(extractor)
	g.Reasoner = graph.NewReasoner(g.Store, config.Reasoning, logger)
	g.Provenance = provenance.NewProtocol(provenanceStore, config.Provenance, logger)

	logger.Info("CiteGraph ready",
		slog.String("graph_store", config.Store.Graph),
		slog.String("vector_store", config.Store.Vector),
		slog.String("ner", config.Backends.NER),
		slog.String("embedder", config.Backends.Embedder),
		slog.String("generator", config.Backends.Generator),
	)
	return g, nil
}

// openStores sets Store and Vectors and returns the store for provenance
// records, which always lives in the graph store.
func (g *CiteGraph) openStores(ctx context.Context) (provenance.Store, error) {
	config := g.Config.Store
	dimensions := g.Config.Backends.Dimensions

	var provenanceStore provenance.Store
	switch config.Graph {
	case "", StoreMemory:
		store := memory.New()
		g.Store, g.Vectors, provenanceStore = store, store, store
	case StorePostgres:
		dbConfig, err := helper.NewDatabaseConfiguration()
		if err != nil {
			return nil, helper.NewError("database configuration", err)
		}
		db, err := helper.NewDatabase("citegraph", dbConfig, g.log)
		if err != nil {
			return nil, helper.NewError("connect database", err)
		}
		g.closers = append(g.closers, db.Close)
		store, err := database.NewGraphStore(db, dimensions, config.ForceSQLReload)
		if err != nil {
			return nil, helper.NewError("create graph store", err)
		}
		g.Store, g.Vectors, provenanceStore = store, store, store
	case StoreNeo4j:
		neoConfig := &neo4jstore.Configuration{
			URI:      config.Neo4jURI,
			Username: config.Neo4jUser,
			Password: config.Neo4jPassword,
		}
		if neoConfig.URI == "" {
			var err error
			neoConfig, err = neo4jstore.NewConfiguration()
			if err != nil {
				return nil, err
			}
		}
		store, err := neo4jstore.New(neoConfig, g.log)
		if err != nil {
			return nil, err
		}
		g.closers = append(g.closers, store.Close)
		g.Store, provenanceStore = store, store
	default:
		return nil, helper.NewError("open graph store", fmt.Errorf("unknown graph store %q", config.Graph))
	}

	switch config.Vector {
	case "":
		if g.Vectors == nil {
			g.Vectors = memory.New()
		}
	case StoreMemory:
		if _, ok := g.Store.(*memory.Store); !ok {
			g.Vectors = memory.New()
		}
	case StorePostgres:
		if _, ok := g.Store.(*database.GraphStore); !ok {
			return nil, helper.NewError("open vector store", fmt.Errorf("postgres vectors require the postgres graph store"))
		}
	case StoreQdrant:
		qdrantConfig := &qdrantstore.Configuration{
			Host:       config.QdrantHost,
			Port:       config.QdrantPort,
			APIKey:     config.QdrantAPIKey,
			UseTLS:     config.QdrantTLS,
			Collection: config.Collection,
			Dimensions: dimensions,
		}
		if qdrantConfig.Host == "" {
			var err error
			qdrantConfig, err = qdrantstore.NewConfiguration(dimensions)
			if err != nil {
				return nil, err
			}
		}
		if qdrantConfig.Port == 0 {
			qdrantConfig.Port = 6334
		}
		if qdrantConfig.Collection == "" {
			qdrantConfig.Collection = "citegraph_chunks"
		}
		vectors, err := qdrantstore.New(ctx, qdrantConfig, g.log)
		if err != nil {
			return nil, err
		}
		g.closers = append(g.closers, vectors.Close)
		g.Vectors = vectors
	default:
		return nil, helper.NewError("open vector store", fmt.Errorf("unknown vector store %q", config.Vector))
	}

	return provenanceStore, nil
}

// Close releases every store connection in reverse order of opening.
func (g *CiteGraph) Close() error {
	var firstErr error
	for _, closeFn := range slices.Backward(g.closers) {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	g.closers = nil
	return firstErr
}

// SetGenerator replaces the generation backend for answers and claim extraction.
func (g *CiteGraph) SetGenerator(generator backend.Generator) {
	g.generator = generator
	g.Engine.SetGenerator(generator)
}

// SetProgress registers a callback invoked whenever a document enters a stage.
func (g *CiteGraph) SetProgress(progress pipeline.ProgressFunc) {
	g.Pipeline.SetProgress(progress)
}

// IngestDocument runs one document through the ingestion stages.
func (g *CiteGraph) IngestDocument(ctx context.Context, source *model.SourceDocument) (*model.IngestResult, error) {
	return g.Pipeline.Process(ctx, source)
}

// IngestBatch ingests documents concurrently. One failing document does not
// stop the others; every document gets a result.
func (g *CiteGraph) IngestBatch(ctx context.Context, sources []*model.SourceDocument) ([]*model.IngestResult, error) {
	return g.Pipeline.ProcessBatch(ctx, sources)
}

// Ask answers query with ordinal citations resolved to their source documents.
func (g *CiteGraph) Ask(ctx context.Context, query string, config *model.QueryConfig) (*model.Answer, error) {
	return g.Engine.Answer(ctx, query, config)
}

// AskPage answers query from one page of the ranked sources.
func (g *CiteGraph) AskPage(ctx context.Context, query string, config *model.QueryConfig, page model.PageRequest) (*model.PagedAnswer, error) {
	return g.Engine.AnswerPage(ctx, query, config, page)
}

// CitationPage returns one page of an answer's citations and the answer
// sentences whose markers all fall on that page.
func (g *CiteGraph) CitationPage(answer *model.Answer, opts model.ListOptions) model.CitationPage {
	return retrieval.CitationPage(answer, opts)
}

// ListChunks pages the chunks retrieved for query without generating an answer.
func (g *CiteGraph) ListChunks(ctx context.Context, query string, config *model.QueryConfig, opts model.ListOptions) (model.Page[model.RetrievedChunk], error) {
	return g.Engine.ListChunks(ctx, query, config, opts)
}

// FindEntities searches canonical names and aliases.
func (g *CiteGraph) FindEntities(ctx context.Context, name string, limit int) ([]*model.Entity, error) {
	return g.Store.SearchEntities(ctx, name, limit)
}

// Relationships pages the relations of an entity.
func (g *CiteGraph) Relationships(ctx context.Context, entityID uuid.UUID, query model.RelationQuery) (model.Page[*model.Relation], error) {
	return g.Reasoner.Relationships(ctx, entityID, query)
}

// ShortestPaths pages the shortest relation paths between two entities.
func (g *CiteGraph) ShortestPaths(ctx context.Context, from, to uuid.UUID, query model.PathQuery) (model.Page[*model.Path], error) {
	return g.Reasoner.ShortestPaths(ctx, from, to, query)
}

// Subgraph returns the bounded neighborhood of root.
func (g *CiteGraph) Subgraph(ctx context.Context, root uuid.UUID, query model.SubgraphQuery) (*model.Subgraph, error) {
	return g.Reasoner.Subgraph(ctx, root, query)
}

// RegisterAgent creates or updates an agent.
func (g *CiteGraph) RegisterAgent(ctx context.Context, agent *model.Agent) (*model.Agent, error) {
	return g.Provenance.RegisterAgent(ctx, agent)
}

// SubmitStatement stores a statement once per agent and normalized claim and
// reports whether it was new.
func (g *CiteGraph) SubmitStatement(ctx context.Context, statement *model.ProvenanceStatement) (*model.ProvenanceStatement, bool, error) {
	return g.Provenance.SubmitStatement(ctx, statement)
}

// Verify appends a verification and returns the statement with its recomputed consensus.
func (g *CiteGraph) Verify(ctx context.Context, record *model.VerificationRecord) (*model.ProvenanceStatement, error) {
	return g.Provenance.Verify(ctx, record)
}

// PendingCritical returns up to n unverified statements by priority.
func (g *CiteGraph) PendingCritical(ctx context.Context, n int) ([]*model.ProvenanceStatement, error) {
	return g.Provenance.PendingCritical(ctx, n)
}

// ExtractClaims lets the generation backend extract claims from text and
// submits them as statements of agentID.
func (g *CiteGraph) ExtractClaims(ctx context.Context, text string, sourceURL string, agentID string) (*provenance.ExtractResult, error) {
	if g.generator == nil {
		return nil, helper.NewError("extract claims", fmt.Errorf("no generation backend configured"))
	}
	return g.Provenance.ExtractClaims(ctx, g.generator, text, sourceURL, agentID)
}
