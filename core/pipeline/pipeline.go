package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/siherrmann/citegraph/core/graph"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/core/metrics"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
	"golang.org/x/sync/errgroup"
)

// Pipeline ingests documents into the graph and vector stores. It holds no
// per-document state between calls.
type Pipeline struct {
	store     graph.Store
	vectors   graph.VectorStore
	config    model.Config
	logger    *slog.Logger
	chunker   ChunkFunc
	extractor EntityExtractor
	coref     *CorefResolver
	linker    *Linker
	relations *RelationExtractor
	triplets  TripletFunc
	embedder  Embedder
	progress  ProgressFunc
}

// NewPipeline creates a pipeline with the default chunker, the rule extractor,
// the hash embedder and the relation catalog from config (built-in when empty).
// vectors may be nil, then the storing stage only embeds chunks.
func NewPipeline(store graph.Store, vectors graph.VectorStore, config model.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	catalog, err := DefaultCatalog()
	if config.Relation.CatalogPath != "" {
		catalog, err = LoadCatalog(config.Relation.CatalogPath)
	}
	if err != nil {
		return nil, helper.NewError("load relation catalog", err)
	}

	return &Pipeline{
		store:     store,
		vectors:   vectors,
		config:    config,
		logger:    logger,
		chunker:   DefaultChunker(config.Chunker),
		extractor: NewRuleExtractor(nil),
		coref:     NewCorefResolver(logger),
		linker:    NewLinker(store, config.Linker, config.RetryAttempts, config.RetryBackoff, logger),
		relations: NewRelationExtractor(catalog, config.Relation),
		embedder:  NewHashEmbedder(config.Backends.Dimensions),
	}, nil
}

// SetChunker replaces the chunking function.
func (p *Pipeline) SetChunker(chunker ChunkFunc) {
	p.chunker = chunker
}

// SetEntityExtractor replaces the NER backend.
func (p *Pipeline) SetEntityExtractor(extractor EntityExtractor) {
	p.extractor = extractor
}

// SetEmbedder replaces the embedding backend.
func (p *Pipeline) SetEmbedder(embedder Embedder) {
	p.embedder = embedder
}

// SetCatalog replaces the relation pattern catalog.
func (p *Pipeline) SetCatalog(catalog *Catalog) {
	p.relations = NewRelationExtractor(catalog, p.config.Relation)
}

// SetTripletExtractor adds a generative relation source next to the pattern catalog.
func (p *Pipeline) SetTripletExtractor(triplets TripletFunc) {
	p.triplets = triplets
}

// SetProgress registers a callback invoked when a document enters a stage.
func (p *Pipeline) SetProgress(progress ProgressFunc) {
	p.progress = progress
}

// Embedder returns the embedding backend, shared with retrieval.
func (p *Pipeline) Embedder() Embedder {
	return p.embedder
}

// documentState carries one document through the stages.
type documentState struct {
	source    *model.SourceDocument
	document  *model.Document
	chunks    []*model.Chunk
	mentions  []*model.Mention
	chains    []*model.CoreferenceChain
	result    *model.IngestResult
	nonFatals []string
}

type stage struct {
	name  model.Stage
	run   func(ctx context.Context, s *documentState) error
	fatal bool
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{model.StageChunking, p.chunk, true},
		{model.StageExtracting, p.extract, true},
		{model.StageLinking, p.link, true},
		{model.StageRelating, p.relate, false},
		{model.StageStoring, p.storeVectors, false},
	}
}

// Process runs one document through chunking, extracting, linking, relating and
// storing. Every write is an idempotent upsert, so running it again on the same
// content only completes what is missing. The returned error is non-nil exactly
// when the result status is failure or partial with a fatal stage error.
func (p *Pipeline) Process(ctx context.Context, source *model.SourceDocument) (*model.IngestResult, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return nil, helper.NewError("run id", err)
	}
	return p.process(ctx, runID, source)
}

func (p *Pipeline) process(ctx context.Context, runID string, source *model.SourceDocument) (*model.IngestResult, error) {
	started := time.Now()
	s := &documentState{
		source: source,
		result: &model.IngestResult{
			RunID:     runID,
			SourceURI: source.SourceURI,
			Status:    model.IngestSuccess,
		},
	}

	var failure error
	for _, st := range p.stages() {
		s.result.Stage = st.name
		p.report(s, st.name, "")

		stageStart := time.Now()
		err := st.run(ctx, s)
		metrics.StageDuration.WithLabelValues(string(st.name)).Observe(time.Since(stageStart).Seconds())
		if err == nil {
			continue
		}

		reason := fmt.Sprintf("%s: %v", st.name, err)
		s.result.Reasons = append(s.result.Reasons, reason)
		if st.fatal || ctx.Err() != nil {
			failure = helper.NewError(string(st.name), err)
			break
		}
		p.logger.Warn("Ingestion stage failed", "document_id", s.result.DocumentID, "stage", st.name, "error", err)
	}
	s.result.Reasons = append(s.result.Reasons, s.nonFatals...)

	switch {
	case failure != nil && s.document == nil:
		s.result.Status = model.IngestFailure
	case failure != nil || len(s.result.Reasons) > 0:
		s.result.Status = model.IngestPartial
	}
	if failure != nil {
		s.result.Stage = model.StageFailed
		p.report(s, model.StageFailed, failure.Error())
	} else {
		s.result.Stage = model.StageDone
		p.report(s, model.StageDone, "")
	}
	s.result.Duration = time.Since(started)
	metrics.DocumentsIngested.WithLabelValues(string(s.result.Status)).Inc()

	p.logger.Info("Document ingested",
		"run_id", runID,
		"document_id", s.result.DocumentID,
		"status", s.result.Status,
		"chunks", s.result.Chunks,
		"mentions", s.result.Mentions,
		"entities_created", s.result.EntitiesCreated,
		"relations", s.result.Relations,
		"duration", s.result.Duration,
	)
	return s.result, failure
}

func (p *Pipeline) report(s *documentState, st model.Stage, detail string) {
	if p.progress != nil {
		p.progress(s.result.DocumentID, st, detail)
	}
}

// chunk stores the document and its chunks.
func (p *Pipeline) chunk(ctx context.Context, s *documentState) error {
	text := s.source.Text
	documentID := identity.DocumentID(text)
	if identity.IsSentinel(documentID) {
		return model.ErrEmptyContent
	}
	s.result.DocumentID = documentID

	document := &model.Document{
		ID:          documentID,
		SourceURI:   s.source.SourceURI,
		Title:       s.source.Title,
		Tier:        s.source.Tier,
		Quality:     s.source.Quality,
		Content:     text,
		PublishedAt: s.source.PublishedAt,
		Metadata:    s.source.Metadata,
	}
	if err := p.store.UpsertDocument(ctx, document); err != nil {
		return helper.NewError("upsert document", err)
	}
	// Chunk offsets index the stored content. A variant of an already stored
	// document (same normalized content) is chunked as the stored text.
	stored, err := p.store.SelectDocument(ctx, documentID)
	if err != nil {
		return helper.NewError("select document", err)
	}
	if stored.Content != text {
		p.logger.Info("Document already stored with different formatting", "document_id", documentID, "source_uri", s.source.SourceURI)
		text = stored.Content
	}
	s.document = stored

	spans, err := p.chunker(text)
	if err != nil {
		return helper.NewError("chunk", err)
	}
	chunks, err := BuildChunks(documentID, text, spans)
	if err != nil {
		var boundary *model.ChunkBoundaryError
		if errors.As(err, &boundary) {
			p.logger.Error("Chunk boundary violation", "document_id", documentID, "start", boundary.Start, "end", boundary.End, "reason", boundary.Reason)
		}
		return err
	}
	applyLocators(chunks, stored.Metadata)

	if err := p.store.UpsertChunks(ctx, chunks); err != nil {
		return helper.NewError("upsert chunks", err)
	}
	s.chunks = chunks
	s.result.Chunks = len(chunks)
	return nil
}

// extract runs NER per chunk in parallel, then resolves coreference over the whole document.
func (p *Pipeline) extract(ctx context.Context, s *documentState) error {
	perChunk := make([][]*model.Mention, len(s.chunks))
	chunkErrs := make([]error, len(s.chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.config.Workers, 1))
	for i, c := range s.chunks {
		g.Go(func() error {
			found, err := p.extractor.Extract(gctx, c.Text)
			if err != nil {
				chunkErrs[i] = err
				return gctx.Err()
			}
			for _, m := range found {
				m.ByteStart += c.ByteStart
				m.ByteEnd += c.ByteStart
				m.ID = identity.MentionID(s.document.ID, m.ByteStart, m.ByteEnd)
				m.DocumentID = s.document.ID
				m.ChunkID = c.ID
				if m.Kind == "" {
					m.Kind = model.MentionKindName
				}
			}
			perChunk[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for i, err := range chunkErrs {
		if err != nil {
			failed++
			s.nonFatals = append(s.nonFatals, fmt.Sprintf("extracting chunk %d: %v", i, err))
		}
	}
	if failed > 0 && failed == len(s.chunks) {
		return fmt.Errorf("entity extraction failed for every chunk: %w", chunkErrs[0])
	}

	named := mergeDetections(slices.Concat(perChunk...))
	mentions, chains := p.coref.Resolve(s.document.ID, s.document.Content, named)
	for _, m := range mentions {
		if m.ChunkID == uuid.Nil {
			m.ChunkID = chunkOf(s.chunks, m.ByteStart, m.ByteEnd)
		}
	}

	s.mentions = mentions
	s.chains = chains
	s.result.Mentions = len(mentions)
	return nil
}

// link merges the mentions into canonical entities in one atomic batch.
func (p *Pipeline) link(ctx context.Context, s *documentState) error {
	stats, err := p.linker.Link(ctx, s.document.ID, s.mentions, s.chains)
	if err != nil {
		return err
	}
	s.result.NewMentions = stats.NewMentions
	s.result.EntitiesCreated = stats.EntitiesCreated
	s.result.EntitiesMerged = stats.EntitiesMerged
	metrics.EntitiesLinked.WithLabelValues("created").Add(float64(stats.EntitiesCreated))
	metrics.EntitiesLinked.WithLabelValues("merged").Add(float64(stats.EntitiesMerged))
	return nil
}

// relate extracts relations per chunk in parallel and upserts them.
// A trigger seen in two overlapping chunks counts once.
func (p *Pipeline) relate(ctx context.Context, s *documentState) error {
	perChunk := make([][]*model.Relation, len(s.chunks))
	tripletErrs := make([]error, len(s.chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.config.Workers, 1))
	for i, c := range s.chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perChunk[i] = p.relations.Extract(c, s.mentions)
			if p.triplets == nil {
				return nil
			}
			triplets, err := p.triplets(gctx, c.Text)
			if err != nil {
				tripletErrs[i] = err
				return nil
			}
			perChunk[i] = append(perChunk[i], TripletRelations(c, s.mentions, triplets, p.config.Relation.TripletStrength)...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, err := range tripletErrs {
		if err != nil {
			s.nonFatals = append(s.nonFatals, fmt.Sprintf("triplets chunk %d: %v", i, err))
		}
	}

	merged := make(map[uuid.UUID]*model.Relation)
	var order []uuid.UUID
	seen := make(map[string]bool)
	for _, relations := range perChunk {
		for _, r := range relations {
			var evidence []model.RelationEvidence
			for _, e := range r.Evidence {
				key := fmt.Sprintf("%s:%d", r.ID, e.TriggerStart)
				if !seen[key] {
					seen[key] = true
					evidence = append(evidence, e)
				}
			}
			if len(evidence) == 0 {
				continue
			}
			r.Evidence = evidence
			if existing, ok := merged[r.ID]; ok {
				existing.Merge(r)
				continue
			}
			r.Confidence = r.EvidenceConfidence()
			merged[r.ID] = r
			order = append(order, r.ID)
		}
	}

	var errs []error
	for _, id := range order {
		r := merged[id]
		_, err := helper.RetryWithContext(ctx, p.config.RetryAttempts, p.config.RetryBackoff, model.IsConflict, func(ctx context.Context) (*model.Relation, error) {
			return p.store.UpsertRelation(ctx, r)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("relation %s: %w", r.Type, err))
			continue
		}
		s.result.Relations++
		metrics.RelationsUpserted.Inc()
	}
	return errors.Join(errs...)
}

// storeVectors embeds the chunks and writes them to the vector store.
func (p *Pipeline) storeVectors(ctx context.Context, s *documentState) error {
	texts := make([]string, len(s.chunks))
	for i, c := range s.chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return helper.NewError("embed chunks", err)
	}
	if len(vectors) != len(s.chunks) {
		return fmt.Errorf("embedding count mismatch: got %d for %d chunks", len(vectors), len(s.chunks))
	}

	points := make([]model.VectorPoint, len(s.chunks))
	for i, c := range s.chunks {
		c.Embedding = vectors[i]
		points[i] = model.VectorPoint{
			ID:     c.ID,
			Vector: vectors[i],
			Metadata: model.Metadata{
				"document_id": c.DocumentID.String(),
				"chunk_index": c.Index,
				"byte_start":  c.ByteStart,
				"byte_end":    c.ByteEnd,
				"source_uri":  s.document.SourceURI,
			},
		}
	}

	if err := p.store.UpsertChunks(ctx, s.chunks); err != nil {
		return helper.NewError("upsert chunk embeddings", err)
	}
	if p.vectors == nil {
		return nil
	}
	if err := p.vectors.UpsertVectors(ctx, points); err != nil {
		return helper.NewError("upsert vectors", err)
	}
	return nil
}

// mergeDetections removes duplicates found in overlapping chunks and keeps the
// longer of two overlapping detections.
func mergeDetections(mentions []*model.Mention) []*model.Mention {
	slices.SortFunc(mentions, func(a, b *model.Mention) int {
		if a.ByteStart != b.ByteStart {
			return a.ByteStart - b.ByteStart
		}
		return (b.ByteEnd - b.ByteStart) - (a.ByteEnd - a.ByteStart)
	})

	var kept []*model.Mention
	for _, m := range mentions {
		if n := len(kept); n > 0 && m.ByteStart < kept[n-1].ByteEnd {
			if m.ByteEnd-m.ByteStart > kept[n-1].ByteEnd-kept[n-1].ByteStart {
				kept[n-1] = m
			}
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// chunkOf returns the first chunk containing the byte range.
func chunkOf(chunks []*model.Chunk, start, end int) uuid.UUID {
	for _, c := range chunks {
		if c.Contains(start, end) {
			return c.ID
		}
	}
	return uuid.Nil
}

// applyLocators sets the page of each chunk from a "page_offsets" metadata list
// holding the byte offset where each page starts.
func applyLocators(chunks []*model.Chunk, metadata model.Metadata) {
	raw, ok := metadata["page_offsets"].([]interface{})
	if !ok {
		if ints, isInts := metadata["page_offsets"].([]int); isInts {
			for _, v := range ints {
				raw = append(raw, v)
			}
		}
	}
	if len(raw) == 0 {
		return
	}

	offsets := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case int:
			offsets = append(offsets, n)
		case float64:
			offsets = append(offsets, int(n))
		}
	}
	for _, c := range chunks {
		page := 0
		for i, o := range offsets {
			if o <= c.ByteStart {
				page = i + 1
			}
		}
		if page > 0 {
			c.Page = &page
		}
	}
}
