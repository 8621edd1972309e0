package pipeline

import (
	"context"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
	"golang.org/x/sync/errgroup"
)

// ProcessBatch ingests documents concurrently, at most config.Workers at a time.
// A failing document never stops the others; results keep the input order and
// share one run ID.
func (p *Pipeline) ProcessBatch(ctx context.Context, sources []*model.SourceDocument) ([]*model.IngestResult, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return nil, helper.NewError("run id", err)
	}

	results := make([]*model.IngestResult, len(sources))
	var g errgroup.Group
	g.SetLimit(max(p.config.Workers, 1))
	for i, source := range sources {
		g.Go(func() error {
			result, err := p.process(ctx, runID, source)
			if err != nil {
				p.logger.Warn("Document failed", "run_id", runID, "source_uri", source.SourceURI, "error", err)
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("Batch ingested", "run_id", runID, "documents", len(sources))
	return results, ctx.Err()
}
