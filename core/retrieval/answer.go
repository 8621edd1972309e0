package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/siherrmann/citegraph/core/backend"
	"github.com/siherrmann/citegraph/core/metrics"
	"github.com/siherrmann/citegraph/model"
)

// Answer retrieves sources for query, generates an answer citing them by
// ordinal and resolves every cited ordinal to a citation. Without usable
// sources or citations it returns model.ErrCouldNotAnswer.
func (e *Engine) Answer(ctx context.Context, query string, config *model.QueryConfig) (*model.Answer, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	defer func() {
		metrics.RetrievalDuration.WithLabelValues("answer").Observe(time.Since(start).Seconds())
	}()

	sources, err := e.Retrieve(ctx, query, config)
	if err != nil {
		return nil, err
	}
	return e.answerFrom(ctx, query, sources)
}

// AnswerPage answers from one page of the ranked sources. Ordinals are global
// over all retrieved sources, so page 2 of size 5 cites [6] to [10] only and
// every marker of the answer resolves on the returned page.
func (e *Engine) AnswerPage(ctx context.Context, query string, config *model.QueryConfig, page model.PageRequest) (*model.PagedAnswer, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	defer func() {
		metrics.RetrievalDuration.WithLabelValues("answer_page").Observe(time.Since(start).Seconds())
	}()

	sources, err := e.Retrieve(ctx, query, config)
	if err != nil {
		return nil, err
	}
	slice := model.Paginate(sources, page)

	answer, err := e.answerFrom(ctx, query, slice.Results)
	if err != nil {
		return nil, err
	}
	return &model.PagedAnswer{
		Answer:     *answer,
		Page:       slice.Page,
		PageSize:   slice.PageSize,
		TotalCount: slice.TotalCount,
		TotalPages: slice.TotalPages,
	}, nil
}

func (e *Engine) answerFrom(ctx context.Context, query string, sources []model.RetrievedChunk) (*model.Answer, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no relevant sources", model.ErrCouldNotAnswer)
	}
	if e.generator == nil {
		return nil, &model.RetrievalError{Op: "generate", Err: errors.New("no generation backend configured")}
	}
	sources = e.tokens.fitSources(query, sources, e.config.MaxContextTokens)
	first, last := sources[0].Ordinal, sources[len(sources)-1].Ordinal

	text, err := e.generator.Generate(ctx, BuildPrompt(query, sources),
		backend.WithTask(backend.TaskAnswer),
		backend.WithSystemPrompts(systemPrompt),
	)
	if err != nil {
		return nil, &model.RetrievalError{Op: "generate", Retryable: true, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" || strings.HasPrefix(text, cannotAnswer) {
		return nil, fmt.Errorf("%w: the sources do not contain the answer", model.ErrCouldNotAnswer)
	}

	answer := &model.Answer{Query: query, Sources: sources}
	text, used, dropped := NormalizeMarkers(text, first, last)
	if len(dropped) > 0 {
		metrics.DroppedMarkers.Add(float64(len(dropped)))
		e.logger.Warn("Dropped citation markers outside the presented sources",
			slog.Any("dropped", dropped),
			slog.Int("first", first),
			slog.Int("last", last),
		)
		answer.Warnings = append(answer.Warnings, fmt.Sprintf("removed citation markers %v outside sources [%d]-[%d]", dropped, first, last))
	}
	if len(used) == 0 {
		return nil, fmt.Errorf("%w: the answer cites no source", model.ErrCouldNotAnswer)
	}
	answer.Text = text

	for _, n := range used {
		citation, err := e.Resolve(ctx, sources[n-first])
		if err != nil {
			return nil, &model.RetrievalError{Op: "resolve citation", Retryable: true, Err: err}
		}
		if citation.Warning != "" {
			answer.Warnings = append(answer.Warnings, citation.Warning)
		}
		answer.Citations = append(answer.Citations, citation)
	}
	answer.TotalSourcesUsed = len(answer.Citations)
	return answer, nil
}

// ListChunks pages the sources retrieved for query, filtered by relevance and
// publication date and sorted by opts.SortBy. Ordinals match those Answer uses.
func (e *Engine) ListChunks(ctx context.Context, query string, config *model.QueryConfig, opts model.ListOptions) (model.Page[model.RetrievedChunk], error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	sources, err := e.Retrieve(ctx, query, config)
	if err != nil {
		return model.Page[model.RetrievedChunk]{}, err
	}

	filtered := make([]model.RetrievedChunk, 0, len(sources))
	for _, s := range sources {
		var published *time.Time
		if s.Document != nil {
			published = s.Document.PublishedAt
		}
		if s.Relevance < opts.MinRelevance || !inRange(published, opts) {
			continue
		}
		filtered = append(filtered, s)
	}

	order := defaultOrder(opts.SortBy, opts.Order)
	slices.SortStableFunc(filtered, func(a, b model.RetrievedChunk) int {
		c := 0
		switch opts.SortBy {
		case model.SortByOrdinal, "":
			c = a.Ordinal - b.Ordinal
		case model.SortByRelevance:
			c = compareFloat(a.Relevance, b.Relevance)
		case model.SortByDate:
			c = compareTime(publishedAt(a), publishedAt(b))
		case model.SortByTitle:
			c = strings.Compare(strings.ToLower(title(a)), strings.ToLower(title(b)))
		}
		if order == model.SortDesc {
			c = -c
		}
		if c == 0 {
			c = a.Ordinal - b.Ordinal
		}
		return c
	})
	return model.Paginate(filtered, opts.PageRequest), nil
}

func publishedAt(s model.RetrievedChunk) *time.Time {
	if s.Document == nil {
		return nil
	}
	return s.Document.PublishedAt
}

func title(s model.RetrievedChunk) string {
	if s.Document == nil {
		return ""
	}
	return s.Document.Title
}

// defaultOrder sorts relevance and date descending and everything else ascending.
func defaultOrder(by model.CitationSort, order model.SortOrder) model.SortOrder {
	if order != "" {
		return order
	}
	if by == model.SortByRelevance || by == model.SortByDate {
		return model.SortDesc
	}
	return model.SortAsc
}

// inRange reports whether t lies in [From, To]. Undated records only pass without bounds.
func inRange(t *time.Time, opts model.ListOptions) bool {
	if opts.From == nil && opts.To == nil {
		return true
	}
	if t == nil {
		return false
	}
	if opts.From != nil && t.Before(*opts.From) {
		return false
	}
	return opts.To == nil || !t.After(*opts.To)
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareTime orders undated records first.
func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
