package retrieval

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/siherrmann/citegraph/core/metrics"
	"github.com/siherrmann/citegraph/core/pipeline"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

// Resolve builds the citation of one presented source. The source is joined
// with its parent document again through the store so DocURL always comes from
// the document; a missing parent yields a citation without DocURL and a warning.
func (e *Engine) Resolve(ctx context.Context, source model.RetrievedChunk) (model.CitationRecord, error) {
	chunk := source.Chunk
	quote := Quote(chunk.Text, e.config.QuoteLength)

	citation := model.CitationRecord{
		Index:      source.Ordinal,
		ChunkID:    chunk.ID,
		ByteOffset: chunk.ByteStart,
		ByteEnd:    chunk.ByteStart + len(quote),
		Quote:      quote,
		Page:       chunk.Page,
		Timestamp:  chunk.Timestamp,
		Relevance:  source.Relevance,
	}

	joined, err := e.store.SelectChunk(ctx, chunk.ID)
	switch {
	case err == nil && joined.Document != nil:
		doc := joined.Document
		documentID := doc.ID
		url := doc.SourceURI
		citation.DocumentID = &documentID
		citation.DocURL = &url
		citation.Title = doc.Title
		citation.PublishedAt = doc.PublishedAt
		if url == "" {
			citation.DocURL = nil
			citation.Warning = e.miss(source, "document has no source uri")
		}
	case err == nil:
		citation.Warning = e.miss(source, "parent document not found")
	case isNotFound(err):
		citation.Warning = e.miss(source, "chunk not found")
	default:
		return citation, helper.NewError("resolve citation", err)
	}
	return citation, nil
}

func (e *Engine) miss(source model.RetrievedChunk, reason string) string {
	miss := &model.CitationResolutionMiss{Index: source.Ordinal, ChunkID: source.Chunk.ID, Reason: reason}
	metrics.CitationMisses.Inc()
	e.logger.Warn("Citation resolution miss",
		slog.Int("index", miss.Index),
		slog.String("chunk_id", miss.ChunkID.String()),
		slog.String("reason", reason),
	)
	return miss.Error()
}

// Quote returns a prefix of text of at most maxBytes that ends on a word
// boundary when possible. The result is always an exact prefix so its byte
// range can be located in the document.
func Quote(text string, maxBytes int) string {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if space := strings.LastIndexAny(text[:cut], " \t\n"); space > maxBytes/2 {
		cut = space
	}
	return text[:cut]
}

// CitationPage returns one page of the citations of answer, sorted and filtered
// by opts, with the answer sentences whose markers all resolve on that page.
func CitationPage(answer *model.Answer, opts model.ListOptions) model.CitationPage {
	citations := filterCitations(answer.Citations, opts)
	sortCitations(citations, opts.SortBy, opts.Order)
	page := model.Paginate(citations, opts.PageRequest)

	onPage := make(map[int]bool, len(page.Results))
	for _, c := range page.Results {
		onPage[c.Index] = true
	}
	return model.CitationPage{
		Citations: page,
		Excerpt:   excerpt(answer.Text, onPage),
	}
}

// excerpt keeps the sentences citing at least one source and only sources in onPage.
func excerpt(text string, onPage map[int]bool) string {
	var kept []string
	start := 0
	for _, end := range pipeline.SentenceBoundaries(text) {
		sentence := strings.TrimSpace(text[start:end])
		start = end
		markers := Markers(sentence)
		if len(markers) == 0 {
			continue
		}
		all := true
		for _, n := range markers {
			if !onPage[n] {
				all = false
				break
			}
		}
		if all {
			kept = append(kept, sentence)
		}
	}
	return strings.Join(kept, " ")
}

func filterCitations(citations []model.CitationRecord, opts model.ListOptions) []model.CitationRecord {
	out := make([]model.CitationRecord, 0, len(citations))
	for _, c := range citations {
		if c.Relevance < opts.MinRelevance {
			continue
		}
		if !inRange(c.PublishedAt, opts) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func sortCitations(citations []model.CitationRecord, by model.CitationSort, order model.SortOrder) {
	order = defaultOrder(by, order)
	slices.SortStableFunc(citations, func(a, b model.CitationRecord) int {
		c := 0
		switch by {
		case model.SortByOrdinal, "":
			c = a.Index - b.Index
		case model.SortByRelevance:
			c = compareFloat(a.Relevance, b.Relevance)
		case model.SortByDate:
			c = compareTime(a.PublishedAt, b.PublishedAt)
		case model.SortByTitle:
			c = strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		}
		if order == model.SortDesc {
			c = -c
		}
		if c == 0 {
			c = a.Index - b.Index
		}
		return c
	})
}
