package model

import (
	"time"

	"github.com/google/uuid"
)

// CitationRecord resolves one [n] marker of an answer to its source text.
// DocURL is nil when the chunk could not be joined to its parent document;
// Warning then carries the reason.
type CitationRecord struct {
	Index       int        `json:"index"`
	ChunkID     uuid.UUID  `json:"chunk_id"`
	DocumentID  *uuid.UUID `json:"document_id,omitempty"`
	DocURL      *string    `json:"doc_url"`
	Title       string     `json:"title,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ByteOffset  int        `json:"byte_offset"`
	ByteEnd     int        `json:"byte_end"`
	Quote       string     `json:"quote"`
	Page        *int       `json:"page,omitempty"`
	Timestamp   *string    `json:"timestamp,omitempty"`
	Relevance   float64    `json:"relevance"`
	Warning     string     `json:"warning,omitempty"`
}

// Answer is a generated answer with the citations of every marker it uses.
type Answer struct {
	Query            string           `json:"query"`
	Text             string           `json:"answer"`
	Citations        []CitationRecord `json:"citations"`
	TotalSourcesUsed int              `json:"total_sources_used"`
	Sources          []RetrievedChunk `json:"-"`
	Warnings         []string         `json:"warnings,omitempty"`
}

// CitationPage is one page of an answer's citations together with the answer
// sentences whose markers all resolve on this page.
type CitationPage struct {
	Citations Page[CitationRecord] `json:"citations"`
	Excerpt   string               `json:"excerpt"`
}

// CitationSort is a sort field for citations and chunk lists.
type CitationSort string

const (
	SortByOrdinal   CitationSort = "ordinal"
	SortByRelevance CitationSort = "relevance"
	SortByDate      CitationSort = "date"
	SortByTitle     CitationSort = "title"
)

// ListOptions selects, filters and sorts a paginated citation or chunk list.
type ListOptions struct {
	PageRequest
	SortBy       CitationSort `json:"sort_by" mapstructure:"sort_by"`
	Order        SortOrder    `json:"order" mapstructure:"order"`
	From         *time.Time   `json:"from,omitempty"`
	To           *time.Time   `json:"to,omitempty"`
	MinRelevance float64      `json:"min_relevance" mapstructure:"min_relevance"`
}

// PagedAnswer is an answer generated from one page of the ranked sources.
// Its markers use the global ordinals of that page, so every cited index lies
// in [Offset+1, Offset+PageSize].
type PagedAnswer struct {
	Answer
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}
