package model

import (
	"time"

	"github.com/google/uuid"
)

// RetrievedChunk is a chunk selected for answering a query, with the ordinal
// it was presented under and its relevance score.
type RetrievedChunk struct {
	Ordinal   int       `json:"ordinal"`
	Chunk     *Chunk    `json:"chunk"`
	Document  *Document `json:"document,omitempty"`
	Relevance float64   `json:"relevance"`
}

// Stage is a step of the per-document ingestion sequence.
type Stage string

const (
	StageChunking   Stage = "chunking"
	StageExtracting Stage = "extracting"
	StageLinking    Stage = "linking"
	StageRelating   Stage = "relating"
	StageStoring    Stage = "storing"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// IngestStatus summarises the outcome of ingesting one document.
type IngestStatus string

const (
	IngestSuccess IngestStatus = "success"
	IngestPartial IngestStatus = "partial"
	IngestFailure IngestStatus = "failure"
)

// IngestResult is reported per document.
type IngestResult struct {
	RunID           string        `json:"run_id"`
	DocumentID      uuid.UUID     `json:"document_id"`
	SourceURI       string        `json:"source_uri"`
	Status          IngestStatus  `json:"status"`
	Stage           Stage         `json:"stage"`
	Reasons         []string      `json:"reasons,omitempty"`
	Chunks          int           `json:"chunks"`
	Mentions        int           `json:"mentions"`
	NewMentions     int           `json:"new_mentions"`
	EntitiesCreated int           `json:"entities_created"`
	EntitiesMerged  int           `json:"entities_merged"`
	Relations       int           `json:"relations"`
	Duration        time.Duration `json:"duration"`
}

// LinkBatch holds every write of one linking step. Stores apply it atomically.
type LinkBatch struct {
	DocumentID uuid.UUID           `json:"document_id"`
	Entities   []*Entity           `json:"entities"`
	Mentions   []*Mention          `json:"mentions"`
	Chains     []*CoreferenceChain `json:"chains"`
	Edges      []*Edge             `json:"edges"`
}
