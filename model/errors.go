package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmptyContent marks a document without content; its ID is the sentinel.
	ErrEmptyContent = errors.New("empty content")
	// ErrCouldNotAnswer is returned instead of an answer without sources.
	ErrCouldNotAnswer = errors.New("could not answer")
)

// IdentityCollisionError means two different payloads produced the same ID.
type IdentityCollisionError struct {
	ID   uuid.UUID
	Kind string
}

func (e *IdentityCollisionError) Error() string {
	return fmt.Sprintf("identity collision for %s %s", e.Kind, e.ID)
}

// ChunkBoundaryError means chunk offsets do not reconstruct the document text.
type ChunkBoundaryError struct {
	DocumentID uuid.UUID
	Start      int
	End        int
	Reason     string
}

func (e *ChunkBoundaryError) Error() string {
	return fmt.Sprintf("chunk boundary [%d, %d) of document %s: %s", e.Start, e.End, e.DocumentID, e.Reason)
}

// LinkingAmbiguityError describes a tie at the fuzzy threshold.
// It is logged as a low-confidence merge, never returned to callers.
type LinkingAmbiguityError struct {
	Surface    string
	Candidates []uuid.UUID
	Chosen     uuid.UUID
	Similarity float64
}

func (e *LinkingAmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous link for %q: %d candidates at similarity %.3f, chose %s", e.Surface, len(e.Candidates), e.Similarity, e.Chosen)
}

// GraphWriteConflictError is a concurrent upsert conflict. Writes are retried with the same payload.
type GraphWriteConflictError struct {
	Op  string
	Err error
}

func (e *GraphWriteConflictError) Error() string {
	return fmt.Sprintf("graph write conflict in %s: %v", e.Op, e.Err)
}

func (e *GraphWriteConflictError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is a GraphWriteConflictError.
func IsConflict(err error) bool {
	var c *GraphWriteConflictError
	return errors.As(err, &c)
}

// CitationResolutionMiss means a cited chunk has no resolvable parent document.
type CitationResolutionMiss struct {
	Index   int
	ChunkID uuid.UUID
	Reason  string
}

func (e *CitationResolutionMiss) Error() string {
	return fmt.Sprintf("citation [%d] chunk %s could not be resolved: %s", e.Index, e.ChunkID, e.Reason)
}

// MalformedClaimError rejects a statement before any write. Field names the offending field.
type MalformedClaimError struct {
	Field  string
	Reason string
}

func (e *MalformedClaimError) Error() string {
	return fmt.Sprintf("malformed claim: field %s %s", e.Field, e.Reason)
}

// RetrievalError is a typed retrieval failure carrying enough context to retry.
type RetrievalError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed in %s (retryable=%t): %v", e.Op, e.Retryable, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}
