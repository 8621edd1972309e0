package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EdgeType is the class of a structural edge between mentions and entities.
type EdgeType string

const (
	// EdgeTypeCorefWith connects a chain member to the chain representative.
	EdgeTypeCorefWith EdgeType = "COREF_WITH"
	// EdgeTypeLinkedTo connects a mention to its canonical entity.
	EdgeTypeLinkedTo EdgeType = "LINKED_TO"
)

// Edge is a structural edge. Relations between entities are modelled by Relation.
type Edge struct {
	ID         uuid.UUID `json:"id"`
	SourceID   uuid.UUID `json:"source_id"`
	TargetID   uuid.UUID `json:"target_id"`
	EdgeType   EdgeType  `json:"edge_type"`
	DocumentID uuid.UUID `json:"document_id"`
	Weight     float64   `json:"weight"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
