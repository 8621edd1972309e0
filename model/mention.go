package model

import "github.com/google/uuid"

// EntityType is the coarse class of a named entity.
type EntityType string

const (
	EntityTypePerson       EntityType = "PERSON"
	EntityTypeOrganization EntityType = "ORG"
	EntityTypeLocation     EntityType = "LOC"
	EntityTypeProduct      EntityType = "PRODUCT"
	EntityTypeWork         EntityType = "WORK"
	EntityTypeMisc         EntityType = "MISC"
)

// MentionKind tells proper names apart from aliases resolved by coreference.
type MentionKind string

const (
	MentionKindName    MentionKind = "name"
	MentionKindNominal MentionKind = "nominal"
	MentionKindPronoun MentionKind = "pronoun"
)

// Mention is one occurrence of an entity inside a chunk.
// ByteStart and ByteEnd are offsets into the parent document.
type Mention struct {
	ID           uuid.UUID   `json:"id"`
	DocumentID   uuid.UUID   `json:"document_id"`
	ChunkID      uuid.UUID   `json:"chunk_id"`
	SurfaceText  string      `json:"surface_text"`
	EntityType   EntityType  `json:"entity_type"`
	Kind         MentionKind `json:"kind"`
	ByteStart    int         `json:"byte_start"`
	ByteEnd      int         `json:"byte_end"`
	Score        float64     `json:"score"`
	CorefChainID *uuid.UUID  `json:"coref_chain_id,omitempty"`
	EntityID     *uuid.UUID  `json:"entity_id,omitempty"`
}

// CoreferenceChain groups the mentions of one document sharing a referent.
type CoreferenceChain struct {
	ID               uuid.UUID   `json:"id"`
	DocumentID       uuid.UUID   `json:"document_id"`
	RepresentativeID uuid.UUID   `json:"representative_id"`
	EntityType       EntityType  `json:"entity_type"`
	MentionIDs       []uuid.UUID `json:"mention_ids"`
}
