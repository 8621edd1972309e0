package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// RelationType is the label of a directed relation between two entities.
type RelationType string

const (
	RelationFounded    RelationType = "FOUNDED"
	RelationEmployedBy RelationType = "EMPLOYED_BY"
	RelationCites      RelationType = "CITES"
	RelationLocatedIn  RelationType = "LOCATED_IN"
	RelationAcquired   RelationType = "ACQUIRED"
)

// RelationEvidence points at the chunk and mentions a relation was extracted from.
type RelationEvidence struct {
	ChunkID      uuid.UUID   `json:"chunk_id"`
	MentionIDs   []uuid.UUID `json:"mention_ids"`
	Trigger      string      `json:"trigger"`
	TriggerStart int         `json:"trigger_start"`
	TriggerEnd   int         `json:"trigger_end"`
	Confidence   float64     `json:"confidence"`
}

// Key identifies one piece of evidence: the same trigger in the same chunk.
func (e RelationEvidence) Key() string {
	return e.ChunkID.String() + ":" + itoa(e.TriggerStart)
}

// Relation is a directed edge (Source, Type, Target) keyed by its deterministic ID.
type Relation struct {
	ID         uuid.UUID          `json:"id"`
	SourceID   uuid.UUID          `json:"source_id"`
	TargetID   uuid.UUID          `json:"target_id"`
	Type       RelationType       `json:"type"`
	Confidence float64            `json:"confidence"`
	Temporal   *string            `json:"temporal,omitempty"`
	Evidence   []RelationEvidence `json:"evidence"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Merge folds other into r. Evidence is deduplicated by key keeping the higher
// confidence, and the relation confidence is the noisy-or over distinct evidence.
// Merging the same evidence twice leaves r unchanged.
func (r *Relation) Merge(other *Relation) {
	byKey := make(map[string]int, len(r.Evidence))
	for i, e := range r.Evidence {
		byKey[e.Key()] = i
	}
	for _, e := range other.Evidence {
		if i, ok := byKey[e.Key()]; ok {
			if e.Confidence > r.Evidence[i].Confidence {
				r.Evidence[i].Confidence = e.Confidence
			}
			continue
		}
		byKey[e.Key()] = len(r.Evidence)
		r.Evidence = append(r.Evidence, e)
	}
	slices.SortFunc(r.Evidence, func(a, b RelationEvidence) int {
		if a.ChunkID != b.ChunkID {
			return slices.Compare(a.ChunkID[:], b.ChunkID[:])
		}
		return a.TriggerStart - b.TriggerStart
	})

	if r.Temporal == nil && other.Temporal != nil {
		t := *other.Temporal
		r.Temporal = &t
	}
	r.Confidence = r.EvidenceConfidence()
}

// EvidenceConfidence combines the evidence confidences with noisy-or.
func (r *Relation) EvidenceConfidence() float64 {
	if len(r.Evidence) == 0 {
		return r.Confidence
	}
	miss := 1.0
	for _, e := range r.Evidence {
		miss *= 1 - e.Confidence
	}
	return 1 - miss
}

// Other returns the endpoint of r opposite to id.
func (r *Relation) Other(id uuid.UUID) uuid.UUID {
	if r.SourceID == id {
		return r.TargetID
	}
	return r.SourceID
}

// Clone returns a deep copy of the relation.
func (r *Relation) Clone() *Relation {
	c := *r
	c.Evidence = make([]RelationEvidence, len(r.Evidence))
	for i, e := range r.Evidence {
		e.MentionIDs = slices.Clone(e.MentionIDs)
		c.Evidence[i] = e
	}
	if r.Temporal != nil {
		t := *r.Temporal
		c.Temporal = &t
	}
	return &c
}
