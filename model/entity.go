package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Entity is the canonical, cross-document identity many mentions link to.
// Entities are never deleted, only merged into.
type Entity struct {
	ID            uuid.UUID  `json:"id"`
	CanonicalName string     `json:"canonical_name"`
	EntityType    EntityType `json:"entity_type"`
	Aliases       []string   `json:"aliases,omitempty"`
	FirstSeen     time.Time  `json:"first_seen"`
	MentionCount  int        `json:"mention_count"`
	Confidence    float64    `json:"confidence"`
	Metadata      Metadata   `json:"metadata,omitempty"`
	Version       int        `json:"version"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasAlias reports whether the normalized alias is already known.
func (e *Entity) HasAlias(alias string) bool {
	return slices.Contains(e.Aliases, alias)
}

// AddAlias records a normalized alias once, keeping the list sorted.
func (e *Entity) AddAlias(alias string) {
	if alias == "" || e.HasAlias(alias) {
		return
	}
	e.Aliases = append(e.Aliases, alias)
	slices.Sort(e.Aliases)
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Aliases = slices.Clone(e.Aliases)
	if e.Metadata != nil {
		c.Metadata = make(Metadata, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
