package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRelationMerge(t *testing.T) {
	chunkA := uuid.New()
	chunkB := uuid.New()

	newRelation := func(chunk uuid.UUID, triggerStart int, confidence float64) *Relation {
		return &Relation{
			Type: RelationFounded,
			Evidence: []RelationEvidence{{
				ChunkID:      chunk,
				TriggerStart: triggerStart,
				Confidence:   confidence,
			}},
			Confidence: confidence,
		}
	}

	t.Run("Same evidence is idempotent", func(t *testing.T) {
		r := newRelation(chunkA, 11, 0.95)
		r.Merge(newRelation(chunkA, 11, 0.95))
		r.Merge(newRelation(chunkA, 11, 0.95))

		assert.Len(t, r.Evidence, 1, "Expected one evidence entry")
		assert.InDelta(t, 0.95, r.Confidence, 1e-9, "Expected confidence to be unchanged")
	})

	t.Run("Same evidence keeps the higher confidence", func(t *testing.T) {
		r := newRelation(chunkA, 11, 0.7)
		r.Merge(newRelation(chunkA, 11, 0.95))

		assert.Len(t, r.Evidence, 1, "Expected one evidence entry")
		assert.InDelta(t, 0.95, r.Confidence, 1e-9, "Expected the stronger extraction to win")
	})

	t.Run("New evidence combines with noisy-or", func(t *testing.T) {
		r := newRelation(chunkA, 11, 0.7)
		r.Merge(newRelation(chunkB, 3, 0.7))

		assert.Len(t, r.Evidence, 2, "Expected two evidence entries")
		assert.InDelta(t, 0.91, r.Confidence, 1e-9, "Expected 1-(0.3*0.3)")
	})

	t.Run("Temporal attribute is kept once set", func(t *testing.T) {
		y2015, y2016 := "2015", "2016"
		r := newRelation(chunkA, 11, 0.95)
		other := newRelation(chunkA, 11, 0.95)
		other.Temporal = &y2015
		r.Merge(other)
		other.Temporal = &y2016
		r.Merge(other)

		assert.Equal(t, "2015", *r.Temporal, "Expected the first temporal attribute to stay")
	})
}
