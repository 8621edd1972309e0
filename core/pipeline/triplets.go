package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/knights-analytics/hugot"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/model"
)

// Triplet is a (head, relation, tail) statement produced by a generative extractor.
type Triplet struct {
	Head     string
	Relation string
	Tail     string
}

// TripletFunc generates the triplets of one chunk text.
type TripletFunc func(ctx context.Context, text string) ([]Triplet, error)

// tripletLabel maps a generated relation label to a catalog relation type.
// Reverse labels name the relation from the target's point of view.
type tripletLabel struct {
	relationType model.RelationType
	reverse      bool
}

var tripletLabels = map[string]tripletLabel{
	"founded by":            {model.RelationFounded, true},
	"founder":               {model.RelationFounded, true},
	"founded":               {model.RelationFounded, false},
	"employer":              {model.RelationEmployedBy, false},
	"employed by":           {model.RelationEmployedBy, false},
	"member of":             {model.RelationEmployedBy, false},
	"cites work":            {model.RelationCites, false},
	"cites":                 {model.RelationCites, false},
	"headquarters location": {model.RelationLocatedIn, false},
	"located in":            {model.RelationLocatedIn, false},
	"country":               {model.RelationLocatedIn, false},
	"owned by":              {model.RelationAcquired, true},
	"parent organization":   {model.RelationAcquired, true},
	"subsidiary":            {model.RelationAcquired, false},
	"acquired":              {model.RelationAcquired, false},

	"located in the administrative territorial entity": {model.RelationLocatedIn, false},
}

var tripletPattern = regexp.MustCompile(`<triplet>([^<]+)<subj>([^<]+)<obj>([^<]+)`)

// HugotTripletExtractor runs a REBEL style text generation model that emits
// "<triplet> head <subj> tail <obj> relation" sequences.
func HugotTripletExtractor(modelPath string) (TripletFunc, error) {
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.TextGenerationConfig{
		ModelPath: modelPath,
		Name:      "triplet-pipeline",
	}
	generationPipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create triplet pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create triplet pipeline: %w", err)
	}

	return func(ctx context.Context, text string) ([]Triplet, error) {
		output, err := generationPipeline.RunPipeline(ctx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("failed to generate triplets: %w", err)
		}
		if len(output.Responses) == 0 {
			return nil, nil
		}
		return ParseTriplets(output.Responses[0]), nil
	}, nil
}

// ParseTriplets reads REBEL output. The generated order is head, tail, relation.
func ParseTriplets(generated string) []Triplet {
	var triplets []Triplet
	for _, match := range tripletPattern.FindAllStringSubmatch(generated, -1) {
		t := Triplet{
			Head:     strings.TrimSpace(match[1]),
			Tail:     strings.TrimSpace(match[2]),
			Relation: strings.TrimSpace(match[3]),
		}
		if t.Head != "" && t.Tail != "" && t.Relation != "" {
			triplets = append(triplets, t)
		}
	}
	return triplets
}

// TripletRelations turns the triplets of a chunk into relations between its
// linked mentions. Heads and tails are matched by normalized name; triplets with
// an unknown label or an unmatched argument are skipped. Evidence points at the
// first mention of the head since generated text has no trigger offsets.
func TripletRelations(chunk *model.Chunk, mentions []*model.Mention, triplets []Triplet, strength float64) []*model.Relation {
	byName := make(map[string]*model.Mention)
	for _, m := range mentions {
		if m.EntityID == nil || m.Kind != model.MentionKindName || !chunk.Contains(m.ByteStart, m.ByteEnd) {
			continue
		}
		name := identity.NormalizeName(m.SurfaceText)
		if _, ok := byName[name]; !ok {
			byName[name] = m
		}
	}

	byID := make(map[uuid.UUID]*model.Relation)
	var order []uuid.UUID
	for _, t := range triplets {
		label, ok := tripletLabels[strings.ToLower(t.Relation)]
		head, headOK := byName[identity.NormalizeName(t.Head)]
		tail, tailOK := byName[identity.NormalizeName(t.Tail)]
		if !ok || !headOK || !tailOK || *head.EntityID == *tail.EntityID {
			continue
		}

		subject, object := head, tail
		if label.reverse {
			subject, object = tail, head
		}
		r := &model.Relation{
			ID:       identity.RelationID(*subject.EntityID, label.relationType, *object.EntityID),
			SourceID: *subject.EntityID,
			TargetID: *object.EntityID,
			Type:     label.relationType,
			Evidence: []model.RelationEvidence{{
				ChunkID:      chunk.ID,
				MentionIDs:   []uuid.UUID{subject.ID, object.ID},
				Trigger:      t.Relation,
				TriggerStart: head.ByteStart,
				TriggerEnd:   head.ByteEnd,
				Confidence:   strength,
			}},
		}
		r.Confidence = r.EvidenceConfidence()

		if existing, ok := byID[r.ID]; ok {
			existing.Merge(r)
			continue
		}
		byID[r.ID] = r
		order = append(order, r.ID)
	}

	relations := make([]*model.Relation, len(order))
	for i, id := range order {
		relations[i] = byID[id]
	}
	return relations
}
