package pipeline

import (
	"regexp"
	"sort"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/model"
)

var yearPattern = regexp.MustCompile(`\b(1[6-9]\d{2}|20\d{2})\b`)

// RelationExtractor finds catalog triggers between linked mentions of one chunk.
type RelationExtractor struct {
	catalog *Catalog
	config  model.RelationConfig
}

// NewRelationExtractor creates an extractor over catalog.
func NewRelationExtractor(catalog *Catalog, config model.RelationConfig) *RelationExtractor {
	return &RelationExtractor{catalog: catalog, config: config}
}

type localMention struct {
	*model.Mention
	start, end int
}

// Extract returns the relations of chunk. Only mentions lying inside the chunk and
// already linked to an entity take part. Subject and object are the closest
// mentions left and right of a trigger inside the same sentence; a reverse pattern
// swaps them. Every relation carries the trigger as evidence.
func (x *RelationExtractor) Extract(chunk *model.Chunk, mentions []*model.Mention) []*model.Relation {
	var local []localMention
	for _, m := range mentions {
		if m.EntityID == nil || !chunk.Contains(m.ByteStart, m.ByteEnd) {
			continue
		}
		local = append(local, localMention{Mention: m, start: m.ByteStart - chunk.ByteStart, end: m.ByteEnd - chunk.ByteStart})
	}
	if len(local) < 2 {
		return nil
	}
	sort.Slice(local, func(i, j int) bool { return local[i].start < local[j].start })

	text := chunk.Text
	bounds := SentenceBoundaries(text)
	sentenceOf := func(offset int) int {
		return sort.SearchInts(bounds, offset+1)
	}

	byID := make(map[string]*model.Relation)
	var order []string
	var consumed []Span

	for _, p := range x.catalog.Patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			ts, te := loc[0], loc[1]
			if overlaps(consumed, ts, te) || insideMention(local, ts, te) {
				continue
			}
			if p.Passive {
				consumed = append(consumed, Span{Start: ts, End: te})
			}

			sentence := sentenceOf(ts)
			left, right := -1, -1
			for i, m := range local {
				if m.end <= ts && ts-m.end <= x.config.MaxArgumentGap && sentenceOf(m.start) == sentence {
					left = i
				}
				if right < 0 && m.start >= te && m.start-te <= x.config.MaxArgumentGap && sentenceOf(m.start) == sentence {
					right = i
				}
			}
			if left < 0 || right < 0 {
				continue
			}

			subject, object := local[left], local[right]
			if p.Reverse {
				subject, object = object, subject
			}
			if *subject.EntityID == *object.EntityID || !p.accepts(subject.EntityType, object.EntityType) {
				continue
			}
			if !p.Passive {
				consumed = append(consumed, Span{Start: ts, End: te})
			}

			r := &model.Relation{
				ID:       identity.RelationID(*subject.EntityID, p.Type, *object.EntityID),
				SourceID: *subject.EntityID,
				TargetID: *object.EntityID,
				Type:     p.Type,
				Temporal: x.temporal(text, bounds, sentence, ts, te),
				Evidence: []model.RelationEvidence{{
					ChunkID:      chunk.ID,
					MentionIDs:   []uuid.UUID{subject.ID, object.ID},
					Trigger:      text[ts:te],
					TriggerStart: chunk.ByteStart + ts,
					TriggerEnd:   chunk.ByteStart + te,
					Confidence:   p.Strength,
				}},
			}
			r.Confidence = r.EvidenceConfidence()

			key := r.ID.String()
			if existing, ok := byID[key]; ok {
				existing.Merge(r)
				continue
			}
			byID[key] = r
			order = append(order, key)
		}
	}

	relations := make([]*model.Relation, len(order))
	for i, key := range order {
		relations[i] = byID[key]
	}
	return relations
}

// temporal returns the year closest to the trigger within the window and the trigger's sentence.
func (x *RelationExtractor) temporal(text string, bounds []int, sentence, ts, te int) *string {
	sentenceStart := 0
	if sentence > 0 {
		sentenceStart = bounds[sentence-1]
	}
	sentenceEnd := bounds[sentence]

	lo := max(ts-x.config.TemporalWindow, sentenceStart)
	hi := min(te+x.config.TemporalWindow, sentenceEnd)
	if lo >= hi {
		return nil
	}

	var best *string
	bestDist := -1
	for _, loc := range yearPattern.FindAllStringIndex(text[lo:hi], -1) {
		start, end := lo+loc[0], lo+loc[1]
		d := start - te
		if end <= ts {
			d = ts - end
		}
		if d < 0 {
			d = 0
		}
		if bestDist < 0 || d < bestDist {
			year := text[start:end]
			best, bestDist = &year, d
		}
	}
	return best
}

func overlaps(spans []Span, start, end int) bool {
	for _, s := range spans {
		if start < s.End && s.Start < end {
			return true
		}
	}
	return false
}

func insideMention(mentions []localMention, start, end int) bool {
	for _, m := range mentions {
		if start < m.end && m.start < end {
			return true
		}
	}
	return false
}
