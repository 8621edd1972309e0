package pipeline

import (
	"log/slog"
	"regexp"
	"slices"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/model"
)

var (
	pronounPattern = regexp.MustCompile(`(?i)\b(he|him|his|she|her|hers|it|its|they|them|their)\b`)
	nominalPattern = regexp.MustCompile(`(?i)\bthe\s+(company|firm|organi[sz]ation|startup|lab|corporation|group|city|country|town|state|region|man|woman|researcher|executive|founder|ceo|product|model|system|paper|study|book|article|report)\b`)

	personPronouns = mapset.NewSet("he", "him", "his", "she", "her", "hers")
	thingPronouns  = mapset.NewSet("it", "its")
	pluralPronouns = mapset.NewSet("they", "them", "their")

	nominalTypes = map[string]model.EntityType{
		"company": model.EntityTypeOrganization, "firm": model.EntityTypeOrganization,
		"organization": model.EntityTypeOrganization, "organisation": model.EntityTypeOrganization,
		"startup": model.EntityTypeOrganization, "lab": model.EntityTypeOrganization,
		"corporation": model.EntityTypeOrganization, "group": model.EntityTypeOrganization,
		"city": model.EntityTypeLocation, "country": model.EntityTypeLocation, "town": model.EntityTypeLocation,
		"state": model.EntityTypeLocation, "region": model.EntityTypeLocation,
		"man": model.EntityTypePerson, "woman": model.EntityTypePerson, "researcher": model.EntityTypePerson,
		"executive": model.EntityTypePerson, "founder": model.EntityTypePerson, "ceo": model.EntityTypePerson,
		"product": model.EntityTypeProduct, "model": model.EntityTypeProduct, "system": model.EntityTypeProduct,
		"paper": model.EntityTypeWork, "study": model.EntityTypeWork, "book": model.EntityTypeWork,
		"article": model.EntityTypeWork, "report": model.EntityTypeWork,
	}
)

// CorefResolver groups the mentions of one document into coreference chains.
//
// Named mentions join the chain of an earlier name they repeat or abbreviate
// ("Altman" after "Sam Altman"). A definite nominal ("the company") resolves to
// the nearest preceding referent of a compatible type. A pronoun resolves only when
// exactly one compatible referent occurs in its own or the previous sentence.
type CorefResolver struct {
	logger *slog.Logger
}

// NewCorefResolver creates a resolver.
func NewCorefResolver(logger *slog.Logger) *CorefResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorefResolver{logger: logger}
}

type referent struct {
	entityType model.EntityType
	mentions   []*model.Mention
	names      mapset.Set[string]
}

// Resolve returns the named mentions plus every resolved nominal and pronoun mention,
// ordered by offset, and the chains with at least two members. Mention offsets are
// document offsets; ChunkID is left empty for mentions the resolver creates.
func (c *CorefResolver) Resolve(documentID uuid.UUID, text string, named []*model.Mention) ([]*model.Mention, []*model.CoreferenceChain) {
	named = slices.Clone(named)
	sortMentions(named)

	bounds := SentenceBoundaries(text)
	sentenceOf := func(offset int) int {
		return sort.SearchInts(bounds, offset+1)
	}

	var referents []*referent
	var resolved []*model.Mention

	// Named mentions either start a referent or join an earlier one.
	for _, m := range named {
		name := identity.NormalizeName(m.SurfaceText)
		var target *referent
		for i := len(referents) - 1; i >= 0 && target == nil; i-- {
			r := referents[i]
			if r.names.Contains(name) || (isNamePart(name, r.names) && compatible(r.entityType, m.EntityType)) {
				target = r
			}
		}
		if target == nil {
			target = &referent{entityType: m.EntityType, names: mapset.NewThreadUnsafeSet[string]()}
			referents = append(referents, target)
		} else if m.EntityType == model.EntityTypeMisc {
			m.EntityType = target.entityType
		}
		target.names.Add(name)
		target.mentions = append(target.mentions, m)
		resolved = append(resolved, m)
	}

	occupied := func(start, end int) bool {
		for _, m := range named {
			if start < m.ByteEnd && m.ByteStart < end {
				return true
			}
		}
		return false
	}

	// Nominals: nearest preceding referent of the nominal's type.
	for _, loc := range nominalPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		if occupied(start, end) {
			continue
		}
		wanted := nominalTypes[strings.ToLower(text[loc[2]:loc[3]])]
		var best *referent
		bestEnd := -1
		for _, r := range referents {
			if r.entityType != wanted {
				continue
			}
			for _, m := range r.mentions {
				if m.ByteEnd <= start && m.ByteEnd > bestEnd {
					best, bestEnd = r, m.ByteEnd
				}
			}
		}
		if best == nil {
			continue
		}
		m := c.newMention(documentID, text, start, end, best.entityType, model.MentionKindNominal)
		best.mentions = append(best.mentions, m)
		resolved = append(resolved, m)
	}

	// Pronouns: unique compatible referent in the same or previous sentence.
	for _, loc := range pronounPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		if occupied(start, end) {
			continue
		}
		word := strings.ToLower(text[loc[2]:loc[3]])
		sentence := sentenceOf(start)

		candidates := mapset.NewThreadUnsafeSet[*referent]()
		for _, r := range referents {
			if !pronounFits(word, r.entityType) {
				continue
			}
			for _, m := range r.mentions {
				s := sentenceOf(m.ByteStart)
				if m.ByteEnd <= start && (s == sentence || s == sentence-1) {
					candidates.Add(r)
				}
			}
		}
		if candidates.Cardinality() != 1 {
			if candidates.Cardinality() > 1 {
				c.logger.Debug("Pronoun left unresolved", "pronoun", text[start:end], "offset", start, "candidates", candidates.Cardinality())
			}
			continue
		}
		best, _ := candidates.Pop()
		m := c.newMention(documentID, text, start, end, best.entityType, model.MentionKindPronoun)
		best.mentions = append(best.mentions, m)
		resolved = append(resolved, m)
	}

	var chains []*model.CoreferenceChain
	for _, r := range referents {
		if len(r.mentions) < 2 {
			continue
		}
		sortMentions(r.mentions)
		representative := r.mentions[0]
		for _, m := range r.mentions {
			if m.Kind == model.MentionKindName {
				representative = m
				break
			}
		}

		chain := &model.CoreferenceChain{
			ID:               identity.ChainID(documentID, representative.ID),
			DocumentID:       documentID,
			RepresentativeID: representative.ID,
			EntityType:       r.entityType,
		}
		for _, m := range r.mentions {
			chainID := chain.ID
			m.CorefChainID = &chainID
			chain.MentionIDs = append(chain.MentionIDs, m.ID)
		}
		chains = append(chains, chain)
	}

	sortMentions(resolved)
	return resolved, chains
}

// CorefEdges creates one COREF_WITH edge from every chain member to the representative.
func CorefEdges(chains []*model.CoreferenceChain) []*model.Edge {
	var edges []*model.Edge
	for _, chain := range chains {
		for _, id := range chain.MentionIDs {
			if id == chain.RepresentativeID {
				continue
			}
			edges = append(edges, &model.Edge{
				ID:         identity.EdgeID(model.EdgeTypeCorefWith, id, chain.RepresentativeID),
				SourceID:   id,
				TargetID:   chain.RepresentativeID,
				EdgeType:   model.EdgeTypeCorefWith,
				DocumentID: chain.DocumentID,
				Weight:     1,
			})
		}
	}
	return edges
}

func (c *CorefResolver) newMention(documentID uuid.UUID, text string, start, end int, entityType model.EntityType, kind model.MentionKind) *model.Mention {
	return &model.Mention{
		ID:          identity.MentionID(documentID, start, end),
		DocumentID:  documentID,
		SurfaceText: text[start:end],
		EntityType:  entityType,
		Kind:        kind,
		ByteStart:   start,
		ByteEnd:     end,
		Score:       0.6,
	}
}

// isNamePart reports whether a single word name is one of the words of a known multi-word name.
func isNamePart(name string, names mapset.Set[string]) bool {
	if strings.Contains(name, " ") {
		return false
	}
	found := false
	names.Each(func(known string) bool {
		words := strings.Fields(known)
		if len(words) > 1 && slices.Contains(words, name) {
			found = true
			return true
		}
		return false
	})
	return found
}

func compatible(known, candidate model.EntityType) bool {
	return known == candidate || candidate == model.EntityTypeMisc
}

func pronounFits(word string, t model.EntityType) bool {
	switch {
	case personPronouns.Contains(word):
		return t == model.EntityTypePerson
	case thingPronouns.Contains(word):
		return t != model.EntityTypePerson
	case pluralPronouns.Contains(word):
		return t == model.EntityTypeOrganization
	}
	return false
}

func sortMentions(mentions []*model.Mention) {
	slices.SortFunc(mentions, func(a, b *model.Mention) int {
		if a.ByteStart != b.ByteStart {
			return a.ByteStart - b.ByteStart
		}
		return a.ByteEnd - b.ByteEnd
	})
}
