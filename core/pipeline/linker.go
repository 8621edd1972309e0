package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/siherrmann/citegraph/core/graph"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

// LinkStats counts what one linking step changed.
type LinkStats struct {
	Mentions        int
	NewMentions     int
	EntitiesCreated int
	EntitiesMerged  int
	Ambiguous       int
}

// Linker merges the mentions of a document into canonical entities.
type Linker struct {
	store    graph.Store
	config   model.LinkerConfig
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
	dmp      *diffmatchpatch.DiffMatchPatch
}

// NewLinker creates a linker. Conflicting link batches are replanned up to attempts times.
func NewLinker(store graph.Store, config model.LinkerConfig, attempts int, backoff time.Duration, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{
		store:    store,
		config:   config,
		attempts: attempts,
		backoff:  backoff,
		logger:   logger,
		dmp:      diffmatchpatch.New(),
	}
}

// Link plans and applies the link batch of one document. The batch is written
// atomically; on a version conflict it is planned again from the new store state.
// On success every mention has its EntityID set.
func (l *Linker) Link(ctx context.Context, documentID uuid.UUID, mentions []*model.Mention, chains []*model.CoreferenceChain) (*LinkStats, error) {
	return helper.RetryWithContext(ctx, l.attempts, l.backoff, model.IsConflict, func(ctx context.Context) (*LinkStats, error) {
		batch, stats, err := l.Plan(ctx, documentID, mentions, chains)
		if err != nil {
			return nil, err
		}
		if err := l.store.ApplyLinkBatch(ctx, batch); err != nil {
			if model.IsConflict(err) {
				l.logger.Warn("Link batch conflict, replanning", "document_id", documentID, "error", err)
			}
			return nil, err
		}
		return stats, nil
	})
}

type linkGroup struct {
	entityType     model.EntityType
	representative *model.Mention
	members        []*model.Mention
}

type linkPlan struct {
	l          *Linker
	ctx        context.Context
	touched    map[uuid.UUID]*model.Entity
	order      []uuid.UUID
	candidates map[model.EntityType][]*model.Entity
}

// Plan computes the link batch without writing it.
func (l *Linker) Plan(ctx context.Context, documentID uuid.UUID, mentions []*model.Mention, chains []*model.CoreferenceChain) (*model.LinkBatch, *LinkStats, error) {
	ids := make([]uuid.UUID, len(mentions))
	byID := make(map[uuid.UUID]*model.Mention, len(mentions))
	for i, m := range mentions {
		ids[i] = m.ID
		byID[m.ID] = m
	}
	linked, err := l.store.LinkedMentions(ctx, ids)
	if err != nil {
		return nil, nil, helper.NewError("select linked mentions", err)
	}

	groups := buildGroups(mentions, chains, byID)
	plan := &linkPlan{
		l:          l,
		ctx:        ctx,
		touched:    make(map[uuid.UUID]*model.Entity),
		candidates: make(map[model.EntityType][]*model.Entity),
	}
	batch := &model.LinkBatch{DocumentID: documentID, Chains: chains, Edges: CorefEdges(chains)}
	stats := &LinkStats{Mentions: len(mentions)}

	for _, g := range groups {
		var known *uuid.UUID
		var fresh []*model.Mention
		for _, m := range g.members {
			if entityID, ok := linked[m.ID]; ok {
				m.EntityID = &entityID
				if known == nil {
					known = &entityID
				}
				continue
			}
			fresh = append(fresh, m)
		}
		if len(fresh) == 0 {
			continue
		}

		var entity *model.Entity
		similarity := 1.0
		if known != nil {
			entity, err = plan.entity(*known)
		} else {
			entity, similarity, err = plan.resolve(g, stats)
		}
		if err != nil {
			return nil, nil, err
		}

		if entity == nil {
			entity = plan.create(g)
			stats.EntitiesCreated++
		} else {
			confidence := l.config.NameWeight*similarity + l.config.ContextWeight*contextScore(g, entity)
			l.absorb(entity, confidence, len(fresh))
			stats.EntitiesMerged++
		}
		entity.MentionCount += len(fresh)
		for _, m := range g.members {
			if m.Kind == model.MentionKindName {
				entity.AddAlias(identity.NormalizeName(m.SurfaceText))
			}
		}

		for _, m := range fresh {
			entityID := entity.ID
			m.EntityID = &entityID
			m.EntityType = entity.EntityType
			batch.Mentions = append(batch.Mentions, m)
			batch.Edges = append(batch.Edges, &model.Edge{
				ID:         identity.EdgeID(model.EdgeTypeLinkedTo, m.ID, entity.ID),
				SourceID:   m.ID,
				TargetID:   entity.ID,
				EdgeType:   model.EdgeTypeLinkedTo,
				DocumentID: documentID,
				Weight:     entity.Confidence,
			})
		}
		stats.NewMentions += len(fresh)
	}

	for _, id := range plan.order {
		batch.Entities = append(batch.Entities, plan.touched[id])
	}
	return batch, stats, nil
}

// buildGroups returns one group per chain and one per unchained named mention.
func buildGroups(mentions []*model.Mention, chains []*model.CoreferenceChain, byID map[uuid.UUID]*model.Mention) []*linkGroup {
	inChain := make(map[uuid.UUID]bool)
	var groups []*linkGroup
	for _, chain := range chains {
		g := &linkGroup{entityType: chain.EntityType, representative: byID[chain.RepresentativeID]}
		for _, id := range chain.MentionIDs {
			if m, ok := byID[id]; ok {
				g.members = append(g.members, m)
				inChain[id] = true
			}
		}
		if g.representative == nil || len(g.members) == 0 {
			continue
		}
		groups = append(groups, g)
	}
	for _, m := range mentions {
		if inChain[m.ID] || m.Kind != model.MentionKindName {
			continue
		}
		groups = append(groups, &linkGroup{entityType: m.EntityType, representative: m, members: []*model.Mention{m}})
	}

	slices.SortStableFunc(groups, func(a, b *linkGroup) int {
		return a.representative.ByteStart - b.representative.ByteStart
	})
	return groups
}

// entity returns the batch-local copy of an entity, loading it on first use.
func (p *linkPlan) entity(id uuid.UUID) (*model.Entity, error) {
	if e, ok := p.touched[id]; ok {
		return e, nil
	}
	e, err := p.l.store.SelectEntity(p.ctx, id)
	if err != nil {
		return nil, helper.NewError("select entity", err)
	}
	p.track(e)
	return e, nil
}

func (p *linkPlan) track(e *model.Entity) *model.Entity {
	if existing, ok := p.touched[e.ID]; ok {
		return existing
	}
	p.touched[e.ID] = e
	p.order = append(p.order, e.ID)
	return e
}

// resolve finds the entity a group links to: exact name, known alias, then the
// best fuzzy match at or above the threshold. A nil entity means create a new one.
func (p *linkPlan) resolve(g *linkGroup, stats *LinkStats) (*model.Entity, float64, error) {
	name := identity.NormalizeName(g.representative.SurfaceText)
	exactID := identity.EntityID(g.entityType, name)

	if e, ok := p.touched[exactID]; ok {
		return e, 1, nil
	}
	e, err := p.l.store.SelectEntity(p.ctx, exactID)
	if err == nil {
		return p.track(e), 1, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, 0, helper.NewError("select entity", err)
	}

	candidates, err := p.candidatesOf(g.entityType)
	if err != nil {
		return nil, 0, err
	}

	bestScore := -1.0
	var best []*model.Entity
	for _, c := range candidates {
		score := 0.0
		if c.HasAlias(name) {
			score = 1
		} else {
			score = p.l.similarity(name, c)
		}
		switch {
		case score > bestScore+p.l.config.AmbiguityEpsilon:
			bestScore, best = score, []*model.Entity{c}
		case math.Abs(score-bestScore) <= p.l.config.AmbiguityEpsilon:
			best = append(best, c)
		}
	}
	if len(best) == 0 || bestScore < p.l.config.FuzzyThreshold {
		return nil, 0, nil
	}

	slices.SortFunc(best, func(a, b *model.Entity) int {
		if a.MentionCount != b.MentionCount {
			return b.MentionCount - a.MentionCount
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	chosen := best[0]
	if len(best) > 1 {
		ids := make([]uuid.UUID, len(best))
		for i, c := range best {
			ids[i] = c.ID
		}
		stats.Ambiguous++
		p.l.logger.Warn("Low confidence merge", "error", &model.LinkingAmbiguityError{
			Surface:    g.representative.SurfaceText,
			Candidates: ids,
			Chosen:     chosen.ID,
			Similarity: bestScore,
		})
	}
	return p.track(chosen), bestScore, nil
}

func (p *linkPlan) candidatesOf(entityType model.EntityType) ([]*model.Entity, error) {
	if c, ok := p.candidates[entityType]; ok {
		return c, nil
	}
	stored, err := p.l.store.SelectEntitiesByType(p.ctx, entityType)
	if err != nil {
		return nil, helper.NewError("select entities by type", err)
	}
	seen := make(map[uuid.UUID]bool, len(stored))
	for i, e := range stored {
		seen[e.ID] = true
		if t, ok := p.touched[e.ID]; ok {
			stored[i] = t
		}
	}
	for _, id := range p.order {
		if t := p.touched[id]; !seen[id] && t.EntityType == entityType {
			stored = append(stored, t)
		}
	}
	p.candidates[entityType] = stored
	return stored, nil
}

func (p *linkPlan) create(g *linkGroup) *model.Entity {
	now := time.Now().UTC()
	e := &model.Entity{
		ID:            identity.EntityID(g.entityType, g.representative.SurfaceText),
		CanonicalName: identity.Normalize(g.representative.SurfaceText),
		EntityType:    g.entityType,
		FirstSeen:     now,
		Confidence:    meanScore(g.members),
	}
	p.track(e)
	if c, ok := p.candidates[g.entityType]; ok {
		p.candidates[g.entityType] = append(c, e)
	}
	return e
}

// similarity is one minus the normalized Levenshtein distance to the closest known name.
func (l *Linker) similarity(name string, e *model.Entity) float64 {
	best := 0.0
	for _, known := range append([]string{identity.NormalizeName(e.CanonicalName)}, e.Aliases...) {
		longest := max(utf8.RuneCountInString(name), utf8.RuneCountInString(known))
		if longest == 0 {
			continue
		}
		distance := l.dmp.DiffLevenshtein(l.dmp.DiffMain(name, known, false))
		best = max(best, 1-float64(distance)/float64(longest))
	}
	return best
}

// absorb folds a link confidence into the running confidence. Neither rule decreases it.
func (l *Linker) absorb(e *model.Entity, confidence float64, added int) {
	switch l.config.ConfidenceRule {
	case model.ConfidenceNoisyOr:
		e.Confidence = 1 - (1-e.Confidence)*(1-confidence)
	default:
		n := float64(e.MentionCount)
		k := float64(added)
		e.Confidence = max(e.Confidence, (e.Confidence*n+confidence*k)/(n+k))
	}
	e.Confidence = min(e.Confidence, 1)
}

// contextScore is the share of the group's names the entity already knows.
func contextScore(g *linkGroup, e *model.Entity) float64 {
	total, known := 0, 0
	canonical := identity.NormalizeName(e.CanonicalName)
	for _, m := range g.members {
		if m.Kind != model.MentionKindName {
			continue
		}
		total++
		name := identity.NormalizeName(m.SurfaceText)
		if name == canonical || e.HasAlias(name) {
			known++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(known) / float64(total)
}

func meanScore(mentions []*model.Mention) float64 {
	sum, n := 0.0, 0
	for _, m := range mentions {
		if m.Kind == model.MentionKindName && m.Score > 0 {
			sum += m.Score
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}
