package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/model"
)

// UpsertAgent registers or updates an agent.
func (s *Store) UpsertAgent(ctx context.Context, agent *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := *agent
	stored.Capabilities = slices.Clone(agent.Capabilities)
	if existing, ok := s.agents[agent.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.agents[agent.ID] = &stored
	*agent = stored
	return nil
}

// SelectAgent returns the agent or model.ErrNotFound.
func (s *Store) SelectAgent(ctx context.Context, id string) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, model.ErrNotFound)
	}
	c := *agent
	c.Capabilities = slices.Clone(agent.Capabilities)
	return &c, nil
}

// InsertStatement stores a statement once. If the ID exists the stored statement is returned with created false.
func (s *Store) InsertStatement(ctx context.Context, statement *model.ProvenanceStatement) (*model.ProvenanceStatement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.statements[statement.ID]; ok {
		return cloneStatement(existing), false, nil
	}
	stored := cloneStatement(statement)
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.statements[stored.ID] = stored
	return cloneStatement(stored), true, nil
}

// SelectStatement returns the statement or model.ErrNotFound.
func (s *Store) SelectStatement(ctx context.Context, id uuid.UUID) (*model.ProvenanceStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statements[id]
	if !ok {
		return nil, fmt.Errorf("statement %s: %w", id, model.ErrNotFound)
	}
	return cloneStatement(st), nil
}

// UpdateStatementConsensus stores the recomputed consensus score and verified flag.
func (s *Store) UpdateStatementConsensus(ctx context.Context, id uuid.UUID, score float64, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statements[id]
	if !ok {
		return fmt.Errorf("statement %s: %w", id, model.ErrNotFound)
	}
	st.ConsensusScore = score
	st.Verified = verified
	st.UpdatedAt = time.Now().UTC()
	return nil
}

// InsertVerification appends a record unless its ID is already present.
func (s *Store) InsertVerification(ctx context.Context, record *model.VerificationRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.statements[record.StatementID]; !ok {
		return false, fmt.Errorf("statement %s: %w", record.StatementID, model.ErrNotFound)
	}
	if s.verificationIDs[record.ID] {
		return false, nil
	}
	stored := *record
	stored.Findings = maps.Clone(record.Findings)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.verificationIDs[record.ID] = true
	s.verifications[record.StatementID] = append(s.verifications[record.StatementID], &stored)
	return true, nil
}

// SelectVerifications returns the records of a statement in insertion order.
func (s *Store) SelectVerifications(ctx context.Context, statementID uuid.UUID) ([]*model.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*model.VerificationRecord, 0, len(s.verifications[statementID]))
	for _, r := range s.verifications[statementID] {
		c := *r
		c.Findings = maps.Clone(r.Findings)
		records = append(records, &c)
	}
	return records, nil
}

// SelectPendingCritical returns unverified critical statements by priority, oldest first within a priority.
func (s *Store) SelectPendingCritical(ctx context.Context, limit int) ([]*model.ProvenanceStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*model.ProvenanceStatement
	for _, st := range s.statements {
		if st.Critical && !st.Verified {
			pending = append(pending, cloneStatement(st))
		}
	}
	slices.SortFunc(pending, func(a, b *model.ProvenanceStatement) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func cloneStatement(st *model.ProvenanceStatement) *model.ProvenanceStatement {
	c := *st
	c.Evidence = slices.Clone(st.Evidence)
	return &c
}
