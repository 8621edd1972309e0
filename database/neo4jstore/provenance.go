package neo4jstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

// Agents, statements and verifications are nodes. A statement is linked to its
// author by STATED and to one Evidence node per segment; a verification points
// at its statement with VERIFIES and carries a per statement sequence number.

// UpsertAgent creates or updates an agent and sets its timestamps.
func (s *Store) UpsertAgent(ctx context.Context, agent *model.Agent) error {
	capabilities := agent.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	rows, err := s.write(ctx, func(tx neo4j.Transaction) (any, error) {
		return collectProps(tx, `
			MERGE (a:Agent {id: $id})
			ON CREATE SET a.created_at = $now
			SET a.name = $name, a.capabilities = $capabilities, a.reputation = $reputation, a.updated_at = $now
			RETURN properties(a)`,
			map[string]any{
				"id":           agent.ID,
				"name":         agent.Name,
				"capabilities": capabilities,
				"reputation":   agent.Reputation,
				"now":          time.Now().UTC(),
			})
	})
	if err != nil {
		return helper.NewError("upsert agent", err)
	}
	if stored := rows.([]props); len(stored) > 0 {
		agent.CreatedAt = stored[0].timestamp("created_at")
		agent.UpdatedAt = stored[0].timestamp("updated_at")
	}
	return nil
}

// SelectAgent retrieves an agent or returns model.ErrNotFound.
func (s *Store) SelectAgent(ctx context.Context, id string) (*model.Agent, error) {
	rows, err := s.readProps(ctx, `MATCH (a:Agent {id: $id}) RETURN properties(a)`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound("agent", id)
	}
	p := rows[0]
	return &model.Agent{
		ID:           p.str("id"),
		Name:         p.str("name"),
		Capabilities: p.stringList("capabilities"),
		Reputation:   p.float("reputation"),
		CreatedAt:    p.timestamp("created_at"),
		UpdatedAt:    p.timestamp("updated_at"),
	}, nil
}

// InsertStatement stores a statement once. If the ID exists the stored
// statement is returned with created false.
func (s *Store) InsertStatement(ctx context.Context, statement *model.ProvenanceStatement) (*model.ProvenanceStatement, bool, error) {
	evidence, err := json.Marshal(statement.Evidence)
	if err != nil {
		return nil, false, helper.NewError("marshal evidence", err)
	}
	segments := make([]map[string]any, 0, len(statement.Evidence))
	for i, e := range statement.Evidence {
		segments = append(segments, map[string]any{
			"position":   i,
			"source_url": e.SourceURL,
			"byte_start": e.ByteStart,
			"byte_end":   e.ByteEnd,
			"quote":      e.Quote,
		})
	}

	type inserted struct {
		props   props
		created bool
	}
	result, err := s.write(ctx, func(tx neo4j.Transaction) (any, error) {
		existing, err := collectProps(tx, `MATCH (s:Statement {id: $id}) RETURN properties(s)`,
			map[string]any{"id": statement.ID.String()})
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return inserted{props: existing[0]}, nil
		}

		now := time.Now().UTC()
		rows, err := collectProps(tx, `
			CREATE (s:Statement {
				id: $id, agent_id: $agent_id, claim_text: $claim_text, confidence: $confidence,
				evidence: $evidence, critical: $critical, priority: $priority,
				consensus_score: 0.0, verified: false, created_at: $now, updated_at: $now
			})
			FOREACH (segment IN $segments |
				CREATE (s)-[:HAS_EVIDENCE {position: segment.position}]->(:Evidence {
					source_url: segment.source_url, byte_start: segment.byte_start,
					byte_end: segment.byte_end, quote: segment.quote
				})
			)
			WITH s
			OPTIONAL MATCH (a:Agent {id: $agent_id})
			FOREACH (author IN CASE WHEN a IS NULL THEN [] ELSE [a] END | MERGE (author)-[:STATED]->(s))
			RETURN properties(s)`,
			map[string]any{
				"id":         statement.ID.String(),
				"agent_id":   statement.AgentID,
				"claim_text": statement.ClaimText,
				"confidence": statement.Confidence,
				"evidence":   string(evidence),
				"critical":   statement.Critical,
				"priority":   statement.Priority,
				"segments":   segments,
				"now":        now,
			})
		if err != nil {
			return nil, err
		}
		return inserted{props: rows[0], created: true}, nil
	})
	if err != nil {
		if isConstraintViolation(err) {
			// A concurrent insert of the same statement won.
			stored, selectErr := s.SelectStatement(ctx, statement.ID)
			if selectErr != nil {
				return nil, false, selectErr
			}
			return stored, false, nil
		}
		return nil, false, helper.NewError("insert statement", err)
	}

	r := result.(inserted)
	stored, err := statementFromProps(r.props)
	if err != nil {
		return nil, false, err
	}
	return stored, r.created, nil
}

// SelectStatement retrieves a statement or returns model.ErrNotFound.
func (s *Store) SelectStatement(ctx context.Context, id uuid.UUID) (*model.ProvenanceStatement, error) {
	p, err := s.readOne(ctx, "statement", id, `MATCH (s:Statement {id: $id}) RETURN properties(s)`)
	if err != nil {
		return nil, err
	}
	return statementFromProps(p)
}

// UpdateStatementConsensus stores a recomputed consensus score.
func (s *Store) UpdateStatementConsensus(ctx context.Context, id uuid.UUID, score float64, verified bool) error {
	rows, err := s.write(ctx, func(tx neo4j.Transaction) (any, error) {
		return collectProps(tx, `
			MATCH (s:Statement {id: $id})
			SET s.consensus_score = $score, s.verified = $verified, s.updated_at = $now
			RETURN properties(s)`,
			map[string]any{
				"id":       id.String(),
				"score":    score,
				"verified": verified,
				"now":      time.Now().UTC(),
			})
	})
	if err != nil {
		return helper.NewError("update consensus", err)
	}
	if len(rows.([]props)) == 0 {
		return notFound("statement", id)
	}
	return nil
}

// InsertVerification appends a record unless its ID is already present.
func (s *Store) InsertVerification(ctx context.Context, record *model.VerificationRecord) (bool, error) {
	findings, err := json.Marshal(record.Findings)
	if err != nil {
		return false, helper.NewError("marshal findings", err)
	}

	created, err := s.write(ctx, func(tx neo4j.Transaction) (any, error) {
		statement, err := collectProps(tx, `MATCH (s:Statement {id: $id}) RETURN properties(s)`,
			map[string]any{"id": record.StatementID.String()})
		if err != nil {
			return nil, err
		}
		if len(statement) == 0 {
			return nil, notFound("statement", record.StatementID)
		}

		existing, err := collectProps(tx, `MATCH (v:Verification {id: $id}) RETURN properties(v)`,
			map[string]any{"id": record.ID.String()})
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return false, nil
		}

		// Incrementing the counter locks the statement node, so sequence
		// numbers of one statement never collide.
		_, err = collectProps(tx, `
			MATCH (s:Statement {id: $statement_id})
			SET s.verification_count = coalesce(s.verification_count, 0) + 1
			CREATE (v:Verification {
				id: $id, statement_id: $statement_id, agent_id: $agent_id, verdict: $verdict,
				confidence: $confidence, findings: $findings, sequence: s.verification_count, created_at: $now
			})-[:VERIFIES]->(s)
			RETURN properties(v)`,
			map[string]any{
				"id":           record.ID.String(),
				"statement_id": record.StatementID.String(),
				"agent_id":     record.AgentID,
				"verdict":      string(record.Verdict),
				"confidence":   record.Confidence,
				"findings":     string(findings),
				"now":          time.Now().UTC(),
			})
		if err != nil {
			return nil, err
		}
		return true, nil
	})
	if err != nil {
		if isConstraintViolation(err) {
			return false, nil
		}
		if errors.Is(err, model.ErrNotFound) {
			return false, err
		}
		return false, helper.NewError("insert verification", err)
	}
	return created.(bool), nil
}

// SelectVerifications returns the records of a statement in insertion order.
func (s *Store) SelectVerifications(ctx context.Context, statementID uuid.UUID) ([]*model.VerificationRecord, error) {
	rows, err := s.readProps(ctx, `
		MATCH (v:Verification {statement_id: $id})
		RETURN properties(v) ORDER BY v.sequence`,
		map[string]any{"id": statementID.String()})
	if err != nil {
		return nil, err
	}

	records := make([]*model.VerificationRecord, 0, len(rows))
	for _, p := range rows {
		record := &model.VerificationRecord{
			ID:          p.id("id"),
			StatementID: p.id("statement_id"),
			AgentID:     p.str("agent_id"),
			Verdict:     model.Verdict(p.str("verdict")),
			Confidence:  p.float("confidence"),
			CreatedAt:   p.timestamp("created_at"),
		}
		if raw := p.str("findings"); raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &record.Findings); err != nil {
				return nil, helper.NewError("unmarshal findings", err)
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// SelectPendingCritical returns unverified critical statements, highest
// priority first and oldest first within a priority.
func (s *Store) SelectPendingCritical(ctx context.Context, limit int) ([]*model.ProvenanceStatement, error) {
	cypher := `
		MATCH (s:Statement)
		WHERE s.critical AND NOT s.verified
		RETURN properties(s) ORDER BY s.priority DESC, s.created_at, s.id`
	params := map[string]any{}
	if limit > 0 {
		cypher += ` LIMIT $limit`
		params["limit"] = limit
	}

	rows, err := s.readProps(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	statements := make([]*model.ProvenanceStatement, 0, len(rows))
	for _, p := range rows {
		statement, err := statementFromProps(p)
		if err != nil {
			return nil, err
		}
		statements = append(statements, statement)
	}
	return statements, nil
}

func statementFromProps(p props) (*model.ProvenanceStatement, error) {
	statement := &model.ProvenanceStatement{
		ID:             p.id("id"),
		AgentID:        p.str("agent_id"),
		ClaimText:      p.str("claim_text"),
		Confidence:     p.float("confidence"),
		Critical:       p.boolean("critical"),
		Priority:       p.integer("priority"),
		ConsensusScore: p.float("consensus_score"),
		Verified:       p.boolean("verified"),
		CreatedAt:      p.timestamp("created_at"),
		UpdatedAt:      p.timestamp("updated_at"),
	}
	if raw := p.str("evidence"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &statement.Evidence); err != nil {
			return nil, helper.NewError("unmarshal evidence", err)
		}
	}
	return statement, nil
}
