package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
	loadSql "github.com/siherrmann/citegraph/sql"
)

// ProvenanceDBHandler stores agents, statements and the append-only verification log.
// It implements provenance.Store.
type ProvenanceDBHandler struct {
	db *helper.Database
}

// NewProvenanceDBHandler creates a new provenance database handler.
// If force is true, it will reload the SQL functions even if they already exist.
func NewProvenanceDBHandler(db *helper.Database, force bool) (*ProvenanceDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	provenanceDbHandler := &ProvenanceDBHandler{
		db: db,
	}

	err := loadSql.LoadProvenanceSql(provenanceDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load provenance sql", err)
	}

	err = provenanceDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ProvenanceDBHandler")

	return provenanceDbHandler, nil
}

// CreateTable creates the 'agents', 'statements' and 'verifications' tables if they do not exist.
func (h *ProvenanceDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_provenance();`)
	if err != nil {
		return helper.NewError("init provenance", err)
	}

	h.db.Logger.Debug("Checked/created tables agents, statements and verifications")

	return nil
}

// UpsertAgent creates or updates an agent.
func (h *ProvenanceDBHandler) UpsertAgent(ctx context.Context, agent *model.Agent) error {
	err := h.db.Instance.QueryRowContext(ctx,
		`SELECT * FROM upsert_agent($1, $2, $3, $4)`,
		agent.ID,
		agent.Name,
		pq.Array(agent.Capabilities),
		agent.Reputation,
	).Scan(&agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return helper.NewError("upsert agent", err)
	}
	return nil
}

// SelectAgent retrieves an agent or returns model.ErrNotFound.
func (h *ProvenanceDBHandler) SelectAgent(ctx context.Context, id string) (*model.Agent, error) {
	agent := &model.Agent{}
	err := h.db.Instance.QueryRowContext(ctx,
		`SELECT * FROM select_agent($1)`,
		id,
	).Scan(
		&agent.ID,
		&agent.Name,
		pq.Array(&agent.Capabilities),
		&agent.Reputation,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		return nil, scanError("agent", id, err)
	}
	return agent, nil
}

// InsertStatement stores a statement once. If the ID exists the stored statement is returned with created false.
func (h *ProvenanceDBHandler) InsertStatement(ctx context.Context, statement *model.ProvenanceStatement) (*model.ProvenanceStatement, bool, error) {
	evidence, err := json.Marshal(statement.Evidence)
	if err != nil {
		return nil, false, helper.NewError("marshal evidence", err)
	}

	row := h.db.Instance.QueryRowContext(ctx,
		`SELECT * FROM insert_statement($1, $2, $3, $4, $5, $6, $7)`,
		statement.ID,
		statement.AgentID,
		statement.ClaimText,
		statement.Confidence,
		evidence,
		statement.Critical,
		statement.Priority,
	)

	var created bool
	stored, err := scanStatement(row, &created)
	if err != nil {
		return nil, false, helper.NewError("insert statement", err)
	}
	return stored, created, nil
}

// SelectStatement retrieves a statement or returns model.ErrNotFound.
func (h *ProvenanceDBHandler) SelectStatement(ctx context.Context, id uuid.UUID) (*model.ProvenanceStatement, error) {
	row := h.db.Instance.QueryRowContext(ctx,
		`SELECT * FROM select_statement($1)`,
		id,
	)

	statement, err := scanStatement(row)
	if err != nil {
		return nil, scanError("statement", id, err)
	}
	return statement, nil
}

// UpdateStatementConsensus stores a recomputed consensus score.
func (h *ProvenanceDBHandler) UpdateStatementConsensus(ctx context.Context, id uuid.UUID, score float64, verified bool) error {
	var updated uuid.NullUUID
	err := h.db.Instance.QueryRowContext(ctx,
		`SELECT update_statement_consensus($1, $2, $3)`,
		id,
		score,
		verified,
	).Scan(&updated)
	if err != nil {
		return helper.NewError("update consensus", err)
	}
	if !updated.Valid {
		return fmt.Errorf("statement %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// InsertVerification appends a record unless its ID is already present.
func (h *ProvenanceDBHandler) InsertVerification(ctx context.Context, record *model.VerificationRecord) (bool, error) {
	findings, err := json.Marshal(record.Findings)
	if err != nil {
		return false, helper.NewError("marshal findings", err)
	}

	var created bool
	err = h.db.Instance.QueryRowContext(ctx,
		`SELECT insert_verification($1, $2, $3, $4, $5, $6)`,
		record.ID,
		record.StatementID,
		record.AgentID,
		string(record.Verdict),
		record.Confidence,
		findings,
	).Scan(&created)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, fmt.Errorf("statement %s: %w", record.StatementID, model.ErrNotFound)
		}
		return false, helper.NewError("insert verification", err)
	}
	return created, nil
}

// SelectVerifications returns the records of a statement in insertion order.
func (h *ProvenanceDBHandler) SelectVerifications(ctx context.Context, statementID uuid.UUID) ([]*model.VerificationRecord, error) {
	rows, err := h.db.Instance.QueryContext(ctx,
		`SELECT * FROM select_verifications($1)`,
		statementID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	records := []*model.VerificationRecord{}
	for rows.Next() {
		record := &model.VerificationRecord{}
		var findings []byte
		err := rows.Scan(
			&record.ID,
			&record.StatementID,
			&record.AgentID,
			&record.Verdict,
			&record.Confidence,
			&findings,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		if err := json.Unmarshal(findings, &record.Findings); err != nil {
			return nil, helper.NewError("unmarshal findings", err)
		}
		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return records, nil
}

// SelectPendingCritical returns unverified critical statements by priority, oldest first within a priority.
func (h *ProvenanceDBHandler) SelectPendingCritical(ctx context.Context, limit int) ([]*model.ProvenanceStatement, error) {
	rows, err := h.db.Instance.QueryContext(ctx,
		`SELECT * FROM select_pending_critical($1)`,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var statements []*model.ProvenanceStatement
	for rows.Next() {
		statement, err := scanStatement(rows)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		statements = append(statements, statement)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return statements, nil
}

// scanStatement reads the statement columns followed by any extra destinations.
func scanStatement(row rowScanner, extra ...any) (*model.ProvenanceStatement, error) {
	statement := &model.ProvenanceStatement{}
	var evidence []byte
	dest := []any{
		&statement.ID,
		&statement.AgentID,
		&statement.ClaimText,
		&statement.Confidence,
		&evidence,
		&statement.Critical,
		&statement.Priority,
		&statement.ConsensusScore,
		&statement.Verified,
		&statement.CreatedAt,
		&statement.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(evidence, &statement.Evidence); err != nil {
		return nil, fmt.Errorf("unmarshal evidence of statement %s: %w", statement.ID, err)
	}
	return statement, nil
}
