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

// RelationsDBHandlerFunctions defines the interface for Relations database operations.
type RelationsDBHandlerFunctions interface {
	SelectRelation(ctx context.Context, id uuid.UUID) (*model.Relation, error)
	Neighbors(ctx context.Context, entityID uuid.UUID, types []model.RelationType) ([]*model.Relation, error)
	SelectRelations(ctx context.Context, entityID uuid.UUID, query model.RelationQuery) ([]*model.Relation, int, error)
}

// RelationsDBHandler handles typed relations between entities. Evidence is stored as JSONB.
type RelationsDBHandler struct {
	db *helper.Database
}

// NewRelationsDBHandler creates a new relations database handler.
// If force is true, it will reload the SQL functions even if they already exist.
func NewRelationsDBHandler(db *helper.Database, force bool) (*RelationsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	relationsDbHandler := &RelationsDBHandler{
		db: db,
	}

	err := loadSql.LoadRelationsSql(relationsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load relations sql", err)
	}

	err = relationsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized RelationsDBHandler")

	return relationsDbHandler, nil
}

// CreateTable creates the 'relations' table and its indexes if they do not exist.
func (h *RelationsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_relations();`)
	if err != nil {
		return helper.NewError("init relations", err)
	}

	h.db.Logger.Debug("Checked/created table relations")

	return nil
}

// lockRelation serializes writers of one relation ID inside q's transaction
// and returns the stored relation, or nil if there is none yet.
func (h *RelationsDBHandler) lockRelation(ctx context.Context, q querier, id uuid.UUID) (*model.Relation, error) {
	row := q.QueryRowContext(ctx,
		`SELECT * FROM lock_relation($1)`,
		id,
	)

	relation, err := scanRelation(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, helper.NewError("lock relation", err)
	}
	return relation, nil
}

func (h *RelationsDBHandler) writeRelation(ctx context.Context, q querier, r *model.Relation) (*model.Relation, error) {
	evidence, err := json.Marshal(r.Evidence)
	if err != nil {
		return nil, helper.NewError("marshal evidence", err)
	}

	row := q.QueryRowContext(ctx,
		`SELECT * FROM upsert_relation($1, $2, $3, $4, $5, $6, $7)`,
		r.ID,
		r.SourceID,
		r.TargetID,
		string(r.Type),
		r.Confidence,
		r.Temporal,
		evidence,
	)

	stored, err := scanRelation(row)
	if err != nil {
		return nil, helper.NewError("upsert relation", err)
	}
	return stored, nil
}

// SelectRelation retrieves a relation by ID or returns model.ErrNotFound.
func (h *RelationsDBHandler) SelectRelation(ctx context.Context, id uuid.UUID) (*model.Relation, error) {
	row := h.db.Instance.QueryRowContext(ctx,
		`SELECT * FROM select_relation($1)`,
		id,
	)

	relation, err := scanRelation(row)
	if err != nil {
		return nil, scanError("relation", id, err)
	}

	return relation, nil
}

// Neighbors returns every relation touching entityID, optionally restricted to types.
func (h *RelationsDBHandler) Neighbors(ctx context.Context, entityID uuid.UUID, types []model.RelationType) ([]*model.Relation, error) {
	return h.queryRelations(ctx,
		`SELECT * FROM select_neighbors($1, $2)`,
		entityID,
		pq.Array(relationTypeStrings(types)),
	)
}

// SelectRelations filters, sorts and pages the relations of an entity in SQL
// and returns one page together with the total count.
func (h *RelationsDBHandler) SelectRelations(ctx context.Context, entityID uuid.UUID, query model.RelationQuery) ([]*model.Relation, int, error) {
	query = query.Normalize()
	types := pq.Array(relationTypeStrings(query.Types))

	var total int
	err := h.db.Instance.QueryRowContext(ctx,
		`SELECT count_relations($1, $2, $3, $4)`,
		entityID,
		types,
		string(query.Direction),
		query.MinConfidence,
	).Scan(&total)
	if err != nil {
		return nil, 0, helper.NewError("count relations", err)
	}

	relations, err := h.queryRelations(ctx,
		`SELECT * FROM select_relations($1, $2, $3, $4, $5, $6, $7, $8)`,
		entityID,
		types,
		string(query.Direction),
		query.MinConfidence,
		string(query.SortBy),
		string(query.Order),
		query.PageSize,
		query.Offset(),
	)
	if err != nil {
		return nil, 0, err
	}

	return relations, total, nil
}

func (h *RelationsDBHandler) queryRelations(ctx context.Context, query string, args ...any) ([]*model.Relation, error) {
	rows, err := h.db.Instance.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var relations []*model.Relation
	for rows.Next() {
		relation, err := scanRelation(rows)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		relations = append(relations, relation)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return relations, nil
}

func scanRelation(row rowScanner) (*model.Relation, error) {
	relation := &model.Relation{}
	var evidence []byte
	err := row.Scan(
		&relation.ID,
		&relation.SourceID,
		&relation.TargetID,
		&relation.Type,
		&relation.Confidence,
		&relation.Temporal,
		&evidence,
		&relation.CreatedAt,
		&relation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(evidence, &relation.Evidence); err != nil {
		return nil, fmt.Errorf("unmarshal evidence of relation %s: %w", relation.ID, err)
	}
	return relation, nil
}

func relationTypeStrings(types []model.RelationType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
