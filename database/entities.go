package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
	loadSql "github.com/siherrmann/citegraph/sql"
)

// EntitiesDBHandlerFunctions defines the interface for Entities database operations.
type EntitiesDBHandlerFunctions interface {
	SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error)
	SelectEntities(ctx context.Context, ids []uuid.UUID) ([]*model.Entity, error)
	SelectEntitiesByType(ctx context.Context, entityType model.EntityType) ([]*model.Entity, error)
	SearchEntities(ctx context.Context, name string, limit int) ([]*model.Entity, error)
}

// EntitiesDBHandler handles entity-related database operations.
// Entities are written only through GraphStore.ApplyLinkBatch.
type EntitiesDBHandler struct {
	db *helper.Database
}

// NewEntitiesDBHandler creates a new entities database handler.
// If force is true, it will reload the SQL functions even if they already exist.
func NewEntitiesDBHandler(db *helper.Database, force bool) (*EntitiesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	entitiesDbHandler := &EntitiesDBHandler{
		db: db,
	}

	err := loadSql.LoadEntitiesSql(entitiesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load entities sql", err)
	}

	err = entitiesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized EntitiesDBHandler")

	return entitiesDbHandler, nil
}

// CreateTable creates the 'entities' table and its indexes if they do not exist.
func (h *EntitiesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_entities();`)
	if err != nil {
		return helper.NewError("init entities", err)
	}

	h.db.Logger.Debug("Checked/created table entities")

	return nil
}

// writeEntity inserts a new entity (Version 0) or updates one read at e.Version.
// Both fail with a GraphWriteConflictError when another writer got there first.
func (h *EntitiesDBHandler) writeEntity(ctx context.Context, q querier, e *model.Entity) error {
	var version *int
	var err error
	if e.Version == 0 {
		err = q.QueryRowContext(ctx,
			`SELECT insert_entity($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID,
			e.CanonicalName,
			string(e.EntityType),
			pq.Array(e.Aliases),
			timeParam(e.FirstSeen),
			e.MentionCount,
			e.Confidence,
			e.Metadata,
		).Scan(&version)
	} else {
		err = q.QueryRowContext(ctx,
			`SELECT update_entity($1, $2, $3, $4, $5, $6, $7)`,
			e.ID,
			e.CanonicalName,
			pq.Array(e.Aliases),
			e.MentionCount,
			e.Confidence,
			e.Metadata,
			e.Version,
		).Scan(&version)
	}
	if err != nil {
		return helper.NewError("write entity", err)
	}
	if version == nil {
		return &model.GraphWriteConflictError{
			Op:  "apply link batch",
			Err: fmt.Errorf("entity %s changed since version %d", e.ID, e.Version),
		}
	}
	return nil
}

// SelectEntity retrieves an entity by ID or returns model.ErrNotFound.
func (h *EntitiesDBHandler) SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	row := h.db.Instance.QueryRowContext(ctx,
		`SELECT * FROM select_entity($1)`,
		id,
	)

	entity, err := scanEntity(row)
	if err != nil {
		return nil, scanError("entity", id, err)
	}

	return entity, nil
}

// SelectEntities returns the existing entities among ids in the order of ids.
func (h *EntitiesDBHandler) SelectEntities(ctx context.Context, ids []uuid.UUID) ([]*model.Entity, error) {
	return h.queryEntities(ctx, `SELECT * FROM select_entities($1)`, pq.Array(uuidStrings(ids)))
}

// SelectEntitiesByType returns every entity of a type.
func (h *EntitiesDBHandler) SelectEntitiesByType(ctx context.Context, entityType model.EntityType) ([]*model.Entity, error) {
	return h.queryEntities(ctx, `SELECT * FROM select_entities_by_type($1)`, string(entityType))
}

// SearchEntities matches the normalized name against canonical names and aliases,
// most mentioned first.
func (h *EntitiesDBHandler) SearchEntities(ctx context.Context, name string, limit int) ([]*model.Entity, error) {
	return h.queryEntities(ctx, `SELECT * FROM search_entities($1, $2)`, identity.NormalizeName(name), limit)
}

func (h *EntitiesDBHandler) queryEntities(ctx context.Context, query string, args ...any) ([]*model.Entity, error) {
	rows, err := h.db.Instance.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var entities []*model.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		entities = append(entities, entity)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return entities, nil
}

func scanEntity(row rowScanner) (*model.Entity, error) {
	entity := &model.Entity{}
	err := row.Scan(
		&entity.ID,
		&entity.CanonicalName,
		&entity.EntityType,
		pq.Array(&entity.Aliases),
		&entity.FirstSeen,
		&entity.MentionCount,
		&entity.Confidence,
		&entity.Metadata,
		&entity.Version,
		&entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return entity, nil
}
