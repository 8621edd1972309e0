package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
	loadSql "github.com/siherrmann/citegraph/sql"
)

// EdgesDBHandlerFunctions defines the interface for Edges database operations.
type EdgesDBHandlerFunctions interface {
	SelectEdgesByDocument(ctx context.Context, documentID uuid.UUID, edgeType model.EdgeType) ([]*model.Edge, error)
}

// EdgesDBHandler stores the structural edges written by linking: COREF_WITH
// from a chain member to its representative and LINKED_TO from a mention to
// its entity. Edges are immutable; rewriting an ID is a no-op.
type EdgesDBHandler struct {
	db *helper.Database
}

// NewEdgesDBHandler loads the edge functions and creates the edges table.
func NewEdgesDBHandler(db *helper.Database, force bool) (*EdgesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	if err := loadSql.LoadEdgesSql(db.Instance, force); err != nil {
		return nil, helper.NewError("load edges sql", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.Instance.ExecContext(ctx, `SELECT init_edges();`); err != nil {
		return nil, helper.NewError("init edges", err)
	}

	db.Logger.Info("Initialized EdgesDBHandler")
	return &EdgesDBHandler{db: db}, nil
}

// insertEdges writes the edges of one link batch inside q.
func (h *EdgesDBHandler) insertEdges(ctx context.Context, q querier, edges []*model.Edge) error {
	for _, e := range edges {
		switch e.EdgeType {
		case model.EdgeTypeCorefWith, model.EdgeTypeLinkedTo:
		default:
			return helper.NewError("insert edge", fmt.Errorf("edge %s has unknown type %q", e.ID, e.EdgeType))
		}
		if e.SourceID == e.TargetID {
			return helper.NewError("insert edge", fmt.Errorf("edge %s is a self loop", e.ID))
		}

		_, err := q.ExecContext(ctx,
			`SELECT insert_edge($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, e.SourceID, e.TargetID, string(e.EdgeType), e.DocumentID, e.Weight, e.Metadata,
		)
		if err != nil {
			return helper.NewError("insert edge", err)
		}
	}
	return nil
}

// SelectEdgesByDocument returns the edges of one type written for a document, ordered by ID.
func (h *EdgesDBHandler) SelectEdgesByDocument(ctx context.Context, documentID uuid.UUID, edgeType model.EdgeType) ([]*model.Edge, error) {
	rows, err := h.db.Instance.QueryContext(ctx,
		`SELECT * FROM select_edges_by_document($1, $2)`,
		documentID, string(edgeType),
	)
	if err != nil {
		return nil, helper.NewError("select edges", err)
	}
	defer rows.Close()

	var edges []*model.Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, helper.NewError("scan edge", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("rows error", err)
	}
	return edges, nil
}

func scanEdge(row rowScanner) (*model.Edge, error) {
	edge := &model.Edge{}
	err := row.Scan(
		&edge.ID,
		&edge.SourceID,
		&edge.TargetID,
		&edge.EdgeType,
		&edge.DocumentID,
		&edge.Weight,
		&edge.Metadata,
		&edge.CreatedAt,
	)
	return edge, err
}
