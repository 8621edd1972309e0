package database

import (
	"context"
	"fmt"
	"time"

	"github.com/siherrmann/citegraph/helper"
)

// Vector index types of the chunks table.
const (
	IndexHNSW    = "hnsw"
	IndexIVFFlat = "ivfflat"
)

// ChangeIndexType rebuilds the embedding index of the chunks table.
// params are optional:
//   - hnsw: "m" (default 16), "ef_construction" (default 64)
//   - ivfflat: "lists" (default 100)
func (h *ChunksDBHandler) ChangeIndexType(ctx context.Context, indexType string, params map[string]int) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	param := func(name string, fallback int) int {
		if v, ok := params[name]; ok && v > 0 {
			return v
		}
		return fallback
	}

	var createIndexSQL string
	switch indexType {
	case IndexHNSW:
		createIndexSQL = fmt.Sprintf(
			`CREATE INDEX idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);`,
			param("m", 16), param("ef_construction", 64),
		)
	case IndexIVFFlat:
		createIndexSQL = fmt.Sprintf(
			`CREATE INDEX idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d);`,
			param("lists", 100),
		)
	default:
		return helper.NewError("change index type", fmt.Errorf("unsupported index type: %s (use '%s' or '%s')", indexType, IndexHNSW, IndexIVFFlat))
	}

	return withTx(ctx, h.db, func(tx querier) error {
		if _, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS idx_chunks_embedding;`); err != nil {
			return helper.NewError("drop index", err)
		}
		if _, err := tx.ExecContext(ctx, createIndexSQL); err != nil {
			return helper.NewError("create index", err)
		}
		h.db.Logger.Info("Rebuilt vector index", "type", indexType, "params", params)
		return nil
	})
}

// IndexType reports the access method of the embedding index, or "" without one.
func (h *ChunksDBHandler) IndexType(ctx context.Context) (string, error) {
	var method string
	err := h.db.Instance.QueryRowContext(ctx,
		`SELECT am.amname
		FROM pg_class c
		JOIN pg_am am ON am.oid = c.relam
		WHERE c.relname = 'idx_chunks_embedding';`,
	).Scan(&method)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", helper.NewError("select index type", err)
	}
	return method, nil
}
