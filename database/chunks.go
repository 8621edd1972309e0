package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
	loadSql "github.com/siherrmann/citegraph/sql"
)

// ChunksDBHandlerFunctions defines the interface for Chunks database operations.
// The chunks table doubles as the vector store: embeddings live in a pgvector column.
type ChunksDBHandlerFunctions interface {
	UpsertChunks(ctx context.Context, chunks []*model.Chunk) error
	SelectChunk(ctx context.Context, id uuid.UUID) (*model.Chunk, error)
	SelectChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Chunk, error)
	UpsertVectors(ctx context.Context, points []model.VectorPoint) error
	Query(ctx context.Context, vector []float32, limit int, filter *model.VectorFilter) ([]model.VectorHit, error)
}

// ChunksDBHandler handles chunk-related database operations
type ChunksDBHandler struct {
	db         *helper.Database
	dimensions int
}

// NewChunksDBHandler creates a new chunks database handler for embeddings of
// the given dimensions. If force is true, it will reload the SQL functions even
// if they already exist.
func NewChunksDBHandler(db *helper.Database, dimensions int, force bool) (*ChunksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if dimensions <= 0 {
		return nil, helper.NewError("embedding dimensions validation", fmt.Errorf("dimensions must be positive, got %d", dimensions))
	}

	chunksDbHandler := &ChunksDBHandler{
		db:         db,
		dimensions: dimensions,
	}

	err := loadSql.LoadChunksSql(chunksDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load chunks sql", err)
	}

	err = chunksDbHandler.CreateTable(dimensions)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ChunksDBHandler", "dimensions", dimensions)

	return chunksDbHandler, nil
}

// CreateTable creates the 'chunks' table with its HNSW index if it does not exist.
func (h *ChunksDBHandler) CreateTable(dimensions int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_chunks($1);`, dimensions)
	if err != nil {
		return helper.NewError("init chunks", err)
	}

	h.db.Logger.Debug("Checked/created table chunks")

	return nil
}

// UpsertChunks inserts new chunks and refreshes the embedding of existing ones
// in one transaction. An existing ID with different text is an identity collision.
func (h *ChunksDBHandler) UpsertChunks(ctx context.Context, chunks []*model.Chunk) error {
	return withTx(ctx, h.db, func(tx querier) error {
		for _, chunk := range chunks {
			if err := h.upsertChunk(ctx, tx, chunk); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *ChunksDBHandler) upsertChunk(ctx context.Context, q querier, chunk *model.Chunk) error {
	if len(chunk.Embedding) > 0 && len(chunk.Embedding) != h.dimensions {
		return helper.NewError("insert chunk", fmt.Errorf("embedding of chunk %s has %d dimensions, expected %d", chunk.ID, len(chunk.Embedding), h.dimensions))
	}

	var id uuid.NullUUID
	err := q.QueryRowContext(ctx,
		`SELECT insert_chunk($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		chunk.ID,
		chunk.DocumentID,
		chunk.Index,
		chunk.Text,
		chunk.ByteStart,
		chunk.ByteEnd,
		chunk.Page,
		chunk.Timestamp,
		vectorParam(chunk.Embedding),
		chunk.Metadata,
	).Scan(&id)
	if err != nil {
		return helper.NewError("insert chunk", err)
	}
	if !id.Valid {
		return &model.IdentityCollisionError{ID: chunk.ID, Kind: "chunk"}
	}
	return nil
}

// SelectChunk retrieves a chunk by ID or returns model.ErrNotFound.
func (h *ChunksDBHandler) SelectChunk(ctx context.Context, id uuid.UUID) (*model.Chunk, error) {
	return h.selectChunk(ctx, h.db.Instance, id)
}

func (h *ChunksDBHandler) selectChunk(ctx context.Context, q querier, id uuid.UUID) (*model.Chunk, error) {
	row := q.QueryRowContext(ctx,
		`SELECT * FROM select_chunk($1)`,
		id,
	)

	chunk, err := scanChunk(row)
	if err != nil {
		return nil, scanError("chunk", id, err)
	}

	return chunk, nil
}

// SelectChunksByDocument retrieves the chunks of a document ordered by index.
func (h *ChunksDBHandler) SelectChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.QueryContext(ctx,
		`SELECT * FROM select_chunks_by_document($1)`,
		documentID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		chunks = append(chunks, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}

// UpsertVectors writes the embedding of existing chunks. Point metadata is
// not stored; the document reference is part of the chunk row.
func (h *ChunksDBHandler) UpsertVectors(ctx context.Context, points []model.VectorPoint) error {
	return withTx(ctx, h.db, func(tx querier) error {
		for _, p := range points {
			if len(p.Vector) != h.dimensions {
				return helper.NewError("update embedding", fmt.Errorf("vector of %s has %d dimensions, expected %d", p.ID, len(p.Vector), h.dimensions))
			}

			var id uuid.NullUUID
			err := tx.QueryRowContext(ctx,
				`SELECT update_chunk_embedding($1, $2)`,
				p.ID,
				pgvector.NewVector(p.Vector),
			).Scan(&id)
			if err != nil {
				return helper.NewError("update embedding", err)
			}
			if !id.Valid {
				return fmt.Errorf("vector point %s: chunk %w", p.ID, model.ErrNotFound)
			}
		}
		return nil
	})
}

// Query ranks chunks by cosine similarity to vector using the pgvector index.
func (h *ChunksDBHandler) Query(ctx context.Context, vector []float32, limit int, filter *model.VectorFilter) ([]model.VectorHit, error) {
	documentIDs, chunkIDs := []string{}, []string{}
	if filter != nil {
		documentIDs = uuidStrings(filter.DocumentIDs)
		chunkIDs = uuidStrings(filter.ChunkIDs)
	}

	rows, err := h.db.Instance.QueryContext(ctx,
		`SELECT * FROM select_chunks_by_similarity($1, $2, $3, $4)`,
		pgvector.NewVector(vector),
		limit,
		pq.Array(documentIDs),
		pq.Array(chunkIDs),
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var hits []model.VectorHit
	for rows.Next() {
		var hit model.VectorHit
		var documentID uuid.UUID
		err := rows.Scan(&hit.ID, &documentID, &hit.Score)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		hit.Metadata = model.Metadata{"document_id": documentID.String()}
		hits = append(hits, hit)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return hits, nil
}

func scanChunk(row rowScanner) (*model.Chunk, error) {
	chunk := &model.Chunk{}
	var embedding *pgvector.Vector
	err := row.Scan(
		&chunk.ID,
		&chunk.DocumentID,
		&chunk.Index,
		&chunk.Text,
		&chunk.ByteStart,
		&chunk.ByteEnd,
		&chunk.Page,
		&chunk.Timestamp,
		&embedding,
		&chunk.Metadata,
		&chunk.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if embedding != nil {
		chunk.Embedding = embedding.Slice()
	}
	return chunk, nil
}

func vectorParam(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}
