package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
	loadSql "github.com/siherrmann/citegraph/sql"
)

// GraphStore is the Postgres backend of the graph, vector and provenance stores.
// Every table has its own handler; writes spanning tables run in one transaction.
type GraphStore struct {
	db *helper.Database

	Documents  *DocumentsDBHandler
	Chunks     *ChunksDBHandler
	Entities   *EntitiesDBHandler
	Mentions   *MentionsDBHandler
	Edges      *EdgesDBHandler
	Relations  *RelationsDBHandler
	Provenance *ProvenanceDBHandler
}

// NewGraphStore loads all SQL functions, creates missing tables and returns the store.
// dimensions is the embedding size of the chunks table.
func NewGraphStore(db *helper.Database, dimensions int, force bool) (*GraphStore, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	if err := loadSql.Init(db.Instance); err != nil {
		return nil, helper.NewError("init", err)
	}

	s := &GraphStore{db: db}
	var err error
	if s.Documents, err = NewDocumentsDBHandler(db, force); err != nil {
		return nil, err
	}
	if s.Chunks, err = NewChunksDBHandler(db, dimensions, force); err != nil {
		return nil, err
	}
	if s.Entities, err = NewEntitiesDBHandler(db, force); err != nil {
		return nil, err
	}
	if s.Mentions, err = NewMentionsDBHandler(db, force); err != nil {
		return nil, err
	}
	if s.Edges, err = NewEdgesDBHandler(db, force); err != nil {
		return nil, err
	}
	if s.Relations, err = NewRelationsDBHandler(db, force); err != nil {
		return nil, err
	}
	if s.Provenance, err = NewProvenanceDBHandler(db, force); err != nil {
		return nil, err
	}

	db.Logger.Info("Initialized GraphStore", "dimensions", dimensions)

	return s, nil
}

func (s *GraphStore) UpsertDocument(ctx context.Context, doc *model.Document) error {
	return s.Documents.UpsertDocument(ctx, doc)
}

func (s *GraphStore) SelectDocument(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	return s.Documents.SelectDocument(ctx, id)
}

func (s *GraphStore) UpsertChunks(ctx context.Context, chunks []*model.Chunk) error {
	return s.Chunks.UpsertChunks(ctx, chunks)
}

// SelectChunk returns the chunk joined with its document. A missing document
// leaves Document nil so callers can report the miss.
func (s *GraphStore) SelectChunk(ctx context.Context, id uuid.UUID) (*model.ChunkWithDocument, error) {
	chunk, err := s.Chunks.SelectChunk(ctx, id)
	if err != nil {
		return nil, err
	}

	doc, err := s.Documents.SelectDocument(ctx, chunk.DocumentID)
	if errors.Is(err, model.ErrNotFound) {
		return &model.ChunkWithDocument{Chunk: chunk}, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.ChunkWithDocument{Chunk: chunk, Document: doc}, nil
}

func (s *GraphStore) SelectChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Chunk, error) {
	return s.Chunks.SelectChunksByDocument(ctx, documentID)
}

func (s *GraphStore) UpsertVectors(ctx context.Context, points []model.VectorPoint) error {
	return s.Chunks.UpsertVectors(ctx, points)
}

func (s *GraphStore) Query(ctx context.Context, vector []float32, limit int, filter *model.VectorFilter) ([]model.VectorHit, error) {
	return s.Chunks.Query(ctx, vector, limit, filter)
}

func (s *GraphStore) LinkedMentions(ctx context.Context, mentionIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	return s.Mentions.LinkedMentions(ctx, mentionIDs)
}

func (s *GraphStore) SelectMentionsByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Mention, error) {
	return s.Mentions.SelectMentionsByDocument(ctx, documentID)
}

func (s *GraphStore) SelectEdgesByDocument(ctx context.Context, documentID uuid.UUID, edgeType model.EdgeType) ([]*model.Edge, error) {
	return s.Edges.SelectEdgesByDocument(ctx, documentID, edgeType)
}

func (s *GraphStore) SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	return s.Entities.SelectEntity(ctx, id)
}

func (s *GraphStore) SelectEntities(ctx context.Context, ids []uuid.UUID) ([]*model.Entity, error) {
	return s.Entities.SelectEntities(ctx, ids)
}

func (s *GraphStore) SelectEntitiesByType(ctx context.Context, entityType model.EntityType) ([]*model.Entity, error) {
	return s.Entities.SelectEntitiesByType(ctx, entityType)
}

func (s *GraphStore) SearchEntities(ctx context.Context, name string, limit int) ([]*model.Entity, error) {
	return s.Entities.SearchEntities(ctx, name, limit)
}

// ApplyLinkBatch writes entities, mentions, chains and edges of one linking
// step in a single transaction. Stale entity versions roll back everything.
func (s *GraphStore) ApplyLinkBatch(ctx context.Context, batch *model.LinkBatch) error {
	return withTx(ctx, s.db, func(tx querier) error {
		for _, e := range batch.Entities {
			if err := s.Entities.writeEntity(ctx, tx, e); err != nil {
				return err
			}
		}
		for _, m := range batch.Mentions {
			if _, err := s.Chunks.selectChunk(ctx, tx, m.ChunkID); err != nil {
				return fmt.Errorf("mention %s: %w", m.ID, err)
			}
			if err := s.Mentions.insertMention(ctx, tx, m); err != nil {
				return err
			}
		}
		for _, chain := range batch.Chains {
			if err := s.Mentions.upsertChain(ctx, tx, chain); err != nil {
				return err
			}
		}
		return s.Edges.insertEdges(ctx, tx, batch.Edges)
	})
}

// UpsertRelation merges r into the stored relation with the same ID. Writers of
// one ID are serialized by lock_relation; the merge itself runs in Go.
func (s *GraphStore) UpsertRelation(ctx context.Context, r *model.Relation) (*model.Relation, error) {
	if len(r.Evidence) == 0 {
		return nil, fmt.Errorf("relation %s has no evidence", r.ID)
	}

	var stored *model.Relation
	err := withTx(ctx, s.db, func(tx querier) error {
		for _, id := range []uuid.UUID{r.SourceID, r.TargetID} {
			row := tx.QueryRowContext(ctx, `SELECT * FROM select_entity($1)`, id)
			if _, err := scanEntity(row); err != nil {
				return fmt.Errorf("relation endpoint: %w", scanError("entity", id, err))
			}
		}
		for _, e := range r.Evidence {
			if _, err := s.Chunks.selectChunk(ctx, tx, e.ChunkID); err != nil {
				return fmt.Errorf("relation evidence: %w", err)
			}
		}

		existing, err := s.Relations.lockRelation(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			existing = r.Clone()
			existing.Evidence = nil
		}
		existing.Merge(r)

		stored, err = s.Relations.writeRelation(ctx, tx, existing)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *GraphStore) SelectRelation(ctx context.Context, id uuid.UUID) (*model.Relation, error) {
	return s.Relations.SelectRelation(ctx, id)
}

func (s *GraphStore) SelectRelations(ctx context.Context, entityID uuid.UUID, query model.RelationQuery) ([]*model.Relation, int, error) {
	return s.Relations.SelectRelations(ctx, entityID, query)
}

func (s *GraphStore) Neighbors(ctx context.Context, entityID uuid.UUID, types []model.RelationType) ([]*model.Relation, error) {
	return s.Relations.Neighbors(ctx, entityID, types)
}

func (s *GraphStore) UpsertAgent(ctx context.Context, agent *model.Agent) error {
	return s.Provenance.UpsertAgent(ctx, agent)
}

func (s *GraphStore) SelectAgent(ctx context.Context, id string) (*model.Agent, error) {
	return s.Provenance.SelectAgent(ctx, id)
}

func (s *GraphStore) InsertStatement(ctx context.Context, statement *model.ProvenanceStatement) (*model.ProvenanceStatement, bool, error) {
	return s.Provenance.InsertStatement(ctx, statement)
}

func (s *GraphStore) SelectStatement(ctx context.Context, id uuid.UUID) (*model.ProvenanceStatement, error) {
	return s.Provenance.SelectStatement(ctx, id)
}

func (s *GraphStore) UpdateStatementConsensus(ctx context.Context, id uuid.UUID, score float64, verified bool) error {
	return s.Provenance.UpdateStatementConsensus(ctx, id, score, verified)
}

func (s *GraphStore) InsertVerification(ctx context.Context, record *model.VerificationRecord) (bool, error) {
	return s.Provenance.InsertVerification(ctx, record)
}

func (s *GraphStore) SelectVerifications(ctx context.Context, statementID uuid.UUID) ([]*model.VerificationRecord, error) {
	return s.Provenance.SelectVerifications(ctx, statementID)
}

func (s *GraphStore) SelectPendingCritical(ctx context.Context, limit int) ([]*model.ProvenanceStatement, error) {
	return s.Provenance.SelectPendingCritical(ctx, limit)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func withTx(ctx context.Context, db *helper.Database, fn func(tx querier) error) error {
	tx, err := db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin transaction", err)
	}

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			db.Logger.Error("Rollback failed", "error", rollbackErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return helper.NewError("commit transaction", err)
	}
	return nil
}

// scanError maps sql.ErrNoRows to model.ErrNotFound.
func scanError(kind string, id any, err error) error {
	if isNoRows(err) {
		return fmt.Errorf("%s %v: %w", kind, id, model.ErrNotFound)
	}
	return helper.NewError("scan", err)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// uuidStrings never returns nil so pq.Array encodes an empty array instead of NULL.
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func timeParam(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
