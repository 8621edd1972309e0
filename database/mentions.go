package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
	loadSql "github.com/siherrmann/citegraph/sql"
)

// MentionsDBHandlerFunctions defines the interface for Mentions database operations.
type MentionsDBHandlerFunctions interface {
	LinkedMentions(ctx context.Context, mentionIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
	SelectMentionsByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Mention, error)
}

// MentionsDBHandler handles mentions and coreference chains.
type MentionsDBHandler struct {
	db *helper.Database
}

// NewMentionsDBHandler creates a new mentions database handler.
// If force is true, it will reload the SQL functions even if they already exist.
func NewMentionsDBHandler(db *helper.Database, force bool) (*MentionsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	mentionsDbHandler := &MentionsDBHandler{
		db: db,
	}

	err := loadSql.LoadMentionsSql(mentionsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load mentions sql", err)
	}

	err = mentionsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized MentionsDBHandler")

	return mentionsDbHandler, nil
}

// CreateTable creates the 'mentions' and 'coreference_chains' tables if they do not exist.
func (h *MentionsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_mentions();`)
	if err != nil {
		return helper.NewError("init mentions", err)
	}

	h.db.Logger.Debug("Checked/created tables mentions and coreference_chains")

	return nil
}

// insertMention stores a mention once; a stored mention is never rewritten.
func (h *MentionsDBHandler) insertMention(ctx context.Context, q querier, m *model.Mention) error {
	_, err := q.ExecContext(ctx,
		`SELECT insert_mention($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID,
		m.DocumentID,
		m.ChunkID,
		m.SurfaceText,
		string(m.EntityType),
		string(m.Kind),
		m.ByteStart,
		m.ByteEnd,
		m.Score,
		m.CorefChainID,
		m.EntityID,
	)
	if err != nil {
		return helper.NewError("insert mention", err)
	}
	return nil
}

func (h *MentionsDBHandler) upsertChain(ctx context.Context, q querier, chain *model.CoreferenceChain) error {
	_, err := q.ExecContext(ctx,
		`SELECT upsert_coreference_chain($1, $2, $3, $4, $5)`,
		chain.ID,
		chain.DocumentID,
		chain.RepresentativeID,
		string(chain.EntityType),
		pq.Array(uuidStrings(chain.MentionIDs)),
	)
	if err != nil {
		return helper.NewError("upsert coreference chain", err)
	}
	return nil
}

// LinkedMentions returns the entity of every already linked mention among mentionIDs.
func (h *MentionsDBHandler) LinkedMentions(ctx context.Context, mentionIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	rows, err := h.db.Instance.QueryContext(ctx,
		`SELECT * FROM select_linked_mentions($1)`,
		pq.Array(uuidStrings(mentionIDs)),
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	linked := make(map[uuid.UUID]uuid.UUID)
	for rows.Next() {
		var mentionID, entityID uuid.UUID
		if err := rows.Scan(&mentionID, &entityID); err != nil {
			return nil, helper.NewError("scan", err)
		}
		linked[mentionID] = entityID
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return linked, nil
}

// SelectMentionsByDocument returns the mentions of a document ordered by offset.
func (h *MentionsDBHandler) SelectMentionsByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Mention, error) {
	rows, err := h.db.Instance.QueryContext(ctx,
		`SELECT * FROM select_mentions_by_document($1)`,
		documentID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var mentions []*model.Mention
	for rows.Next() {
		m := &model.Mention{}
		err := rows.Scan(
			&m.ID,
			&m.DocumentID,
			&m.ChunkID,
			&m.SurfaceText,
			&m.EntityType,
			&m.Kind,
			&m.ByteStart,
			&m.ByteEnd,
			&m.Score,
			&m.CorefChainID,
			&m.EntityID,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		mentions = append(mentions, m)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return mentions, nil
}
