package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
	loadSql "github.com/siherrmann/citegraph/sql"
)

// DocumentsDBHandlerFunctions defines the interface for Documents database operations.
type DocumentsDBHandlerFunctions interface {
	UpsertDocument(ctx context.Context, doc *model.Document) error
	SelectDocument(ctx context.Context, id uuid.UUID) (*model.Document, error)
	SelectDocumentsBySource(ctx context.Context, sourceURI string) ([]*model.Document, error)
}

// DocumentsDBHandler handles document-related database operations
type DocumentsDBHandler struct {
	db *helper.Database
}

// NewDocumentsDBHandler creates a new documents database handler.
// It loads the document SQL functions and creates the table.
// If force is true, it will reload the SQL functions even if they already exist.
func NewDocumentsDBHandler(db *helper.Database, force bool) (*DocumentsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	documentsDbHandler := &DocumentsDBHandler{
		db: db,
	}

	err := loadSql.LoadDocumentsSql(documentsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load documents sql", err)
	}

	err = documentsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized DocumentsDBHandler")

	return documentsDbHandler, nil
}

// CreateTable creates the 'documents' table and its indexes if they do not exist.
func (h *DocumentsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_documents();`)
	if err != nil {
		return helper.NewError("init documents", err)
	}

	h.db.Logger.Debug("Checked/created table documents")

	return nil
}

// UpsertDocument inserts a document once. Documents are immutable: inserting an
// existing ID with different normalized content is an identity collision.
func (h *DocumentsDBHandler) UpsertDocument(ctx context.Context, doc *model.Document) error {
	row := h.db.Instance.QueryRowContext(ctx,
		`SELECT * FROM insert_document($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID,
		doc.SourceURI,
		doc.Title,
		doc.Tier,
		doc.Quality,
		doc.Content,
		doc.PublishedAt,
		doc.Metadata,
	)

	stored := &model.Document{}
	var inserted bool
	err := row.Scan(
		&stored.ID,
		&stored.SourceURI,
		&stored.Title,
		&stored.Tier,
		&stored.Quality,
		&stored.Content,
		&stored.PublishedAt,
		&stored.Metadata,
		&stored.CreatedAt,
		&inserted,
	)
	if err != nil {
		return helper.NewError("scan", err)
	}

	if !inserted && identity.Normalize(stored.Content) != identity.Normalize(doc.Content) {
		return &model.IdentityCollisionError{ID: doc.ID, Kind: "document"}
	}
	doc.CreatedAt = stored.CreatedAt

	return nil
}

// SelectDocument retrieves a document by ID or returns model.ErrNotFound.
func (h *DocumentsDBHandler) SelectDocument(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	row := h.db.Instance.QueryRowContext(ctx,
		`SELECT * FROM select_document($1)`,
		id,
	)

	doc, err := scanDocument(row)
	if err != nil {
		return nil, scanError("document", id, err)
	}

	return doc, nil
}

// SelectDocumentsBySource returns every document ingested from sourceURI, oldest first.
func (h *DocumentsDBHandler) SelectDocumentsBySource(ctx context.Context, sourceURI string) ([]*model.Document, error) {
	rows, err := h.db.Instance.QueryContext(ctx,
		`SELECT * FROM select_documents_by_source($1)`,
		sourceURI,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var documents []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		documents = append(documents, doc)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return documents, nil
}

func scanDocument(row rowScanner) (*model.Document, error) {
	doc := &model.Document{}
	err := row.Scan(
		&doc.ID,
		&doc.SourceURI,
		&doc.Title,
		&doc.Tier,
		&doc.Quality,
		&doc.Content,
		&doc.PublishedAt,
		&doc.Metadata,
		&doc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}
