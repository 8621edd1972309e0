package neo4jstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/siherrmann/citegraph/core/identity"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

// UpsertDocument creates the document node once. Existing documents are immutable.
func (s *Store) UpsertDocument(ctx context.Context, doc *model.Document) error {
	created, err := s.write(ctx, func(tx neo4j.Transaction) (any, error) {
		rows, err := collectProps(tx, `
			MERGE (d:Document {id: $id})
			ON CREATE SET
				d.source_uri = $source_uri,
				d.title = $title,
				d.tier = $tier,
				d.quality = $quality,
				d.content = $content,
				d.published_at = $published_at,
				d.metadata = $metadata,
				d.created_at = $now
			RETURN properties(d)`,
			map[string]any{
				"id":           doc.ID.String(),
				"source_uri":   doc.SourceURI,
				"title":        doc.Title,
				"tier":         doc.Tier,
				"quality":      optionalFloat(doc.Quality),
				"content":      doc.Content,
				"published_at": optionalTime(doc.PublishedAt),
				"metadata":     metadataParam(doc.Metadata),
				"now":          time.Now().UTC(),
			})
		if err != nil {
			return nil, err
		}
		return rows[0], nil
	})
	if err != nil {
		return helper.NewError("upsert document", err)
	}

	stored := created.(props)
	if identity.Normalize(stored.str("content")) != identity.Normalize(doc.Content) {
		return &model.IdentityCollisionError{ID: doc.ID, Kind: "document"}
	}
	doc.CreatedAt = stored.timestamp("created_at")
	return nil
}

// SelectDocument returns the document or model.ErrNotFound.
func (s *Store) SelectDocument(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	p, err := s.readOne(ctx, "document", id, `MATCH (d:Document {id: $id}) RETURN properties(d)`)
	if err != nil {
		return nil, err
	}
	return documentFromProps(p), nil
}

// UpsertChunks creates new chunk nodes and refreshes the embedding of existing
// ones in one transaction. An existing ID with different text is a collision.
func (s *Store) UpsertChunks(ctx context.Context, chunks []*model.Chunk) error {
	_, err := s.write(ctx, func(tx neo4j.Transaction) (any, error) {
		now := time.Now().UTC()
		for _, chunk := range chunks {
			rows, err := collectProps(tx, `
				MERGE (c:Chunk {id: $id})
				ON CREATE SET
					c.document_id = $document_id,
					c.chunk_index = $chunk_index,
					c.content = $content,
					c.byte_start = $byte_start,
					c.byte_end = $byte_end,
					c.page = $page,
					c.time_offset = $time_offset,
					c.metadata = $metadata,
					c.created_at = $now
				WITH c
				SET c.embedding = CASE
					WHEN c.content = $content AND $embedding IS NOT NULL THEN $embedding
					ELSE c.embedding
				END
				RETURN properties(c)`,
				map[string]any{
					"id":          chunk.ID.String(),
					"document_id": chunk.DocumentID.String(),
					"chunk_index": chunk.Index,
					"content":     chunk.Text,
					"byte_start":  chunk.ByteStart,
					"byte_end":    chunk.ByteEnd,
					"page":        optionalInt(chunk.Page),
					"time_offset": optionalString(chunk.Timestamp),
					"embedding":   vectorParam(chunk.Embedding),
					"metadata":    metadataParam(chunk.Metadata),
					"now":         now,
				})
			if err != nil {
				return nil, err
			}
			if rows[0].str("content") != chunk.Text {
				return nil, &model.IdentityCollisionError{ID: chunk.ID, Kind: "chunk"}
			}
		}
		return nil, nil
	})
	var collision *model.IdentityCollisionError
	if errors.As(err, &collision) {
		return collision
	}
	if err != nil {
		return helper.NewError("upsert chunks", err)
	}
	return nil
}

// SelectChunk joins the chunk with its document. Document is nil for orphans.
func (s *Store) SelectChunk(ctx context.Context, id uuid.UUID) (*model.ChunkWithDocument, error) {
	result, err := s.read(ctx, func(tx neo4j.Transaction) (any, error) {
		res, err := tx.Run(`
			MATCH (c:Chunk {id: $id})
			OPTIONAL MATCH (d:Document {id: c.document_id})
			RETURN properties(c), CASE WHEN d IS NULL THEN NULL ELSE properties(d) END`,
			map[string]any{"id": id.String()})
		if err != nil {
			return nil, err
		}
		if !res.Next() {
			return nil, res.Err()
		}
		values := res.Record().Values
		joined := &model.ChunkWithDocument{Chunk: chunkFromProps(values[0].(map[string]any))}
		if d, ok := values[1].(map[string]any); ok {
			joined.Document = documentFromProps(d)
		}
		return joined, nil
	})
	if err != nil {
		return nil, helper.NewError("select chunk", err)
	}
	joined, ok := result.(*model.ChunkWithDocument)
	if !ok || joined == nil {
		return nil, notFound("chunk", id)
	}
	return joined, nil
}

// SelectChunksByDocument returns the chunks of a document ordered by index.
func (s *Store) SelectChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Chunk, error) {
	rows, err := s.readProps(ctx, `
		MATCH (c:Chunk {document_id: $id})
		RETURN properties(c)
		ORDER BY c.chunk_index, c.byte_start`,
		map[string]any{"id": documentID.String()})
	if err != nil {
		return nil, err
	}
	chunks := make([]*model.Chunk, 0, len(rows))
	for _, p := range rows {
		chunks = append(chunks, chunkFromProps(p))
	}
	return chunks, nil
}

func documentFromProps(p props) *model.Document {
	return &model.Document{
		ID:          p.id("id"),
		SourceURI:   p.str("source_uri"),
		Title:       p.str("title"),
		Tier:        p.str("tier"),
		Quality:     p.floatPtr("quality"),
		Content:     p.str("content"),
		PublishedAt: p.timePtr("published_at"),
		Metadata:    p.metadata("metadata"),
		CreatedAt:   p.timestamp("created_at"),
	}
}

func chunkFromProps(p props) *model.Chunk {
	return &model.Chunk{
		ID:         p.id("id"),
		DocumentID: p.id("document_id"),
		Index:      p.integer("chunk_index"),
		Text:       p.str("content"),
		ByteStart:  p.integer("byte_start"),
		ByteEnd:    p.integer("byte_end"),
		Page:       p.intPtr("page"),
		Timestamp:  p.strPtr("time_offset"),
		Embedding:  p.vector("embedding"),
		Metadata:   p.metadata("metadata"),
		CreatedAt:  p.timestamp("created_at"),
	}
}
