// Package sql embeds the Postgres function bundles of the graph store and loads them into a database.
package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
)

//go:embed init.sql
var initSQL string

//go:embed documents.sql
var documentsSQL string

//go:embed chunks.sql
var chunksSQL string

//go:embed entities.sql
var entitiesSQL string

//go:embed mentions.sql
var mentionsSQL string

//go:embed edges.sql
var edgesSQL string

//go:embed relations.sql
var relationsSQL string

//go:embed provenance.sql
var provenanceSQL string

// Function lists for verification
var DocumentsFunctions = []string{
	"init_documents",
	"insert_document",
	"select_document",
	"select_documents_by_source",
}

var ChunksFunctions = []string{
	"init_chunks",
	"insert_chunk",
	"select_chunk",
	"select_chunks_by_document",
	"update_chunk_embedding",
	"select_chunks_by_similarity",
}

var EntitiesFunctions = []string{
	"init_entities",
	"insert_entity",
	"update_entity",
	"select_entity",
	"select_entities",
	"select_entities_by_type",
	"search_entities",
}

var MentionsFunctions = []string{
	"init_mentions",
	"insert_mention",
	"upsert_coreference_chain",
	"select_linked_mentions",
	"select_mentions_by_document",
}

var EdgesFunctions = []string{
	"init_edges",
	"insert_edge",
	"select_edges_by_document",
}

var RelationsFunctions = []string{
	"init_relations",
	"lock_relation",
	"upsert_relation",
	"select_relation",
	"select_neighbors",
	"count_relations",
	"select_relations",
}

var ProvenanceFunctions = []string{
	"init_provenance",
	"upsert_agent",
	"select_agent",
	"insert_statement",
	"select_statement",
	"update_statement_consensus",
	"insert_verification",
	"select_verifications",
	"select_pending_critical",
}

// Init intializes db extensions
func Init(db *sql.DB) error {
	_, err := db.Exec(initSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	slog.Debug("Database extensions initialized")
	return nil
}

// LoadDocumentsSql loads document-related SQL functions
func LoadDocumentsSql(db *sql.DB, force bool) error {
	return load(db, "documents", documentsSQL, DocumentsFunctions, force)
}

// LoadChunksSql loads chunk-related SQL functions
func LoadChunksSql(db *sql.DB, force bool) error {
	return load(db, "chunks", chunksSQL, ChunksFunctions, force)
}

// LoadEntitiesSql loads entity-related SQL functions
func LoadEntitiesSql(db *sql.DB, force bool) error {
	return load(db, "entities", entitiesSQL, EntitiesFunctions, force)
}

// LoadMentionsSql loads mention and coreference chain SQL functions
func LoadMentionsSql(db *sql.DB, force bool) error {
	return load(db, "mentions", mentionsSQL, MentionsFunctions, force)
}

// LoadEdgesSql loads structural edge SQL functions
func LoadEdgesSql(db *sql.DB, force bool) error {
	return load(db, "edges", edgesSQL, EdgesFunctions, force)
}

// LoadRelationsSql loads relation SQL functions
func LoadRelationsSql(db *sql.DB, force bool) error {
	return load(db, "relations", relationsSQL, RelationsFunctions, force)
}

// LoadProvenanceSql loads agent, statement and verification SQL functions
func LoadProvenanceSql(db *sql.DB, force bool) error {
	return load(db, "provenance", provenanceSQL, ProvenanceFunctions, force)
}

// LoadAllSql loads all SQL functions
func LoadAllSql(db *sql.DB, force bool) error {
	loaders := []func(*sql.DB, bool) error{
		LoadDocumentsSql,
		LoadChunksSql,
		LoadEntitiesSql,
		LoadMentionsSql,
		LoadEdgesSql,
		LoadRelationsSql,
		LoadProvenanceSql,
	}
	for _, loader := range loaders {
		if err := loader(db, force); err != nil {
			return err
		}
	}
	return nil
}

// load executes a bundle unless force is false and all of its functions exist already.
func load(db *sql.DB, name string, bundle string, functions []string, force bool) error {
	if !force {
		exist, err := checkFunctions(db, functions)
		if err != nil {
			return fmt.Errorf("error checking existing %s functions: %w", name, err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(bundle)
	if err != nil {
		return fmt.Errorf("error executing %s SQL: %w", name, err)
	}

	exist, err := checkFunctions(db, functions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required %s SQL functions were created", name)
	}

	slog.Debug("SQL functions loaded", slog.String("bundle", name), slog.Int("functions", len(functions)))
	return nil
}

// checkFunctions verifies that all required functions exist in the database
func checkFunctions(db *sql.DB, sqlFunctions []string) (bool, error) {
	var allExist bool
	for _, f := range sqlFunctions {
		err := db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`,
			f,
		).Scan(&allExist)
		if err != nil {
			return false, fmt.Errorf("error checking existence of function %s: %w", f, err)
		}
		if !allExist {
			slog.Debug("SQL function missing", slog.String("function", f))
			break
		}
	}
	return allExist, nil
}
