// Package neo4jstore is a graph.Store on Neo4j. Documents, chunks, mentions,
// chains, edges and entities are nodes keyed by their deterministic ID; typed
// relations are RELATION relationships between entity nodes. Agents, provenance
// statements and verifications are nodes as well. Maps and evidence are stored
// as JSON string properties.
package neo4jstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// Configuration holds the connection settings of the Neo4j store.
type Configuration struct {
	URI      string
	Username string
	Password string
	Database string
}

// NewConfiguration reads NEO4J_URI, NEO4J_USERNAME, NEO4J_PASSWORD and NEO4J_DATABASE.
// A .env file in the working directory is loaded first if present.
func NewConfiguration() (*Configuration, error) {
	_ = godotenv.Load()

	config := &Configuration{
		URI:      os.Getenv("NEO4J_URI"),
		Username: os.Getenv("NEO4J_USERNAME"),
		Password: os.Getenv("NEO4J_PASSWORD"),
		Database: os.Getenv("NEO4J_DATABASE"),
	}
	if config.URI == "" || config.Username == "" {
		return nil, helper.NewError("neo4j configuration", fmt.Errorf("NEO4J_URI and NEO4J_USERNAME must be set"))
	}
	return config, nil
}

// Store implements graph.Store, graph.PathFinder and provenance.Store.
type Store struct {
	driver   neo4j.Driver
	database string
	logger   *slog.Logger
}

var constraints = []string{
	`CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
	`CREATE CONSTRAINT chunk_id IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
	`CREATE CONSTRAINT mention_id IF NOT EXISTS FOR (m:Mention) REQUIRE m.id IS UNIQUE`,
	`CREATE CONSTRAINT chain_id IF NOT EXISTS FOR (c:Chain) REQUIRE c.id IS UNIQUE`,
	`CREATE CONSTRAINT edge_id IF NOT EXISTS FOR (e:Edge) REQUIRE e.id IS UNIQUE`,
	`CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
	`CREATE CONSTRAINT agent_id IF NOT EXISTS FOR (a:Agent) REQUIRE a.id IS UNIQUE`,
	`CREATE CONSTRAINT statement_id IF NOT EXISTS FOR (s:Statement) REQUIRE s.id IS UNIQUE`,
	`CREATE CONSTRAINT verification_id IF NOT EXISTS FOR (v:Verification) REQUIRE v.id IS UNIQUE`,
	`CREATE INDEX chunk_document IF NOT EXISTS FOR (c:Chunk) ON (c.document_id)`,
	`CREATE INDEX mention_document IF NOT EXISTS FOR (m:Mention) ON (m.document_id)`,
	`CREATE INDEX edge_document IF NOT EXISTS FOR (e:Edge) ON (e.document_id)`,
	`CREATE INDEX entity_type IF NOT EXISTS FOR (e:Entity) ON (e.entity_type)`,
	`CREATE INDEX verification_statement IF NOT EXISTS FOR (v:Verification) ON (v.statement_id)`,
}

// New connects to Neo4j and creates the uniqueness constraints the store relies on.
func New(config *Configuration, logger *slog.Logger) (*Store, error) {
	if config == nil {
		return nil, helper.NewError("neo4j configuration", fmt.Errorf("configuration is nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	driver, err := neo4j.NewDriver(config.URI, neo4j.BasicAuth(config.Username, config.Password, ""))
	if err != nil {
		return nil, helper.NewError("create neo4j driver", err)
	}
	if err := driver.VerifyConnectivity(); err != nil {
		_ = driver.Close()
		return nil, helper.NewError("verify connectivity", err)
	}

	s := &Store{driver: driver, database: config.Database, logger: logger.With("store", "neo4j")}
	for _, c := range constraints {
		if _, err := s.write(context.Background(), func(tx neo4j.Transaction) (any, error) {
			return tx.Run(c, nil)
		}); err != nil {
			_ = driver.Close()
			return nil, helper.NewError("create constraint", err)
		}
	}

	s.logger.Info("Connected to neo4j", "uri", config.URI)

	return s, nil
}

// Close closes the driver.
func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) session(mode neo4j.AccessMode) neo4j.Session {
	return s.driver.NewSession(neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

// write runs work in a managed write transaction. Transient errors such as
// deadlocks are retried by the driver.
func (s *Store) write(ctx context.Context, work neo4j.TransactionWork) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session := s.session(neo4j.AccessModeWrite)
	defer session.Close()
	return session.WriteTransaction(work)
}

func (s *Store) read(ctx context.Context, work neo4j.TransactionWork) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session := s.session(neo4j.AccessModeRead)
	defer session.Close()
	return session.ReadTransaction(work)
}

// collectProps runs a query returning one map column and collects it.
func collectProps(tx neo4j.Transaction, cypher string, params map[string]any) ([]props, error) {
	result, err := tx.Run(cypher, params)
	if err != nil {
		return nil, err
	}
	var out []props
	for result.Next() {
		out = append(out, result.Record().Values[0].(map[string]any))
	}
	return out, result.Err()
}

// readProps returns the rows of a single map column query.
func (s *Store) readProps(ctx context.Context, cypher string, params map[string]any) ([]props, error) {
	rows, err := s.read(ctx, func(tx neo4j.Transaction) (any, error) {
		return collectProps(tx, cypher, params)
	})
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	return rows.([]props), nil
}

// readOne returns the single row of a lookup by ID or model.ErrNotFound.
func (s *Store) readOne(ctx context.Context, kind string, id uuid.UUID, cypher string) (props, error) {
	rows, err := s.readProps(ctx, cypher, map[string]any{"id": id.String()})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(kind, id)
	}
	return rows[0], nil
}

func notFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, model.ErrNotFound)
}

func isConstraintViolation(err error) bool {
	var neoErr *neo4j.Neo4jError
	return errors.As(err, &neoErr) && neoErr.Code == constraintViolation
}

// props reads typed values out of a node or relationship property map.
type props map[string]any

func (p props) str(key string) string {
	v, _ := p[key].(string)
	return v
}

func (p props) integer(key string) int {
	v, _ := p[key].(int64)
	return int(v)
}

func (p props) intPtr(key string) *int {
	v, ok := p[key].(int64)
	if !ok {
		return nil
	}
	i := int(v)
	return &i
}

func (p props) float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func (p props) floatPtr(key string) *float64 {
	if _, ok := p[key]; !ok || p[key] == nil {
		return nil
	}
	f := p.float(key)
	return &f
}

func (p props) strPtr(key string) *string {
	v, ok := p[key].(string)
	if !ok {
		return nil
	}
	return &v
}

func (p props) boolean(key string) bool {
	v, _ := p[key].(bool)
	return v
}

func (p props) timestamp(key string) time.Time {
	v, _ := p[key].(time.Time)
	return v.UTC()
}

func (p props) timePtr(key string) *time.Time {
	v, ok := p[key].(time.Time)
	if !ok {
		return nil
	}
	t := v.UTC()
	return &t
}

func (p props) id(key string) uuid.UUID {
	id, _ := uuid.Parse(p.str(key))
	return id
}

func (p props) idPtr(key string) *uuid.UUID {
	v, ok := p[key].(string)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil
	}
	return &id
}

func (p props) ids(key string) []uuid.UUID {
	list, _ := p[key].([]any)
	out := make([]uuid.UUID, 0, len(list))
	for _, v := range list {
		if id, err := uuid.Parse(fmt.Sprint(v)); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func (p props) stringList(key string) []string {
	list, _ := p[key].([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func (p props) vector(key string) []float32 {
	list, _ := p[key].([]any)
	if len(list) == 0 {
		return nil
	}
	out := make([]float32, len(list))
	for i, v := range list {
		f, _ := v.(float64)
		out[i] = float32(f)
	}
	return out
}

func (p props) metadata(key string) model.Metadata {
	m := model.Metadata{}
	if raw := p.str(key); raw != "" {
		_ = json.Unmarshal([]byte(raw), &m)
	}
	return m
}

func metadataParam(m model.Metadata) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func uuidParams(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func optionalUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func optionalInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func optionalFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func optionalString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func vectorParam(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
