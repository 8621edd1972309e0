// Package qdrantstore is a graph.VectorStore on a Qdrant collection. Point IDs
// are the chunk UUIDs; point metadata is kept as payload.
package qdrantstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/qdrant/go-client/qdrant"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

// Configuration holds the connection settings of the Qdrant store.
type Configuration struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimensions int
}

// NewConfiguration reads QDRANT_HOST, QDRANT_PORT, QDRANT_API_KEY, QDRANT_TLS
// and QDRANT_COLLECTION. A .env file is loaded first if present.
func NewConfiguration(dimensions int) (*Configuration, error) {
	_ = godotenv.Load()

	config := &Configuration{
		Host:       os.Getenv("QDRANT_HOST"),
		Port:       6334,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		Collection: os.Getenv("QDRANT_COLLECTION"),
		Dimensions: dimensions,
	}
	if config.Host == "" {
		return nil, helper.NewError("qdrant configuration", fmt.Errorf("QDRANT_HOST must be set"))
	}
	if port := os.Getenv("QDRANT_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, helper.NewError("qdrant configuration", fmt.Errorf("failed to parse QDRANT_PORT: %w", err))
		}
		config.Port = p
	}
	if tls := os.Getenv("QDRANT_TLS"); tls != "" {
		useTLS, err := strconv.ParseBool(tls)
		if err != nil {
			return nil, helper.NewError("qdrant configuration", fmt.Errorf("failed to parse QDRANT_TLS: %w", err))
		}
		config.UseTLS = useTLS
	}
	if config.Collection == "" {
		config.Collection = "citegraph_chunks"
	}
	return config, nil
}

// Store implements graph.VectorStore.
type Store struct {
	client     *qdrant.Client
	collection string
	dimensions int
	logger     *slog.Logger
}

// New connects to Qdrant and creates the cosine collection if it is missing.
func New(ctx context.Context, config *Configuration, logger *slog.Logger) (*Store, error) {
	if config == nil {
		return nil, helper.NewError("qdrant configuration", fmt.Errorf("configuration is nil"))
	}
	if config.Dimensions <= 0 {
		return nil, helper.NewError("qdrant configuration", fmt.Errorf("dimensions must be positive, got %d", config.Dimensions))
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, helper.NewError("connect qdrant", err)
	}

	s := &Store{
		client:     client,
		collection: config.Collection,
		dimensions: config.Dimensions,
		logger:     logger.With("store", "qdrant", "collection", config.Collection),
	}

	exists, err := client.CollectionExists(ctx, config.Collection)
	if err != nil {
		_ = client.Close()
		return nil, helper.NewError("check collection", err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(config.Dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			_ = client.Close()
			return nil, helper.NewError("create collection", err)
		}
		s.logger.Info("Created qdrant collection", "dimensions", config.Dimensions)
	}

	return s, nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// UpsertVectors stores or replaces points and waits until they are searchable.
func (s *Store) UpsertVectors(ctx context.Context, points []model.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != s.dimensions {
			return helper.NewError("upsert vectors", fmt.Errorf("vector of %s has %d dimensions, expected %d", p.ID, len(p.Vector), s.dimensions))
		}
		payload, err := qdrant.TryValueMap(map[string]any(p.Metadata))
		if err != nil {
			return helper.NewError("encode payload", err)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID.String()),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return helper.NewError("upsert points", err)
	}
	return nil
}

// Query returns the nearest points by cosine similarity. Chunk IDs filter on
// point IDs and document IDs on the document_id payload key.
func (s *Store) Query(ctx context.Context, vector []float32, limit int, filter *model.VectorFilter) ([]model.VectorHit, error) {
	if limit <= 0 {
		limit = 10
	}
	l := uint64(limit)

	request := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(filter),
	}

	points, err := s.client.Query(ctx, request)
	if err != nil {
		return nil, helper.NewError("query points", err)
	}

	hits := make([]model.VectorHit, 0, len(points))
	for _, p := range points {
		id, err := uuid.Parse(p.GetId().GetUuid())
		if err != nil {
			s.logger.Warn("Skipping point without uuid id", "id", p.GetId().String())
			continue
		}
		hits = append(hits, model.VectorHit{
			ID:       id,
			Score:    float64(p.GetScore()),
			Metadata: payloadToMetadata(p.GetPayload()),
		})
	}
	return hits, nil
}

func buildFilter(filter *model.VectorFilter) *qdrant.Filter {
	if filter == nil || (len(filter.ChunkIDs) == 0 && len(filter.DocumentIDs) == 0) {
		return nil
	}

	var must []*qdrant.Condition
	if len(filter.ChunkIDs) > 0 {
		ids := make([]*qdrant.PointId, len(filter.ChunkIDs))
		for i, id := range filter.ChunkIDs {
			ids[i] = qdrant.NewIDUUID(id.String())
		}
		must = append(must, qdrant.NewHasID(ids...))
	}
	if len(filter.DocumentIDs) > 0 {
		keywords := make([]string, len(filter.DocumentIDs))
		for i, id := range filter.DocumentIDs {
			keywords[i] = id.String()
		}
		must = append(must, qdrant.NewMatchKeywords("document_id", keywords...))
	}
	return &qdrant.Filter{Must: must}
}

func payloadToMetadata(payload map[string]*qdrant.Value) model.Metadata {
	m := make(model.Metadata, len(payload))
	for k, v := range payload {
		m[k] = valueToAny(v)
	}
	return m
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_StructValue:
		return payloadToMetadata(kind.StructValue.GetFields())
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		list := make([]any, len(values))
		for i, item := range values {
			list[i] = valueToAny(item)
		}
		return list
	}
	return nil
}
