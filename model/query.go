package model

import "github.com/google/uuid"

// Direction restricts relation traversal relative to an entity.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// RelationSort is a sort field for relationship queries.
type RelationSort string

const (
	RelationSortConfidence RelationSort = "confidence"
	RelationSortType       RelationSort = "type"
	RelationSortUpdated    RelationSort = "updated"
)

// RelationQuery filters and pages the relationships of one entity.
type RelationQuery struct {
	PageRequest
	Types         []RelationType `json:"types,omitempty"`
	Direction     Direction      `json:"direction"`
	MinConfidence float64        `json:"min_confidence"`
	SortBy        RelationSort   `json:"sort_by"`
	Order         SortOrder      `json:"order"`
}

// Normalize applies defaults.
func (q RelationQuery) Normalize() RelationQuery {
	q.PageRequest = q.PageRequest.Normalize()
	if q.Direction == "" {
		q.Direction = DirectionBoth
	}
	if q.SortBy == "" {
		q.SortBy = RelationSortConfidence
	}
	if q.Order == "" {
		q.Order = SortDesc
	}
	return q
}

// PathQuery bounds a shortest path search.
type PathQuery struct {
	PageRequest
	MaxDepth int            `json:"max_depth"`
	MaxPaths int            `json:"max_paths"`
	Types    []RelationType `json:"types,omitempty"`
}

// Path is a sequence of entities connected by relations.
type Path struct {
	EntityIDs  []uuid.UUID `json:"entity_ids"`
	Relations  []*Relation `json:"relations"`
	Length     int         `json:"length"`
	Confidence float64     `json:"confidence"`
}

// SubgraphQuery bounds a subgraph traversal.
type SubgraphQuery struct {
	PageRequest
	Depth         int            `json:"depth"`
	MaxNodes      int            `json:"max_nodes"`
	Types         []RelationType `json:"types,omitempty"`
	MinConfidence float64        `json:"min_confidence"`
}

// Subgraph is the neighbourhood of a root entity. Nodes is paginated; Relations
// holds the edges among all reached nodes. NodeCount and EdgeCount count the whole subgraph.
type Subgraph struct {
	RootID    uuid.UUID     `json:"root_id"`
	Nodes     Page[*Entity] `json:"nodes"`
	Relations []*Relation   `json:"relations"`
	NodeCount int           `json:"node_count"`
	EdgeCount int           `json:"edge_count"`
	Truncated bool          `json:"truncated"`
}

// VectorFilter narrows a similarity query.
type VectorFilter struct {
	DocumentIDs []uuid.UUID
	ChunkIDs    []uuid.UUID
}

// VectorHit is one result of a similarity query.
type VectorHit struct {
	ID       uuid.UUID `json:"id"`
	Score    float64   `json:"score"`
	Metadata Metadata  `json:"metadata,omitempty"`
}

// VectorPoint is one embedding written to a vector store.
type VectorPoint struct {
	ID       uuid.UUID `json:"id"`
	Vector   []float32 `json:"vector"`
	Metadata Metadata  `json:"metadata,omitempty"`
}

// QueryConfig narrows one retrieval. Zero values fall back to the engine's RetrievalConfig.
type QueryConfig struct {
	TopK         int         `json:"top_k"`
	MinRelevance float64     `json:"min_relevance"`
	DocumentIDs  []uuid.UUID `json:"document_ids,omitempty"`
	// EntityIDs are boosted in addition to the entities recognized in the query.
	EntityIDs []uuid.UUID `json:"entity_ids,omitempty"`
}
