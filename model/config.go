package model

import "time"

// ChunkerConfig sizes chunks in bytes of the original text.
type ChunkerConfig struct {
	TargetSize     int `json:"target_size" mapstructure:"target_size"`
	Overlap        int `json:"overlap" mapstructure:"overlap"`
	BoundaryWindow int `json:"boundary_window" mapstructure:"boundary_window"`
}

// ConfidenceRule selects how an entity's running confidence absorbs a new link.
type ConfidenceRule string

const (
	// ConfidenceRunningAverage moves towards the new value by 1/(n+1) and never decreases.
	ConfidenceRunningAverage ConfidenceRule = "running_average"
	// ConfidenceNoisyOr treats links as independent evidence.
	ConfidenceNoisyOr ConfidenceRule = "noisy_or"
)

// LinkerConfig configures entity linking.
type LinkerConfig struct {
	FuzzyThreshold   float64        `json:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	NameWeight       float64        `json:"name_weight" mapstructure:"name_weight"`
	ContextWeight    float64        `json:"context_weight" mapstructure:"context_weight"`
	ConfidenceRule   ConfidenceRule `json:"confidence_rule" mapstructure:"confidence_rule"`
	AmbiguityEpsilon float64        `json:"ambiguity_epsilon" mapstructure:"ambiguity_epsilon"`
}

// RelationConfig configures pattern based relation extraction.
type RelationConfig struct {
	MaxArgumentGap  int     `json:"max_argument_gap" mapstructure:"max_argument_gap"`
	TemporalWindow  int     `json:"temporal_window" mapstructure:"temporal_window"`
	CatalogPath     string  `json:"catalog_path,omitempty" mapstructure:"catalog_path"`
	TripletStrength float64 `json:"triplet_strength" mapstructure:"triplet_strength"`
}

// RetrievalConfig configures query answering.
type RetrievalConfig struct {
	TopK             int           `json:"top_k" mapstructure:"top_k"`
	MinRelevance     float64       `json:"min_relevance" mapstructure:"min_relevance"`
	EntityBoost      float64       `json:"entity_boost" mapstructure:"entity_boost"`
	MaxContextTokens int           `json:"max_context_tokens" mapstructure:"max_context_tokens"`
	QuoteLength      int           `json:"quote_length" mapstructure:"quote_length"`
	EmbeddingCache   time.Duration `json:"embedding_cache" mapstructure:"embedding_cache"`
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
}

// ReasoningConfig holds the hard safety limits of graph traversal.
type ReasoningConfig struct {
	DefaultMaxDepth  int `json:"default_max_depth" mapstructure:"default_max_depth"`
	HardMaxDepth     int `json:"hard_max_depth" mapstructure:"hard_max_depth"`
	DefaultMaxPaths  int `json:"default_max_paths" mapstructure:"default_max_paths"`
	HardMaxPaths     int `json:"hard_max_paths" mapstructure:"hard_max_paths"`
	MaxSubgraphNodes int `json:"max_subgraph_nodes" mapstructure:"max_subgraph_nodes"`
}

// ProvenanceConfig configures consensus.
type ProvenanceConfig struct {
	VerifiedThreshold float64 `json:"verified_threshold" mapstructure:"verified_threshold"`
	DefaultReputation float64 `json:"default_reputation" mapstructure:"default_reputation"`
}

// BackendConfig names the registered backend per role and their connection settings.
type BackendConfig struct {
	NER         string        `json:"ner" mapstructure:"ner"`
	Embedder    string        `json:"embedder" mapstructure:"embedder"`
	Generator   string        `json:"generator" mapstructure:"generator"`
	Dimensions  int           `json:"dimensions" mapstructure:"dimensions"`
	NERModel    string        `json:"ner_model" mapstructure:"ner_model"`
	EmbedModel  string        `json:"embed_model" mapstructure:"embed_model"`
	ChatModel   string        `json:"chat_model" mapstructure:"chat_model"`
	BaseURL     string        `json:"base_url" mapstructure:"base_url"`
	APIKey      string        `json:"-" mapstructure:"api_key"`
	RateLimit   float64       `json:"rate_limit" mapstructure:"rate_limit"`
	Routes      []RouteRule   `json:"routes,omitempty" mapstructure:"routes"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	Temperature float64       `json:"temperature" mapstructure:"temperature"`
}

// RouteRule maps a generation task to a backend name. Rules are evaluated in order.
type RouteRule struct {
	Task         string `json:"task,omitempty" mapstructure:"task"`
	MinPromptLen int    `json:"min_prompt_len,omitempty" mapstructure:"min_prompt_len"`
	JSON         *bool  `json:"json,omitempty" mapstructure:"json"`
	Backend      string `json:"backend" mapstructure:"backend"`
}

// StoreConfig selects the graph and vector stores.
type StoreConfig struct {
	Graph          string `json:"graph" mapstructure:"graph"`
	Vector         string `json:"vector" mapstructure:"vector"`
	Neo4jURI       string `json:"neo4j_uri,omitempty" mapstructure:"neo4j_uri"`
	Neo4jUser      string `json:"neo4j_user,omitempty" mapstructure:"neo4j_user"`
	Neo4jPassword  string `json:"-" mapstructure:"neo4j_password"`
	QdrantHost     string `json:"qdrant_host,omitempty" mapstructure:"qdrant_host"`
	QdrantPort     int    `json:"qdrant_port,omitempty" mapstructure:"qdrant_port"`
	QdrantAPIKey   string `json:"-" mapstructure:"qdrant_api_key"`
	QdrantTLS      bool   `json:"qdrant_tls" mapstructure:"qdrant_tls"`
	Collection     string `json:"collection" mapstructure:"collection"`
	ForceSQLReload bool   `json:"force_sql_reload" mapstructure:"force_sql_reload"`
}

// Config is the complete configuration of a CiteGraph instance.
type Config struct {
	Workers       int              `json:"workers" mapstructure:"workers"`
	RetryAttempts int              `json:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration    `json:"retry_backoff" mapstructure:"retry_backoff"`
	Chunker       ChunkerConfig    `json:"chunker" mapstructure:"chunker"`
	Linker        LinkerConfig     `json:"linker" mapstructure:"linker"`
	Relation      RelationConfig   `json:"relation" mapstructure:"relation"`
	Retrieval     RetrievalConfig  `json:"retrieval" mapstructure:"retrieval"`
	Reasoning     ReasoningConfig  `json:"reasoning" mapstructure:"reasoning"`
	Provenance    ProvenanceConfig `json:"provenance" mapstructure:"provenance"`
	Backends      BackendConfig    `json:"backends" mapstructure:"backends"`
	Store         StoreConfig      `json:"store" mapstructure:"store"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		RetryAttempts: 3,
		RetryBackoff:  50 * time.Millisecond,
		Chunker: ChunkerConfig{
			TargetSize:     1000,
			Overlap:        200,
			BoundaryWindow: 100,
		},
		Linker: LinkerConfig{
			FuzzyThreshold:   0.85,
			NameWeight:       0.8,
			ContextWeight:    0.2,
			ConfidenceRule:   ConfidenceRunningAverage,
			AmbiguityEpsilon: 1e-9,
		},
		Relation: RelationConfig{
			MaxArgumentGap:  120,
			TemporalWindow:  60,
			TripletStrength: 0.7,
		},
		Retrieval: RetrievalConfig{
			TopK:             5,
			MinRelevance:     0,
			EntityBoost:      0.1,
			MaxContextTokens: 3000,
			QuoteLength:      280,
			EmbeddingCache:   10 * time.Minute,
			Timeout:          30 * time.Second,
		},
		Reasoning: ReasoningConfig{
			DefaultMaxDepth:  5,
			HardMaxDepth:     8,
			DefaultMaxPaths:  10,
			HardMaxPaths:     100,
			MaxSubgraphNodes: 200,
		},
		Provenance: ProvenanceConfig{
			VerifiedThreshold: 0.7,
			DefaultReputation: 0.5,
		},
		Backends: BackendConfig{
			NER:         "rule",
			Embedder:    "hash",
			Dimensions:  384,
			NERModel:    "KnightsAnalytics/distilbert-NER",
			EmbedModel:  "sentence-transformers/all-MiniLM-L6-v2",
			Timeout:     time.Minute,
			Temperature: 0.2,
		},
		Store: StoreConfig{
			Graph:      "memory",
			Vector:     "memory",
			Collection: "citegraph_chunks",
		},
	}
}
