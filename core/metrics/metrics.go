// Package metrics holds the Prometheus collectors of ingestion, linking, retrieval and consensus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citegraph_stage_duration_seconds",
			Help:    "Duration of each ingestion stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	DocumentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citegraph_documents_ingested_total",
			Help: "Documents ingested by outcome",
		},
		[]string{"status"},
	)

	EntitiesLinked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citegraph_entities_linked_total",
			Help: "Linking outcomes per mention group",
		},
		[]string{"outcome"},
	)

	RelationsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citegraph_relations_upserted_total",
		Help: "Relation upserts including merges into existing relations",
	})

	// Retrieval metrics
	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citegraph_retrieval_duration_seconds",
			Help:    "Duration of answer retrieval and generation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CitationMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citegraph_citation_misses_total",
		Help: "Citations whose chunk could not be resolved to a document",
	})

	DroppedMarkers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citegraph_dropped_markers_total",
		Help: "Citation markers outside the presented sources",
	})

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citegraph_cache_hits_total",
			Help: "Number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citegraph_cache_misses_total",
			Help: "Number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Provenance metrics
	ConsensusComputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citegraph_consensus_computations_total",
			Help: "Consensus recomputations by resulting state",
		},
		[]string{"verified"},
	)

	// Backend metrics
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citegraph_backend_requests_total",
			Help: "Requests sent to embedding and generation backends",
		},
		[]string{"backend", "operation", "result"},
	)
)
