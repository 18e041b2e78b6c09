// Package metrics holds the process metrics registry. One Registry is
// created by the process root and threaded into the components that
// record into it; there are no package-level metric globals.
package metrics

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Registry bundles every metric family the service records. Label
// cardinality on project_id is bounded by the number of live projects;
// DeleteProject drops a project's series when it is removed.
type Registry struct {
	registry *prometheus.Registry

	ProjectQueries      *prometheus.CounterVec
	QueryDuration       *prometheus.HistogramVec
	CacheHits           *prometheus.CounterVec
	CacheMisses         *prometheus.CounterVec
	ProjectIngests      *prometheus.CounterVec
	ProjectErrors       *prometheus.CounterVec
	ProjectDocuments    *prometheus.GaugeVec
	APIKeyValidations   *prometheus.CounterVec
	APIKeysActive       *prometheus.GaugeVec
	ProjectCreations    prometheus.Counter
	ProjectUpdates      prometheus.Counter
	ProjectDeletions    prometheus.Counter
	ChunkingDuration    *prometheus.HistogramVec
	ChunksCreated       prometheus.Counter
	ChunkSizeBytes      prometheus.Histogram
	ExpansionDuration   prometheus.Histogram
	QueryExpansions     prometheus.Counter
	SemanticCacheHits   prometheus.Counter
	SemanticCacheMisses prometheus.Counter
	SemanticSimilarity  prometheus.Histogram
}

// NewRegistry creates a registry with every family registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,

		ProjectQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "project_queries_total",
			Help: "Queries served, by project and outcome.",
		}, []string{"project_id", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "project_query_duration_seconds",
			Help:    "Query latency by project.",
			Buckets: prometheus.DefBuckets,
		}, []string{"project_id"}),

		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "project_cache_hits_total",
			Help: "Cache hits by project.",
		}, []string{"project_id"}),

		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "project_cache_misses_total",
			Help: "Cache misses by project.",
		}, []string{"project_id"}),

		ProjectIngests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "project_ingests_total",
			Help: "Ingest operations, by project and outcome.",
		}, []string{"project_id", "status"}),

		ProjectErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "project_errors_total",
			Help: "Errors surfaced to callers, by project and kind.",
		}, []string{"project_id", "error_type"}),

		ProjectDocuments: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "project_documents_total",
			Help: "Documents currently stored per project.",
		}, []string{"project_id"}),

		APIKeyValidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "project_api_key_validations_total",
			Help: "API key validations, by project and result.",
		}, []string{"project_id", "result"}),

		APIKeysActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "project_api_keys_active",
			Help: "Active (unrevoked, unexpired) API keys per project.",
		}, []string{"project_id"}),

		ProjectCreations: factory.NewCounter(prometheus.CounterOpts{
			Name: "project_creations_total",
			Help: "Projects created.",
		}),

		ProjectUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "project_updates_total",
			Help: "Projects updated.",
		}),

		ProjectDeletions: factory.NewCounter(prometheus.CounterOpts{
			Name: "project_deletions_total",
			Help: "Projects deleted.",
		}),

		ChunkingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunking_duration_seconds",
			Help:    "Chunking latency by strategy.",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),

		ChunksCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunks_created_total",
			Help: "Chunks produced by all strategies.",
		}),

		ChunkSizeBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunk_size_bytes",
			Help:    "Chunk sizes in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		}),

		ExpansionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "query_expansion_duration_seconds",
			Help:    "Query expansion latency.",
			Buckets: prometheus.DefBuckets,
		}),

		QueryExpansions: factory.NewCounter(prometheus.CounterOpts{
			Name: "query_expansions_total",
			Help: "Queries run through the expander.",
		}),

		SemanticCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "semantic_cache_hits_total",
			Help: "Semantic cache hits.",
		}),

		SemanticCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "semantic_cache_misses_total",
			Help: "Semantic cache misses.",
		}),

		SemanticSimilarity: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "semantic_cache_similarity_scores",
			Help:    "Similarity of semantic cache lookups against their best match.",
			Buckets: prometheus.LinearBuckets(0, 0.05, 21),
		}),
	}
}

// DeleteProject removes every series labeled with the project id,
// keeping label cardinality bounded by live projects.
func (r *Registry) DeleteProject(projectID string) {
	labels := prometheus.Labels{"project_id": projectID}
	r.ProjectQueries.DeletePartialMatch(labels)
	r.QueryDuration.DeletePartialMatch(labels)
	r.CacheHits.DeletePartialMatch(labels)
	r.CacheMisses.DeletePartialMatch(labels)
	r.ProjectIngests.DeletePartialMatch(labels)
	r.ProjectErrors.DeletePartialMatch(labels)
	r.ProjectDocuments.DeletePartialMatch(labels)
	r.APIKeyValidations.DeletePartialMatch(labels)
	r.APIKeysActive.DeletePartialMatch(labels)
}

// Prometheus exposes the underlying registry for HTTP handlers.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// Dump renders every family in the Prometheus text format.
func (r *Registry) Dump() (string, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", fmt.Errorf("encode family %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}
