package semantic

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "semantic_indexer_queue_depth",
		Help: "Number of roots waiting to be re-indexed.",
	})

	jobsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semantic_indexer_jobs_succeeded_total",
		Help: "Total re-index jobs completed successfully.",
	})

	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semantic_indexer_jobs_failed_total",
		Help: "Total re-index jobs dropped after exhausting retries.",
	})

	jobsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semantic_indexer_jobs_dropped_total",
		Help: "Total pending jobs evicted by queue overflow.",
	})

	embedCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semantic_embed_cache_hits_total",
		Help: "Chunk embeddings served from the content-hash cache.",
	})

	embedCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semantic_embed_cache_misses_total",
		Help: "Chunk embeddings that required a model call.",
	})
)
