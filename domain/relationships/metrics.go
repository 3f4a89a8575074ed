package relationships

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relationship_cache_hits_total",
		Help: "Reads served from the current relationship-type snapshot",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relationship_cache_misses_total",
		Help: "Reads that forced a snapshot rebuild (cold, expired, or invalidated)",
	})

	cacheRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relationship_cache_rebuilds_total",
		Help: "Relationship-type snapshot rebuilds",
	})

	cacheAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relationship_cache_age_seconds",
		Help: "Age of the current relationship-type snapshot",
	})
)
