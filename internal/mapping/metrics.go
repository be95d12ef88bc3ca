package mapping

import "comicmap/pkg/metrics"

const component = "resolver"

// op label values
const (
	opGetID   = "get_id"
	opGetSlug = "get_slug"
	opBulk    = "bulk_sync"
)

var cacheHits = metrics.MustRegisterCounterVec(
	metrics.Namespace, component, "cache_hits_total",
	"Number of lookups answered from the in-memory cache.",
	"op",
)

var cacheMisses = metrics.MustRegisterCounterVec(
	metrics.Namespace, component, "cache_misses_total",
	"Number of lookups that had to reach the store.",
	"op",
)

var degradedTotal = metrics.MustRegisterCounterVec(
	metrics.Namespace, component, "degraded_total",
	"Number of answers given in degraded mode.",
	"op",
)

var mappingsCreated = metrics.MustRegisterCounterVec(
	metrics.Namespace, component, "mappings_created_total",
	"Number of mappings persisted by this process.",
	"kind",
)
