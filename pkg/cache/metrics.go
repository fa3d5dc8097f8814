package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup results.
const (
	resultHit     = "hit"
	resultMiss    = "miss"
	resultExpired = "expired"
	resultInvalid = "invalid"
)

var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsdl_cache_lookups_total",
		Help: "Metadata cache lookups by scope and result",
	}, []string{"scope", "result"})

	storedBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsdl_cache_stored_bytes_total",
		Help: "Bytes of metadata written to the cache by scope",
	}, []string{"scope"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsdl_cache_errors_total",
		Help: "Metadata cache operation errors",
	}, []string{"operation"})
)
