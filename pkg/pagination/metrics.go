package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	identifierPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fsdl_identifier_pages_total",
		Help: "Identifier pages requested",
	})

	identifiersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fsdl_identifiers_total",
		Help: "Identifiers resolved by enumeration",
	})

	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsdl_batches_total",
		Help: "Chunk fetches by status",
	}, []string{"status"})

	batchRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fsdl_batch_records_total",
		Help: "Records received from chunk fetches",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fsdl_batch_duration_seconds",
		Help:    "Duration of a complete batch fetch",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})
)
