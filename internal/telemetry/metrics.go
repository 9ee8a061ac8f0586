package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ChunksDownloaded counts export chunks fetched successfully.
	ChunksDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vulnreport",
			Name:      "export_chunks_downloaded_total",
			Help:      "Total number of export chunks downloaded",
		},
	)

	// ChunkRetries counts chunk download attempts that were retried.
	ChunkRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vulnreport",
			Name:      "export_chunk_retries_total",
			Help:      "Total number of retried chunk downloads",
		},
	)

	// ExportFailures counts exports that ended in an error, by kind.
	ExportFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnreport",
			Name:      "export_failures_total",
			Help:      "Total number of failed exports",
		},
		[]string{"kind"},
	)

	// CacheHits counts cache lookups served from disk.
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vulnreport",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
	)

	// CacheMisses counts cache lookups that required a fresh export.
	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vulnreport",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
	)

	// RecordsNormalized counts raw records successfully normalized.
	RecordsNormalized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vulnreport",
			Name:      "records_normalized_total",
			Help:      "Total number of records normalized",
		},
	)

	// RecordsSkipped counts raw records rejected by the normalizer.
	RecordsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vulnreport",
			Name:      "records_skipped_total",
			Help:      "Total number of malformed records skipped",
		},
	)

	once sync.Once
)

// InitMetrics registers all collectors with the default registry.
// Safe to call more than once.
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.MustRegister(
			ChunksDownloaded,
			ChunkRetries,
			ExportFailures,
			CacheHits,
			CacheMisses,
			RecordsNormalized,
			RecordsSkipped,
		)
	})
}
