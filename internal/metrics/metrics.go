// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadwise_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "threadwise_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	// Ingest metrics
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadwise_messages_ingested_total",
			Help: "Total messages ingested",
		},
		[]string{"source"},
	)

	IngestFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadwise_ingest_files_total",
			Help: "Total export files processed",
		},
		[]string{"status"}, // "ok" or "error"
	)

	RecordsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threadwise_records_skipped_total",
			Help: "Export array elements skipped because they were not objects",
		},
	)

	// Threading metrics
	ThreadDetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threadwise_thread_detection_duration_seconds",
			Help:    "Time spent grouping and splitting messages into threads",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		},
	)

	ThreadsDetected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threadwise_threads_detected",
			Help: "Threads found by the most recent thread detection",
		},
	)

	SearchQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threadwise_search_queries_total",
			Help: "Total search queries",
		},
	)
)

// SourceLabel keeps the source label bounded for records without a source.
func SourceLabel(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}
