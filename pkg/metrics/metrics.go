// Package metrics provides access to Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rthumb"

// Web
var (
	HTTPResponseStatuses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "web",
			Name:      "http_response_statuses_total",
		},
		[]string{"status"},
	)
	HTTPResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "web",
			Name:      "http_response_time_seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"path"},
	)
)

// Storage
var (
	StorageRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "request_duration_seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
		},
		[]string{"operation"},
	)
)

// Thumbnails
var (
	ThumbnailsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "thumbnails",
			Name:      "generated_total",
		},
	)
	ThumbnailsCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "thumbnails",
			Name:      "cache_hits_total",
		},
	)
	ThumbnailsFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "thumbnails",
			Name:      "failures_total",
		},
		[]string{"reason"},
	)
	ThumbnailsSourceSizes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "thumbnails",
			Name:      "source_size_bytes",
			Buckets: []float64{
				124 << 10, // 124 Kib
				256 << 10, // 256 Kib
				512 << 10, // 512 Kib
				1 << 20,   // 1 Mib
				2 << 20,   // 2 Mib
				5 << 20,   // 5 Mib
				10 << 20,  // 10 Mib
				20 << 20,  // 20 Mib
				30 << 20,  // 30 Mib
			},
		},
	)
	ThumbnailsConversionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "thumbnails",
			Name:      "conversion_duration_seconds",
			Buckets:   []float64{0.2, 0.5, 1, 2, 5, 10, 15, 30, 45, 60, 90, 120},
		},
	)
)

// Failure reasons.
const (
	ReasonUnavailable = "unavailable"
	ReasonRejected    = "rejected"
	ReasonTimeout     = "timeout"
	ReasonFailed      = "failed"
	ReasonStore       = "store"
	ReasonCanceled    = "canceled"
)

// Init values for common labels.
func init() {
	for _, status := range []string{"200", "204", "400", "404", "500"} {
		HTTPResponseStatuses.With(prometheus.Labels{"status": status}).Add(0)
	}
	for _, reason := range []string{ReasonUnavailable, ReasonRejected, ReasonTimeout, ReasonFailed, ReasonStore, ReasonCanceled} {
		ThumbnailsFailures.With(prometheus.Labels{"reason": reason}).Add(0)
	}
}
