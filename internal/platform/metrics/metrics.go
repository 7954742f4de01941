package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BundlesGeneratedTotal tracks generated bundles by outcome
	BundlesGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ips_bundles_generated_total",
			Help: "Total number of IPS document bundles generated",
		},
		[]string{"status"}, // "success", "error"
	)

	// BundleAssemblyDuration tracks time spent assembling one bundle
	BundleAssemblyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ips_bundle_assembly_duration_seconds",
			Help:    "Duration of IPS bundle assembly in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"}, // "cli", "api"
	)

	// ResourcesGeneratedTotal tracks clinical resources placed in bundles
	ResourcesGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ips_resources_generated_total",
			Help: "Total number of FHIR resources placed in generated bundles",
		},
		[]string{"resource_type"},
	)

	// SinkWritesTotal tracks writes to output sinks
	SinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ips_sink_writes_total",
			Help: "Total number of records written to output sinks",
		},
		[]string{"sink", "status"},
	)

	// SinkWriteDuration tracks sink write latency
	SinkWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ips_sink_write_duration_seconds",
			Help:    "Duration of output sink writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	// HTTPRequestsTotal tracks API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ips_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "route", "code"},
	)
)

// RecordBundle records one assembled bundle and its per-type resource counts
func RecordBundle(source string, counts map[string]int, duration time.Duration) {
	BundlesGeneratedTotal.WithLabelValues("success").Inc()
	BundleAssemblyDuration.WithLabelValues(source).Observe(duration.Seconds())
	for rt, n := range counts {
		ResourcesGeneratedTotal.WithLabelValues(rt).Add(float64(n))
	}
}

// RecordBundleError records a failed assembly
func RecordBundleError() {
	BundlesGeneratedTotal.WithLabelValues("error").Inc()
}

// RecordSinkWrite records one sink write
func RecordSinkWrite(sink string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SinkWritesTotal.WithLabelValues(sink, status).Inc()
	SinkWriteDuration.WithLabelValues(sink).Observe(duration.Seconds())
}

// RecordHTTPRequest records one served request
func RecordHTTPRequest(method, route, code string) {
	HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
}
