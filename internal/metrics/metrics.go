// Package metrics
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobcheck_gateway_request_duration_seconds",
			Help:    "Duration of backend gateway requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobcheck_gateway_requests_total",
			Help: "Total number of backend requests, labeled by operation and status code.",
		},
		[]string{"operation", "status_code"},
	)
	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobcheck_submissions_total",
			Help: "Submissions by input mode and outcome (verdict, bulk, failed, rejected).",
		},
		[]string{"mode", "outcome"},
	)
	Verdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobcheck_verdicts_total",
			Help: "Single-item verdicts by prediction.",
		},
		[]string{"prediction"},
	)
	SideEffectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobcheck_side_effect_failures_total",
			Help: "Failed post-verdict side effects, labeled by rule.",
		},
		[]string{"rule"},
	)
	BulkWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobcheck_bulk_report_warnings_total",
			Help: "Invariant violations found in bulk reports.",
		},
	)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobcheck_cache_lookups_total",
			Help: "Company verification cache lookups, labeled hit or miss.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(GatewayRequestDuration)
	prometheus.MustRegister(GatewayRequests)
	prometheus.MustRegister(Submissions)
	prometheus.MustRegister(Verdicts)
	prometheus.MustRegister(SideEffectFailures)
	prometheus.MustRegister(BulkWarnings)
	prometheus.MustRegister(CacheLookups)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
