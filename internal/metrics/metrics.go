// Package metrics holds the Prometheus collectors shared by the HTTP
// middleware and the fulfillment engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	fulfillmentOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preorder_fulfillment_outcomes_total",
			Help: "Pre-order charge attempts by resulting status",
		},
		[]string{"status"},
	)

	preOrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preorder_transitions_total",
			Help: "Pre-order status transitions by target status",
		},
		[]string{"to"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(fulfillmentOutcomes)
	prometheus.MustRegister(preOrderTransitions)
}

func RecordFulfillmentOutcome(status string) {
	fulfillmentOutcomes.WithLabelValues(status).Inc()
}

func RecordTransition(to string) {
	preOrderTransitions.WithLabelValues(to).Inc()
}
