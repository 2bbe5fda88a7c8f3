// Package metrics exposes Prometheus collectors for route execution, event
// publishing and the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StepDuration tracks how long one Execute call on a step ran.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openroute_step_execution_duration_seconds",
			Help:    "Duration of step execution runs in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 900},
		},
		[]string{"step_type", "status"},
	)

	// StepsTotal counts execution runs by the status they ended in.
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openroute_step_executions_total",
			Help: "Total number of step execution runs by resulting status",
		},
		[]string{"step_type", "status"},
	)

	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openroute_transactions_total",
			Help: "Transactions by process type and outcome (submitted, confirmed, replaced, failed)",
		},
		[]string{"process", "outcome"},
	)

	RoutesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "openroute_routes_in_flight",
		Help: "Number of routes currently held by a worker",
	})

	RoutesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openroute_routes_processed_total",
			Help: "Routes handled by the runner by resulting status",
		},
		[]string{"status"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openroute_route_events_published_total",
			Help: "Route update events published per sink and outcome",
		},
		[]string{"sink", "outcome"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openroute_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"handler", "method", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openroute_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"handler", "method"},
	)
)
