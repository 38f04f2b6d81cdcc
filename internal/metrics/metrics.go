// Package metrics holds the Prometheus collectors for the search pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Search pipeline
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sightline_searches_total",
			Help: "Search attempts by terminal status",
		},
		[]string{"status"},
	)
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sightline_search_duration_seconds",
			Help:    "Duration of search attempts including the pattern pipeline",
			Buckets: prometheus.DefBuckets,
		},
	)
	PatternFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sightline_pattern_failures_total",
			Help: "Pattern stats queries that failed",
		},
	)
	AnomalyDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sightline_anomaly_detections_total",
			Help: "Anomaly overlay invocations by result (available, unavailable, skipped)",
		},
		[]string{"result"},
	)

	// Live tail
	LiveLoopsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sightline_live_loops_active",
			Help: "Number of running live-tail loops",
		},
	)
	LiveIterations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sightline_live_iterations_total",
			Help: "Live-tail iterations executed",
		},
	)

	// Pollers and external services
	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sightline_poll_errors_total",
			Help: "Poll invocations that returned an error",
		},
		[]string{"poller"},
	)
	EngineRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sightline_engine_requests_total",
			Help: "Requests to the execution engine by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)
)
