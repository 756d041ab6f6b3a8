package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_coordinator", Name: "matches_total", Help: "Total number of requests bound to a driver"})
	MatchLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_coordinator", Name: "match_latency_seconds", Help: "Time spent in autoMatch"})
	ActorsTracked  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_coordinator", Name: "actors_tracked", Help: "Number of actors with a known location"})
	LocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_coordinator", Name: "location_reports_total", Help: "Location reports by role and outcome"},
		[]string{"role", "outcome"},
	)
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_coordinator", Name: "ride_transitions_total", Help: "Committed ride status changes by target status"},
		[]string{"status"},
	)
	DispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_coordinator", Name: "dispatch_attempts_total", Help: "Dispatch loop autoMatch attempts by outcome"},
		[]string{"outcome"},
	)
	JournalDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_coordinator", Name: "journal_dropped_total", Help: "Ride records dropped because the journal queue was full"})
	JournalErrors  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_coordinator", Name: "journal_errors_total", Help: "Ride records the trip store failed to persist"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_coordinator", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_coordinator",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
