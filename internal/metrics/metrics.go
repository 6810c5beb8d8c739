package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes reported by the socket server.
const (
	OutcomeOK           = "ok"
	OutcomeNotAvailable = "not_available"
	OutcomeMalformed    = "malformed"
)

var (
	// Resolutions counts successful resolutions by the provider that answered.
	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_resolutions_total",
			Help: "Successful resolutions by answering provider",
		},
		[]string{"source"},
	)

	// FetchFailures counts failed provider attempts.
	FetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_fetch_failures_total",
			Help: "Failed fetch attempts by provider",
		},
		[]string{"provider"},
	)

	// Exhaustions counts resolutions where even the terminal provider failed.
	Exhaustions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querycache_exhaustions_total",
			Help: "Resolutions that exhausted the whole provider chain",
		},
	)

	// Requests counts socket requests by outcome.
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querycache_requests_total",
			Help: "Socket requests by outcome",
		},
		[]string{"outcome"},
	)

	// RefreshDuration tracks how long a refresh cycle takes.
	RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querycache_refresh_duration_seconds",
			Help:    "Duration of refresh cycles",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(Resolutions)
	prometheus.MustRegister(FetchFailures)
	prometheus.MustRegister(Exhaustions)
	prometheus.MustRegister(Requests)
	prometheus.MustRegister(RefreshDuration)
}
