package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airship_api_requests_total",
		Help: "Total Airship API requests by operation and outcome.",
	}, []string{"op", "outcome"})

	APILatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "airship_api_request_duration_seconds",
		Help:    "Airship API round trip latency by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	Collected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airship_collector_reports_collected_total",
		Help: "Total per-push reports stored by the collector.",
	})
	CollectFail = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airship_collector_fail_total",
		Help: "Total collector batches that failed (API, store or publish).",
	})
	Requeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airship_collector_requeued_total",
		Help: "Total push ids pushed back onto the queue after a failure.",
	})
	Dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airship_collector_dropped_total",
		Help: "Total push ids dropped as invalid or unknown.",
	})
	Published = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airship_collector_published_total",
		Help: "Total report events published to RocketMQ.",
	})
	BreakerOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airship_collector_breaker_open_total",
		Help: "Total times the collector circuit breaker opened.",
	})
)

// Outcome labels for APIRequests.
const (
	OutcomeOK         = "ok"
	OutcomeAuth       = "auth"
	OutcomeNotFound   = "not_found"
	OutcomeRemote     = "remote"
	OutcomeTransport  = "transport"
	OutcomeValidation = "validation"
)

func Register() {
	prometheus.MustRegister(
		APIRequests, APILatency,
		Collected, CollectFail, Requeued, Dropped, Published,
		BreakerOpen,
	)
}
