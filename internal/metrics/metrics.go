package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankinplay_provider_requests_total",
		Help: "Outbound provider HTTP requests by method and status code.",
	}, []string{"method", "status"})

	ProviderRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bankinplay_provider_request_duration_seconds",
		Help:    "Latency of outbound provider HTTP requests.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	PollIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bankinplay_poll_iterations_total",
		Help: "Status polls issued while waiting for asynchronous jobs.",
	})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankinplay_webhook_deliveries_total",
		Help: "Inbound webhook deliveries by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	JobResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankinplay_job_resolutions_total",
		Help: "Ledger entry resolutions by operation and terminal status.",
	}, []string{"operation", "status"})
)
