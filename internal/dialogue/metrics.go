package dialogue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialogue_requests_total",
		Help: "Assistant API requests by operation and outcome",
	}, []string{"op", "outcome"})

	metricLatencyMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dialogue_latency_ms",
		Help:    "Assistant API latency (ms)",
		Buckets: prometheus.ExponentialBuckets(20, 1.8, 10),
	}, []string{"op"})
)
