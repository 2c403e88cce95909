package iam

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iam_token_requests_total",
		Help: "IAM token exchanges by service and outcome",
	}, []string{"service", "outcome"})

	metricReadyMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "iam_ready_ms",
		Help:    "Time until an authenticator obtained its first token",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	}, []string{"service"})
)
