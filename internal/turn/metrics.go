package turn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_state_transitions_total",
		Help: "Turn controller state transitions",
	}, []string{"from", "to"})

	metricErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_errors_total",
		Help: "Contained loop errors by phase and client",
	}, []string{"phase", "client"})

	metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_events_dropped_total",
		Help: "Events ignored because their generation or turn had ended",
	}, []string{"kind"})

	metricTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turns_total",
		Help: "Dispatched turns by input source",
	}, []string{"source"}) // speech, typed

	metricResponseMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turn_response_ms",
		Help:    "Latency from winning transcript to playback start (ms)",
		Buckets: prometheus.ExponentialBuckets(100, 1.6, 12),
	})

	metricBootstrapMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turn_bootstrap_ms",
		Help:    "Bootstrap duration from credential checks to discarded greeting (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 2, 10),
	})
)
