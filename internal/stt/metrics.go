package stt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAudioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_audio_bytes_total",
		Help: "Total audio bytes enqueued to provider",
	})

	metricFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_frames_total",
		Help: "Total audio frames enqueued to provider",
	})

	metricDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_drops_total",
		Help: "Total frames dropped due to backpressure",
	})

	metricFeedIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_feed_ignored_total",
		Help: "Segments not sent to the provider",
	}, []string{"reason"}) // not_listening, silence

	metricConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_connects_total",
		Help: "Total recognition streams opened",
	})

	metricConnectMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stt_connect_ms",
		Help:    "Time to establish provider connection (ms)",
		Buckets: prometheus.ExponentialBuckets(10, 1.8, 10),
	})

	metricErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_errors_total",
		Help: "Recognition stream failures by stage",
	}, []string{"stage"}) // token, dial, read, write, provider

	// Utterance boundary metrics
	metricUtteranceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_utterance_events_total",
		Help: "Utterance boundary events sent",
	}, []string{"type"}) // start, stop

	metricResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_results_total",
		Help: "Transcript alternatives received",
	}, []string{"kind"}) // interim, final
)
