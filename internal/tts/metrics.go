package tts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ttsSynthesisTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_synthesis_total",
		Help: "Total TTS synthesis requests by provider and status",
	}, []string{"provider", "status"})

	ttsTotalDurationMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tts_total_duration_ms",
		Help:    "Total TTS synthesis time in milliseconds",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	}, []string{"provider"})

	ttsAudioSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_audio_seconds",
		Help:    "Duration of synthesized audio",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	})
)
