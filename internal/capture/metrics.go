package capture

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_segments_total",
		Help: "Emitted capture segments by ring half",
	}, []string{"half"})

	metricDeviceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_device_errors_total",
		Help: "Capture device failures by kind",
	}, []string{"kind"})

	metricPeak = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "capture_segment_peak",
		Help:    "Peak absolute amplitude per segment",
		Buckets: prometheus.LinearBuckets(0, 0.05, 21),
	})
)
