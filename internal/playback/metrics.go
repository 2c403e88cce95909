package playback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricPlays = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "playback_plays_total",
	Help: "Assets handed to an output by sink",
}, []string{"sink"})

// Observe records a play for sinks implemented outside this package.
func Observe(sink string) { metricPlays.WithLabelValues(sink).Inc() }
