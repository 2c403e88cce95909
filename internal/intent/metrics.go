package intent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "intent_published_total",
	Help: "Intent events forwarded to the avatar by publisher and outcome",
}, []string{"publisher", "outcome"})
