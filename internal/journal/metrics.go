package journal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_events_total",
		Help: "Journal events appended by type",
	}, []string{"type"})

	metricSinkDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_sink_drops_total",
		Help: "Events not mirrored because the sink queue was full",
	})

	metricSinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_sink_errors_total",
		Help: "Failed sink writes",
	})
)
