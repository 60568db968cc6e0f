package visibility

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overai",
		Name:      "visibility_transitions_total",
		Help:      "Overlay show, hide, suspend and resume transitions.",
	}, []string{"transition"})
	metricVisible = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "overai",
		Name:      "overlay_visible",
		Help:      "1 while the overlay window is shown.",
	})
)
