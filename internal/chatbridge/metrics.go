package chatbridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overai",
		Name:      "chatbridge_requests_total",
		Help:      "Chat page requests by type.",
	}, []string{"type"})
	metricErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "overai",
		Name:      "chatbridge_errors_total",
		Help:      "Error frames sent to the chat page.",
	})
	metricConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "overai",
		Name:      "chatbridge_connected",
		Help:      "1 while the chat page websocket is connected.",
	})
)
