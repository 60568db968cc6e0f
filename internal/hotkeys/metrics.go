package hotkeys

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "overai",
		Name:      "hotkey_triggers_total",
		Help:      "Hotkey events honoured as overlay toggles.",
	})
	metricDebounced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "overai",
		Name:      "hotkey_ignored_total",
		Help:      "Hotkey events dropped because they did not match or fell inside the debounce window.",
	})
	metricListenerArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "overai",
		Name:      "hotkey_listener_armed",
		Help:      "1 when the global hotkey listener is installed.",
	})
)
