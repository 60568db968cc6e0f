package mempressure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricResidentMB = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "overai",
		Name:      "resident_memory_mb",
		Help:      "Last sampled resident memory of the process in megabytes.",
	})
	metricCleanupRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "overai",
		Name:      "memory_cleanup_runs_total",
		Help:      "Cleanup passes triggered by memory pressure.",
	})
	metricLastFreedMB = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "overai",
		Name:      "memory_cleanup_last_freed_mb",
		Help:      "Megabytes released by the last cleanup pass. Negative when memory grew.",
	})
	metricHandlerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "overai",
		Name:      "memory_cleanup_handler_failures_total",
		Help:      "Cleanup callbacks that returned an error or panicked.",
	})
)
