package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks Control API request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "agentctl",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// ProjectTransitionsTotal counts lifecycle state transitions by target status.
var ProjectTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentctl",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Total number of project state transitions by target status.",
	},
	[]string{"status"},
)

// ReadinessWaitDuration tracks how long the readiness waiter blocks per attempt.
var ReadinessWaitDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "agentctl",
		Subsystem: "lifecycle",
		Name:      "readiness_wait_seconds",
		Help:      "Duration of the readiness wait, by outcome.",
		Buckets:   []float64{1, 2, 5, 10, 30, 60, 90, 120, 180},
	},
	[]string{"outcome"},
)

// OrchestratorErrorsTotal counts cluster API failures by operation.
var OrchestratorErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentctl",
		Subsystem: "orchestrator",
		Name:      "errors_total",
		Help:      "Total number of orchestrator adapter errors by operation.",
	},
	[]string{"operation"},
)

// ProxyStreamsActive gauges the number of in-flight SSE chat streams.
var ProxyStreamsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "agentctl",
		Subsystem: "proxy",
		Name:      "streams_active",
		Help:      "Number of currently open SSE chat streams.",
	},
)

// CloneResultsTotal counts repo clone attempts by outcome.
var CloneResultsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentctl",
		Subsystem: "clone",
		Name:      "results_total",
		Help:      "Total number of in-pod repository clone attempts by outcome.",
	},
	[]string{"outcome"},
)

// All returns all control-plane-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ProjectTransitionsTotal,
		ReadinessWaitDuration,
		OrchestratorErrorsTotal,
		ProxyStreamsActive,
		CloneResultsTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional collectors.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
