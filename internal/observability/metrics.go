package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Mpango.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Run lifecycle metrics.
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram
	ActiveRuns  prometheus.Gauge

	// Script validation metrics.
	ScriptsValidatedTotal *prometheus.CounterVec

	// Tool call metrics.
	ToolCallsTotal *prometheus.CounterVec

	// Sandbox metrics.
	SandboxTimeoutsTotal prometheus.Counter

	// Planning model metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensTotal     *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpango",
			Name:      "runs_total",
			Help:      "Total runs by terminal state.",
		}, []string{"state"}),

		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mpango",
			Name:      "run_duration_seconds",
			Help:      "End-to-end run duration (planning + execution) in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mpango",
			Name:      "active_runs",
			Help:      "Number of runs currently planning or executing.",
		}),

		ScriptsValidatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpango",
			Subsystem: "scripts",
			Name:      "validated_total",
			Help:      "Total script validations by verdict.",
		}, []string{"verdict"}),

		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpango",
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total tool calls committed by scripts.",
		}, []string{"tool", "status"}),

		SandboxTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mpango",
			Subsystem: "sandbox",
			Name:      "timeouts_total",
			Help:      "Total script executions terminated at the deadline.",
		}),

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpango",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total planning model requests.",
		}, []string{"provider", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mpango",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Planning model request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		LLMTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpango",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total planning model tokens consumed.",
		}, []string{"provider", "direction"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpango",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mpango",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.ActiveRuns,
		m.ScriptsValidatedTotal,
		m.ToolCallsTotal,
		m.SandboxTimeoutsTotal,
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}
