// Package metrics provides Prometheus metrics for taskforge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every method is nil-safe so callers
// can run without instrumentation.
type Metrics struct {
	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	HookRunsTotal      *prometheus.CounterVec
	StorageErrorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_operations_total",
				Help: "Total task lifecycle operations by action and status.",
			},
			[]string{"action", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskforge_operation_duration_seconds",
				Help:    "Operation duration by action, hook time included.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		HookRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_hook_runs_total",
				Help: "Hook chain executions by event and outcome.",
			},
			[]string{"event", "outcome"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_storage_errors_total",
				Help: "Storage failures by backend and kind (data vs io).",
			},
			[]string{"backend", "kind"},
		),
		registry: reg,
	}

	reg.MustRegister(m.OperationsTotal)
	reg.MustRegister(m.OperationDuration)
	reg.MustRegister(m.HookRunsTotal)
	reg.MustRegister(m.StorageErrorsTotal)

	return m
}

// Handler returns an http.Handler for a /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOperation increments the operation counter.
func (m *Metrics) RecordOperation(action, status string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(action, status).Inc()
}

// ObserveOperation records an operation duration in seconds.
func (m *Metrics) ObserveOperation(action string, seconds float64) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(action).Observe(seconds)
}

// RecordHookRun increments the hook execution counter.
func (m *Metrics) RecordHookRun(event, outcome string) {
	if m == nil {
		return
	}
	m.HookRunsTotal.WithLabelValues(event, outcome).Inc()
}

// RecordStorageError increments the storage error counter.
func (m *Metrics) RecordStorageError(backend, kind string) {
	if m == nil {
		return
	}
	m.StorageErrorsTotal.WithLabelValues(backend, kind).Inc()
}
