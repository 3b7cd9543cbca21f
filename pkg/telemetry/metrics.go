package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for magebox. A nil *Metrics, or one
// built from a disabled configuration, records nothing.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	progressUnits     *prometheus.CounterVec

	// Sync metrics
	syncPolls *prometheus.CounterVec

	// Run metrics
	runs       *prometheus.CounterVec
	activeRuns prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of supervised operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of supervised operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		progressUnits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "progress_units_total",
				Help:      "Total number of progress units observed",
			},
			[]string{"operation"},
		),
		syncPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_polls_total",
				Help:      "Total number of sync session status polls by observed state",
			},
			[]string{"state"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of command runs by final status",
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.progressUnits,
		m.syncPolls,
		m.runs,
		m.activeRuns,
		m.errorsByClass,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Operation Metrics

// RecordOperation records one supervised operation.
func (m *Metrics) RecordOperation(operation, outcome string, duration time.Duration, units int) {
	if !m.enabled() {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if units > 0 {
		m.progressUnits.WithLabelValues(operation).Add(float64(units))
	}
}

// Sync Metrics

// RecordSyncPoll records one status poll of the sync session.
func (m *Metrics) RecordSyncPoll(state string) {
	if !m.enabled() {
		return
	}
	m.syncPolls.WithLabelValues(state).Inc()
}

// Run Metrics

// RecordRunStarted marks a run as active.
func (m *Metrics) RecordRunStarted() {
	if !m.enabled() {
		return
	}
	m.activeRuns.Inc()
}

// RecordRunCompleted records a finished run with its status.
func (m *Metrics) RecordRunCompleted(status string) {
	if !m.enabled() {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.activeRuns.Dec()
}

// Error Metrics

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if !m.enabled() {
		return
	}
	if errorClass == "" {
		errorClass = "unclassified"
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// WriteTextfile writes the collected metrics to the configured textfile.
func (m *Metrics) WriteTextfile() error {
	if !m.enabled() || m.config.TextfilePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.TextfilePath), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
