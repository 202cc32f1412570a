package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Flush result labels.
const (
	FlushWritten = "written"
	FlushSkipped = "skipped"
	FlushFailed  = "failed"
)

// Metrics provides Prometheus metrics for the task store and repository.
type Metrics struct {
	config MetricsConfig

	// Repository metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	tasks             prometheus.Gauge

	// Store metrics
	flushes        *prometheus.CounterVec
	flushDuration  prometheus.Histogram
	storeErrors    *prometheus.CounterVec
	pendingChanges prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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
				Help:      "Total number of repository operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of repository operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		tasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks",
				Help:      "Number of tasks returned by the last fetch",
			},
		),

		flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flushes_total",
				Help:      "Total number of flush calls by result (written, skipped, failed)",
			},
			[]string{"result"},
		),
		flushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flush_duration_seconds",
				Help:      "Duration of flushes that wrote to the database",
				Buckets:   buckets,
			},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of store errors by kind",
			},
			[]string{"kind"},
		),
		pendingChanges: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_changes",
				Help:      "Number of staged changes not yet flushed",
			},
		),
	}

	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.tasks,
		m.flushes,
		m.flushDuration,
		m.storeErrors,
		m.pendingChanges,
	)

	return m, nil
}

// NopMetrics returns a metrics instance whose record methods do nothing.
func NopMetrics() *Metrics {
	return &Metrics{}
}

// Repository Metrics

// RecordOperation records a repository operation with its status and duration.
func (m *Metrics) RecordOperation(operation, status string, duration time.Duration) {
	if m.operations == nil {
		return
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetTaskCount sets the number of tasks seen by the last fetch.
func (m *Metrics) SetTaskCount(count int) {
	if m.tasks == nil {
		return
	}
	m.tasks.Set(float64(count))
}

// Store Metrics

// RecordFlush records a flush outcome. Duration is only observed for flushes
// that reached the database.
func (m *Metrics) RecordFlush(result string, duration time.Duration) {
	if m.flushes == nil {
		return
	}
	m.flushes.WithLabelValues(result).Inc()
	if result != FlushSkipped {
		m.flushDuration.Observe(duration.Seconds())
	}
}

// RecordStoreError records a store error by kind.
func (m *Metrics) RecordStoreError(kind string) {
	if m.storeErrors == nil {
		return
	}
	m.storeErrors.WithLabelValues(kind).Inc()
}

// SetPendingChanges sets the number of staged, unflushed changes.
func (m *Metrics) SetPendingChanges(count int) {
	if m.pendingChanges == nil {
		return
	}
	m.pendingChanges.Set(float64(count))
}

// Flushes returns the flush counter for a result label, or nil when
// metrics are disabled.
func (m *Metrics) Flushes(result string) prometheus.Counter {
	if m.flushes == nil {
		return nil
	}
	return m.flushes.WithLabelValues(result)
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

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The returned
// server is nil when metrics are disabled; errors after startup are sent to
// errFn.
func (m *Metrics) StartMetricsServer(errFn func(error)) *http.Server {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && errFn != nil {
			errFn(err)
		}
	}()

	return server
}
