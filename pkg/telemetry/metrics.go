package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the tracking engine.
type Metrics struct {
	config MetricsConfig

	// Scheduler metrics
	cyclesCompleted prometheus.Counter
	cycleDuration   prometheus.Histogram
	schedulerUp     prometheus.Gauge

	// Reconciliation metrics
	reconciles        *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	renames           *prometheus.CounterVec

	// Probe metrics
	probes        *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	// Fault metrics
	faults *prometheus.CounterVec

	// Registry metrics
	trackedTargets prometheus.Gauge
	trackedScopes  prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// When metrics are disabled a no-op instance is returned.
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

		cyclesCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_completed_total",
				Help:      "Total number of completed update cycles",
			},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of one full update cycle in seconds",
				Buckets:   buckets,
			},
		),
		schedulerUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_running",
				Help:      "Whether the update scheduler is running (1=running, 0=stopped)",
			},
		),

		reconciles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciles_total",
				Help:      "Total number of per-target reconciliations",
			},
			[]string{"result"},
		),
		reconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of one target reconciliation in seconds",
				Buckets:   buckets,
			},
		),
		renames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_renames_total",
				Help:      "Total number of status channel rename attempts",
			},
			[]string{"outcome"},
		),

		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of server status probes",
			},
			[]string{"protocol", "result"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Duration of server status probes in seconds",
				Buckets:   buckets,
			},
			[]string{"protocol"},
		),

		faults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "faults_total",
				Help:      "Total number of classified faults",
			},
			[]string{"kind"},
		),

		trackedTargets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_targets",
				Help:      "Current number of tracked servers",
			},
		),
		trackedScopes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_scopes",
				Help:      "Current number of guilds with tracked servers",
			},
		),
	}

	registry.MustRegister(
		m.cyclesCompleted,
		m.cycleDuration,
		m.schedulerUp,
		m.reconciles,
		m.reconcileDuration,
		m.renames,
		m.probes,
		m.probeDuration,
		m.faults,
		m.trackedTargets,
		m.trackedScopes,
	)

	return m, nil
}

// RecordCycle records a completed scheduler cycle and its duration.
func (m *Metrics) RecordCycle(duration time.Duration) {
	if m.cyclesCompleted == nil {
		return
	}
	m.cyclesCompleted.Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

// SetSchedulerRunning sets the scheduler state gauge.
func (m *Metrics) SetSchedulerRunning(running bool) {
	if m.schedulerUp == nil {
		return
	}
	value := 0.0
	if running {
		value = 1.0
	}
	m.schedulerUp.Set(value)
}

// RecordReconcile records a reconciliation with its result and duration.
func (m *Metrics) RecordReconcile(result string, duration time.Duration) {
	if m.reconciles == nil {
		return
	}
	m.reconciles.WithLabelValues(result).Inc()
	m.reconcileDuration.Observe(duration.Seconds())
}

// RecordRename records a status channel rename attempt.
func (m *Metrics) RecordRename(outcome string) {
	if m.renames == nil {
		return
	}
	m.renames.WithLabelValues(outcome).Inc()
}

// RecordProbe records a server probe with its protocol, result, and duration.
func (m *Metrics) RecordProbe(protocol, result string, duration time.Duration) {
	if m.probes == nil {
		return
	}
	m.probes.WithLabelValues(protocol, result).Inc()
	m.probeDuration.WithLabelValues(protocol).Observe(duration.Seconds())
}

// RecordFault records a classified fault.
func (m *Metrics) RecordFault(kind string) {
	if m.faults == nil {
		return
	}
	m.faults.WithLabelValues(kind).Inc()
}

// SetTrackedCounts sets the registry size gauges.
func (m *Metrics) SetTrackedCounts(targets, scopes int) {
	if m.trackedTargets == nil {
		return
	}
	m.trackedTargets.Set(float64(targets))
	m.trackedScopes.Set(float64(scopes))
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

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
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
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
