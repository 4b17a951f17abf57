package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the visionflow engine.
type Metrics struct {
	config MetricsConfig

	// Session metrics
	sessionsStarted   prometheus.Counter
	sessionsCompleted *prometheus.CounterVec
	sessionDuration   *prometheus.HistogramVec

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	retries       *prometheus.CounterVec

	// Checkpoint metrics
	checkpointWriteDuration *prometheus.HistogramVec
	checkpointWriteErrors   prometheus.Counter

	// Stream metrics
	streamEventsDropped prometheus.Counter

	// System metrics
	activeSessions prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance; all record methods are nil-safe.
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "visionflow"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		sessionsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Total number of sessions started",
			},
		),
		sessionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_completed_total",
				Help:      "Total number of sessions completed",
			},
			[]string{"outcome"},
		),
		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Duration of session execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of execution steps by node and status",
			},
			[]string{"node", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of node invocations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retried node failures",
			},
			[]string{"node"},
		),
		checkpointWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "checkpoint_write_duration_seconds",
				Help:      "Duration of checkpoint writes in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		checkpointWriteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoint_write_errors_total",
				Help:      "Total number of failed checkpoint writes",
			},
		),
		streamEventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_dropped_total",
				Help:      "Total number of stream events dropped to slow consumers",
			},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of sessions currently executing",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.sessionsStarted,
		m.sessionsCompleted,
		m.sessionDuration,
		m.stepsExecuted,
		m.stepDuration,
		m.retries,
		m.checkpointWriteDuration,
		m.checkpointWriteErrors,
		m.streamEventsDropped,
		m.activeSessions,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// StartServer starts the metrics HTTP endpoint. It returns immediately;
// the server runs until Shutdown.
func (m *Metrics) StartServer() error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		_ = m.server.ListenAndServe()
	}()

	return nil
}

// Shutdown stops the metrics HTTP endpoint.
func (m *Metrics) Shutdown() error {
	if m.server != nil {
		return m.server.Close()
	}
	return nil
}

// RecordSessionStarted increments the session start counter.
func (m *Metrics) RecordSessionStarted() {
	if m == nil || !m.config.Enabled {
		return
	}
	m.sessionsStarted.Inc()
	m.activeSessions.Inc()
}

// RecordSessionCompleted records a terminal session with its outcome.
func (m *Metrics) RecordSessionCompleted(outcome string, duration time.Duration) {
	if m == nil || !m.config.Enabled {
		return
	}
	m.sessionsCompleted.WithLabelValues(outcome).Inc()
	m.sessionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.activeSessions.Dec()
}

// RecordStep records one completed execution step.
func (m *Metrics) RecordStep(node, status string, duration time.Duration) {
	if m == nil || !m.config.Enabled {
		return
	}
	m.stepsExecuted.WithLabelValues(node, status).Inc()
	m.stepDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordRetry records a retried node failure.
func (m *Metrics) RecordRetry(node string) {
	if m == nil || !m.config.Enabled {
		return
	}
	m.retries.WithLabelValues(node).Inc()
}

// RecordCheckpointWrite records a checkpoint write and its duration.
func (m *Metrics) RecordCheckpointWrite(backend string, duration time.Duration, err error) {
	if m == nil || !m.config.Enabled {
		return
	}
	m.checkpointWriteDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if err != nil {
		m.checkpointWriteErrors.Inc()
	}
}

// RecordStreamEventDropped records a stream event dropped to a slow
// consumer.
func (m *Metrics) RecordStreamEventDropped() {
	if m == nil || !m.config.Enabled {
		return
	}
	m.streamEventsDropped.Inc()
}
