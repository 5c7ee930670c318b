package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Recordloom.
type Metrics struct {
	config MetricsConfig

	// Validation metrics
	validationsTotal *prometheus.CounterVec
	validationTime   *prometheus.HistogramVec

	// Workflow metrics
	transitionsTotal *prometheus.CounterVec

	// Wizard metrics
	wizardRunsStarted   *prometheus.CounterVec
	wizardRunsCompleted *prometheus.CounterVec
	wizardStepsTotal    *prometheus.CounterVec
	wizardRunDuration   *prometheus.HistogramVec

	// Mutation metrics
	mutationsTotal *prometheus.CounterVec
	revertsTotal   *prometheus.CounterVec

	// Schema metrics
	schemaReloads *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// System metrics
	activeRuns      prometheus.Gauge
	entitiesManaged *prometheus.GaugeVec

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

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Validation metrics
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Total number of value set validations",
			},
			[]string{"model", "result"},
		),
		validationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "validation_duration_seconds",
				Help:      "Duration of value set validation in seconds",
				Buckets:   buckets,
			},
			[]string{"model"},
		),

		// Workflow metrics
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_transitions_total",
				Help:      "Total number of workflow transition attempts",
			},
			[]string{"workflow", "result"},
		),

		// Wizard metrics
		wizardRunsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wizard_runs_started_total",
				Help:      "Total number of wizard runs started",
			},
			[]string{"wizard"},
		),
		wizardRunsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wizard_runs_completed_total",
				Help:      "Total number of wizard runs completed",
			},
			[]string{"wizard"},
		),
		wizardStepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wizard_steps_total",
				Help:      "Total number of wizard step submissions",
			},
			[]string{"wizard", "result"},
		),
		wizardRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "wizard_run_duration_seconds",
				Help:      "Duration from run start to completed commit in seconds",
				Buckets:   buckets,
			},
			[]string{"wizard"},
		),

		// Mutation metrics
		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entity_mutations_total",
				Help:      "Total number of committed entity mutations",
			},
			[]string{"model", "change_type"},
		),
		revertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reverts_total",
				Help:      "Total number of applied changelog reverts",
			},
			[]string{"change_type"},
		),

		// Schema metrics
		schemaReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schema_reloads_total",
				Help:      "Total number of schema reload attempts",
			},
			[]string{"status"},
		),

		// Error metrics
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by kind",
			},
			[]string{"kind"},
		),

		// System metrics
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_wizard_runs",
				Help:      "Current number of in-progress wizard runs",
			},
		),
		entitiesManaged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entities_managed",
				Help:      "Current number of live entities per model",
			},
			[]string{"model"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.validationsTotal,
		m.validationTime,
		m.transitionsTotal,
		m.wizardRunsStarted,
		m.wizardRunsCompleted,
		m.wizardStepsTotal,
		m.wizardRunDuration,
		m.mutationsTotal,
		m.revertsTotal,
		m.schemaReloads,
		m.errorsByKind,
		m.activeRuns,
		m.entitiesManaged,
	)

	return m, nil
}

// Validation Metrics

// RecordValidation records one validation pass with its outcome and duration.
func (m *Metrics) RecordValidation(model string, valid bool, duration time.Duration) {
	if m.validationsTotal == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.validationsTotal.WithLabelValues(model, result).Inc()
	m.validationTime.WithLabelValues(model).Observe(duration.Seconds())
}

// Workflow Metrics

// RecordTransition records a workflow transition attempt.
func (m *Metrics) RecordTransition(workflow string, legal bool) {
	if m.transitionsTotal == nil {
		return
	}
	result := "legal"
	if !legal {
		result = "illegal"
	}
	m.transitionsTotal.WithLabelValues(workflow, result).Inc()
}

// Wizard Metrics

// RecordWizardRunStarted increments the counter for started wizard runs.
func (m *Metrics) RecordWizardRunStarted(wizard string) {
	if m.wizardRunsStarted == nil {
		return
	}
	m.wizardRunsStarted.WithLabelValues(wizard).Inc()
	m.activeRuns.Inc()
}

// RecordWizardStep records one step submission with its outcome.
func (m *Metrics) RecordWizardStep(wizard, result string) {
	if m.wizardStepsTotal == nil {
		return
	}
	m.wizardStepsTotal.WithLabelValues(wizard, result).Inc()
}

// RecordWizardRunCompleted records a committed wizard run and its total
// duration from start to commit.
func (m *Metrics) RecordWizardRunCompleted(wizard string, duration time.Duration) {
	if m.wizardRunsCompleted == nil {
		return
	}
	m.wizardRunsCompleted.WithLabelValues(wizard).Inc()
	m.wizardRunDuration.WithLabelValues(wizard).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Mutation Metrics

// RecordMutation records one committed entity mutation.
func (m *Metrics) RecordMutation(model, changeType string) {
	if m.mutationsTotal == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(model, changeType).Inc()
}

// RecordRevert records one applied changelog revert by the reverted entry's
// change type.
func (m *Metrics) RecordRevert(changeType string) {
	if m.revertsTotal == nil {
		return
	}
	m.revertsTotal.WithLabelValues(changeType).Inc()
}

// Schema Metrics

// RecordSchemaReload records a schema reload attempt.
func (m *Metrics) RecordSchemaReload(status string) {
	if m.schemaReloads == nil {
		return
	}
	m.schemaReloads.WithLabelValues(status).Inc()
}

// Error Metrics

// RecordError records an error by its taxonomy kind.
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// System Metrics

// SetEntityCount sets the current count of live entities for a model.
func (m *Metrics) SetEntityCount(model string, count float64) {
	if m.entitiesManaged == nil {
		return
	}
	m.entitiesManaged.WithLabelValues(model).Set(count)
}

// SetActiveRuns sets the current number of in-progress wizard runs.
func (m *Metrics) SetActiveRuns(count float64) {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Set(count)
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

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
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

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
