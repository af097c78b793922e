package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds the Prometheus collectors of dxp runs. A Metrics built
// from a disabled config has no collectors and ignores every call.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	actionsExecuted *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	rowsRead        *prometheus.CounterVec
	recordsWritten  *prometheus.CounterVec
	rowsFailed      *prometheus.CounterVec
	compileWarnings *prometheus.CounterVec

	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	errorsByClass    *prometheus.CounterVec
	errorsByCode     *prometheus.CounterVec
	policyViolations *prometheus.CounterVec
}

// collectorFactory registers collectors under one namespace.
type collectorFactory struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry
}

func (f collectorFactory) counter(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: f.namespace,
		Name:      name,
		Help:      help,
	}, labels)
	f.registry.MustRegister(c)
	return c
}

func (f collectorFactory) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: f.namespace,
		Name:      name,
		Help:      help,
		Buckets:   f.buckets,
	}, labels)
	f.registry.MustRegister(h)
	return h
}

// NewMetrics registers the dxp collectors on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	m := &Metrics{config: cfg}
	if !cfg.Enabled {
		return m, nil
	}

	f := collectorFactory{
		namespace: cfg.Namespace,
		buckets:   cfg.DefaultHistogramBuckets,
		registry:  prometheus.NewRegistry(),
	}
	if len(f.buckets) == 0 {
		f.buckets = prometheus.DefBuckets
	}
	m.registry = f.registry

	m.runsStarted = f.counter("runs_started_total", "Runs started, by kind.", "kind")
	m.runsCompleted = f.counter("runs_completed_total", "Runs finished, by final status.", "status")
	m.runDuration = f.histogram("run_duration_seconds", "Run duration in seconds.", "status")
	m.activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Name:      "active_runs",
		Help:      "Runs in progress.",
	})
	f.registry.MustRegister(m.activeRuns)

	m.actionsExecuted = f.counter("actions_executed_total", "Actions finished, by provider and outcome.", "provider", "status")
	m.actionDuration = f.histogram("action_duration_seconds", "Action duration in seconds.", "provider")
	m.rowsRead = f.counter("rows_read_total", "Data rows read.", "provider")
	m.recordsWritten = f.counter("records_written_total", "Target records handed to providers.", "provider")
	m.rowsFailed = f.counter("rows_failed_total", "Rows skipped because of row errors.", "provider")
	m.compileWarnings = f.counter("compile_warnings_total", "Statements dropped or compiled to no-ops.", "provider")

	m.providerCalls = f.counter("provider_calls_total", "Provider calls.", "provider", "operation")
	m.providerDuration = f.histogram("provider_call_duration_seconds", "Provider call duration in seconds.", "provider", "operation")
	m.providerErrors = f.counter("provider_errors_total", "Provider calls that returned an error.", "provider", "operation")

	m.errorsByClass = f.counter("errors_by_class_total", "Run and action errors, by class.", "class")
	m.errorsByCode = f.counter("errors_by_code_total", "Run and action errors, by code.", "code")
	m.policyViolations = f.counter("policy_violations_total", "Policy violations, by policy and severity.", "policy", "severity")

	return m, nil
}

func (m *Metrics) enabled() bool { return m.registry != nil }

// RecordRunStarted counts a run and marks it active.
func (m *Metrics) RecordRunStarted(kind string) {
	if !m.enabled() {
		return
	}
	m.runsStarted.WithLabelValues(kind).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted counts a finished run and observes its duration.
func (m *Metrics) RecordRunCompleted(status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(d.Seconds())
	m.activeRuns.Dec()
}

func (m *Metrics) RecordActionExecution(provider, status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.actionsExecuted.WithLabelValues(provider, status).Inc()
	m.actionDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordRows adds the row counters of one action.
func (m *Metrics) RecordRows(provider string, rows, records, failed int) {
	if !m.enabled() {
		return
	}
	m.rowsRead.WithLabelValues(provider).Add(float64(rows))
	m.recordsWritten.WithLabelValues(provider).Add(float64(records))
	m.rowsFailed.WithLabelValues(provider).Add(float64(failed))
}

func (m *Metrics) RecordCompileWarnings(provider string, count int) {
	if !m.enabled() || count == 0 {
		return
	}
	m.compileWarnings.WithLabelValues(provider).Add(float64(count))
}

func (m *Metrics) RecordProviderCall(provider, operation string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation).Inc()
	m.providerDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

func (m *Metrics) RecordProviderError(provider, operation string) {
	if !m.enabled() {
		return
	}
	m.providerErrors.WithLabelValues(provider, operation).Inc()
}

// RecordError counts an error by class, and by code when it has one.
func (m *Metrics) RecordError(class, code string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if !m.enabled() {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Gatherer returns the registry, or nil when metrics are disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if !m.enabled() {
		return nil
	}
	return m.registry
}

// Timer measures the time since it was created.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler serves the registry in the OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer serves Handler on the configured address and path in
// the background. It does nothing when metrics are disabled.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", srv.Addr).Msg("Metrics server stopped")
		}
	}(m.server)

	return nil
}

// StopMetricsServer shuts the metrics server down if it was started.
func (m *Metrics) StopMetricsServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
