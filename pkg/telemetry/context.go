package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer, metrics and event stream of one
// process. Attach it to a context with WithContext; the run and action
// helpers below find it there and do nothing when it is absent.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryKey struct{}

// NewTelemetry validates cfg and builds every component from it.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Telemetry{Config: cfg}
	var err error
	if t.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if t.Tracer, err = NewTracer(cfg.Tracing, cfg.Service()); err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	if t.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if t.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return t, nil
}

// WithContext returns ctx carrying t and its logger.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryKey{}, t))
}

// FromTelemetryContext returns the telemetry attached to ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryKey{}).(*Telemetry)
	return t
}

// Shutdown drains the event stream, stops the metrics server and flushes
// the tracer. Every component is shut down even when an earlier one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Metrics.StopMetricsServer(ctx),
		t.Tracer.Shutdown(ctx),
	)
}

// StartMetricsServer starts the metrics endpoint when metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// scope is the span and clock of an open run or action.
type scope struct {
	span  trace.Span
	timer *Timer
}

type (
	runScopeKey    struct{}
	actionScopeKey struct{}
)

// WithRunContext opens the span of a run, scopes the logger to it and
// publishes run.started.
func WithRunContext(ctx context.Context, runID, kind, pkg string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, kind, pkg)

	logger := tel.Logger.WithRunID(runID).WithPackage(pkg).WithField("kind", kind)
	if id := TraceID(ctx); id != "" {
		logger = logger.WithField("trace_id", id)
	}

	tel.Metrics.RecordRunStarted(kind)
	_ = tel.Events.PublishRunStarted(runID, kind, pkg)

	return context.WithValue(logger.WithContext(ctx), runScopeKey{}, &scope{span: span, timer: NewTimer()})
}

// EndRunContext closes the run opened by WithRunContext. A non-nil err
// marks the run as aborted.
func EndRunContext(ctx context.Context, runID, status string, duration time.Duration, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if s, ok := ctx.Value(runScopeKey{}).(*scope); ok {
		s.span.SetAttributes(AttrRunStatus.String(status))
		finishSpan(s.span, err)
	}
	tel.Metrics.RecordRunCompleted(status, duration)

	if err != nil {
		tel.recordError(err)
		_ = tel.Events.PublishRunFailed(runID, err.Error())
		return
	}
	_ = tel.Events.PublishRunCompleted(runID, status, duration)
}

// WithActionContext opens the span of one action inside a run.
func WithActionContext(ctx context.Context, runID, action, provider string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	ctx, span := tel.Tracer.StartActionSpan(ctx, runID, action, provider)
	ctx = tel.Logger.WithRunID(runID).WithAction(action).WithProvider(provider).WithContext(ctx)

	_ = tel.Events.PublishActionStarted(runID, action, provider)

	return context.WithValue(ctx, actionScopeKey{}, &scope{span: span, timer: NewTimer()})
}

// EndActionContext closes the action opened by WithActionContext.
func EndActionContext(ctx context.Context, runID, action, provider, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	var elapsed time.Duration
	if s, ok := ctx.Value(actionScopeKey{}).(*scope); ok {
		s.span.SetAttributes(AttrActionStatus.String(status))
		finishSpan(s.span, err)
		elapsed = s.timer.Duration()
	}
	tel.Metrics.RecordActionExecution(provider, status, elapsed)

	if err != nil {
		tel.recordError(err)
		_ = tel.Events.PublishActionFailed(runID, action, provider, err.Error())
		return
	}
	_ = tel.Events.PublishActionCompleted(runID, action, provider, elapsed)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}

// classified is implemented by errors that carry a class and a code.
type classified interface {
	Classification() (class, code string)
}

func (t *Telemetry) recordError(err error) {
	var c classified
	if errors.As(err, &c) {
		t.Metrics.RecordError(c.Classification())
		return
	}
	t.Metrics.RecordError("unclassified", "")
}

// RecordProviderOperation runs fn inside a provider span and counts the
// call. The error of fn is returned unchanged.
func RecordProviderOperation(ctx context.Context, provider, operation string, fn func() error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn()
	}

	_, span := tel.Tracer.StartProviderSpan(ctx, provider, operation)
	timer := NewTimer()
	err := fn()

	tel.Metrics.RecordProviderCall(provider, operation, timer.Duration())
	if err != nil {
		tel.Metrics.RecordProviderError(provider, operation)
	}
	finishSpan(span, err)
	return err
}

// RecordRows adds the row counters of one action to the metrics and to the
// action span.
func RecordRows(ctx context.Context, provider string, rows, records, failed int) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	tel.Metrics.RecordRows(provider, rows, records, failed)
	if s, ok := ctx.Value(actionScopeKey{}).(*scope); ok {
		s.span.SetAttributes(AttrRows.Int(rows), AttrRecords.Int(records), AttrFailedRows.Int(failed))
	}
}

// RecordCompileWarnings counts the statements of one action that compiled to
// nothing.
func RecordCompileWarnings(ctx context.Context, provider string, count int) {
	if tel := FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordCompileWarnings(provider, count)
	}
}

// RecordPolicyViolation counts and publishes a policy violation.
func RecordPolicyViolation(ctx context.Context, pkg, policy, severity, message string) {
	if tel := FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordPolicyViolation(policy, severity)
		_ = tel.Events.PublishPolicyViolation(pkg, policy, severity, message)
	}
}
