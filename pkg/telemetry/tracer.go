package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys.
var (
	AttrRunID     = attribute.Key("dxp.run.id")
	AttrRunKind   = attribute.Key("dxp.run.kind")
	AttrRunStatus = attribute.Key("dxp.run.status")
	AttrPackage   = attribute.Key("dxp.package")

	AttrActionName   = attribute.Key("dxp.action.name")
	AttrActionStatus = attribute.Key("dxp.action.status")
	AttrRows         = attribute.Key("dxp.action.rows")
	AttrRecords      = attribute.Key("dxp.action.records")
	AttrFailedRows   = attribute.Key("dxp.action.failed_rows")

	AttrProviderName = attribute.Key("dxp.provider.id")
	AttrProviderOp   = attribute.Key("dxp.provider.operation")

	AttrErrorClass = attribute.Key("dxp.error.class")
	AttrErrorCode  = attribute.Key("dxp.error.code")
)

// Tracer starts the spans of runs, actions and provider calls.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Service identifies the process on the trace resource.
type Service struct {
	Name        string
	Version     string
	Environment string
	Attributes  map[string]string
}

func (s Service) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(s.Name),
		semconv.ServiceVersionKey.String(s.Version),
	}
	if s.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(s.Environment))
	}
	keys := make([]string, 0, len(s.Attributes))
	for k := range s.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, s.Attributes[k]))
	}
	return attrs
}

// NewTracer builds a tracer for cfg. A disabled config yields spans that are
// never sampled or exported.
func NewTracer(cfg TracingConfig, svc Service) (*Tracer, error) {
	if !cfg.Enabled {
		provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		return &Tracer{provider: provider, tracer: provider.Tracer(svc.Name)}, nil
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(svc.attributes()...))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}

	exporter, err := newSpanExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Exporter, err)
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{provider: provider, tracer: provider.Tracer(svc.Name)}, nil
}

// newSpanExporter returns nil for the "none" exporter: spans are sampled
// for log correlation but go nowhere.
func newSpanExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "none":
		return nil, nil
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithBlock()),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	}
	return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartRunSpan starts the root span of an import or export run.
func (t *Tracer) StartRunSpan(ctx context.Context, runID, kind, pkg string) (context.Context, trace.Span) {
	return t.start(ctx, "dxp."+kind,
		AttrRunID.String(runID),
		AttrRunKind.String(kind),
		AttrPackage.String(pkg),
	)
}

// StartActionSpan starts the span of one action inside a run.
func (t *Tracer) StartActionSpan(ctx context.Context, runID, action, provider string) (context.Context, trace.Span) {
	return t.start(ctx, "dxp.action "+action,
		AttrRunID.String(runID),
		AttrActionName.String(action),
		AttrProviderName.String(provider),
	)
}

// StartProviderSpan starts the span of one provider call.
func (t *Tracer) StartProviderSpan(ctx context.Context, provider, operation string) (context.Context, trace.Span) {
	return t.start(ctx, "dxp.provider."+operation,
		AttrProviderName.String(provider),
		AttrProviderOp.String(operation),
	)
}

// RecordError marks span as failed. Classified errors also set the error
// class and code attributes.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	var c classified
	if errors.As(err, &c) {
		class, code := c.Classification()
		span.SetAttributes(AttrErrorClass.String(class), AttrErrorCode.String(code))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// ForceFlush exports pending spans now.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	return t.provider.ForceFlush(ctx)
}

// TraceID returns the trace ID of the span in ctx, or "" when there is no
// sampled span.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return ""
	}
	return sc.TraceID().String()
}
