// Package observability provides OpenTelemetry tracing, metrics and audit
// logging for the ingest and query paths.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the instrumentation scope of every span started here.
	TracerName = "github.com/lumozai/layout-aware-rag-demo"
)

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, tracing is disabled.
	OTLPEndpoint string

	// SampleRate is the trace sampling rate (0.0 to 1.0, default: 1.0)
	SampleRate float64
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "layoutrag",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// Shutdown flushes and stops the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Span kinds recorded under the "rag.span.kind" attribute.
const (
	SpanKindIngest = "ingest"
	SpanKindParse  = "parse"
	SpanKindEmbed  = "embed"
	SpanKindStore  = "store"
	SpanKindQuery  = "query"
)

// StartIngestSpan starts the root span of one document ingestion.
func StartIngestSpan(ctx context.Context, docID, family string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "ingest.document",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("rag.span.kind", SpanKindIngest),
			attribute.String("rag.doc_id", docID),
			attribute.String("rag.family", family),
		),
	)
}

// RecordIngestResult records what an ingestion produced.
func RecordIngestResult(span trace.Span, pages, chunks int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("ingest.pages", pages),
		attribute.Int("ingest.chunks", chunks),
		attribute.Int64("ingest.duration_ms", duration.Milliseconds()),
	)
}

// StartParseSpan starts a span around the layout parser.
func StartParseSpan(ctx context.Context, parser, path string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, fmt.Sprintf("parse.%s", parser),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("rag.span.kind", SpanKindParse),
			attribute.String("parse.path", path),
		),
	)
}

// StartEmbedSpan starts a span for one embedding batch.
func StartEmbedSpan(ctx context.Context, provider string, n int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "embed.batch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rag.span.kind", SpanKindEmbed),
			attribute.String("embed.provider", provider),
			attribute.Int("embed.batch_size", n),
		),
	)
}

// StartStoreSpan starts a span for an evidence store call.
func StartStoreSpan(ctx context.Context, backend, op string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, fmt.Sprintf("store.%s", op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rag.span.kind", SpanKindStore),
			attribute.String("db.system", backend),
			attribute.String("store.op", op),
		),
	)
}

// StartQuerySpan starts the root span of a question.
func StartQuerySpan(ctx context.Context, k, limit int, family string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "query.answer",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("rag.span.kind", SpanKindQuery),
			attribute.Int("query.k", k),
			attribute.Int("query.limit", limit),
			attribute.String("query.family", family),
		),
	)
}

// RecordQueryResult records how many hits and citations a query produced.
func RecordQueryResult(span trace.Span, hits, cited int) {
	span.SetAttributes(
		attribute.Int("query.hits", hits),
		attribute.Int("query.cited", cited),
	)
	if hits == 0 {
		span.AddEvent("no evidence retrieved")
	}
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
