// Package tracing configures OpenTelemetry for replay runs.
//
// Custom span attributes use the `alerting.` prefix.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName  = "landslide-cloud/alerting"
	serviceName = "landslide-alerting"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider installs an OTLP gRPC exporter. An empty endpoint leaves
// the global noop provider in place. The returned shutdown must run on exit.
func InitTraceProvider(ctx context.Context, endpoint, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartReplaySpan creates the parent span for a replay run.
func StartReplaySpan(ctx context.Context, ruleID string, version int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "replay.run",
		trace.WithAttributes(
			attribute.String("alerting.rule_id", ruleID),
			attribute.Int("alerting.rule_version", version),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartFetchSpan creates a child span for the bulk telemetry fetch.
func StartFetchSpan(ctx context.Context, devices, sensorKeys int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "replay.fetch",
		trace.WithAttributes(
			attribute.Int("alerting.devices", devices),
			attribute.Int("alerting.sensor_keys", sensorKeys),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartEvaluateSpan creates a child span for the evaluation pass.
func StartEvaluateSpan(ctx context.Context, rows int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "replay.evaluate",
		trace.WithAttributes(attribute.Int("alerting.rows", rows)),
	)
}

// EndReplaySpan records run totals on the parent span.
func EndReplaySpan(span trace.Span, points, events int) {
	span.SetAttributes(
		attribute.Int("alerting.points", points),
		attribute.Int("alerting.events", events),
	)
}

// RecordError marks span as failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
