// Package otelx wires OpenTelemetry tracing around the three places that
// matter most for latency debugging: the streaming loop, tool execution,
// and upstream HTTP calls. It deliberately stops at tracing — nothing in
// this module emits metrics or logs over OTEL, so an unused
// Instruments/Init pair would just be dead weight.
package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/pinkfuwa/llumen-go"

// Init configures the global TracerProvider to export spans via OTLP/HTTP,
// reading endpoint and headers from the standard OTEL_EXPORTER_OTLP_* env
// vars (otlptracehttp.New reads them itself). Callers that skip Init get
// OTEL's built-in no-op tracer, so Start is always safe to call.
func Init(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Span wraps a trace.Span so call sites don't need their own otel import.
type Span struct{ inner trace.Span }

// Start opens a span named name under the module-wide tracer.
func Start(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := otel.Tracer(scopeName).Start(ctx, name)
	return ctx, Span{inner: span}
}

// End closes the span.
func (s Span) End() { s.inner.End() }

// RecordError marks the span as failed, if err is non-nil.
func (s Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

// SetString attaches a string attribute to the span.
func (s Span) SetString(key, val string) {
	s.inner.SetAttributes(attribute.String(key, val))
}

// SetInt attaches an int attribute to the span.
func (s Span) SetInt(key string, val int) {
	s.inner.SetAttributes(attribute.Int(key, val))
}
