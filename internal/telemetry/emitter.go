package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// SpanKind is the subset of OTel span kinds the Span Manager needs: CLIENT
// for the outward-facing invoke_agent turn span, INTERNAL for everything
// else (§4.4).
type SpanKind int

const (
	SpanInternal SpanKind = iota
	SpanClient
)

// SpanHandle is the opaque token the Span Manager threads through
// SessionState / GlobalState between start and end (§6.4, §9 "handles are
// opaque tokens").
type SpanHandle struct {
	span trace.Span
	ctx  context.Context
}

// Emitter is the telemetry exporter collaborator contract of §6.4. Every
// operation must be non-blocking: the real implementation buffers internally
// (the OTel SDK's batch span processor and periodic metric reader), so
// Span Manager dispatch never performs I/O.
type Emitter interface {
	StartSpan(ctx context.Context, name string, kind SpanKind, parent *SpanHandle, start time.Time, attrs ...attribute.KeyValue) *SpanHandle
	SetAttribute(h *SpanHandle, key string, value attribute.Value)
	RecordError(h *SpanHandle, errType, message string)
	EndSpan(h *SpanHandle, end time.Time)
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)
	Shutdown(ctx context.Context, deadline time.Duration) error
}

// otelEmitter implements Emitter against a real OTel SDK TracerProvider and
// MeterProvider, wired up in provider.go.
type otelEmitter struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error

	turnDuration metric.Float64Histogram
	ttft         metric.Float64Histogram
}

func newOtelEmitter(tracer trace.Tracer, turnDuration, ttft metric.Float64Histogram, shutdown func(context.Context) error) *otelEmitter {
	return &otelEmitter{
		tracer:       tracer,
		turnDuration: turnDuration,
		ttft:         ttft,
		shutdown:     shutdown,
	}
}

func toOtelKind(k SpanKind) trace.SpanKind {
	if k == SpanClient {
		return trace.SpanKindClient
	}
	return trace.SpanKindInternal
}

func (e *otelEmitter) StartSpan(ctx context.Context, name string, kind SpanKind, parent *SpanHandle, start time.Time, attrs ...attribute.KeyValue) *SpanHandle {
	if parent != nil {
		ctx = trace.ContextWithSpan(ctx, parent.span)
	}
	spanCtx, span := e.tracer.Start(ctx, name,
		trace.WithTimestamp(start),
		trace.WithSpanKind(toOtelKind(kind)),
		trace.WithAttributes(attrs...),
	)
	return &SpanHandle{span: span, ctx: spanCtx}
}

func (e *otelEmitter) SetAttribute(h *SpanHandle, key string, value attribute.Value) {
	if h == nil {
		return
	}
	h.span.SetAttributes(attribute.KeyValue{Key: attribute.Key(key), Value: value})
}

func (e *otelEmitter) RecordError(h *SpanHandle, errType, message string) {
	if h == nil {
		return
	}
	h.span.SetAttributes(attribute.String("error.type", errType))
	h.span.SetStatus(otelcodes.Error, message)
}

func (e *otelEmitter) EndSpan(h *SpanHandle, end time.Time) {
	if h == nil {
		return
	}
	h.span.End(trace.WithTimestamp(end))
}

func (e *otelEmitter) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	set := metric.WithAttributes(attrs...)
	switch name {
	case histogramTurnDuration:
		e.turnDuration.Record(ctx, value, set)
	case histogramTTFT:
		e.ttft.Record(ctx, value, set)
	}
}

func (e *otelEmitter) Shutdown(ctx context.Context, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	return e.shutdown(ctx)
}

const (
	histogramTurnDuration = "gen_ai.client.operation.duration"
	histogramTTFT         = "gen_ai.server.time_to_first_token"
)
