package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig carries the CLI-derived knobs (§6.1) needed to stand up the
// OTel SDK. The caller fills it from the matching internal/config.Config
// fields.
type ProviderConfig struct {
	OTLPEndpoint string
	OTLPProtocol string // "grpc" or "http"
	ServiceName  string
}

// NewEmitter builds the real Emitter: an OTel TracerProvider and
// MeterProvider wired to an OTLP exporter chosen by cfg.OTLPProtocol, with a
// resource carrying service.name. Grounded on the gRPC/HTTP exporter duality
// used throughout the example pack's OTel wiring.
func NewEmitter(ctx context.Context, cfg ProviderConfig) (Emitter, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	traceExporter, err := newTraceExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building trace exporter: %w", err)
	}
	metricExporter, err := newMetricExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("acp-traces")
	turnDuration, err := meter.Float64Histogram(
		histogramTurnDuration,
		metric.WithUnit("s"),
		metric.WithDescription("duration of a full invoke_agent turn"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating turn duration histogram: %w", err)
	}
	ttft, err := meter.Float64Histogram(
		histogramTTFT,
		metric.WithUnit("s"),
		metric.WithDescription("time from turn start to first streamed output chunk"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating time-to-first-token histogram: %w", err)
	}

	tracer := tp.Tracer("acp-traces")

	shutdown := func(ctx context.Context) error {
		tErr := tp.Shutdown(ctx)
		mErr := mp.Shutdown(ctx)
		if tErr != nil {
			return tErr
		}
		return mErr
	}

	return newOtelEmitter(tracer, turnDuration, ttft, shutdown), nil
}

func newTraceExporter(ctx context.Context, cfg ProviderConfig) (sdktrace.SpanExporter, error) {
	if cfg.OTLPProtocol == "http" {
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint),
		)
	}
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpointURL(cfg.OTLPEndpoint),
	)
}

func newMetricExporter(ctx context.Context, cfg ProviderConfig) (sdkmetric.Exporter, error) {
	if cfg.OTLPProtocol == "http" {
		return otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpointURL(cfg.OTLPEndpoint),
		)
	}
	return otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpointURL(cfg.OTLPEndpoint),
	)
}

// DefaultFlushDeadline is the bounded exporter-flush window of §4.6 step 3.
const DefaultFlushDeadline = 5 * time.Second
