// Package observability sets up OpenTelemetry tracing and metrics for the
// proxy: a span per pump iteration (one per frame crossing the interceptor
// chain) and counters mirroring the Prometheus ones, exported to stdout in
// development so a trace/metric stream is visible without a collector.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/tapwire/gateway"

// Provider owns the process's TracerProvider and MeterProvider and the
// exporters backing them.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	FramesProcessed metric.Int64Counter
	FrameLatency    metric.Float64Histogram
}

// Setup builds a Provider with stdout exporters. In dev mode, spans are
// exported eagerly (simple span processor) so they're visible
// interactively; in production they batch. Metrics use the periodic
// reader's default export interval in both modes.
func Setup(ctx context.Context, devMode bool) (*Provider, error) {
	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}

	var spanProcessor sdktrace.SpanProcessor
	if devMode {
		spanProcessor = sdktrace.NewSimpleSpanProcessor(traceExporter)
	} else {
		spanProcessor = sdktrace.NewBatchSpanProcessor(traceExporter)
	}
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanProcessor))
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("create stdout metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(meterProvider)

	tracer := tracerProvider.Tracer(instrumentationName)
	meter := meterProvider.Meter(instrumentationName)

	framesProcessed, err := meter.Int64Counter("sentinelgate.frames_processed",
		metric.WithDescription("Total frames processed by the interceptor chain"))
	if err != nil {
		return nil, fmt.Errorf("create frames_processed counter: %w", err)
	}
	frameLatency, err := meter.Float64Histogram("sentinelgate.frame_latency_seconds",
		metric.WithDescription("Per-frame interceptor chain latency"))
	if err != nil {
		return nil, fmt.Errorf("create frame_latency histogram: %w", err)
	}

	return &Provider{
		tracerProvider:  tracerProvider,
		meterProvider:   meterProvider,
		tracer:          tracer,
		meter:           meter,
		FramesProcessed: framesProcessed,
		FrameLatency:    frameLatency,
	}, nil
}

// Tracer returns the process tracer for starting spans.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}
