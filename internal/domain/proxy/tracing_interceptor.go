package proxy

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tapwire/gateway/pkg/mcp"
)

// TracingInterceptor starts a span and records latency/count metrics for
// every frame that crosses the chain, mirroring one "pump iteration" per
// spec.md §4.7's observability requirements. It wraps the outermost
// interceptor so the span covers the full chain underneath it.
type TracingInterceptor struct {
	tracer   trace.Tracer
	counter  metric.Int64Counter
	latency  metric.Float64Histogram
	next     MessageInterceptor
}

// NewTracingInterceptor wraps next with per-frame tracing and metrics.
// counter/latency may be nil, in which case only tracing (no metrics) runs.
func NewTracingInterceptor(tracer trace.Tracer, counter metric.Int64Counter, latency metric.Float64Histogram, next MessageInterceptor) *TracingInterceptor {
	return &TracingInterceptor{tracer: tracer, counter: counter, latency: latency, next: next}
}

func (t *TracingInterceptor) Intercept(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
	ctx, span := t.tracer.Start(ctx, "interceptor_chain",
		trace.WithAttributes(
			attribute.String("mcp.direction", msg.Direction.String()),
			attribute.String("mcp.method", msg.Method()),
			attribute.String("mcp.session_id", msg.SessionID),
		),
	)
	start := time.Now()

	result, err := t.next.Intercept(ctx, msg)

	elapsed := time.Since(start).Seconds()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if t.counter != nil {
		t.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("mcp.direction", msg.Direction.String())))
	}
	if t.latency != nil {
		t.latency.Record(ctx, elapsed)
	}

	return result, err
}

// Compile-time check that TracingInterceptor implements MessageInterceptor.
var _ MessageInterceptor = (*TracingInterceptor)(nil)
