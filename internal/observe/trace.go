package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a span on the voxpersona tracer; the caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(meterName).Start(ctx, name, opts...)
}

// Stage opens a span named "stage.<stage>" for one collaborator call. The
// returned done func ends the span, marks it failed when err is non-nil and
// records the latency in [Metrics.StageDuration].
func (m *Metrics) Stage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := StartSpan(ctx, "stage."+stage,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, Attr("stage", stage))...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		m.RecordStage(ctx, stage, time.Since(start), err)
	}
}

// CorrelationID is the trace ID of the span active in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger is slog.Default with trace_id and span_id attached when ctx carries
// a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
