package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for setup and request spans.
const tracerName = "github.com/MrWong99/talkreel"

// Tracer returns the tracer of the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// FailSpan records err on span and marks the span as failed. A nil err is a
// no-op.
func FailSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SpanIDs returns the hex trace and span ids of the span active in ctx. ok is
// false when ctx carries no valid span.
func SpanIDs(ctx context.Context) (traceID, spanID string, ok bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", "", false
	}
	return sc.TraceID().String(), sc.SpanID().String(), true
}

// Logger returns base with trace_id and span_id attached when ctx carries a
// span. A nil base means [slog.Default].
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	traceID, spanID, ok := SpanIDs(ctx)
	if !ok {
		return base
	}
	return base.With(slog.String("trace_id", traceID), slog.String("span_id", spanID))
}

// WithRunID returns a logger carrying the process run id. Every component
// logger derives from it so log lines from one run can be grouped.
func WithRunID(l *slog.Logger, runID string) *slog.Logger {
	return l.With(slog.String("run_id", runID))
}
