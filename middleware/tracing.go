package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/dialrun/row"
)

// tracerName is the instrumentation scope name for dialrun tracing.
const tracerName = "github.com/xraph/dialrun"

// Tracing returns middleware that wraps each dispatch attempt in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: dialrun.row.id, dialrun.run.id,
// dialrun.retry_count. On error, the span status is set to codes.Error
// with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, rw *row.Row, next Handler) error {
		ctx, span := tracer.Start(ctx, "dialrun.dispatch",
			trace.WithAttributes(
				attribute.String("dialrun.row.id", rw.ID.String()),
				attribute.String("dialrun.run.id", rw.RunID.String()),
				attribute.Int("dialrun.retry_count", rw.RetryCount),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
