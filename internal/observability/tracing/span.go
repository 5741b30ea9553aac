package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Start opens an internal span on the named tracer.
func Start(ctx context.Context, tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracer).Start(ctx, name, trace.WithAttributes(SafeAttributes(attrs...)...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		if safe := SafeError(err); safe != nil {
			span.RecordError(safe)
			span.SetStatus(codes.Error, safe.Error())
		}
	}
	span.End()
}
