package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/herrald/beacon"

// StartToolSpan starts a span covering one tool invocation.
func StartToolSpan(ctx context.Context, serverID, toolName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tool."+toolName,
		trace.WithAttributes(
			attribute.String("tool.server_id", serverID),
			attribute.String("tool.name", toolName),
		))
}

// EndToolSpan records the result attributes and ends the span.
func EndToolSpan(span trace.Span, success bool, resultLength int) {
	span.SetAttributes(
		attribute.Bool("tool.success", success),
		attribute.Int("tool.result_length", resultLength),
	)
	span.End()
}

// RecordToolError records an error on the span and marks it as failed.
func RecordToolError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("tool.success", false))
}
