package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys for bridge tracing.
const (
	// Client attributes
	AttrClientID    = "client.id"
	AttrClientState = "client.state"

	// Request attributes
	AttrRequestID = "request.id"
	AttrCommand   = "request.command"
	AttrCoin      = "request.coin"
	AttrPath      = "request.path"

	// Worker attributes
	AttrWorkerID  = "worker.id"
	AttrWorkerPID = "worker.pid"

	// Outcome attributes
	AttrSuccess      = "response.success"
	AttrErrorMessage = "error.message"
)

// SpanPrefixCall is the name prefix for client operation spans.
const SpanPrefixCall = "bridge.call."

// StartCall begins a span for one bridge operation.
// The caller must End the returned span.
func StartCall(ctx context.Context, tracer trace.Tracer, command string, clientID string, requestID uint64) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanPrefixCall+command,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrClientID, clientID),
			attribute.String(AttrCommand, command),
			attribute.Int64(AttrRequestID, int64(requestID)), // #nosec G115 -- ids are small monotonic counters
		),
	)
}

// EndCall records the outcome on a call span and ends it.
// Transport failures mark the span as an error; application-level failures
// inside a well-formed envelope are recorded as success=false data.
func EndCall(span trace.Span, success bool, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
	} else {
		span.SetAttributes(attribute.Bool(AttrSuccess, success))
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
