package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartCallSpan starts a client span for one HTTP attempt against the remote API.
func StartCallSpan(ctx context.Context, tracer trace.Tracer, call, method, url string) (context.Context, trace.Span) {
	spanName := "api request"
	if call != "" {
		spanName = "api " + call
	}
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	if method == "" {
		method = http.MethodGet
	}
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.full", url),
	)
	if call != "" {
		span.SetAttributes(attribute.String("runnerprobe.call", call))
	}
	return ctx, span
}

// StartPhaseSpan starts an internal span covering one phase of a run
// (generate, drain, report).
func StartPhaseSpan(ctx context.Context, tracer trace.Tracer, runID, phase string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "runnerprobe "+phase,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("runnerprobe.run_id", runID),
		attribute.String("runnerprobe.phase", phase),
	)
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
