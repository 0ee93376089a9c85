package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/visage"

// Span attribute keys for audio work.
const (
	AttrSamples    = attribute.Key("visage.audio.samples")
	AttrSampleRate = attribute.Key("visage.audio.sample_rate")
)

// StartSpan starts a span on the global tracer provider, looked up per call
// so a provider installed after startup still receives spans.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartAudioSpan starts an internal span named "face."+op that carries the
// size and rate of the audio being processed.
func StartAudioSpan(ctx context.Context, op string, samples, sampleRate int) (context.Context, trace.Span) {
	return StartSpan(ctx, "face."+op,
		trace.WithAttributes(
			AttrSamples.Int(samples),
			AttrSampleRate.Int(sampleRate),
		),
	)
}

// EndSpan ends span, marking it failed when err is non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID is the hex trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns slog.Default with trace_id and span_id of the span in ctx,
// followed by args.
func Logger(ctx context.Context, args ...any) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(args) > 0 {
		l = l.With(args...)
	}
	return l
}
