package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used across relay spans.
const (
	AttrSessionID     = "session.id"
	AttrAssistantID   = "assistant.id"
	AttrUserID        = "user.id"
	AttrEndReason     = "session.end_reason"
	AttrInterruptions = "session.interruptions"

	AttrLegName  = "leg.name"
	AttrLegState = "leg.state"

	AttrTurnState     = "turn.state"
	AttrGenerationSeq = "generation.seq"

	AttrAudioSampleRate = "audio.sample_rate"
	AttrAudioDataSize   = "audio.data_size"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// SessionAttrs builds the attribute set identifying one session.
func SessionAttrs(sessionID, assistantID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSessionID, sessionID),
		attribute.String(AttrAssistantID, assistantID),
	}
}

// LegAttrs builds the attribute set for one leg.
func LegAttrs(name, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrLegName, name),
		attribute.String(AttrLegState, state),
	}
}

// AudioAttrs describes an audio payload.
func AudioAttrs(sampleRate, dataSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrAudioSampleRate, sampleRate),
		attribute.Int(AttrAudioDataSize, dataSize),
	}
}

// InstrumentSessionStart opens the root span for a session. The caller ends
// it at teardown.
func InstrumentSessionStart(ctx context.Context, sessionID, assistantID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "relay.session",
		trace.WithAttributes(SessionAttrs(sessionID, assistantID)...),
	)
}

// InstrumentLegConnect records a leg dial as a span.
func InstrumentLegConnect(ctx context.Context, sessionID, leg string) (context.Context, trace.Span) {
	attrs := append(SessionAttrs(sessionID, ""), LegAttrs(leg, "connecting")...)
	return StartSpan(ctx, fmt.Sprintf("relay.leg.connect.%s", leg),
		trace.WithAttributes(attrs...),
	)
}

// RecordInterruption emits an interruption event on the session span.
func RecordInterruption(ctx context.Context, count int) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("relay.interruption", trace.WithAttributes(
		attribute.Int(AttrInterruptions, count),
	))
}

// RecordSessionEnd stamps teardown details on the session span.
func RecordSessionEnd(span trace.Span, reason string, interruptions int) {
	span.SetAttributes(
		attribute.String(AttrEndReason, reason),
		attribute.Int(AttrInterruptions, interruptions),
	)
}

// WithSpan runs fn inside a span, recording any error it returns.
func WithSpan(ctx context.Context, spanName string, fn func(context.Context) error, opts ...trace.SpanStartOption) error {
	ctx, span := StartSpan(ctx, spanName, opts...)
	defer span.End()

	if err := fn(ctx); err != nil {
		RecordError(span, err)
		return err
	}
	return nil
}

// RecordError marks a span failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the trace ID from the current span in context, empty when
// no span is recording.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
