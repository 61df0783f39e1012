package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for telecore spans.
var (
	AttrBotID     = attribute.Key("telecore.bot.id")
	AttrChatID    = attribute.Key("telecore.chat.id")
	AttrUpdateID  = attribute.Key("telecore.update.id")
	AttrTurnID    = attribute.Key("telecore.turn.id")
	AttrRunJobID  = attribute.Key("telecore.run_job.id")
	AttrAgent     = attribute.Key("telecore.agent")
	AttrSessionID = attribute.Key("telecore.session.id")
	AttrEventSeq  = attribute.Key("telecore.run.event_seq")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (webhook ingress).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (platform API, adapter process).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
