package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ProviderMeta identifies the target of one provider attempt.
type ProviderMeta struct {
	ID        string
	Vendor    string
	Address   string
	Model     string
	RequestID string
}

// SpanName returns "provider.attempt.<id>".
func (m ProviderMeta) SpanName() string {
	return "provider.attempt." + m.ID
}

func (m ProviderMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("provider.id", m.ID)}
	if m.Vendor != "" {
		attrs = append(attrs, attribute.String("provider.vendor", m.Vendor))
	}
	if m.Model != "" {
		attrs = append(attrs, attribute.String("model", m.Model))
	}
	return attrs
}

// Tracer starts and ends provider attempt spans.
type Tracer interface {
	StartSpan(ctx context.Context, meta ProviderMeta) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta ProviderMeta) (context.Context, trace.Span) {
	attrs := meta.attributes()
	if meta.Address != "" {
		attrs = append(attrs, attribute.String("provider.address", meta.Address))
	}
	if meta.RequestID != "" {
		attrs = append(attrs, attribute.String("request.id", meta.RequestID))
	}
	attrs = append(attrs, attribute.Bool("provider.error", false))

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("provider.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// NopTracer returns a Tracer producing non-recording spans.
func NopTracer() Tracer {
	return &tracerImpl{tracer: tracenoop.NewTracerProvider().Tracer("noop")}
}
