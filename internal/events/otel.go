package events

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter records each event as a short-lived OpenTelemetry span.
// Spans are ended immediately: the event already carries the measured
// duration as an attribute, so no span is held open across a stage.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter that writes spans through tracer,
// typically otel.Tracer("taskflow").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit implements Emitter.
func (o *OTelEmitter) Emit(e Event) {
	attrs := []attribute.KeyValue{
		attribute.String("task.id", e.TaskID),
	}
	if e.Stage != "" {
		attrs = append(attrs, attribute.String("workflow.stage", e.Stage))
	}
	if e.DurationMS > 0 {
		attrs = append(attrs, attribute.Int64("duration_ms", e.DurationMS))
	}

	_, span := o.tracer.Start(context.Background(), string(e.Type),
		trace.WithAttributes(attrs...))
	if e.Type == TypeStageFailed {
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.SetStatus(codes.Error, "stage failed")
	}
	span.End()
}
