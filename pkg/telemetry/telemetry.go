package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that records nothing.
func Nop() *Telemetry {
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  NopTracer(),
		Metrics: NopMetrics(),
		Events:  NopEventPublisher(),
		Config:  DefaultConfig(),
	}
}

// Shutdown stops event delivery and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	)
}

// Operation is an instrumented unit of work: a span, a logger carrying the
// operation name, and a timer.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	name    string
	timer   *Timer
	metrics *Metrics
}

// StartOperation begins an instrumented operation.
func (t *Telemetry) StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) *Operation {
	spanCtx, span := t.Tracer.StartSpan(ctx, name, attrs...)

	logger := t.Logger.WithField("operation", name)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &Operation{
		Ctx:     spanCtx,
		Span:    span,
		Logger:  logger,
		name:    name,
		timer:   NewTimer(),
		metrics: t.Metrics,
	}
}

// End finishes the operation. status is the metrics label ("ok" or an
// error kind).
func (op *Operation) End(status string, err error) {
	if err != nil {
		op.Span.SetAttributes(AttrErrorKind.String(status))
		RecordError(op.Span, err)
	} else {
		RecordSuccess(op.Span)
	}
	op.Span.End()
	op.metrics.RecordOperation(op.name, status, op.timer.Duration())
}
