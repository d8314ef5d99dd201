package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/nixinstaller/pkg/plan"
)

// Telemetry bundles the logger, tracer and metrics of one invocation.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown writes the metrics textfile and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Metrics.WriteTextfile(), t.Tracer.Shutdown(ctx))
}

// Run instruments one install or revert of a plan.
type Run struct {
	tel       *Telemetry
	id        string
	operation string
	span      trace.Span
	timer     *Timer
}

// StartRun opens the run span, attaches a run-scoped logger to the returned
// context and counts the run as started.
func (t *Telemetry) StartRun(ctx context.Context, runID, planID, operation string) (context.Context, *Run) {
	ctx, span := t.Tracer.StartRunSpan(ctx, runID, planID, operation)
	logger := t.Logger.WithRunID(runID).WithPlanID(planID)
	ctx = logger.WithContext(ctx)

	t.Metrics.RecordRunStarted(operation)
	return ctx, &Run{tel: t, id: runID, operation: operation, span: span, timer: NewTimer()}
}

// End closes the run, recording status "succeeded" or "failed".
func (r *Run) End(err error) {
	status := "succeeded"
	if err != nil {
		status = "failed"
		RecordError(r.span, err)
	} else {
		RecordSuccess(r.span)
	}
	r.span.End()
	r.tel.Metrics.RecordRunCompleted(r.operation, status, r.timer.Duration())
}

// Observer returns a plan.Observer that opens a span per action and records
// action metrics.
func (r *Run) Observer() plan.Observer {
	return &runObserver{tel: r.tel}
}

type actionSpanKey struct{}

type runObserver struct {
	tel *Telemetry
}

func (o *runObserver) ActionStarted(ctx context.Context, ev plan.Event) context.Context {
	ctx, span := o.tel.Tracer.StartActionSpan(ctx, ev.Index, string(ev.Kind), string(ev.Operation))
	return context.WithValue(ctx, actionSpanKey{}, span)
}

func (o *runObserver) ActionFinished(ctx context.Context, ev plan.Event) error {
	status := "succeeded"
	if ev.Err != nil {
		status = "failed"
	}
	if span, ok := ctx.Value(actionSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrActionState.String(string(ev.State)))
		if ev.Err != nil {
			RecordError(span, ev.Err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}
	o.tel.Metrics.RecordAction(string(ev.Kind), string(ev.Operation), status, ev.Duration)
	return nil
}

// Elapsed returns the time since the run started.
func (r *Run) Elapsed() time.Duration {
	return r.timer.Duration()
}
