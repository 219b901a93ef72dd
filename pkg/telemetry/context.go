package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/installengine/pkg/engine"
)

// Telemetry combines logging, tracing, metrics and events for one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config

	server *MetricsServer
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a telemetry instance from configuration.
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

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// StartMetricsServer starts the metrics HTTP server if one is configured.
func (t *Telemetry) StartMetricsServer() error {
	server, err := t.Metrics.StartMetricsServer()
	if err != nil {
		return err
	}
	t.server = server
	return nil
}

// Shutdown flushes events and spans and stops the metrics server.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
		t.server.Shutdown(ctx),
	)
}

// Run tracks one install run across all telemetry pillars.
type Run struct {
	ID      string
	Logger  *Logger
	Span    trace.Span
	Started time.Time

	tel *Telemetry
}

// StartRun opens the run span, publishes run.started and returns the run
// with a context carrying its span and logger.
func (t *Telemetry) StartRun(ctx context.Context, runID string, product engine.Product) (context.Context, *Run) {
	ctx, span := t.Tracer.StartRunSpan(ctx, runID, product.Name, product.Version)
	logger := t.Logger.WithRunID(runID).WithProduct(product.Name, product.Version)
	ctx = logger.WithContext(ctx)

	if err := t.Events.PublishRunStarted(runID, product.Name, product.Version); err != nil {
		logger.WithError(err).Warn("Failed to publish event")
	}

	return ctx, &Run{
		ID:      runID,
		Logger:  logger,
		Span:    span,
		Started: time.Now(),
		tel:     t,
	}
}

// EngineOptions returns the engine options that route the session's logs,
// measurements, spans and action notifications into this run. extra
// notifiers receive notifications after the event notifier.
func (r *Run) EngineOptions(extra ...engine.Notifier) []engine.Option {
	notifiers := engine.Notifiers{NewEventNotifier(r.tel.Events, r.ID, r.Logger)}
	notifiers = append(notifiers, extra...)
	return []engine.Option{
		engine.WithLogger(r.Logger.Zerolog()),
		engine.WithObserver(r.tel.Metrics),
		engine.WithTracer(r.tel.Tracer.Trace()),
		engine.WithNotifier(notifiers),
	}
}

// End closes the run span and publishes the terminal outcome of err.
func (r *Run) End(err error) engine.Outcome {
	outcome := engine.OutcomeFor(err)
	duration := time.Since(r.Started)

	r.Span.SetAttributes(AttrResultCode.Int(int(engine.ResultCode(err))))
	if outcome == engine.OutcomeFailure {
		RecordError(r.Span, err)
	} else {
		RecordSuccess(r.Span)
	}
	r.Span.End()

	if perr := r.tel.Events.PublishRunCompleted(r.ID, outcome, duration, err); perr != nil {
		r.Logger.WithError(perr).Warn("Failed to publish event")
	}

	r.Logger.WithFields(map[string]any{
		"outcome":  outcome.String(),
		"duration": duration.String(),
	}).Info("Run finished")

	return outcome
}
