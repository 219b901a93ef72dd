package engine

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/openfroyo/installengine/pkg/engine"

// Engine holds the collaborators shared by installation sessions. It is
// immutable after construction.
type Engine struct {
	registry   *Registry
	reader     SequenceReader
	conditions ConditionEvaluator
	custom     CustomActionRunner
	dialogs    DialogRunner
	notifier   Notifier
	observer   Observer
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithCustomActions sets the runner for package-defined actions.
func WithCustomActions(runner CustomActionRunner) Option {
	return func(e *Engine) {
		e.custom = runner
	}
}

// WithDialogs sets the dialog runner used in UI mode.
func WithDialogs(dialogs DialogRunner) Option {
	return func(e *Engine) {
		e.dialogs = dialogs
	}
}

// WithNotifier sets the action start/end notifier.
func WithNotifier(notifier Notifier) Option {
	return func(e *Engine) {
		e.notifier = notifier
	}
}

// WithObserver sets the metrics observer.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

// WithTracer sets the tracer used for sequence and action spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// New creates an engine. registry, reader and conditions are required.
func New(registry *Registry, reader SequenceReader, conditions ConditionEvaluator, opts ...Option) *Engine {
	e := &Engine{
		registry:   registry,
		reader:     reader,
		conditions: conditions,
		notifier:   Notifiers(nil),
		observer:   NopObserver{},
		tracer:     otel.Tracer(tracerName),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the handler registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// NewSession starts an installation session for pkg. Sessions are
// single-threaded and must not be shared between goroutines.
func (e *Engine) NewSession(pkg *Package) *Session {
	id := uuid.New().String()
	return &Session{
		ID:     id,
		engine: e,
		pkg:    pkg,
		logger: e.logger.With().
			Str("session_id", id).
			Str("product", pkg.Product.Name).
			Logger(),
	}
}
