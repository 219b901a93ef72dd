// Package customaction runs the custom actions a package definition declares.
//
// A custom action is an action name with no built-in handler. The runner
// implements engine.CustomActionRunner: property actions set a property,
// starlark actions run an inline script with property builtins, and wasm
// actions run a WASI module through wazero with properties in the environment.
//
// Actions whose execution is deferred, commit or rollback are recorded into the
// matching script while the install script is recording and run when that
// script is replayed.
package customaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/installengine/pkg/engine"
)

// Runner dispatches custom actions by name.
type Runner struct {
	actions map[string]Definition
	logger  zerolog.Logger

	timeout  time.Duration
	maxSteps uint64
	baseDir  string

	wasm *wasmHost
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger.With().Str("component", "customaction").Logger()
	}
}

// WithTimeout bounds each script or module run. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithMaxSteps bounds the Starlark steps of a script action.
func WithMaxSteps(n uint64) Option {
	return func(r *Runner) { r.maxSteps = n }
}

// WithBaseDir sets the directory wasm module paths are resolved against.
func WithBaseDir(dir string) Option {
	return func(r *Runner) { r.baseDir = dir }
}

// WithMemoryLimitPages caps wasm linear memory, in 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(r *Runner) { r.wasm.memoryLimitPages = pages }
}

// NewRunner validates defs and creates a runner for them.
func NewRunner(defs []Definition, opts ...Option) (*Runner, error) {
	r := &Runner{
		actions:  make(map[string]Definition, len(defs)),
		logger:   zerolog.Nop(),
		timeout:  30 * time.Second,
		maxSteps: 1_000_000,
		wasm:     newWASMHost(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for i := range defs {
		d := defs[i]
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.actions[d.Name]; dup {
			return nil, fmt.Errorf("duplicate custom action: %s", d.Name)
		}
		r.actions[d.Name] = d
	}
	return r, nil
}

// Has reports whether name is a known custom action.
func (r *Runner) Has(name string) bool {
	_, ok := r.actions[name]
	return ok
}

// RunCustomAction runs action if it is a known custom action. Non-immediate
// actions are recorded into their script while the script is recording,
// unless force is set by a script replay.
func (r *Runner) RunCustomAction(ctx context.Context, pkg *engine.Package, action string, force bool) (bool, error) {
	def, ok := r.actions[action]
	if !ok {
		return false, nil
	}

	if kind, deferred := def.execution().scriptKind(); deferred && !force && pkg.Script.Recording() {
		pkg.Script.Record(kind, action)
		r.logger.Debug().
			Str("action", action).
			Str("script", string(kind)).
			Msg("Custom action deferred")
		return true, nil
	}

	return true, r.Run(ctx, pkg, def)
}

// Run executes def against pkg now, regardless of its execution setting.
func (r *Runner) Run(ctx context.Context, pkg *engine.Package, def Definition) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	var err error
	switch def.Type {
	case TypeProperty:
		err = r.runProperty(pkg, def)
	case TypeStarlark:
		err = r.runStarlark(ctx, pkg, def)
	case TypeWASM:
		err = r.runWASM(ctx, pkg, def)
	default:
		err = engine.NewError(engine.CodeInstallFailure, "unknown custom action type", nil).
			WithAction(def.Name).
			WithDetail("type", string(def.Type))
	}

	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		err = engine.NewError(engine.CodeUserExit, "custom action cancelled", err).WithAction(def.Name)
	}

	r.logger.Debug().
		Str("action", def.Name).
		Str("type", string(def.Type)).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("Custom action finished")

	if err != nil && def.ContinueOnError && !engine.IsUserExit(err) {
		r.logger.Warn().Err(err).Str("action", def.Name).Msg("Ignoring custom action failure")
		return nil
	}
	return err
}

func (r *Runner) runProperty(pkg *engine.Package, def Definition) error {
	value := pkg.Properties.Deformat(def.Value)
	pkg.Properties.Set(def.Property, value)
	r.logger.Debug().
		Str("action", def.Name).
		Str("property", def.Property).
		Str("value", value).
		Msg("Property set")
	return nil
}

// Close releases compiled wasm modules.
func (r *Runner) Close(ctx context.Context) error {
	return r.wasm.close(ctx)
}
