package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/installengine/pkg/props"
)

// Session runs one installation of a package. Every handler, condition and
// script operation of the session happens on the calling goroutine.
type Session struct {
	// ID uniquely identifies the session.
	ID string

	engine *Engine
	pkg    *Package
	logger zerolog.Logger

	// uiMode is true while dispatching rows of the UI sequence.
	uiMode bool

	// uiEntered is set once the UI sequence has started. It makes the execute
	// sequence resume after InstallValidate and routes outcome hooks to the UI table.
	uiEntered bool
}

// Package returns the package being installed.
func (s *Session) Package() *Package {
	return s.pkg
}

// Properties returns the session property store.
func (s *Session) Properties() *props.Store {
	return s.pkg.Properties
}

// Logger returns the session logger.
func (s *Session) Logger() *zerolog.Logger {
	return &s.logger
}

// UIMode reports whether the session is dispatching UI sequence rows.
func (s *Session) UIMode() bool {
	return s.uiMode
}

// Evaluate evaluates condition against the session package.
func (s *Session) Evaluate(ctx context.Context, condition string) (bool, error) {
	if s.engine.conditions == nil {
		return true, nil
	}
	return s.engine.conditions.Evaluate(ctx, condition, s.pkg)
}

// Dispatch routes one action. A built-in handler runs immediately when force
// is set, when the script is not recording, or for the actions that drive the
// script itself; otherwise the action is appended to the kind buffer. Actions
// without a handler go to the custom action runner and then, in UI mode, to
// the dialog runner. An action nothing handles returns ErrFunctionNotCalled.
func (s *Session) Dispatch(ctx context.Context, action string, kind ScriptKind, force bool) error {
	if h, ok := s.engine.registry.Lookup(action); ok {
		if force || !s.pkg.Script.Recording() || immediateActions[action] {
			return s.runHandler(ctx, action, h)
		}

		s.pkg.Script.Record(kind, action)
		s.engine.observer.ActionDeferred(action, kind)
		s.logger.Debug().
			Str("action", action).
			Str("script", string(kind)).
			Msg("Action deferred")
		return nil
	}

	if s.engine.custom != nil {
		handled, err := s.engine.custom.RunCustomAction(ctx, s.pkg, action, force)
		if handled {
			if err != nil {
				s.logger.Warn().Err(err).Str("action", action).Msg("Custom action failed")
			}
			return err
		}
	}

	if s.uiMode && s.engine.dialogs != nil {
		shown, err := s.engine.dialogs.ShowDialog(ctx, s.pkg, action)
		if shown {
			return err
		}
	}

	s.engine.observer.ActionNotFound(action)
	s.logger.Warn().Str("action", action).Msg("Action not found")
	return NewError(CodeFunctionNotCalled, "action not found", nil).WithAction(action)
}

// runHandler invokes a built-in handler with notifications around it.
func (s *Session) runHandler(ctx context.Context, action string, h Handler) error {
	ctx, span := s.engine.tracer.Start(ctx, "action."+action,
		trace.WithAttributes(attribute.String("installer.action", action)))
	defer span.End()

	s.logger.Debug().Str("action", action).Msg("Running action")
	s.engine.notifier.ActionStarted(ctx, action)

	start := time.Now()
	err := h.Run(ctx, s)
	duration := time.Since(start)

	code := ResultCode(err)
	s.engine.observer.ActionDispatched(action, duration, code)
	s.engine.notifier.ActionFinished(ctx, action, err)

	span.SetAttributes(attribute.Int("installer.result", int(code)))
	if !IsSuccessEquivalent(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	s.logger.Debug().
		Str("action", action).
		Dur("duration", duration).
		Stringer("result", code).
		Msg("Action finished")

	return err
}

// Flush replays the kind buffer in order with force set. The recording state
// is left alone, so actions dispatched after an intermediate flush are still
// deferred. Replay stops at the first failing action. The buffer is empty
// afterwards either way. The rollback buffer cannot be flushed.
func (s *Session) Flush(ctx context.Context, kind ScriptKind) error {
	if err := kind.Validate(); err != nil {
		return NewError(CodeInstallFailure, "invalid script", err)
	}
	if kind == ScriptRollback {
		return ErrRollbackNotImplemented
	}

	actions := s.pkg.Script.take(kind)

	s.logger.Debug().
		Str("script", string(kind)).
		Int("actions", len(actions)).
		Msg("Flushing script")

	for _, action := range actions {
		if err := s.Dispatch(ctx, action, kind, true); !IsSuccessEquivalent(err) {
			s.logger.Error().
				Err(err).
				Str("script", string(kind)).
				Str("action", action).
				Msg("Script execution halted")
			return err
		}
	}
	return nil
}

// Record appends action to the kind buffer without dispatching it.
func (s *Session) Record(kind ScriptKind, action string) error {
	if err := kind.Validate(); err != nil {
		return NewError(CodeInstallFailure, "invalid script", err).WithAction(action)
	}
	s.pkg.Script.Record(kind, action)
	s.engine.observer.ActionDeferred(action, kind)
	return nil
}

// ResolveStates resolves feature and component actions and applies them to the package.
func (s *Session) ResolveStates(ctx context.Context) *Resolution {
	_, span := s.engine.tracer.Start(ctx, "resolve")
	defer span.End()

	res := Resolve(s.pkg)
	s.pkg.ApplyResolution(res)

	s.engine.observer.StatesResolved(res)
	s.logger.Debug().
		Int("install_level", res.InstallLevel).
		Bool("override_mode", res.OverrideMode).
		Int("features", len(res.Features)).
		Int("components", len(res.Components)).
		Msg("Feature and component states resolved")

	return res
}
