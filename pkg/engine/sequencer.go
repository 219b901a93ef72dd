package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// resumeAction is the execute-sequence row after which an execute pass
// resumes once the UI sequence has run.
const resumeAction = "InstallValidate"

// RunSequence runs the rows of table in ascending sequence order, skipping
// rows whose condition is false. ui selects UI mode for the pass. The pass
// stops at the first action returning an error other than not-implemented or
// not-called, and that error is returned.
//
// The execute sequence runs at most once per session; later calls return nil
// without dispatching anything. If the UI sequence has started, the execute
// pass begins after the InstallValidate row.
func (s *Session) RunSequence(ctx context.Context, table TableKind, ui bool) error {
	if err := table.Validate(); err != nil {
		return NewError(CodeInstallFailure, "invalid sequence table", err)
	}

	after := 0
	switch table {
	case TableUI:
		s.uiEntered = true
	case TableExecute:
		if !s.pkg.markExecuteSequenceRun() {
			s.logger.Debug().Msg("Execute sequence already run")
			return nil
		}
		if s.uiEntered {
			after = s.resumePoint(ctx)
		}
	}

	ctx, span := s.engine.tracer.Start(ctx, "sequence."+string(table),
		trace.WithAttributes(
			attribute.String("installer.table", string(table)),
			attribute.Bool("installer.ui", ui),
		))
	defer span.End()

	prevUI := s.uiMode
	s.uiMode = ui
	defer func() { s.uiMode = prevUI }()

	s.logger.Info().
		Str("table", string(table)).
		Bool("ui", ui).
		Int("after", after).
		Msg("Running sequence")

	for entry := range s.engine.reader.Read(ctx, table) {
		if err := ctx.Err(); err != nil {
			return NewError(CodeUserExit, "install cancelled", err)
		}
		if entry.Sequence <= after {
			continue
		}
		if !s.conditionHolds(ctx, table, entry) {
			continue
		}

		if err := s.Dispatch(ctx, entry.Action, ScriptInstall, false); !IsSuccessEquivalent(err) {
			s.logger.Error().
				Err(err).
				Str("table", string(table)).
				Str("action", entry.Action).
				Int("sequence", entry.Sequence).
				Msg("Execution halted due to error")
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return NewError(CodeUserExit, "install cancelled", err)
	}
	return nil
}

// resumePoint returns the sequence number of InstallValidate in the execute
// table, or 0 when the table has no such row.
func (s *Session) resumePoint(ctx context.Context) int {
	for entry := range s.engine.reader.Read(ctx, TableExecute) {
		if entry.Action == resumeAction {
			return entry.Sequence
		}
	}
	s.logger.Warn().Msg("No InstallValidate row in execute sequence, running from the start")
	return 0
}

// conditionHolds reports whether a row should run. Only a condition that
// evaluates to false skips the row; an unparsable condition is logged and the
// row runs.
func (s *Session) conditionHolds(ctx context.Context, table TableKind, entry SequenceEntry) bool {
	if entry.Condition == "" {
		return true
	}
	ok, err := s.Evaluate(ctx, entry.Condition)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("action", entry.Action).
			Str("condition", entry.Condition).
			Msg("Condition could not be evaluated")
		return true
	}
	if !ok {
		s.engine.observer.ActionSkipped(table, entry.Action)
		s.logger.Trace().
			Str("action", entry.Action).
			Str("condition", entry.Condition).
			Msg("Skipping action, condition is false")
	}
	return ok
}

// RunOutcome runs the hooks registered for the outcome of result: rows whose
// sequence number equals the outcome marker, taken from the UI table if the
// UI sequence ran and from the execute table otherwise. Hooks run even when
// ctx is cancelled. The first hook failure is returned; it does not replace
// the install result.
func (s *Session) RunOutcome(ctx context.Context, result error) error {
	ctx = context.WithoutCancel(ctx)
	outcome := OutcomeFor(result)
	table := TableExecute
	if s.uiEntered {
		table = TableUI
	}

	s.engine.observer.OutcomeReached(outcome)
	s.logger.Debug().
		Stringer("outcome", outcome).
		Str("table", string(table)).
		Msg("Running outcome actions")

	prevUI := s.uiMode
	s.uiMode = s.uiEntered
	defer func() { s.uiMode = prevUI }()

	for entry := range s.engine.reader.Lookup(ctx, table, int(outcome)) {
		if !s.conditionHolds(ctx, table, entry) {
			continue
		}
		if err := s.Dispatch(ctx, entry.Action, ScriptInstall, true); !IsSuccessEquivalent(err) {
			s.logger.Error().
				Err(err).
				Str("action", entry.Action).
				Stringer("outcome", outcome).
				Msg("Outcome action failed")
			return err
		}
	}
	return nil
}

// Install is the top-level driver. With ui set it runs the UI sequence and,
// if that succeeds, the execute sequence; otherwise it runs the execute
// sequence alone. The outcome hooks for the result always run.
func (s *Session) Install(ctx context.Context, ui bool) error {
	ctx, span := s.engine.tracer.Start(ctx, "install",
		trace.WithAttributes(attribute.String("installer.product", s.pkg.Product.Name)))
	defer span.End()

	s.logger.Info().Bool("ui", ui).Msg("Installation started")

	var err error
	if ui {
		err = s.RunSequence(ctx, TableUI, true)
		if err == nil {
			err = s.RunSequence(ctx, TableExecute, false)
		}
	} else {
		err = s.RunSequence(ctx, TableExecute, false)
	}

	if oerr := s.RunOutcome(ctx, err); oerr != nil {
		s.logger.Warn().Err(oerr).Msg("Outcome actions did not complete")
	}

	code := ResultCode(err)
	span.SetAttributes(attribute.Int("installer.result", int(code)))

	if IsSuccessEquivalent(err) {
		s.logger.Info().Msg("Installation completed")
		return nil
	}
	s.logger.Error().Err(err).Stringer("result", code).Msg("Installation failed")
	return err
}
