package engine

import (
	"context"
	"iter"
	"time"
)

// SequenceReader provides the rows of the sequence tables.
type SequenceReader interface {
	// Read returns the rows of table with a positive sequence number, ordered
	// by ascending sequence. Rows sharing a sequence number keep table order.
	// Each call starts a fresh read.
	Read(ctx context.Context, table TableKind) iter.Seq[SequenceEntry]

	// Lookup returns the rows of table whose sequence number equals sequence
	// exactly, in table order.
	Lookup(ctx context.Context, table TableKind, sequence int) iter.Seq[SequenceEntry]
}

// ConditionEvaluator decides whether a condition holds for a package.
type ConditionEvaluator interface {
	// Evaluate returns the truth value of condition. An empty condition is true.
	Evaluate(ctx context.Context, condition string, pkg *Package) (bool, error)
}

// CustomActionRunner runs package-defined actions that have no built-in handler.
type CustomActionRunner interface {
	// RunCustomAction runs the named action, or records it while the script
	// is recording unless force is set. handled is false when the runner does
	// not know the action.
	RunCustomAction(ctx context.Context, pkg *Package, action string, force bool) (handled bool, err error)
}

// DialogRunner shows named dialogs during the UI sequence.
type DialogRunner interface {
	// ShowDialog displays the named dialog. shown is false when no such dialog exists.
	ShowDialog(ctx context.Context, pkg *Package, name string) (shown bool, err error)
}

// Notifier receives action start and end notifications. Implementations must
// not block the caller.
type Notifier interface {
	// ActionStarted is called before an action handler runs.
	ActionStarted(ctx context.Context, action string)

	// ActionFinished is called after an action handler returns.
	ActionFinished(ctx context.Context, action string, err error)
}

// Observer receives engine measurements.
type Observer interface {
	// ActionDispatched records an immediate handler run.
	ActionDispatched(action string, duration time.Duration, code Code)

	// ActionDeferred records an action appended to a script buffer.
	ActionDeferred(action string, kind ScriptKind)

	// ActionSkipped records a row whose condition evaluated false.
	ActionSkipped(table TableKind, action string)

	// ActionNotFound records an action no runner could handle.
	ActionNotFound(action string)

	// StatesResolved records a completed resolution.
	StatesResolved(res *Resolution)

	// OutcomeReached records the terminal outcome of an install.
	OutcomeReached(outcome Outcome)
}

// NopObserver discards all measurements.
type NopObserver struct{}

func (NopObserver) ActionDispatched(string, time.Duration, Code) {}
func (NopObserver) ActionDeferred(string, ScriptKind)            {}
func (NopObserver) ActionSkipped(TableKind, string)              {}
func (NopObserver) ActionNotFound(string)                        {}
func (NopObserver) StatesResolved(*Resolution)                   {}
func (NopObserver) OutcomeReached(Outcome)                       {}

// Notifiers fans notifications out to several notifiers in order.
type Notifiers []Notifier

// ActionStarted implements Notifier.
func (n Notifiers) ActionStarted(ctx context.Context, action string) {
	for _, x := range n {
		x.ActionStarted(ctx, action)
	}
}

// ActionFinished implements Notifier.
func (n Notifiers) ActionFinished(ctx context.Context, action string, err error) {
	for _, x := range n {
		x.ActionFinished(ctx, action, err)
	}
}
