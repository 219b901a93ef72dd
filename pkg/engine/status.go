package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InstallState is the installed, requested or resolved state of a feature or component.
type InstallState string

const (
	// StateUnknown means no decision has been made.
	StateUnknown InstallState = "unknown"

	// StateAbsent means the item is (or will be) removed.
	StateAbsent InstallState = "absent"

	// StateLocal means the item is installed on the local machine.
	StateLocal InstallState = "local"

	// StateSource means the item runs from the installation source.
	StateSource InstallState = "source"

	// StateAdvertised means the item is published but installed on first use.
	StateAdvertised InstallState = "advertised"

	// StateDefault means "use the item's own favored state". It is only valid as
	// a request and never survives resolution.
	StateDefault InstallState = "default"
)

// Validate checks if the install state is valid.
func (s InstallState) Validate() error {
	switch s {
	case StateUnknown, StateAbsent, StateLocal, StateSource, StateAdvertised, StateDefault:
		return nil
	default:
		return fmt.Errorf("invalid install state: %s", s)
	}
}

// IsInstalled reports whether the state leaves the item present on the machine.
func (s InstallState) IsInstalled() bool {
	return s == StateLocal || s == StateSource || s == StateAdvertised
}

// Code returns the numeric state value used by condition expressions.
func (s InstallState) Code() int {
	switch s {
	case StateAdvertised:
		return 1
	case StateAbsent:
		return 2
	case StateLocal:
		return 3
	case StateSource:
		return 4
	case StateDefault:
		return 5
	default:
		return -1
	}
}

// MarshalJSON implements json.Marshaler.
func (s InstallState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler. An empty value decodes as StateUnknown.
func (s *InstallState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*s = StateUnknown
		return nil
	}
	state := InstallState(strings.ToLower(str))
	if err := state.Validate(); err != nil {
		return err
	}
	*s = state
	return nil
}

// TableKind selects one of the two sequence tables.
type TableKind string

const (
	// TableUI is the interactive sequence, run only when a UI is shown.
	TableUI TableKind = "ui"

	// TableExecute is the sequence that performs the installation.
	TableExecute TableKind = "execute"
)

// Validate checks if the table kind is valid.
func (t TableKind) Validate() error {
	switch t {
	case TableUI, TableExecute:
		return nil
	default:
		return fmt.Errorf("invalid sequence table: %s", t)
	}
}

// ScriptKind names one of the deferred-action buffers.
type ScriptKind string

const (
	// ScriptInstall holds actions deferred between InstallInitialize and InstallFinalize.
	ScriptInstall ScriptKind = "install"

	// ScriptCommit holds actions replayed after a successful install flush.
	ScriptCommit ScriptKind = "commit"

	// ScriptRollback holds undo actions. It is recorded but never replayed.
	ScriptRollback ScriptKind = "rollback"
)

// Validate checks if the script kind is valid.
func (k ScriptKind) Validate() error {
	switch k {
	case ScriptInstall, ScriptCommit, ScriptRollback:
		return nil
	default:
		return fmt.Errorf("invalid script kind: %s", k)
	}
}

// ScriptState is the lifecycle state of deferred-action recording.
type ScriptState string

const (
	// ScriptIdle means no recording has started; actions run immediately.
	ScriptIdle ScriptState = "idle"

	// ScriptRecording means eligible actions are appended to a buffer.
	ScriptRecording ScriptState = "recording"

	// ScriptFlushing means recording has stopped and buffers are being replayed.
	ScriptFlushing ScriptState = "flushing"
)

// Outcome is a terminal marker. Sequence rows carrying an outcome's value as
// their sequence number are hooks that run when the install ends that way.
type Outcome int

const (
	// OutcomeSuccess marks a successful install.
	OutcomeSuccess Outcome = -1

	// OutcomeUserExit marks a user cancellation.
	OutcomeUserExit Outcome = -2

	// OutcomeFailure marks a failed install.
	OutcomeFailure Outcome = -3

	// OutcomeSuspend marks a suspended install.
	OutcomeSuspend Outcome = -4
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeUserExit:
		return "user-exit"
	case OutcomeFailure:
		return "failure"
	case OutcomeSuspend:
		return "suspend"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// OutcomeFor maps the result of an install pass to its terminal marker.
func OutcomeFor(err error) Outcome {
	switch ResultCode(err) {
	case CodeSuccess, CodeNotImplemented, CodeFunctionNotCalled:
		return OutcomeSuccess
	case CodeUserExit:
		return OutcomeUserExit
	case CodeSuspend:
		return OutcomeSuspend
	default:
		return OutcomeFailure
	}
}
