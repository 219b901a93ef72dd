package customaction

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/installengine/pkg/engine"
)

// Type selects how a custom action is carried out.
type Type string

const (
	// TypeProperty sets a property to a formatted value.
	TypeProperty Type = "property"

	// TypeStarlark runs an inline Starlark script.
	TypeStarlark Type = "starlark"

	// TypeWASM runs a WASI module.
	TypeWASM Type = "wasm"
)

// Execution selects when a custom action runs relative to the install script.
type Execution string

const (
	// ExecImmediate runs the action as soon as it is dispatched.
	ExecImmediate Execution = "immediate"

	// ExecDeferred records the action into the install script.
	ExecDeferred Execution = "deferred"

	// ExecCommit records the action into the commit script.
	ExecCommit Execution = "commit"

	// ExecRollback records the action into the rollback script.
	ExecRollback Execution = "rollback"
)

// scriptKind returns the script a non-immediate action is recorded into.
func (e Execution) scriptKind() (engine.ScriptKind, bool) {
	switch e {
	case ExecDeferred:
		return engine.ScriptInstall, true
	case ExecCommit:
		return engine.ScriptCommit, true
	case ExecRollback:
		return engine.ScriptRollback, true
	default:
		return "", false
	}
}

// Definition describes one custom action.
type Definition struct {
	// Name is the action name used in sequence tables.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Type selects the implementation.
	Type Type `json:"type" yaml:"type" validate:"required,oneof=property starlark wasm"`

	// Execution defaults to immediate.
	Execution Execution `json:"execution,omitempty" yaml:"execution,omitempty" validate:"omitempty,oneof=immediate deferred commit rollback"`

	// Property and Value configure property actions. Value is deformatted.
	Property string `json:"property,omitempty" yaml:"property,omitempty" validate:"required_if=Type property"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`

	// Script is the Starlark source of starlark actions.
	Script string `json:"script,omitempty" yaml:"script,omitempty" validate:"required_if=Type starlark"`

	// Module is the path of a wasm action's module, relative to the runner base directory.
	Module string `json:"module,omitempty" yaml:"module,omitempty" validate:"required_if=Type wasm"`

	// Checksum is the optional hex SHA-256 of Module.
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty" validate:"omitempty,hexadecimal,len=64"`

	// ContinueOnError logs failures instead of returning them.
	ContinueOnError bool `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
}

var validate = validator.New()

// Validate checks the definition.
func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("custom action %q: %w", d.Name, err)
	}
	return nil
}

func (d *Definition) execution() Execution {
	if d.Execution == "" {
		return ExecImmediate
	}
	return d.Execution
}

// resultError maps an installer result code returned by a script or module
// to the error the dispatcher expects.
func resultError(action string, code int) error {
	switch engine.Code(code) {
	case engine.CodeSuccess:
		return nil
	case engine.CodeNotImplemented, engine.CodeUserExit, engine.CodeSuspend, engine.CodeFunctionNotCalled:
		return engine.NewError(engine.Code(code), "custom action returned "+engine.Code(code).String(), nil).
			WithAction(action)
	default:
		return engine.NewError(engine.CodeInstallFailure, "custom action failed", nil).
			WithAction(action).
			WithDetail("exit_code", code)
	}
}
