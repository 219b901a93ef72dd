package engine

import (
	"context"
	"errors"
	"fmt"
)

// Code is an installer result code.
type Code int

const (
	// CodeSuccess indicates the action or pass completed.
	CodeSuccess Code = 0

	// CodeNotImplemented indicates a recognised action with no implementation.
	// It is treated as success by the sequencer.
	CodeNotImplemented Code = 120

	// CodeUserExit indicates the user cancelled the install.
	CodeUserExit Code = 1602

	// CodeInstallFailure indicates a fatal error during install.
	CodeInstallFailure Code = 1603

	// CodeSuspend indicates the install was suspended for later resumption.
	CodeSuspend Code = 1604

	// CodeFunctionNotCalled indicates no handler, custom action or dialog matched.
	CodeFunctionNotCalled Code = 1626
)

// String implements fmt.Stringer.
func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeNotImplemented:
		return "not-implemented"
	case CodeUserExit:
		return "user-exit"
	case CodeInstallFailure:
		return "install-failure"
	case CodeSuspend:
		return "suspend"
	case CodeFunctionNotCalled:
		return "function-not-called"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// InstallError is an error carrying an installer result code.
type InstallError struct {
	// Code is the installer result code.
	Code Code `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Action is the action being dispatched when the error occurred.
	Action string `json:"action,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	msg := fmt.Sprintf("[%d] %s", int(e.Code), e.Message)
	if e.Action != "" {
		msg = fmt.Sprintf("%s (action=%s)", msg, e.Action)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *InstallError) Unwrap() error {
	return e.Err
}

// Is matches any InstallError with the same result code, so errors.Is works
// against the sentinels below.
func (e *InstallError) Is(target error) bool {
	t, ok := target.(*InstallError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithAction sets the action that produced the error.
func (e *InstallError) WithAction(action string) *InstallError {
	e.Action = action
	return e
}

// WithDetail adds a detail key-value pair to the error.
func (e *InstallError) WithDetail(key string, value interface{}) *InstallError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError creates an InstallError. Sentinels must not be decorated with the
// With* builders; create a fresh error instead.
func NewError(code Code, message string, err error) *InstallError {
	return &InstallError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

var (
	// ErrNotImplemented matches errors carrying CodeNotImplemented.
	ErrNotImplemented = NewError(CodeNotImplemented, "action not implemented", nil)

	// ErrUserExit matches errors carrying CodeUserExit.
	ErrUserExit = NewError(CodeUserExit, "install cancelled by user", nil)

	// ErrInstallFailure matches errors carrying CodeInstallFailure.
	ErrInstallFailure = NewError(CodeInstallFailure, "fatal error during installation", nil)

	// ErrSuspend matches errors carrying CodeSuspend.
	ErrSuspend = NewError(CodeSuspend, "install suspended", nil)

	// ErrFunctionNotCalled matches errors carrying CodeFunctionNotCalled.
	ErrFunctionNotCalled = NewError(CodeFunctionNotCalled, "action not found", nil)
)

// ResultCode maps an error returned by the engine to an installer result code.
// Context cancellation is reported as a user exit.
func ResultCode(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var ie *InstallError
	if errors.As(err, &ie) {
		return ie.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodeUserExit
	}
	return CodeInstallFailure
}

// IsSuccessEquivalent reports whether a dispatch result lets a pass continue.
func IsSuccessEquivalent(err error) bool {
	switch ResultCode(err) {
	case CodeSuccess, CodeNotImplemented, CodeFunctionNotCalled:
		return true
	default:
		return false
	}
}

// IsUserExit checks if an error is a user cancellation.
func IsUserExit(err error) bool {
	return ResultCode(err) == CodeUserExit
}

// IsNotImplemented checks if an error reports a missing implementation.
func IsNotImplemented(err error) bool {
	return errors.Is(err, ErrNotImplemented)
}

// ErrRollbackNotImplemented is returned when the rollback script is flushed.
// Rollback actions are recorded but replaying them is not supported.
var ErrRollbackNotImplemented = NewError(CodeNotImplemented, "rollback script replay is not implemented", nil)

// Failure wraps err as an install failure attributed to action.
func Failure(action, message string, err error) error {
	return NewError(CodeInstallFailure, message, err).WithAction(action)
}
