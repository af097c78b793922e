package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for propagation and reporting.
type ErrorClass string

const (
	// ErrorClassLoad indicates a malformed package. Nothing runs.
	ErrorClassLoad ErrorClass = "load"

	// ErrorClassCompile indicates a statement that was dropped or compiled to a no-op.
	// Compile errors are reported as warnings and never stop an action.
	ErrorClassCompile ErrorClass = "compile"

	// ErrorClassRow indicates a failure applying one row's operations.
	// The row is skipped and iteration continues.
	ErrorClassRow ErrorClass = "row"

	// ErrorClassAction indicates a provider failure or a failed dependency.
	ErrorClassAction ErrorClass = "action"

	// ErrorClassConfiguration indicates a provider identifier that cannot be resolved.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassCycle indicates an action re-entered while it was still running.
	ErrorClassCycle ErrorClass = "cycle"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Action is the name of the action that caused the error, if applicable.
	Action string `json:"action,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Action != "" {
		msg = fmt.Sprintf("%s (action=%s)", msg, e.Action)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Classification returns the class and code for metrics labelling.
func (e *EngineError) Classification() (string, string) {
	return string(e.Class), e.Code
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewLoadError creates a new load error.
func NewLoadError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassLoad,
		Message: message,
		Err:     err,
	}
}

// NewCompileWarning creates a new compile warning.
func NewCompileWarning(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassCompile,
		Message: message,
	}
}

// NewRowError creates a new row error for the given 1-based row number.
func NewRowError(row int, err error) *EngineError {
	return (&EngineError{
		Class:   ErrorClassRow,
		Message: fmt.Sprintf("row %d skipped", row),
		Err:     err,
	}).WithDetail("row", row)
}

// NewActionError creates a new action error.
func NewActionError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassAction,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewCycleError creates a new cycle error for the given dependency path.
func NewCycleError(path []string) *EngineError {
	return (&EngineError{
		Class:   ErrorClassCycle,
		Message: fmt.Sprintf("action dependency cycle: %s", formatCycle(path)),
		Code:    ErrCodeDependencyCycle,
	}).WithDetail("path", path)
}

// WithAction adds action context to an error.
func (e *EngineError) WithAction(name string) *EngineError {
	e.Action = name
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsLoadError returns true if the error is classified as a load error.
func IsLoadError(err error) bool {
	return hasClass(err, ErrorClassLoad)
}

// IsCompileWarning returns true if the error is classified as a compile warning.
func IsCompileWarning(err error) bool {
	return hasClass(err, ErrorClassCompile)
}

// IsRowError returns true if the error is classified as a row error.
func IsRowError(err error) bool {
	return hasClass(err, ErrorClassRow)
}

// IsActionError returns true if the error is classified as an action error.
func IsActionError(err error) bool {
	return hasClass(err, ErrorClassAction)
}

// IsConfigurationError returns true if the error is classified as a configuration error.
func IsConfigurationError(err error) bool {
	return hasClass(err, ErrorClassConfiguration)
}

// IsCycleError returns true if a cycle error appears anywhere in the chain.
func IsCycleError(err error) bool {
	return errors.Is(err, &EngineError{Class: ErrorClassCycle, Code: ErrCodeDependencyCycle})
}

// ErrorCode returns the code of the outermost EngineError in the chain.
func ErrorCode(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	ErrCodeMissingProvider     = "MISSING_PROVIDER"
	ErrCodeMissingInstructions = "MISSING_INSTRUCTIONS"
	ErrCodeUnknownDependency   = "UNKNOWN_DEPENDENCY"
	ErrCodeDependencyCycle     = "DEPENDENCY_CYCLE"
	ErrCodeNoDataSources       = "NO_DATA_SOURCES"
	ErrCodeDuplicateAction     = "DUPLICATE_ACTION"
	ErrCodeProviderNotFound    = "PROVIDER_NOT_FOUND"
	ErrCodeInvalidProvider     = "INVALID_PROVIDER"
	ErrCodeProviderFailed      = "PROVIDER_FAILED"
	ErrCodeDependencyFailed    = "DEPENDENCY_FAILED"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodePolicyDenied        = "POLICY_DENIED"
	ErrCodeSchemaInvalid       = "SCHEMA_INVALID"
)
