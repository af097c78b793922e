package engine

import (
	"fmt"
)

// RunStatus represents the overall status of an import or export run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every reached action completed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates some actions failed without breaking the run.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed indicates a breaking action aborted the run.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusPartial
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusPartial, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// ActionState is the execution state of an action within one run.
type ActionState string

const (
	// ActionStatePending indicates the action has not been reached yet.
	ActionStatePending ActionState = "pending"

	// ActionStateRunning indicates the action or one of its dependencies is executing.
	ActionStateRunning ActionState = "running"

	// ActionStateCompleted indicates the provider finished without error.
	ActionStateCompleted ActionState = "completed"

	// ActionStateFailed indicates the action or a breaking dependency failed.
	ActionStateFailed ActionState = "failed"
)

// IsTerminal returns true if the state is final for the run.
func (s ActionState) IsTerminal() bool {
	return s == ActionStateCompleted || s == ActionStateFailed
}

// OutcomeStatus is the reported result of one action.
type OutcomeStatus string

const (
	// OutcomeCompleted indicates the action ran successfully.
	OutcomeCompleted OutcomeStatus = "completed"

	// OutcomeFailed indicates the action was aborted.
	OutcomeFailed OutcomeStatus = "failed"

	// OutcomeSkipped indicates the action was never reached.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Validate checks if the outcome status is valid.
func (s OutcomeStatus) Validate() error {
	switch s {
	case OutcomeCompleted, OutcomeFailed, OutcomeSkipped:
		return nil
	default:
		return fmt.Errorf("invalid outcome status: %s", s)
	}
}
