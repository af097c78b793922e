package engine

import (
	"strings"
	"time"

	"github.com/dataxchange/dxp/pkg/document"
)

// Action is one declared unit of import work.
type Action struct {
	// Name is the element name. It is unique within a package, ignoring case.
	Name string `json:"name"`

	// Provider is the identifier the provider is registered under.
	Provider string `json:"provider"`

	// Instructions holds the statements handed to the provider.
	Instructions *document.Element `json:"-"`

	// Description is the optional description element.
	Description *document.Element `json:"-"`

	// BreakOnError controls whether a failure aborts the callers of this action.
	BreakOnError bool `json:"break_on_error"`

	// Dependencies lists the names of actions that run first.
	Dependencies []string `json:"depends_on,omitempty"`

	// References is the number of actions that list this action as a dependency.
	References int `json:"references"`

	executed bool
	state    ActionState
	err      error
}

// newAction builds an action from its element.
func newAction(el *document.Element) (*Action, error) {
	provider, ok := el.Attr("provider")
	if !ok {
		return nil, NewLoadError(el.Name+" element is missing the provider attribute", nil).
			WithCode(ErrCodeMissingProvider).WithAction(el.Name)
	}

	instructions := el.Child("instructions")
	if instructions == nil {
		return nil, NewLoadError("Import action does not contain an instructions element", nil).
			WithCode(ErrCodeMissingInstructions).WithAction(el.Name)
	}

	a := &Action{
		Name:         el.Name,
		Provider:     strings.TrimSpace(provider),
		Instructions: instructions,
		Description:  el.Child("description"),
		BreakOnError: true,
		state:        ActionStatePending,
	}

	if v, ok := el.Attr("breakOnError"); ok {
		a.BreakOnError = parseBool(v)
	}

	if v, ok := el.Attr("dependsOn"); ok {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				a.Dependencies = append(a.Dependencies, name)
			}
		}
	}

	return a, nil
}

// parseBool accepts true and false in any case. Anything else is false.
func parseBool(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// Executed reports whether the action has completed successfully in this run.
func (a *Action) Executed() bool {
	return a.executed
}

// State returns the execution state of the action.
func (a *Action) State() ActionState {
	if a.state == "" {
		return ActionStatePending
	}
	return a.state
}

// Err returns the failure recorded for the action, if any.
func (a *Action) Err() error {
	return a.err
}

// DescriptionText returns the trimmed description, or an empty string.
func (a *Action) DescriptionText() string {
	return a.Description.Value()
}

func (a *Action) markExecuted() {
	a.executed = true
	a.state = ActionStateCompleted
	a.err = nil
}

func (a *Action) markFailed(err error) {
	a.state = ActionStateFailed
	a.err = err
}

// RunReport describes one import or export run.
type RunReport struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// Kind is import or export.
	Kind string `json:"kind"`

	// Package is the name of the package root element.
	Package string `json:"package"`

	// Status is the current status of the run.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Outcomes lists every action in execution order. Actions never reached
	// are appended as skipped in declaration order.
	Outcomes []*ActionOutcome `json:"outcomes"`

	// Error is the failure that aborted the run, if any.
	Error string `json:"error,omitempty"`

	// Context holds the caller supplied key/value pairs.
	Context map[string]string `json:"context,omitempty"`
}

// Summary counts the outcomes of the run.
func (r *RunReport) Summary() RunSummary {
	s := RunSummary{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		switch o.Status {
		case OutcomeCompleted:
			s.Completed++
		case OutcomeFailed:
			s.Failed++
		case OutcomeSkipped:
			s.Skipped++
		}
		s.Rows += o.Stats.Rows
		s.Records += o.Stats.Records
		s.FailedRows += o.Stats.Failed
	}
	return s
}

// Outcome returns the outcome for the named action, ignoring case.
func (r *RunReport) Outcome(name string) *ActionOutcome {
	for _, o := range r.Outcomes {
		if strings.EqualFold(o.Action, name) {
			return o
		}
	}
	return nil
}

// RunSummary provides statistics about a run.
type RunSummary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Rows       int `json:"rows"`
	Records    int `json:"records"`
	FailedRows int `json:"failed_rows"`
}

// ActionOutcome is the result of one action within a run.
type ActionOutcome struct {
	Action   string        `json:"action"`
	Provider string        `json:"provider"`
	Status   OutcomeStatus `json:"status"`

	StartedAt   time.Time     `json:"started_at,omitempty"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`

	Stats RowStats `json:"stats"`

	// Error is the failure message for failed actions.
	Error string `json:"error,omitempty"`
}

// RowStats counts the rows an import processed.
type RowStats struct {
	// Rows is the number of data rows read.
	Rows int `json:"rows"`

	// Records is the number of target records handed to the provider.
	Records int `json:"records"`

	// Failed is the number of rows skipped because of a row error.
	Failed int `json:"failed"`
}
