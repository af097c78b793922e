package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/dataxchange/dxp/pkg/engine"
)

// Severity grades a violation. Error and critical violations deny the
// package; info and warning are reported only.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity stops a run.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one Rego module. Violations are the members of the deny set
// of its package.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"` // default for deny entries without one
	Enabled     bool     `json:"enabled"`
	Builtin     bool     `json:"builtin,omitempty"`

	// Operations limits the policy to these operations ("import",
	// "export", "validate"). Empty means every operation.
	Operations []string `json:"operations,omitempty"`
	Tags       []string `json:"tags,omitempty"`

	// Source is the file the policy was read from; empty for built-ins.
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppliesTo reports whether the policy runs for operation.
func (p *Policy) AppliesTo(operation string) bool {
	if len(p.Operations) == 0 || operation == "" {
		return true
	}
	for _, op := range p.Operations {
		if strings.EqualFold(op, operation) {
			return true
		}
	}
	return false
}

// Violation is one deny entry of one policy.
type Violation struct {
	Policy string `json:"policy"`
	// Subject names the action or data source at fault, when known.
	Subject    string    `json:"subject,omitempty"`
	Message    string    `json:"message"`
	Severity   Severity  `json:"severity"`
	DetectedAt time.Time `json:"detected_at"`
}

func (v Violation) String() string {
	if v.Subject == "" {
		return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
	}
	return fmt.Sprintf("[%s] %s (%s): %s", v.Severity, v.Policy, v.Subject, v.Message)
}

// Result is the outcome of checking one package.
type Result struct {
	// Allowed is false when any blocking violation was found.
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []Violation `json:"warnings,omitempty"`
	// Errors describes policies that failed to evaluate.
	Errors            []string `json:"errors,omitempty"`
	EvaluatedPolicies []string `json:"evaluated_policies"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// Err returns a POLICY_DENIED configuration error listing the blocking
// violations, or nil when the package is allowed.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}

	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		msgs = append(msgs, v.String())
	}
	return engine.NewConfigurationError(
		fmt.Sprintf("Package denied by policy: %s", strings.Join(msgs, "; ")), nil,
	).WithCode(engine.ErrCodePolicyDenied).WithDetail("violations", len(r.Violations))
}

// Input is the document policies see as input.
type Input struct {
	Package engine.PackageSummary `json:"package"`
	Context Context               `json:"context"`
}

// Context describes the command a package is checked for.
type Context struct {
	// Operation is import, export or validate.
	Operation string            `json:"operation,omitempty"`
	Values    map[string]string `json:"values,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
