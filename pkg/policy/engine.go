package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/dataxchange/dxp/pkg/engine"
	"github.com/dataxchange/dxp/pkg/telemetry"
)

// Engine holds the compiled policies and evaluates package summaries
// against them. It is safe for concurrent use; Watch swaps the file based
// policies while evaluations run.
type Engine struct {
	logger zerolog.Logger
	loader *Loader
	store  storage.Store

	mu       sync.RWMutex
	policies map[string]*prepared
	// disabled survives reloads, so a policy turned off stays off when its
	// file changes.
	disabled map[string]bool
}

type prepared struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine returns an engine with the built-in policies compiled.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	logger = logger.With().Str("component", "policy-engine").Logger()
	e := &Engine{
		logger:   logger,
		loader:   NewLoader(logger),
		store:    inmem.New(),
		policies: make(map[string]*prepared),
		disabled: make(map[string]bool),
	}

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		p, err := e.prepare(context.Background(), &builtins[i])
		if err != nil {
			return nil, fmt.Errorf("built-in policy %s: %w", builtins[i].Name, err)
		}
		e.policies[p.policy.Name] = p
	}
	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies compiled")

	return e, nil
}

// prepare compiles the deny rule of policy into a ready query.
func (e *Engine) prepare(ctx context.Context, policy *Policy) (*prepared, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return nil, fmt.Errorf("policy %s is empty", policy.Name)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	if e.disabled[policy.Name] {
		policy.Enabled = false
	}
	return &prepared{policy: policy, query: query}, nil
}

// Evaluate checks pkg before operation and records every violation and
// warning with the telemetry in ctx.
func (e *Engine) Evaluate(ctx context.Context, pkg *engine.Package, operation string, values map[string]string) (*Result, error) {
	if pkg == nil {
		return nil, fmt.Errorf("package is required")
	}

	result, err := e.EvaluateSummary(ctx, &Input{
		Package: pkg.Summary(),
		Context: Context{Operation: operation, Values: values, Timestamp: time.Now()},
	})
	if err != nil {
		return nil, err
	}

	for _, list := range [][]Violation{result.Violations, result.Warnings} {
		for _, v := range list {
			telemetry.RecordPolicyViolation(ctx, pkg.Name, v.Policy, string(v.Severity), v.Message)
		}
	}
	return result, nil
}

// EvaluateSummary runs every enabled policy that applies to the input's
// operation, in name order. A policy that fails to evaluate is reported in
// Result.Errors and does not block.
func (e *Engine) EvaluateSummary(ctx context.Context, input *Input) (*Result, error) {
	start := time.Now()

	doc, err := toDocument(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedPolicies: []string{}}
	for _, name := range e.sortedNames() {
		p := e.policies[name]
		if !p.policy.Enabled || !p.policy.AppliesTo(input.Context.Operation) {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		found, err := p.violations(ctx, doc)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Str("package", input.Package.Name).Msg("Policy evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("Policy %s evaluation failed: %v", name, err))
			continue
		}
		for _, v := range found {
			if !v.Severity.Blocks() {
				result.Warnings = append(result.Warnings, v)
				continue
			}
			result.Allowed = false
			result.Violations = append(result.Violations, v)
		}
	}

	result.EvaluatedAt = time.Now()
	result.Duration = result.EvaluatedAt.Sub(start)

	e.logger.Debug().
		Str("package", input.Package.Name).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policies evaluated")

	return result, nil
}

// toDocument converts input into the plain JSON shape Rego sees.
func toDocument(input *Input) (interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var doc interface{}
	err = json.Unmarshal(data, &doc)
	return doc, err
}

// violations evaluates the deny set, ordered by subject then message.
func (p *prepared) violations(ctx context.Context, input interface{}) ([]Violation, error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var out []Violation
	for _, r := range rs {
		if len(r.Expressions) == 0 {
			continue
		}
		entries, _ := r.Expressions[0].Value.([]interface{})
		for _, entry := range entries {
			out = append(out, p.violation(entry))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Message < out[j].Message
	})
	return out, nil
}

// violation reads one deny entry: a message string, or an object with
// message, severity and subject keys.
func (p *prepared) violation(entry interface{}) Violation {
	v := Violation{Policy: p.policy.Name, Severity: p.policy.Severity, DetectedAt: time.Now()}

	switch d := entry.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		v.Message, _ = d["message"].(string)
		v.Subject, _ = d["subject"].(string)
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprint(entry)
	}
	return v
}

// LoadPolicies compiles the policy files under paths and adds them to the
// engine. A policy that fails to compile aborts the load.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loaded, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range loaded {
		p, err := e.prepare(ctx, &loaded[i])
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", loaded[i].Name, err)
		}
		e.policies[p.policy.Name] = p
	}

	e.logger.Info().Int("count", len(loaded)).Msg("Policies loaded")
	return nil
}

// Watch reloads the policies under paths whenever a policy file changes,
// until ctx is done.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.replaceLoaded(ctx, policies)
	})
}

// replaceLoaded swaps every file based policy for policies and keeps the
// built-ins. It changes nothing when one of the policies fails to compile.
func (e *Engine) replaceLoaded(ctx context.Context, policies []Policy) error {
	next := make(map[string]*prepared, len(policies))
	for i := range policies {
		p, err := e.prepareLocked(ctx, &policies[i])
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		next[p.policy.Name] = p
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, p := range e.policies {
		if p.policy.Builtin {
			next[name] = p
		}
	}
	e.policies = next
	return nil
}

func (e *Engine) prepareLocked(ctx context.Context, policy *Policy) (*prepared, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.prepare(ctx, policy)
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return p.policy, nil
}

// ListPolicies returns a copy of every policy, sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		out = append(out, *e.policies[name].policy)
	}
	return out
}

// EnablePolicy turns a policy back on.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy turns a policy off. It stays off across reloads.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}

	p.policy.Enabled = enabled
	if enabled {
		delete(e.disabled, name)
	} else {
		e.disabled[name] = true
	}
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")
	return nil
}

// sortedNames returns the policy names in order. Callers hold e.mu.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
