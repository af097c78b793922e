// Package script evaluates the Starlark expressions attached to let
// statements through an <eval> child:
//
//	<let Name="name">
//	  <eval>value.strip().title()</eval>
//	</let>
//
// The expression sees value (the resolved value), source (the rule's
// source expression) and target (the target field), and its result replaces
// the value.
package script

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/dataxchange/dxp/pkg/compiler"
	"github.com/dataxchange/dxp/pkg/record"
	"github.com/dataxchange/dxp/pkg/setter"
)

const defaultMaxSteps = 1_000_000

// Evaluator compiles and runs eval expressions. Parsed expressions are
// cached by source text.
type Evaluator struct {
	timeout  time.Duration
	maxSteps uint64

	mu    sync.Mutex
	cache map[string]syntax.Expr
}

// NewEvaluator creates an evaluator. A zero timeout defaults to one second.
func NewEvaluator(timeout time.Duration) *Evaluator {
	if timeout == 0 {
		timeout = time.Second
	}
	return &Evaluator{
		timeout:  timeout,
		maxSteps: defaultMaxSteps,
		cache:    make(map[string]syntax.Expr),
	}
}

// Factory adapts the evaluator for the statement compiler.
func (e *Evaluator) Factory() compiler.EvaluatorFactory {
	return func(s *setter.Setter) (setter.Evaluator, error) {
		return e.Compile(s.Expression)
	}
}

// Compile parses expr and returns a setter.Evaluator running it.
func (e *Evaluator) Compile(expr string) (setter.Evaluator, error) {
	parsed, err := e.parse(expr)
	if err != nil {
		return nil, err
	}

	return func(source, target string, v record.Value) (record.Value, error) {
		return e.run(parsed, source, target, v)
	}, nil
}

func (e *Evaluator) parse(expr string) (syntax.Expr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if parsed, ok := e.cache[expr]; ok {
		return parsed, nil
	}

	parsed, err := syntax.ParseExpr("eval", expr, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression: %w", err)
	}
	e.cache[expr] = parsed
	return parsed, nil
}

func (e *Evaluator) run(expr syntax.Expr, source, target string, v record.Value) (record.Value, error) {
	thread := &starlark.Thread{
		Name: "eval",
		Print: func(_ *starlark.Thread, msg string) {
			// output is suppressed
		},
	}
	thread.SetMaxExecutionSteps(e.maxSteps)

	timer := time.AfterFunc(e.timeout, func() {
		thread.Cancel(fmt.Sprintf("execution timeout after %v", e.timeout))
	})
	defer timer.Stop()

	env := starlark.StringDict{
		"value":    toStarlarkValue(v),
		"source":   starlark.String(source),
		"target":   starlark.String(target),
		"coalesce": starlark.NewBuiltin("coalesce", builtinCoalesce),
		"number":   starlark.NewBuiltin("number", builtinNumber),
	}

	out, err := starlark.EvalExpr(thread, expr, env)
	if err != nil {
		return record.Null(), fmt.Errorf("starlark evaluation failed: %w", err)
	}

	return fromStarlarkValue(out)
}

// toStarlarkValue converts a record value to a Starlark value.
func toStarlarkValue(v record.Value) starlark.Value {
	switch v.Kind() {
	case record.KindNumber:
		f, _ := v.Float()
		if f == float64(int64(f)) {
			return starlark.MakeInt64(int64(f))
		}
		return starlark.Float(f)
	case record.KindString:
		return starlark.String(v.String())
	default:
		return starlark.None
	}
}

// fromStarlarkValue converts an expression result to a record value.
func fromStarlarkValue(v starlark.Value) (record.Value, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return record.Null(), nil
	case starlark.String:
		return record.String(string(val)), nil
	case starlark.Bool:
		return record.String(strconv.FormatBool(bool(val))), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return record.Null(), fmt.Errorf("integer too large")
		}
		return record.Number(float64(i)), nil
	case starlark.Float:
		return record.Number(float64(val)), nil
	default:
		return record.Null(), fmt.Errorf("unsupported starlark result type: %s", v.Type())
	}
}

// builtinCoalesce returns the first argument that is neither None nor "".
func builtinCoalesce(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	for _, a := range args {
		if a == starlark.None {
			continue
		}
		if s, ok := a.(starlark.String); ok && s == "" {
			continue
		}
		return a, nil
	}
	return starlark.None, nil
}

// builtinNumber parses its argument as a float, returning None when it is
// not numeric.
func builtinNumber(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	switch val := x.(type) {
	case starlark.Int, starlark.Float:
		return val, nil
	case starlark.String:
		f, err := strconv.ParseFloat(string(val), 64)
		if err != nil {
			return starlark.None, nil
		}
		return starlark.Float(f), nil
	}
	return starlark.None, nil
}
