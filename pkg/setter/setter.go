// Package setter implements the let assignment rule: one target field, a
// source expression, a default and optional lookup tables.
//
// Two equivalent table shapes are accepted:
//
//	<let Status="flag" default="Unknown">
//	  <values>
//	    <add text="TRUE" value="Yes" />
//	    <add text="NO" value="No" />
//	  </values>
//	</let>
//
//	<let Name="{Bank Phase} ({Serial Number})" default="">
//	  <case source="Serial Number">
//	    <when source="" value="n/a" />
//	  </case>
//	</let>
//
// A let may also carry an <eval> child holding an expression for the
// evaluator attached at compile time.
package setter

import (
	"fmt"
	"strings"

	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/interpolate"
	"github.com/dataxchange/dxp/pkg/record"
)

const (
	// GlobalScope is the scope of tables that apply to every resolved value.
	GlobalScope = "*"

	defaultAttr = "default"
)

// Evaluator inspects or rewrites the final value before it is assigned.
// source is the rule's source expression and target its target field.
type Evaluator func(source, target string, value record.Value) (record.Value, error)

// Identity is the default Evaluator.
func Identity(_, _ string, v record.Value) (record.Value, error) {
	return v, nil
}

// Setter is a compiled let rule.
type Setter struct {
	Target  string
	Source  string
	Default string

	// Expression is the text of an <eval> child, if any.
	Expression string

	tables []*Table
}

// Parse builds a Setter from a let element. The target is the first
// attribute not named default; its value is the source expression.
func Parse(el *document.Element) (*Setter, error) {
	s := &Setter{}

	found := false
	for _, a := range el.Attrs {
		if strings.EqualFold(a.Name, defaultAttr) {
			continue
		}
		s.Target, s.Source = a.Name, a.Value
		found = true
		break
	}
	if !found {
		return nil, fmt.Errorf("let statement has no assignment attribute")
	}

	s.Default, _ = el.AttrFold(defaultAttr)

	if ev := el.ChildrenNamed("eval"); len(ev) > 0 {
		s.Expression = ev[0].Value()
	}

	// the values shape wins when both are present
	if groups := el.ChildrenNamed("values"); len(groups) > 0 {
		for _, g := range groups {
			scope, ok := g.AttrFold("source", "text")
			if !ok {
				scope = GlobalScope
			}
			t := s.table(scope)
			for _, item := range g.ChildrenNamed("add") {
				t.add(item.AttrOr("text", ""), item.AttrOr("value", ""))
			}
		}
		return s, nil
	}

	for _, g := range el.ChildrenNamed("case") {
		scope, ok := g.AttrFold("source")
		if !ok {
			scope = GlobalScope
		}
		t := s.table(scope)
		for _, item := range g.Elements() {
			switch item.LocalName() {
			case "when":
				t.add(item.AttrOr("source", ""), item.AttrOr("value", ""))
			case "else":
				v := item.AttrOr("value", "")
				t.Else = &v
			}
		}
	}

	return s, nil
}

// MustParse parses a let element given as XML and panics on error.
func MustParse(xml string) *Setter {
	s, err := Parse(document.MustParseXML(xml))
	if err != nil {
		panic(err)
	}
	return s
}

// table returns the table for scope, creating it when needed. Tables that
// share a scope accumulate into one.
func (s *Setter) table(scope string) *Table {
	if t := s.Table(scope); t != nil {
		return t
	}
	t := &Table{Scope: scope}
	s.tables = append(s.tables, t)
	return t
}

// Table returns the lookup table for scope, or nil. Scopes are matched
// case-insensitively like field names.
func (s *Setter) Table(scope string) *Table {
	for _, t := range s.tables {
		if strings.EqualFold(t.Scope, scope) {
			return t
		}
	}
	return nil
}

// Tables returns the lookup tables in declaration order.
func (s *Setter) Tables() []*Table {
	return s.tables
}

// IsTemplate reports whether the source expression contains tokens.
func (s *Setter) IsTemplate() bool {
	return interpolate.HasTokens(s.Source)
}

// IsLiteral reports whether the source expression is a quoted literal.
func (s *Setter) IsLiteral() bool {
	return !s.IsTemplate() && interpolate.IsLiteral(s.Source)
}

// Assign resolves the source expression against src and writes the result
// to dst[Target]. A nil evaluator is the identity.
//
// The global table is consulted first, then the table scoped to the field
// (the source expression, or each token of a template). A table that exists
// is authoritative: a value it does not list becomes the default.
func (s *Setter) Assign(src, dst *record.Bag, eval Evaluator) error {
	if eval == nil {
		eval = Identity
	}

	var value record.Value

	if !s.IsTemplate() {
		if interpolate.IsLiteral(s.Source) {
			value = record.String(interpolate.Literal(s.Source))
		} else {
			value = src.GetOr(s.Source, record.String(s.Default))
		}
		value = s.constrain(GlobalScope, value)
		value = s.constrain(s.Source, value)
	} else {
		text, err := interpolate.Interpolate(s.Source, src, func(token string, v record.Value) (record.Value, error) {
			v = s.constrain(GlobalScope, v)
			return s.constrain(token, v), nil
		})
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", s.Target, err)
		}
		value = record.String(text)
	}

	value, err := eval(s.Source, s.Target, value)
	if err != nil {
		return fmt.Errorf("failed to evaluate %s: %w", s.Target, err)
	}

	return dst.Set(s.Target, value)
}

func (s *Setter) constrain(scope string, v record.Value) record.Value {
	t := s.Table(scope)
	if t == nil {
		return v
	}
	if replacement, ok := t.Lookup(v.String()); ok {
		return record.String(replacement)
	}
	if t.Else != nil {
		return record.String(*t.Else)
	}
	return record.String(s.Default)
}

// String renders the rule for diagnostics.
func (s *Setter) String() string {
	return fmt.Sprintf("let %s=%q default=%q", s.Target, s.Source, s.Default)
}
