// Package document provides the read-only element tree that packages,
// actions and statements are expressed in. A tree can be parsed from XML or
// YAML; the rest of the engine only sees Elements.
package document

import (
	"strings"
)

// Attr is a single named attribute.
type Attr struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Element is a named node with ordered attributes, ordered children and
// character data.
type Element struct {
	Name     string     `json:"name"`
	Attrs    []Attr     `json:"attrs,omitempty"`
	Children []*Element `json:"children,omitempty"`
	Text     string     `json:"text,omitempty"`
}

// New returns an element with the given name and attribute pairs.
func New(name string, attrs ...string) *Element {
	e := &Element{Name: name}
	for i := 0; i+1 < len(attrs); i += 2 {
		e.Attrs = append(e.Attrs, Attr{Name: attrs[i], Value: attrs[i+1]})
	}
	return e
}

// Append adds children and returns e for chaining.
func (e *Element) Append(children ...*Element) *Element {
	e.Children = append(e.Children, children...)
	return e
}

// WithText sets the character data and returns e for chaining.
func (e *Element) WithText(text string) *Element {
	e.Text = text
	return e
}

// LocalName returns the lower-cased element name used for statement dispatch.
func (e *Element) LocalName() string {
	return strings.ToLower(e.Name)
}

// Attr returns the value of the attribute with exactly this name.
func (e *Element) Attr(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrFold returns the first attribute whose name matches any of names,
// ignoring case.
func (e *Element) AttrFold(names ...string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, n := range names {
		for _, a := range e.Attrs {
			if strings.EqualFold(a.Name, n) {
				return a.Value, true
			}
		}
	}
	return "", false
}

// AttrOr returns the attribute value or def when it is absent.
func (e *Element) AttrOr(name, def string) string {
	if v, ok := e.Attr(name); ok {
		return v
	}
	return def
}

// SetAttr replaces or adds an attribute.
func (e *Element) SetAttr(name, value string) {
	for i := range e.Attrs {
		if e.Attrs[i].Name == name {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
}

// Child returns the first child with the given name, or nil.
func (e *Element) Child(name string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns the children whose name matches any of names,
// ignoring case, in document order.
func (e *Element) ChildrenNamed(names ...string) []*Element {
	if e == nil {
		return nil
	}
	var out []*Element
	for _, c := range e.Children {
		for _, n := range names {
			if strings.EqualFold(c.Name, n) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Elements returns all children in document order.
func (e *Element) Elements() []*Element {
	if e == nil {
		return nil
	}
	return e.Children
}

// Value returns the character data with surrounding whitespace removed.
func (e *Element) Value() string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.Text)
}

// Walk visits e and all of its descendants depth first.
func (e *Element) Walk(fn func(*Element) bool) {
	if e == nil || !fn(e) {
		return
	}
	for _, c := range e.Children {
		c.Walk(fn)
	}
}
