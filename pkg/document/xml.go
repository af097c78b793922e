package document

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseXML reads a single root element from r. Comments and processing
// instructions are dropped; CDATA sections become character data.
func ParseXML(r io.Reader) (*Element, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = true

	var stack []*Element
	var root *Element

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse XML document: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: qualifiedName(t.Name)}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				el.Attrs = append(el.Attrs, Attr{Name: qualifiedName(a.Name), Value: a.Value})
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("failed to parse XML document: multiple root elements")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("failed to parse XML document: unexpected end element %s", t.Name.Local)
			}
			stack = stack[:len(stack)-1]

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("failed to parse XML document: no root element")
	}
	return root, nil
}

// ParseXMLString is ParseXML over a string.
func ParseXMLString(s string) (*Element, error) {
	return ParseXML(strings.NewReader(s))
}

// MustParseXML parses s and panics on error. It is meant for tests and
// package-level fixtures.
func MustParseXML(s string) *Element {
	el, err := ParseXMLString(s)
	if err != nil {
		panic(err)
	}
	return el
}

// qualifiedName drops the namespace. Dotted names such as console.print are
// plain local names in XML and pass through unchanged.
func qualifiedName(n xml.Name) string {
	return n.Local
}
