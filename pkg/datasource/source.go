// Package datasource reads the tabular payload of data elements.
//
//	<data id="sites" content="System.Data.Csv" source="inline" options="TrimSpaces">
//	  <![CDATA[
//	    Site,Region
//	    North,East
//	  ]]>
//	</data>
//
// The source attribute selects where rows come from: the element's own
// character data (inline, the default), a local file (a bare path or
// file://) or a remote file (sftp://user@host:port/path).
package datasource

import (
	"context"
	"fmt"
	"strings"

	"github.com/dataxchange/dxp/pkg/document"
)

const (
	// ContentCSV is the default content type.
	ContentCSV = "System.Data.Csv"

	// LocationInline reads the element's character data.
	LocationInline = "inline"

	// ElementName is the name of data source elements in a package.
	ElementName = "data"
)

// Options control how a payload is split into rows.
type Options struct {
	// TrimSpaces trims every header and value.
	TrimSpaces bool

	// SkipBlankLines drops lines that are empty or hold only delimiters.
	SkipBlankLines bool

	// Delimiter separates fields.
	Delimiter rune

	// Raw is the options attribute as declared.
	Raw string
}

// DefaultOptions returns the options used when none are declared.
func DefaultOptions() Options {
	return Options{TrimSpaces: true, SkipBlankLines: true, Delimiter: ','}
}

// ParseOptions reads an options attribute such as
// "TrimSpaces=false, Delimiter=semicolon". Unknown options are kept in Raw
// and otherwise ignored.
func ParseOptions(s string) Options {
	opts := DefaultOptions()
	opts.Raw = s

	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
		name, value, hasValue := strings.Cut(part, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)

		switch name {
		case "trimspaces":
			opts.TrimSpaces = parseFlag(value, hasValue)
		case "skipblanklines":
			opts.SkipBlankLines = parseFlag(value, hasValue)
		case "delimiter":
			if d, ok := parseDelimiter(value); ok {
				opts.Delimiter = d
			}
		}
	}
	return opts
}

func parseFlag(value string, hasValue bool) bool {
	if !hasValue {
		return true
	}
	switch strings.ToLower(value) {
	case "0", "f", "false", "n", "no", "off":
		return false
	}
	return true
}

func parseDelimiter(value string) (rune, bool) {
	switch strings.ToLower(value) {
	case "comma":
		return ',', true
	case "semicolon":
		return ';', true
	case "tab":
		return '\t', true
	case "pipe":
		return '|', true
	}
	if r := []rune(value); len(r) == 1 {
		return r[0], true
	}
	return 0, false
}

// Source is one data element.
type Source struct {
	// ID names the source for import from/in attributes. It may be empty.
	ID string

	// Content is the declared format. Every content type is read as CSV.
	Content string

	// Location is the source attribute: inline, a path or a URL.
	Location string

	Options Options

	// Payload is the trimmed character data of the element.
	Payload string

	// Index is the position of the element among the package's sources.
	Index int

	resolver *Resolver
}

// FromElement builds a Source from a data element. A nil resolver reads
// local paths relative to the working directory and uses default SFTP
// settings.
func FromElement(el *document.Element, index int, resolver *Resolver) *Source {
	s := &Source{
		ID:       el.AttrOr("id", ""),
		Content:  el.AttrOr("content", ContentCSV),
		Location: el.AttrOr("source", LocationInline),
		Options:  ParseOptions(el.AttrOr("options", "")),
		Payload:  el.Value(),
		Index:    index,
		resolver: resolver,
	}
	return s
}

// FromElements builds the sources for every data child of root.
func FromElements(root *document.Element, resolver *Resolver) []*Source {
	var out []*Source
	for i, el := range root.ChildrenNamed(ElementName) {
		out = append(out, FromElement(el, i, resolver))
	}
	return out
}

// Name identifies the source in log messages.
func (s *Source) Name() string {
	if s.ID != "" {
		return s.ID
	}
	return fmt.Sprintf("data[%d]", s.Index)
}

// IsInline reports whether rows come from the element itself.
func (s *Source) IsInline() bool {
	return s.Location == "" || strings.EqualFold(s.Location, LocationInline)
}

// Rows opens the source and returns a reader positioned before the first
// data row.
func (s *Source) Rows(ctx context.Context) (*Reader, error) {
	r := s.resolver
	if r == nil {
		r = &Resolver{}
	}

	rc, err := r.Open(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("failed to open data source %s: %w", s.Name(), err)
	}

	reader, err := newReader(rc, s.Options)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to read data source %s: %w", s.Name(), err)
	}
	return reader, nil
}

// Find returns the source whose ID matches id case-insensitively.
func Find(sources []*Source, id string) *Source {
	for _, s := range sources {
		if strings.EqualFold(s.ID, id) {
			return s
		}
	}
	return nil
}
