package compiler

import (
	"fmt"

	"github.com/dataxchange/dxp/pkg/datasource"
	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/logsink"
	"github.com/dataxchange/dxp/pkg/record"
	"github.com/dataxchange/dxp/pkg/setter"
)

// Kind identifies the variant held by an Op.
type Kind int

const (
	// KindNop does nothing. Text holds the reason it was compiled.
	KindNop Kind = iota

	// KindConsole logs Text with Severity.
	KindConsole

	// KindLet assigns a target field with Setter.
	KindLet

	// KindImport reads rows from a data source into target records.
	KindImport

	// KindForeach reads one data source and feeds every row to its imports.
	KindForeach
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNop:
		return "nop"
	case KindConsole:
		return "console"
	case KindLet:
		return "let"
	case KindImport:
		return "import"
	case KindForeach:
		return "foreach"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Op is one compiled statement.
type Op struct {
	Kind Kind

	// Severity and Text describe console operations.
	Severity logsink.Severity
	Text     string

	// PerRow marks console operations that interpolate the row's fields.
	PerRow bool

	Setter    *setter.Setter
	Evaluator setter.Evaluator

	Import  *Import
	Foreach *Foreach
}

// RowContext is the per-row bundle handed to row operations.
type RowContext struct {
	// Row is the raw data row.
	Row *datasource.Row

	// Source holds the row's fields by header name.
	Source *record.Bag

	// Target is the provider's object for the row, if it keeps one.
	Target interface{}

	// TargetRecord receives assignments.
	TargetRecord *record.Bag
}

// NewRowContext returns a context for row with an empty target record bound
// to vocab.
func NewRowContext(row *datasource.Row, vocab *record.Vocabulary) *RowContext {
	rc := &RowContext{Row: row, TargetRecord: record.NewBound(vocab)}
	if row != nil {
		rc.Source = row.Values
	} else {
		rc.Source = record.New()
	}
	return rc
}

// Run executes a zero-argument operation. Row operations are ignored.
func (op *Op) Run(console *Console) {
	if op.Kind == KindConsole && !op.PerRow {
		console.Write(op.Severity, op.Text)
	}
}

// Apply executes a row operation against rc.
func (op *Op) Apply(rc *RowContext, console *Console) error {
	switch op.Kind {
	case KindConsole:
		if op.PerRow {
			console.WriteRow(op.Severity, op.Text, rc.Source)
		} else {
			console.Write(op.Severity, op.Text)
		}
	case KindLet:
		return op.Setter.Assign(rc.Source, rc.TargetRecord, op.Evaluator)
	}
	return nil
}

// Import is a compiled import statement.
type Import struct {
	// Subject is the into attribute as declared.
	Subject string

	// Vocabulary lists the fields the subject accepts.
	Vocabulary *record.Vocabulary

	// Source is the data source rows are read from. Imports nested in a
	// foreach share the foreach's source.
	Source *datasource.Source

	// Ops are the row operations in document order.
	Ops []Op

	Element *document.Element
}

// NewRowContext returns a fresh context for row bound to the import's
// vocabulary.
func (imp *Import) NewRowContext(row *datasource.Row) *RowContext {
	return NewRowContext(row, imp.Vocabulary)
}

// Apply runs the row operations in order and stops at the first failure.
func (imp *Import) Apply(rc *RowContext, console *Console) error {
	for i := range imp.Ops {
		if err := imp.Ops[i].Apply(rc, console); err != nil {
			return err
		}
	}
	return nil
}

// Setters returns the setters of the import's let operations.
func (imp *Import) Setters() []*setter.Setter {
	var out []*setter.Setter
	for _, op := range imp.Ops {
		if op.Kind == KindLet {
			out = append(out, op.Setter)
		}
	}
	return out
}

// Foreach is a compiled foreach statement.
type Foreach struct {
	Source *datasource.Source

	// Ops holds console operations, run once before the rows, and import
	// operations, applied to every row.
	Ops []Op
}

// Imports returns the imports of the foreach in document order.
func (f *Foreach) Imports() []*Import {
	var out []*Import
	for _, op := range f.Ops {
		if op.Kind == KindImport {
			out = append(out, op.Import)
		}
	}
	return out
}
