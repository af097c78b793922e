package compiler

import (
	"fmt"
	"strings"

	"github.com/dataxchange/dxp/pkg/datasource"
	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/logsink"
	"github.com/dataxchange/dxp/pkg/record"
	"github.com/dataxchange/dxp/pkg/setter"
)

// EvaluatorFactory builds the evaluator for a let that declares an <eval>
// expression.
type EvaluatorFactory func(s *setter.Setter) (setter.Evaluator, error)

// Subjects maps import subjects (the into attribute) to their vocabulary.
// Keys are lower case.
type Subjects map[string]*record.Vocabulary

// NewSubjects maps every name in names to vocab.
func NewSubjects(vocab *record.Vocabulary, names ...string) Subjects {
	s := make(Subjects, len(names))
	for _, n := range names {
		s[strings.ToLower(n)] = vocab
	}
	return s
}

// Merge returns a copy of s with the entries of other added.
func (s Subjects) Merge(other Subjects) Subjects {
	out := make(Subjects, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Lookup returns the vocabulary for subject, ignoring case.
func (s Subjects) Lookup(subject string) (*record.Vocabulary, bool) {
	v, ok := s[strings.ToLower(strings.TrimSpace(subject))]
	return v, ok
}

// Diagnostic is a problem found while compiling. The statement it concerns
// was dropped or compiled to a no-op.
type Diagnostic struct {
	Severity  logsink.Severity
	Statement string
	Message   string
}

// Program is the compiled form of an instructions element.
type Program struct {
	Ops         []Op
	Diagnostics []Diagnostic
}

// Imports returns every import of the program, including those nested in
// foreach statements, in document order.
func (p *Program) Imports() []*Import {
	if p == nil {
		return nil
	}
	var out []*Import
	for _, op := range p.Ops {
		switch op.Kind {
		case KindImport:
			out = append(out, op.Import)
		case KindForeach:
			out = append(out, op.Foreach.Imports()...)
		}
	}
	return out
}

// Compiler compiles statements for one action.
type Compiler struct {
	log        logsink.LogFunc
	subjects   Subjects
	sources    []*datasource.Source
	evaluators EvaluatorFactory

	diagnostics []Diagnostic
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithSubjects sets the import subjects the compiler accepts.
func WithSubjects(s Subjects) Option {
	return func(c *Compiler) { c.subjects = s }
}

// WithSources sets the data sources import and foreach statements resolve
// against.
func WithSources(sources []*datasource.Source) Option {
	return func(c *Compiler) { c.sources = sources }
}

// WithEvaluators sets the factory used for <eval> expressions.
func WithEvaluators(f EvaluatorFactory) Option {
	return func(c *Compiler) { c.evaluators = f }
}

// New returns a Compiler that reports problems to log.
func New(log logsink.LogFunc, opts ...Option) *Compiler {
	c := &Compiler{log: logsink.OrNop(log)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Compiler) report(severity logsink.Severity, stmt, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.diagnostics = append(c.diagnostics, Diagnostic{Severity: severity, Statement: stmt, Message: msg})
	c.log(severity, msg)
}

// CompileStatements compiles the children of node as row operations.
// Console statements interpolate the row. A let is kept only when its target
// is in vocab; otherwise it is dropped with a warning. Unknown statements are
// ignored.
func (c *Compiler) CompileStatements(node *document.Element, vocab *record.Vocabulary) []Op {
	var ops []Op

	for _, stmt := range node.Elements() {
		name := stmt.LocalName()

		if sev, ok := consoleSeverity(name); ok {
			ops = append(ops, Op{Kind: KindConsole, Severity: sev, Text: stmt.Value(), PerRow: true})
			continue
		}

		if name != "let" {
			continue
		}

		s, err := setter.Parse(stmt)
		if err != nil {
			c.report(logsink.SeverityWarn, name, "%v. Assignment skipped.", err)
			continue
		}

		if vocab == nil || !vocab.Contains(s.Target) {
			c.report(logsink.SeverityWarn, name, "'%s' is not a valid assignment attribute. Assignment skipped.", s.Target)
			continue
		}

		op := Op{Kind: KindLet, Setter: s}
		if s.Expression != "" {
			if c.evaluators == nil {
				c.report(logsink.SeverityWarn, name, "'%s' declares an eval expression but no evaluator is available. Expression ignored.", s.Target)
			} else {
				eval, err := c.evaluators(s)
				if err != nil {
					c.report(logsink.SeverityWarn, name, "'%s' eval expression is invalid: %v. Assignment skipped.", s.Target, err)
					continue
				}
				op.Evaluator = eval
			}
		}
		ops = append(ops, op)
	}

	return ops
}

// Compile compiles an action's instructions. Console statements run once,
// import and foreach statements resolve their data source and subject.
func (c *Compiler) Compile(instructions *document.Element) *Program {
	c.diagnostics = nil
	p := &Program{}

	for _, stmt := range instructions.Elements() {
		name := stmt.LocalName()

		if sev, ok := consoleSeverity(name); ok {
			p.Ops = append(p.Ops, Op{Kind: KindConsole, Severity: sev, Text: stmt.Value()})
			continue
		}

		switch name {
		case "import":
			p.Ops = append(p.Ops, c.compileImport(stmt, nil))
		case "foreach":
			p.Ops = append(p.Ops, c.compileForeach(stmt))
		}
	}

	p.Diagnostics = c.diagnostics
	return p
}

func nop(reason string) Op {
	return Op{Kind: KindNop, Text: reason}
}

// compileImport compiles an import statement. A nil source means the
// statement's own from/in attribute selects it.
func (c *Compiler) compileImport(stmt *document.Element, source *datasource.Source) Op {
	into := strings.TrimSpace(stmt.AttrOr("into", ""))
	if into == "" {
		c.report(logsink.SeverityError, "import", "Missing into attribute. An import element must contain an 'into' attribute.")
		return nop("missing into")
	}

	if source == nil {
		from, _ := stmt.AttrFold("from", "in")
		source = c.resolveSource(from)
		if source == nil {
			c.report(logsink.SeverityError, "import", "Unable to determine the data set to use. '%s'", from)
			return nop("unresolved data source")
		}
	}

	vocab, ok := c.subjects.Lookup(into)
	if !ok {
		c.report(logsink.SeverityWarn, "import", "'%s' is not a recognized import subject. Ignoring import operation.", into)
		return nop("unknown subject")
	}

	return Op{
		Kind: KindImport,
		Import: &Import{
			Subject:    into,
			Vocabulary: vocab,
			Source:     source,
			Ops:        c.CompileStatements(stmt, vocab),
			Element:    stmt,
		},
	}
}

func (c *Compiler) compileForeach(stmt *document.Element) Op {
	in, ok := stmt.AttrFold("in", "rowIn")
	if !ok {
		c.report(logsink.SeverityWarn, "foreach", "Missing 'in' attribute. Defaulting to first data element")
	}

	source := c.resolveSource(in)
	if source == nil {
		c.report(logsink.SeverityError, "foreach", "Unable to determine the data set to use. '%s'", in)
		return nop("unresolved data source")
	}

	f := &Foreach{Source: source}
	for _, child := range stmt.Elements() {
		name := child.LocalName()
		if sev, ok := consoleSeverity(name); ok {
			f.Ops = append(f.Ops, Op{Kind: KindConsole, Severity: sev, Text: child.Value()})
			continue
		}
		if name == "import" {
			if op := c.compileImport(child, source); op.Kind == KindImport {
				f.Ops = append(f.Ops, op)
			}
		}
	}

	return Op{Kind: KindForeach, Foreach: f}
}

// resolveSource matches id against the source IDs. An empty id selects the
// first source.
func (c *Compiler) resolveSource(id string) *datasource.Source {
	if strings.TrimSpace(id) == "" {
		if len(c.sources) == 0 {
			return nil
		}
		return c.sources[0]
	}
	return datasource.Find(c.sources, id)
}
