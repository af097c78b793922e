package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/dataxchange/dxp/pkg/datasource"
	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/logsink"
	"github.com/dataxchange/dxp/pkg/record"
	"github.com/dataxchange/dxp/pkg/setter"
)

var labVocab = record.NewVocabulary("LabResult", "ResultID", "Name", "Source", "Category")

func testSources(t *testing.T) []*datasource.Source {
	t.Helper()
	root := document.MustParseXML(`<import>
  <data id="results">ResultID,Name
1,Dissolved Gas</data>
  <data id="alarms">Code
A1</data>
</import>`)
	return datasource.FromElements(root, nil)
}

func newTestCompiler(t *testing.T, rec *logsink.Recorder, opts ...Option) *Compiler {
	t.Helper()
	base := []Option{
		WithSources(testSources(t)),
		WithSubjects(NewSubjects(labVocab, "labresult", "alarm")),
	}
	return New(rec.Log, append(base, opts...)...)
}

func TestCompileStatements(t *testing.T) {
	rec := &logsink.Recorder{}
	c := newTestCompiler(t, rec)

	node := document.MustParseXML(`<import into="labresult">
  <console.print>row {Name}</console.print>
  <let Name="Name" default="" />
  <let Colour="Name" />
  <unknown anything="x" />
  <warn>careful</warn>
</import>`)

	ops := c.CompileStatements(node, labVocab)

	kinds := make([]Kind, len(ops))
	for i, op := range ops {
		kinds[i] = op.Kind
	}
	want := []Kind{KindConsole, KindLet, KindConsole}
	if len(kinds) != len(want) {
		t.Fatalf("Expected kinds %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("op %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}

	if !ops[0].PerRow {
		t.Error("Expected statement console ops to be per row")
	}
	if ops[2].Severity != logsink.SeverityWarn {
		t.Errorf("Expected warn severity, got %s", ops[2].Severity)
	}

	if !rec.Contains("'Colour' is not a valid assignment attribute. Assignment skipped.") {
		t.Errorf("Expected invalid assignment warning, got %+v", rec.Entries())
	}
	if len(rec.Messages(logsink.SeverityWarn)) != 1 {
		t.Errorf("Expected exactly one warning, got %v", rec.Messages(logsink.SeverityWarn))
	}
}

func TestCompileStatements_ApplyRow(t *testing.T) {
	rec := &logsink.Recorder{}
	c := newTestCompiler(t, rec)

	node := document.MustParseXML(`<import into="labresult">
  <console.print>row {Name}</console.print>
  <let Name="Name" default="" />
  <let Category="'Gas'" />
</import>`)
	ops := c.CompileStatements(node, labVocab)

	row := &datasource.Row{Number: 1, Values: record.FromPairs("Name", "Dissolved Gas")}
	rc := NewRowContext(row, labVocab)
	console := NewConsole(rec.Log)
	for i := range ops {
		if err := ops[i].Apply(rc, console); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	if got := rc.TargetRecord.GetString("name", ""); got != "Dissolved Gas" {
		t.Errorf("Expected Name 'Dissolved Gas', got %q", got)
	}
	if got := rc.TargetRecord.GetString("category", ""); got != "Gas" {
		t.Errorf("Expected Category 'Gas', got %q", got)
	}
	if !rec.Contains("row Dissolved Gas") {
		t.Errorf("Expected interpolated console output, got %+v", rec.Entries())
	}
}

func TestCompile_ImportDiagnostics(t *testing.T) {
	tests := []struct {
		name     string
		stmt     string
		severity logsink.Severity
		message  string
	}{
		{
			name:     "missing into",
			stmt:     `<import from="results"><let Name="Name" /></import>`,
			severity: logsink.SeverityError,
			message:  "Missing into attribute. An import element must contain an 'into' attribute.",
		},
		{
			name:     "unknown source",
			stmt:     `<import into="labresult" from="nothing" />`,
			severity: logsink.SeverityError,
			message:  "Unable to determine the data set to use. 'nothing'",
		},
		{
			name:     "unknown subject",
			stmt:     `<import into="invoice" from="results" />`,
			severity: logsink.SeverityWarn,
			message:  "'invoice' is not a recognized import subject. Ignoring import operation.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &logsink.Recorder{}
			c := newTestCompiler(t, rec)

			p := c.Compile(document.MustParseXML("<instructions>" + tt.stmt + "</instructions>"))

			if len(p.Ops) != 1 || p.Ops[0].Kind != KindNop {
				t.Fatalf("Expected a single nop, got %+v", p.Ops)
			}
			if len(p.Diagnostics) != 1 {
				t.Fatalf("Expected one diagnostic, got %+v", p.Diagnostics)
			}
			d := p.Diagnostics[0]
			if d.Severity != tt.severity || d.Message != tt.message {
				t.Errorf("Expected %s %q, got %s %q", tt.severity, tt.message, d.Severity, d.Message)
			}
			if len(rec.Messages(tt.severity)) != 1 {
				t.Errorf("Expected diagnostic to be logged, got %+v", rec.Entries())
			}
		})
	}
}

func TestCompile_ImportResolvesSource(t *testing.T) {
	tests := []struct {
		name string
		stmt string
		want string
	}{
		{"from attribute", `<import into="labresult" from="ALARMS" />`, "alarms"},
		{"in attribute", `<import into="labresult" in="results" />`, "results"},
		{"default first", `<import into="LabResult" />`, "results"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCompiler(t, &logsink.Recorder{})
			p := c.Compile(document.MustParseXML("<instructions>" + tt.stmt + "</instructions>"))

			imports := p.Imports()
			if len(imports) != 1 {
				t.Fatalf("Expected one import, got %+v", p.Ops)
			}
			if imports[0].Source.ID != tt.want {
				t.Errorf("Expected source %q, got %q", tt.want, imports[0].Source.ID)
			}
			if imports[0].Vocabulary != labVocab {
				t.Error("Expected subject vocabulary to be attached")
			}
		})
	}
}

func TestCompile_Foreach(t *testing.T) {
	rec := &logsink.Recorder{}
	c := newTestCompiler(t, rec)

	p := c.Compile(document.MustParseXML(`<instructions>
  <console.log>Importing results</console.log>
  <foreach rowIn="results">
    <console.print>foreach start</console.print>
    <import into="labresult"><let Name="Name" /></import>
    <import into="alarm"><let Source="'lab'" /></import>
    <import into="invoice" />
  </foreach>
</instructions>`))

	if len(p.Ops) != 2 || p.Ops[0].Kind != KindConsole || p.Ops[1].Kind != KindForeach {
		t.Fatalf("Unexpected ops: %+v", p.Ops)
	}
	if p.Ops[0].PerRow {
		t.Error("Expected action-level console to run once")
	}

	f := p.Ops[1].Foreach
	if f.Source.ID != "results" {
		t.Errorf("Expected foreach source 'results', got %q", f.Source.ID)
	}
	imports := f.Imports()
	if len(imports) != 2 {
		t.Fatalf("Expected unknown subject to be dropped, got %d imports", len(imports))
	}
	for _, imp := range imports {
		if imp.Source != f.Source {
			t.Errorf("Expected nested import %s to share the foreach source", imp.Subject)
		}
	}
	if len(p.Imports()) != 2 {
		t.Errorf("Expected program imports to include nested imports, got %d", len(p.Imports()))
	}

	console := NewConsole(rec.Log)
	for i := range p.Ops {
		p.Ops[i].Run(console)
	}
	if !rec.Contains("Importing results") {
		t.Error("Expected action-level console output")
	}
}

func TestCompile_ForeachWithoutIn(t *testing.T) {
	rec := &logsink.Recorder{}
	c := newTestCompiler(t, rec)

	p := c.Compile(document.MustParseXML(`<instructions>
  <foreach><import into="labresult" /></foreach>
</instructions>`))

	if len(p.Ops) != 1 || p.Ops[0].Kind != KindForeach {
		t.Fatalf("Expected a foreach op, got %+v", p.Ops)
	}
	if p.Ops[0].Foreach.Source.ID != "results" {
		t.Errorf("Expected first source, got %q", p.Ops[0].Foreach.Source.ID)
	}
	if !rec.Contains("Missing 'in' attribute. Defaulting to first data element") {
		t.Errorf("Expected missing in warning, got %+v", rec.Entries())
	}
}

func TestCompile_UnknownStatementsIgnored(t *testing.T) {
	rec := &logsink.Recorder{}
	c := newTestCompiler(t, rec)

	p := c.Compile(document.MustParseXML(`<instructions><delete /><select>x</select></instructions>`))
	if len(p.Ops) != 0 {
		t.Errorf("Expected no ops, got %+v", p.Ops)
	}
	if len(rec.Entries()) != 0 {
		t.Errorf("Expected unknown statements to be silent, got %+v", rec.Entries())
	}
}

func TestCompileStatements_Eval(t *testing.T) {
	node := document.MustParseXML(`<import into="labresult">
  <let Name="Name"><eval>value.upper()</eval></let>
</import>`)

	t.Run("no factory", func(t *testing.T) {
		rec := &logsink.Recorder{}
		ops := newTestCompiler(t, rec).CompileStatements(node, labVocab)
		if len(ops) != 1 || ops[0].Evaluator != nil {
			t.Fatalf("Expected let without evaluator, got %+v", ops)
		}
		if !rec.Contains("no evaluator is available") {
			t.Errorf("Expected warning, got %+v", rec.Entries())
		}
	})

	t.Run("factory", func(t *testing.T) {
		var seen string
		factory := func(s *setter.Setter) (setter.Evaluator, error) {
			seen = s.Expression
			return func(_, _ string, v record.Value) (record.Value, error) {
				return record.String(strings.ToUpper(v.String())), nil
			}, nil
		}
		ops := newTestCompiler(t, &logsink.Recorder{}, WithEvaluators(factory)).CompileStatements(node, labVocab)
		if len(ops) != 1 || ops[0].Evaluator == nil {
			t.Fatalf("Expected let with evaluator, got %+v", ops)
		}
		if seen != "value.upper()" {
			t.Errorf("Expected factory to see the expression, got %q", seen)
		}
	})

	t.Run("invalid expression", func(t *testing.T) {
		rec := &logsink.Recorder{}
		factory := func(*setter.Setter) (setter.Evaluator, error) {
			return nil, errors.New("syntax error")
		}
		ops := newTestCompiler(t, rec, WithEvaluators(factory)).CompileStatements(node, labVocab)
		if len(ops) != 0 {
			t.Errorf("Expected let to be dropped, got %+v", ops)
		}
		if !rec.Contains("eval expression is invalid") {
			t.Errorf("Expected warning, got %+v", rec.Entries())
		}
	})
}
