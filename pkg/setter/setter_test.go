package setter

import (
	"errors"
	"strings"
	"testing"

	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/record"
)

func assign(t *testing.T, s *Setter, src *record.Bag) string {
	t.Helper()
	dst := record.New()
	if err := s.Assign(src, dst, nil); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	return dst.GetString(s.Target, "<unset>")
}

func TestParse(t *testing.T) {
	s := MustParse(`<let default="Unknown" Status="flag">
		<values>
			<add text="TRUE" value="Yes" />
			<add text="NO" value="No" />
		</values>
		<values>
			<add text="MAYBE" value="Perhaps" />
		</values>
	</let>`)

	if s.Target != "Status" || s.Source != "flag" || s.Default != "Unknown" {
		t.Errorf("Unexpected rule: %s", s)
	}
	if len(s.Tables()) != 1 {
		t.Fatalf("Expected tables with the same scope to accumulate, got %d", len(s.Tables()))
	}
	if len(s.Table(GlobalScope).Entries) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(s.Table(GlobalScope).Entries))
	}
}

func TestParse_MissingAssignment(t *testing.T) {
	if _, err := Parse(document.New("let", "default", "x")); err == nil {
		t.Error("Expected error when only a default is declared")
	}
}

func TestParse_DefaultIsOptional(t *testing.T) {
	s := MustParse(`<let Name="name" />`)
	if s.Default != "" {
		t.Errorf("Expected empty default, got %q", s.Default)
	}
}

func TestAssign_LookupTable(t *testing.T) {
	s := MustParse(`<let Status="flag" default="Unknown">
		<values>
			<add text="TRUE" value="Yes" />
			<add text="NO" value="No" />
		</values>
	</let>`)

	tests := []struct {
		flag string
		want string
	}{
		{"TRUE", "Yes"},
		{"true", "Yes"},
		{"NO", "No"},
		{"sometimes", "Unknown"},
		{"", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			got := assign(t, s, record.FromPairs("flag", tt.flag))
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestAssign_FirstMatchWins(t *testing.T) {
	s := MustParse(`<let Out="in">
		<case><when source="a" value="first" /></case>
		<case><when source="A" value="second" /></case>
	</let>`)

	if got := assign(t, s, record.FromPairs("in", "a")); got != "first" {
		t.Errorf("Expected first, got %q", got)
	}
}

func TestAssign_Literal(t *testing.T) {
	s := MustParse(`<let BankName="'Bank A'" default="x" />`)

	for _, src := range []*record.Bag{record.New(), record.FromPairs("'Bank A'", "nope", "BankName", "other")} {
		if got := assign(t, s, src); got != "Bank A" {
			t.Errorf("Expected literal Bank A, got %q", got)
		}
	}
}

func TestAssign_FieldFallsBackToDefault(t *testing.T) {
	s := MustParse(`<let Region="region" default="Unassigned" />`)

	if got := assign(t, s, record.New()); got != "Unassigned" {
		t.Errorf("Expected default for absent field, got %q", got)
	}

	src := record.New()
	_ = src.Set("region", record.Null())
	if got := assign(t, s, src); got != "Unassigned" {
		t.Errorf("Expected default for null field, got %q", got)
	}

	if got := assign(t, s, record.FromPairs("REGION", "East")); got != "East" {
		t.Errorf("Expected East, got %q", got)
	}
}

func TestAssign_Template(t *testing.T) {
	s := MustParse(`<let target="{first} {last}" default="" />`)

	got := assign(t, s, record.FromPairs("first", "Jane", "last", ""))
	if got != "Jane " {
		t.Errorf("Expected %q, got %q", "Jane ", got)
	}
}

func TestAssign_TemplateScopedTables(t *testing.T) {
	s := MustParse(`<let Name="{Bank Phase} ({Serial Number})" default="?">
		<case source="Serial Number">
			<when source="" value="none" />
		</case>
	</let>`)

	got := assign(t, s, record.FromPairs("Bank Phase", "A", "Serial Number", ""))
	if got != "A (none)" {
		t.Errorf("Expected 'A (none)', got %q", got)
	}

	// an unmatched value in a scoped table becomes the default
	got = assign(t, s, record.FromPairs("Bank Phase", "B", "Serial Number", "SN-9"))
	if got != "B (?)" {
		t.Errorf("Expected 'B (?)', got %q", got)
	}
}

func TestAssign_GlobalBeforeScoped(t *testing.T) {
	s := MustParse(`<let Out="in" default="D">
		<case><when source="raw" value="mid" /></case>
		<case source="in"><when source="mid" value="final" /></case>
	</let>`)

	if got := assign(t, s, record.FromPairs("in", "raw")); got != "final" {
		t.Errorf("Expected global table then field table, got %q", got)
	}
}

func TestAssign_ElseOverridesDefault(t *testing.T) {
	s := MustParse(`<let HaveMotor="Equipment Type" default="unset">
		<case>
			<when source="Motor" value="true" />
			<else value="false" />
		</case>
	</let>`)

	if got := assign(t, s, record.FromPairs("Equipment Type", "Pump")); got != "false" {
		t.Errorf("Expected else value, got %q", got)
	}
}

func TestAssign_Evaluator(t *testing.T) {
	s := MustParse(`<let Code="code" />`)
	dst := record.New()

	err := s.Assign(record.FromPairs("code", "abc"), dst, func(source, target string, v record.Value) (record.Value, error) {
		if source != "code" || target != "Code" {
			t.Errorf("Unexpected evaluator arguments %q %q", source, target)
		}
		return record.String(strings.ToUpper(v.String())), nil
	})
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if got := dst.GetString("Code", ""); got != "ABC" {
		t.Errorf("Expected ABC, got %q", got)
	}

	boom := errors.New("boom")
	err = s.Assign(record.New(), record.New(), func(string, string, record.Value) (record.Value, error) {
		return record.Null(), boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected evaluator error, got: %v", err)
	}
}

func TestAssign_BoundTargetRejectsUnknownField(t *testing.T) {
	s := MustParse(`<let Colour="c" />`)
	dst := record.NewBound(record.NewVocabulary("LabResult", "Name"))

	if err := s.Assign(record.New(), dst, nil); err == nil {
		t.Error("Expected error writing outside the vocabulary")
	}
}

func TestParse_EvalChild(t *testing.T) {
	s := MustParse(`<let Name="name"><eval> value.upper() </eval></let>`)
	if s.Expression != "value.upper()" {
		t.Errorf("Expected eval expression, got %q", s.Expression)
	}
}
