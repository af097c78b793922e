package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestActions(defs ...string) []*Action {
	var out []*Action
	for _, def := range defs {
		parts := strings.SplitN(def, ":", 2)
		a := &Action{Name: parts[0], Provider: "fake", BreakOnError: true}
		if len(parts) == 2 && parts[1] != "" {
			a.Dependencies = strings.Split(parts[1], ",")
		}
		out = append(out, a)
	}
	return out
}

func TestGraph_Levels(t *testing.T) {
	actions := newTestActions("D:B,C", "A", "B:A", "C:A")

	g, err := NewGraph(actions)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := [][]string{{"A"}, {"B", "C"}, {"D"}}
	if diff := cmp.Diff(want, g.Levels()); diff != "" {
		t.Errorf("Unexpected levels (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"B", "C"}, g.Dependents("a")); diff != "" {
		t.Errorf("Unexpected dependents (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"B", "C"}, g.Dependencies("D")); diff != "" {
		t.Errorf("Unexpected dependencies (-want +got):\n%s", diff)
	}
}

func TestGraph_Cycle(t *testing.T) {
	_, err := NewGraph(newTestActions("A:C", "B:A", "C:B"))
	if err == nil {
		t.Fatal("Expected cycle error")
	}
	if ErrorCode(err) != ErrCodeDependencyCycle {
		t.Errorf("Expected DEPENDENCY_CYCLE, got: %v", err)
	}

	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("Expected EngineError, got %T", err)
	}
	path, ok := ee.Details["path"].([]string)
	if !ok || len(path) != 4 || path[0] != path[3] {
		t.Errorf("Expected closed cycle path, got %v", ee.Details["path"])
	}
}

func TestGraph_ToDOT(t *testing.T) {
	actions := newTestActions("A", "B:A")
	actions[1].BreakOnError = false

	g, err := NewGraph(actions)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	dot := g.ToDOT(actions)
	for _, want := range []string{
		"digraph Package {",
		`"B" -> "A";`,
		"cluster_level_1",
		`"B" [label="B\nfake", style="dashed,rounded"]`,
		`"A" [label="A\nfake", style="rounded"]`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q:\n%s", want, dot)
		}
	}
}
