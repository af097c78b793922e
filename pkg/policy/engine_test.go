package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	eng, err := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func loadPackage(t *testing.T, xml string) *engine.Package {
	t.Helper()

	pkg, err := engine.LoadPackage(document.MustParseXML(xml), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return pkg
}

func violationLines(vs []Violation) []string {
	var out []string
	for _, v := range vs {
		out = append(out, v.String())
	}
	return out
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
		if !p.Builtin {
			t.Errorf("Expected %s to be marked built-in", p.Name)
		}
	}

	want := []string{"non-breaking-shared-dependency", "provider-required", "remote-source-scheme"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Unexpected built-in policies (-want +got):\n%s", diff)
	}
}

func TestEvaluate_Builtins(t *testing.T) {
	tests := []struct {
		name         string
		xml          string
		wantAllowed  bool
		wantViolated []string
		wantWarnings []string
	}{
		{
			name: "clean package",
			xml: `<import>
  <Companies provider="locations"><instructions /></Companies>
  <Sites provider="locations" dependsOn="Companies"><instructions /></Sites>
  <data source="sftp://files.example.com/sites.csv" />
  <data source="file:///var/data/sites.csv" />
  <data source="exports/sites.csv" />
  <data>inline</data>
</import>`,
			wantAllowed: true,
		},
		{
			name: "unsupported scheme",
			xml: `<import>
  <Sites provider="locations"><instructions /></Sites>
  <data id="remote" source="HTTPS://example.com/sites.csv" />
</import>`,
			wantViolated: []string{
				"[error] remote-source-scheme (remote): Data source remote uses unsupported scheme 'https'",
			},
		},
		{
			name: "shared dependency that does not break",
			xml: `<import>
  <Companies provider="locations" breakOnError="false"><instructions /></Companies>
  <Regions provider="locations" dependsOn="Companies"><instructions /></Regions>
  <Labs provider="labresults" dependsOn="Companies"><instructions /></Labs>
  <data>x</data>
</import>`,
			wantAllowed: true,
			wantWarnings: []string{
				"[warning] non-breaking-shared-dependency (Companies): Action Companies is a dependency of 2 actions but does not break on error",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t)
			result, err := eng.Evaluate(context.Background(), loadPackage(t, tt.xml), "import", nil)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}

			if result.Allowed != tt.wantAllowed {
				t.Errorf("Expected allowed=%v, got %v", tt.wantAllowed, result.Allowed)
			}
			if diff := cmp.Diff(tt.wantViolated, violationLines(result.Violations)); diff != "" {
				t.Errorf("Unexpected violations (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantWarnings, violationLines(result.Warnings)); diff != "" {
				t.Errorf("Unexpected warnings (-want +got):\n%s", diff)
			}
			if len(result.EvaluatedPolicies) != 3 || len(result.Errors) != 0 {
				t.Errorf("Expected 3 clean evaluations, got %v %v", result.EvaluatedPolicies, result.Errors)
			}

			err = result.Err()
			if tt.wantAllowed && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
			if !tt.wantAllowed && engine.ErrorCode(err) != engine.ErrCodePolicyDenied {
				t.Errorf("Expected POLICY_DENIED, got: %v", err)
			}
		})
	}
}

func TestEvaluateSummary_ProviderRequired(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.EvaluateSummary(context.Background(), &Input{
		Package: engine.PackageSummary{
			Name: "import",
			Actions: []engine.ActionSummary{
				{Name: "Sites", Provider: "  ", BreakOnError: true, DependsOn: []string{}},
			},
			DataSources: []engine.DataSourceSummary{{ID: "data[0]", Source: "inline"}},
		},
		Context: Context{Operation: "validate", Timestamp: time.Now()},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{"[error] provider-required (Sites): Action Sites does not name a provider"}
	if diff := cmp.Diff(want, violationLines(result.Violations)); diff != "" {
		t.Errorf("Unexpected violations (-want +got):\n%s", diff)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	pkg := loadPackage(t, `<import>
  <Sites provider="locations"><instructions /></Sites>
  <data id="remote" source="ftp://example.com/sites.csv" />
</import>`)

	if err := eng.DisablePolicy("remote-source-scheme"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	result, err := eng.Evaluate(context.Background(), pkg, "import", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !result.Allowed || len(result.EvaluatedPolicies) != 2 {
		t.Errorf("Expected a disabled policy to be skipped, got %+v", result)
	}

	if err := eng.EnablePolicy("remote-source-scheme"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	result, err = eng.Evaluate(context.Background(), pkg, "import", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Allowed {
		t.Error("Expected the enabled policy to deny the package")
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
	if _, err := eng.GetPolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestLoadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	writePolicyFile(t, dir, "remote-only.rego", denyLocalSources)

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	p, err := eng.GetPolicy("remote-only")
	if err != nil {
		t.Fatalf("Expected loaded policy, got: %v", err)
	}
	if p.Builtin {
		t.Error("Expected a file policy not to be built-in")
	}

	pkg := loadPackage(t, `<import>
  <Sites provider="locations"><instructions /></Sites>
  <data id="sites">x</data>
</import>`)

	result, err := eng.Evaluate(context.Background(), pkg, "import", map[string]string{"env": "test"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := []string{"[warning] remote-only: Data source sites is inline"}
	if diff := cmp.Diff(want, violationLines(result.Warnings)); diff != "" {
		t.Errorf("Unexpected warnings (-want +got):\n%s", diff)
	}

	writePolicyFile(t, dir, "broken.rego", "package broken\ndeny[msg] {")
	if err := eng.LoadPolicies(context.Background(), []string{filepath.Join(dir, "broken.rego")}); err == nil {
		t.Error("Expected compile error for broken policy")
	}
}

func TestEvaluate_PolicyOperations(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	writePolicyFile(t, dir, "import-only.rego", "# severity: error\n# operations: import\n"+denyLocalSources)

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	pkg := loadPackage(t, `<import>
  <Sites provider="locations"><instructions /></Sites>
  <data id="sites">x</data>
</import>`)

	tests := []struct {
		operation string
		allowed   bool
	}{
		{"import", false},
		{"IMPORT", false},
		{"validate", true},
	}

	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), pkg, tt.operation, nil)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if result.Allowed != tt.allowed {
				t.Errorf("Expected allowed=%v, got %+v", tt.allowed, result)
			}
		})
	}
}

func TestReplaceLoaded(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{Name: "custom", Rego: denyLocalSources, Severity: SeverityWarning, Enabled: true}
	if err := eng.replaceLoaded(ctx, []Policy{custom}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(eng.ListPolicies()) != 4 {
		t.Fatalf("Expected built-ins plus custom, got %d", len(eng.ListPolicies()))
	}

	broken := Policy{Name: "broken", Rego: "package broken\ndeny[msg] {", Enabled: true}
	if err := eng.replaceLoaded(ctx, []Policy{broken}); err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("custom"); err != nil {
		t.Error("Expected a failed reload to keep the previous policies")
	}

	if err := eng.replaceLoaded(ctx, nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(eng.ListPolicies()) != 3 {
		t.Errorf("Expected only built-ins after reload, got %d", len(eng.ListPolicies()))
	}
}

func TestWatch_ReloadsChangedPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	writePolicyFile(t, dir, "first.rego", "package first\ndeny[msg] { false; msg := \"\" }")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}
	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "second.rego"), []byte(denyLocalSources), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := eng.GetPolicy("second"); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Expected the new policy to be loaded by the watcher")
}

func TestReplaceLoaded_KeepsDisabled(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{Name: "custom", Rego: denyLocalSources, Severity: SeverityError, Enabled: true}
	if err := eng.replaceLoaded(ctx, []Policy{custom}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := eng.DisablePolicy("custom"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if err := eng.replaceLoaded(ctx, []Policy{custom}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	p, err := eng.GetPolicy("custom")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if p.Enabled {
		t.Error("Expected the disabled policy to stay disabled after a reload")
	}

	if err := eng.EnablePolicy("custom"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := eng.replaceLoaded(ctx, []Policy{custom}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if p, _ := eng.GetPolicy("custom"); !p.Enabled {
		t.Error("Expected the re-enabled policy to stay enabled")
	}
}
