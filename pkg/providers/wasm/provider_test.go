package wasm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/engine"
	"github.com/dataxchange/dxp/pkg/logsink"
)

func TestReadOutput(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		wantErr  string
		accepted int
		logs     []string
	}{
		{
			name: "events and done",
			output: `{"type":"EVENT","data":{"level":"warn","message":"row 2 looks odd"}}
debug output
{"type":"DONE","data":{"accepted":2,"message":"stored"}}
`,
			accepted: 2,
			logs:     []string{"warn:row 2 looks odd", "info:debug output", "info:stored"},
		},
		{
			name:    "error message",
			output:  `{"type":"ERROR","data":{"code":"BAD_UNIT","message":"unit missing"}}` + "\n",
			wantErr: "BAD_UNIT: unit missing",
		},
		{
			name:    "no done",
			output:  `{"type":"EVENT","data":{"level":"info","message":"hi"}}` + "\n",
			wantErr: "without a DONE message",
		},
		{
			name:     "unexpected host message",
			output:   `{"type":"BEGIN"}` + "\n" + `{"type":"DONE"}` + "\n",
			accepted: 0,
			logs:     []string{"warn:unexpected BEGIN message from module"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &logsink.Recorder{}
			done, err := readOutput(strings.NewReader(tt.output), rec.Log)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Expected error containing %q, got: %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if done.Accepted != tt.accepted {
				t.Errorf("Expected %d accepted, got %d", tt.accepted, done.Accepted)
			}

			var logs []string
			for _, e := range rec.Entries() {
				logs = append(logs, e.Severity.String()+":"+e.Message)
			}
			if strings.Join(logs, "|") != strings.Join(tt.logs, "|") {
				t.Errorf("Unexpected logs %q, want %q", logs, tt.logs)
			}
		})
	}
}

func TestNew_InvalidModule(t *testing.T) {
	m := &Manifest{ID: "broken", Module: "x.wasm", Subjects: map[string][]string{"x": {"A"}}}
	if _, err := New(context.Background(), m, []byte("fake wasm module")); err == nil {
		t.Error("Expected compile error for invalid module")
	}

	m.Checksum = checksum([]byte("something else"))
	_, err := New(context.Background(), m, emptyModule)
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("Expected checksum mismatch, got: %v", err)
	}
}

func writeProvider(t *testing.T, dir string, module []byte) {
	t.Helper()

	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "silent.wasm"), module, 0644); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	manifest := "id: silent\nmodule: silent.wasm\nsubjects:\n  reading: [SensorID, Value]\n"
	if err := os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0644); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func TestHost_SilentModuleFailsAction(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeProvider(t, filepath.Join(root, "silent"), emptyModule)

	host := NewHost()
	defer host.Close(ctx)

	if err := host.ScanDirectory(ctx, root); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if ids := host.IDs(); len(ids) != 1 || ids[0] != "silent" {
		t.Fatalf("Unexpected providers %v", ids)
	}
	if _, err := host.LoadFile(ctx, filepath.Join(root, "silent", "manifest.yaml")); err == nil {
		t.Error("Expected duplicate load to fail")
	}

	registry := engine.NewRegistry()
	if err := host.Register(registry); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	pkg, err := engine.LoadPackage(document.MustParseXML(`<Readings provider="silent">
  <instructions>
    <import into="reading">
      <let SensorID="id" />
      <let Value="v" />
      <let Unit="u" />
    </import>
  </instructions>
  <data>id,v
s-1,4</data>
</Readings>`), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	rec := &logsink.Recorder{}
	report, err := engine.NewExecutor(registry, engine.WithLog(rec.Log)).Import(ctx, pkg)
	if err == nil {
		t.Fatal("Expected the action to fail")
	}
	if !strings.Contains(err.Error(), "module exited without a DONE message") {
		t.Errorf("Unexpected error: %v", err)
	}
	if report.Status != engine.RunStatusFailed {
		t.Errorf("Expected failed run, got %s", report.Status)
	}
	if !rec.Contains("'Unit' is not a valid assignment attribute") {
		t.Error("Expected fields outside the manifest subject to be rejected")
	}
}
