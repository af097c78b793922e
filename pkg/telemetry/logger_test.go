package telemetry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dataxchange/dxp/pkg/logsink"
)

func newFileLogger(t *testing.T, level string) (*Logger, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dxp.log")
	logger, err := NewLogger(LoggingConfig{Level: level, Format: "json", Output: path})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return logger, path
}

func readLogLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}

	var lines []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Invalid log line %q: %v", line, err)
		}
		lines = append(lines, entry)
	}
	return lines
}

func TestLogger_ComponentFromContext(t *testing.T) {
	logger, path := newFileLogger(t, "info")

	ctx := logger.WithRunID("run-1").WithContext(context.Background())
	zl := FromContext(ctx).NewComponentLogger("cli").Zerolog()
	zl.Info().Msg("dxp started")
	zl.Debug().Msg("below level")

	lines := readLogLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d: %v", len(lines), lines)
	}

	got := map[string]interface{}{
		"component": lines[0]["component"],
		"run_id":    lines[0]["run_id"],
		"message":   lines[0]["message"],
		"level":     lines[0]["level"],
	}
	want := map[string]interface{}{
		"component": "cli",
		"run_id":    "run-1",
		"message":   "dxp started",
		"level":     "info",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Unexpected log line (-want +got):\n%s", diff)
	}
}

func TestLogger_Sink(t *testing.T) {
	logger, path := newFileLogger(t, "debug")

	sink := logger.Sink()
	sink(logsink.SeverityWarn, "Row 3 skipped")
	sink(logsink.SeverityError, "LoadSites aborted")

	lines := readLogLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0]["level"] != "warn" || lines[1]["level"] != "error" {
		t.Errorf("Unexpected levels %v, %v", lines[0]["level"], lines[1]["level"])
	}
}
