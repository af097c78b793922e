package providers

import (
	"context"
	"testing"

	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/engine"
	"github.com/dataxchange/dxp/pkg/logsink"
)

// runImport loads xml and runs it with the built-in providers writing to sink.
func runImport(t *testing.T, xml string, sink *MemorySink) (*engine.RunReport, *logsink.Recorder) {
	t.Helper()

	pkg, err := engine.LoadPackage(document.MustParseXML(xml), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	registry := engine.NewRegistry()
	if err := Register(registry, sink); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	rec := &logsink.Recorder{}
	report, err := engine.NewExecutor(registry, engine.WithLog(rec.Log)).Import(context.Background(), pkg)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Status != engine.RunStatusSucceeded {
		t.Fatalf("Expected run to succeed, got %s: %v", report.Status, rec.Entries())
	}
	return report, rec
}

// recordLine renders a record as subject|key|parent for comparisons.
func recordLine(r *Record) string {
	return r.Subject + "|" + r.Key + "|" + r.Parent
}

func recordLines(records []*Record) []string {
	var out []string
	for _, r := range records {
		out = append(out, recordLine(r))
	}
	return out
}
