package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/dataxchange/dxp/pkg/compiler"
	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/logsink"
	"github.com/dataxchange/dxp/pkg/record"
)

var thingVocab = record.NewVocabulary("Thing", "Name", "Status", "Label")

// callLog records the order in which fake providers were invoked.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeImporter stores the target record of every row.
type fakeImporter struct {
	log     *callLog
	err     error
	panics  bool
	rowErr  func(rc *compiler.RowContext) error
	records []*record.Bag
}

func (f *fakeImporter) Subjects() compiler.Subjects {
	return compiler.NewSubjects(thingVocab, "thing")
}

func (f *fakeImporter) Import(ctx context.Context, req *ImportRequest) error {
	if f.log != nil {
		f.log.add(req.Action.Name)
	}
	if f.panics {
		panic("provider exploded")
	}
	if f.err != nil {
		return f.err
	}
	return req.Run(ctx, RowHandlerFunc(func(ctx context.Context, imp *compiler.Import, rc *compiler.RowContext) error {
		if f.rowErr != nil {
			if err := f.rowErr(rc); err != nil {
				return err
			}
		}
		f.records = append(f.records, rc.TargetRecord.Clone())
		return nil
	}))
}

// fakeExporter writes a fixed payload.
type fakeExporter struct {
	payload string
	err     error
}

func (f *fakeExporter) Export(ctx context.Context, req *ExportRequest) error {
	if f.err != nil {
		return f.err
	}
	_, err := io.WriteString(req.Writer, f.payload)
	return err
}

// fakeRecorder keeps what the executor persists.
type fakeRecorder struct {
	mu       sync.Mutex
	runs     []RunStatus
	outcomes []*ActionOutcome
}

func (r *fakeRecorder) SaveRun(ctx context.Context, run *RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run.Status)
	return nil
}

func (r *fakeRecorder) SaveOutcome(ctx context.Context, runID string, outcome *ActionOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	return nil
}

// newTestRegistry registers the importer under "fake" and a failing importer
// under "failing".
func newTestRegistry(t *testing.T, imp *fakeImporter, calls *callLog) *Registry {
	t.Helper()

	r := NewRegistry()
	r.MustRegister("fake", func() (interface{}, error) { return imp, nil })
	r.MustRegister("failing", func() (interface{}, error) {
		return &fakeImporter{log: calls, err: errors.New("target unavailable")}, nil
	})
	r.MustRegister("exporter", func() (interface{}, error) {
		return &fakeExporter{payload: "a,b\n"}, nil
	})
	return r
}

func loadTestPackage(t *testing.T, xml string) *Package {
	t.Helper()

	pkg, err := LoadPackage(document.MustParseXML(xml), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return pkg
}

func mustXML(t *testing.T, s string) *document.Element {
	t.Helper()

	el, err := document.ParseXMLString(s)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return el
}

func messages(rec *logsink.Recorder) []string {
	var out []string
	for _, e := range rec.Entries() {
		out = append(out, e.Message)
	}
	return out
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func assertOrder(t *testing.T, got []string, want ...string) {
	t.Helper()

	last := -1
	for _, w := range want {
		i := indexOf(got, w)
		if i < 0 {
			t.Fatalf("Expected message %q in %q", w, got)
		}
		if i < last {
			t.Fatalf("Expected %q after %q in %q", w, want[0], got)
		}
		last = i
	}
}

func (p *Package) mustAction(t *testing.T, name string) *Action {
	t.Helper()
	a := p.Action(name)
	if a == nil {
		t.Fatalf("Expected action %s", name)
	}
	return a
}

func fmtStatuses(r *RunReport) string {
	var parts []string
	for _, o := range r.Outcomes {
		parts = append(parts, fmt.Sprintf("%s=%s", o.Action, o.Status))
	}
	return strings.Join(parts, " ")
}
