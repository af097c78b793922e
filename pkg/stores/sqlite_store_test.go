package stores

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/engine"
	"github.com/dataxchange/dxp/pkg/providers"
	"github.com/dataxchange/dxp/pkg/record"
	"github.com/dataxchange/dxp/pkg/telemetry"
)

// setupTestStore creates a migrated SQLite store in a temporary directory
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "dxp.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newReport(id string, started time.Time) *engine.RunReport {
	return &engine.RunReport{
		ID:        id,
		Kind:      engine.RunKindImport,
		Package:   "import",
		Status:    engine.RunStatusRunning,
		StartedAt: started,
		Context:   map[string]string{"env": "test"},
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("expected migrate to fail before Init")
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate in-memory store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// A second run has nothing to apply.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("expected repeated migration to succeed: %v", err)
	}

	tables := []string{"runs", "action_outcomes", "events", "records"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestRunLifecycle tests saving, reading, listing and deleting runs
func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	started := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	report := newReport("run-001", started)
	if err := store.SaveRun(ctx, report); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	running, err := store.GetRun(ctx, report.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if running.Status != engine.RunStatusRunning {
		t.Errorf("expected status running, got %s", running.Status)
	}
	if running.CompletedAt != nil || running.Error != nil {
		t.Error("expected a running run to have no completion or error")
	}
	if running.Context == nil || *running.Context != `{"env":"test"}` {
		t.Errorf("unexpected context %v", running.Context)
	}
	if !running.StartedAt.Equal(started) {
		t.Errorf("expected started %v, got %v", started, running.StartedAt)
	}

	outcome := &engine.ActionOutcome{
		Action:    "Locations",
		Provider:  "locations",
		Status:    engine.OutcomeFailed,
		StartedAt: started,
		Stats:     engine.RowStats{Rows: 4, Records: 3, Failed: 1},
		Error:     "target unavailable",
	}
	if err := store.SaveOutcome(ctx, report.ID, outcome); err != nil {
		t.Fatalf("failed to save outcome: %v", err)
	}

	// Saving the same action again replaces the first outcome.
	outcome.Status = engine.OutcomeCompleted
	outcome.Error = ""
	outcome.CompletedAt = started.Add(2 * time.Second)
	outcome.Duration = 2 * time.Second
	if err := store.SaveOutcome(ctx, report.ID, outcome); err != nil {
		t.Fatalf("failed to save outcome: %v", err)
	}
	if err := store.SaveOutcome(ctx, report.ID, &engine.ActionOutcome{
		Action: "Sites", Provider: "locations", Status: engine.OutcomeSkipped,
	}); err != nil {
		t.Fatalf("failed to save outcome: %v", err)
	}

	completed := started.Add(3 * time.Second)
	report.Status = engine.RunStatusPartial
	report.CompletedAt = &completed
	report.Duration = 3 * time.Second
	report.Error = "Sites was skipped"
	if err := store.SaveRun(ctx, report); err != nil {
		t.Fatalf("failed to update run: %v", err)
	}

	run, err := store.GetRun(ctx, report.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Status != engine.RunStatusPartial {
		t.Errorf("expected status partial, got %s", run.Status)
	}
	if run.DurationMS != 3000 {
		t.Errorf("expected duration 3000ms, got %d", run.DurationMS)
	}
	if run.Error == nil || *run.Error != "Sites was skipped" {
		t.Errorf("unexpected error %v", run.Error)
	}
	if run.CompletedAt == nil || !run.CompletedAt.Equal(completed) {
		t.Errorf("expected completed %v, got %v", completed, run.CompletedAt)
	}

	if len(run.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(run.Outcomes))
	}
	first := run.Outcomes[0]
	if first.Action != "Locations" || first.Status != engine.OutcomeCompleted || first.Error != nil {
		t.Errorf("expected the replaced outcome, got %+v", first)
	}
	if first.Rows != 4 || first.Records != 3 || first.FailedRows != 1 || first.DurationMS != 2000 {
		t.Errorf("unexpected outcome stats %+v", first)
	}
	if run.Outcomes[1].StartedAt != nil {
		t.Error("expected a skipped outcome to have no start time")
	}

	if err := store.DeleteRun(ctx, report.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	if _, err := store.GetRun(ctx, report.ID); err == nil {
		t.Error("expected error when getting deleted run")
	}
	if err := store.DeleteRun(ctx, report.ID); err == nil {
		t.Error("expected error when deleting a missing run")
	}

	outcomes, err := store.ListOutcomes(ctx, report.ID)
	if err != nil {
		t.Fatalf("failed to list outcomes: %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("expected outcomes to be deleted with the run, got %d", len(outcomes))
	}
}

// TestListRuns tests ordering and pagination
func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := store.SaveRun(ctx, newReport(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("failed to save run: %v", err)
		}
	}

	tests := []struct {
		name          string
		limit, offset int
		want          []string
	}{
		{"all", 10, 0, []string{"run-c", "run-b", "run-a"}},
		{"first page", 2, 0, []string{"run-c", "run-b"}},
		{"second page", 2, 2, []string{"run-a"}},
		{"past the end", 2, 4, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := store.ListRuns(ctx, tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("failed to list runs: %v", err)
			}
			var got []string
			for _, r := range runs {
				got = append(got, r.ID)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("unexpected runs (-want +got):\n%s", diff)
			}
		})
	}
}

// TestEventOperations tests event logging and filters
func TestEventOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	runID := "run-001"
	action := "Locations"
	events := []*Event{
		{RunID: &runID, Type: telemetry.EventTypeRunStarted, Level: EventLevelInfo, Message: "Run started", Timestamp: now},
		{RunID: &runID, Action: &action, Type: telemetry.EventTypeActionFailed, Level: EventLevelError, Message: "Action failed", Timestamp: now.Add(time.Second)},
		{Type: telemetry.EventTypePolicyViolation, Level: EventLevelWarning, Message: "Policy violation"},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected event ID to be assigned")
		}
	}
	if events[2].Timestamp.IsZero() {
		t.Error("expected a missing timestamp to be filled in")
	}

	errLevel := EventLevelError
	tests := []struct {
		name   string
		filter EventFilter
		want   []string
	}{
		{"all", EventFilter{}, []string{"Action failed", "Policy violation", "Run started"}},
		{"by run", EventFilter{RunID: &runID}, []string{"Action failed", "Run started"}},
		{"by action", EventFilter{Action: &action}, []string{"Action failed"}},
		{"by level", EventFilter{Level: &errLevel}, []string{"Action failed"}},
		{"paged", EventFilter{Limit: 1, Offset: 1}, []string{"Policy violation"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.GetEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("failed to get events: %v", err)
			}
			var messages []string
			for _, e := range got {
				messages = append(messages, e.Message)
			}
			if diff := cmp.Diff(tt.want, messages); diff != "" {
				t.Errorf("unexpected events (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEventSubscriber(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var failures []error
	subscriber := store.EventSubscriber(ctx, func(err error) { failures = append(failures, err) })
	subscriber(telemetry.Event{
		Timestamp: time.Now(),
		Type:      telemetry.EventTypeActionFailed,
		RunID:     "run-001",
		Action:    "Sites",
		Message:   "Action Sites failed",
		Level:     telemetry.EventLevelError,
		Data:      map[string]interface{}{"reason": "timeout"},
	})

	if len(failures) != 0 {
		t.Fatalf("unexpected subscriber failures: %v", failures)
	}

	events, err := store.GetEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.RunID == nil || *e.RunID != "run-001" || e.Action == nil || *e.Action != "Sites" {
		t.Errorf("unexpected event identity %+v", e)
	}
	if e.Level != EventLevelError || e.Type != telemetry.EventTypeActionFailed {
		t.Errorf("unexpected event classification %+v", e)
	}
	if e.Details == nil || *e.Details != `{"reason":"timeout"}` {
		t.Errorf("unexpected details %v", e.Details)
	}
}

// TestRecords tests storing and selecting provider records
func TestRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if got, err := store.Records(ctx, providers.RecordQuery{Subject: "site", Latest: true}); err != nil || len(got) != 0 {
		t.Fatalf("expected no records before any import, got %v, %v", got, err)
	}

	for _, r := range []*providers.Record{
		{RunID: "run-1", Action: "Sites", Subject: "Site", Key: "Acme/West/Denver", Parent: "Acme/West",
			Fields: record.FromPairs("CompanyName", "Acme", "SiteName", "Denver")},
		{RunID: "run-2", Action: "Sites", Subject: "site", Key: "Acme/East/Boston", Parent: "Acme/East",
			Fields: record.FromPairs("CompanyName", "Acme", "SiteName", "Boston")},
		{RunID: "run-2", Action: "Labs", Subject: "labresult", Key: "17"},
		{RunID: "run-3", Action: "Labs", Subject: "labresult", Key: "18"},
	} {
		if err := store.Put(ctx, r); err != nil {
			t.Fatalf("failed to put record: %v", err)
		}
		if r.CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be set")
		}
	}

	tests := []struct {
		name  string
		query providers.RecordQuery
		want  []string
	}{
		{"every run", providers.RecordQuery{Subject: "SITE"}, []string{"run-1:Acme/West/Denver", "run-2:Acme/East/Boston"}},
		{"one run", providers.RecordQuery{Subject: "site", RunID: "run-1"}, []string{"run-1:Acme/West/Denver"}},
		{"latest", providers.RecordQuery{Subject: "site", Latest: true}, []string{"run-2:Acme/East/Boston"}},
		{"latest per subject", providers.RecordQuery{Subject: "labresult", Latest: true}, []string{"run-3:18"}},
		{"run wins over latest", providers.RecordQuery{Subject: "labresult", RunID: "run-2", Latest: true}, []string{"run-2:17"}},
		{"unknown subject", providers.RecordQuery{Subject: "alarm"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := store.Records(ctx, tt.query)
			if err != nil {
				t.Fatalf("failed to list records: %v", err)
			}
			var got []string
			for _, r := range records {
				got = append(got, r.RunID+":"+r.Key)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("unexpected records (-want +got):\n%s", diff)
			}
		})
	}

	records, err := store.Records(ctx, providers.RecordQuery{Subject: "site", RunID: "run-1"})
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	denver := records[0]
	if denver.Subject != "site" || denver.Parent != "Acme/West" || denver.Action != "Sites" {
		t.Errorf("unexpected record %+v", denver)
	}
	if diff := cmp.Diff([]string{"CompanyName", "SiteName"}, denver.Fields.Names()); diff != "" {
		t.Errorf("unexpected field order (-want +got):\n%s", diff)
	}
	if denver.Fields.GetString("SiteName", "") != "Denver" {
		t.Errorf("unexpected fields %s", denver.Fields)
	}

	labs, err := store.Records(ctx, providers.RecordQuery{Subject: "labresult", RunID: "run-2"})
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if labs[0].Fields != nil {
		t.Errorf("expected nil fields, got %s", labs[0].Fields)
	}

	if _, err := store.Records(ctx, providers.RecordQuery{}); err == nil {
		t.Error("expected error for missing subject")
	}
}

func TestWithTx(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	insert := func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, kind, package, status, started_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			"run-tx", "import", "import", "running", now, now, now)
		return err
	}

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insert(tx); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the callback error, got: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-tx"); err == nil {
		t.Error("expected the failed transaction to be rolled back")
	}

	if err := store.WithTx(ctx, insert); err != nil {
		t.Fatalf("failed to commit transaction: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-tx"); err != nil {
		t.Fatalf("failed to get committed run: %v", err)
	}
}

// TestOutcomeRequiresRun tests the outcome foreign key
func TestOutcomeRequiresRun(t *testing.T) {
	store := setupTestStore(t)

	err := store.SaveOutcome(context.Background(), "missing", &engine.ActionOutcome{
		Action: "A", Provider: "fake", Status: engine.OutcomeCompleted,
	})
	if err == nil {
		t.Error("expected foreign key violation for an unknown run")
	}
}

// TestImportExportRoundTrip runs an import into the store and exports the
// stored records again.
func TestImportExportRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	registry := engine.NewRegistry()
	if err := providers.Register(registry, store); err != nil {
		t.Fatalf("failed to register providers: %v", err)
	}

	pkg, err := engine.LoadPackage(document.MustParseXML(`<import>
  <Sites provider="locations">
    <instructions>
      <import into="site">
        <let CompanyName="Company" />
        <let RegionName="Region" />
        <let SiteName="Site" />
      </import>
    </instructions>
  </Sites>
  <data>Company,Region,Site
Acme,West,Denver
Acme,East,Boston</data>
</import>`), nil)
	if err != nil {
		t.Fatalf("failed to load package: %v", err)
	}

	executor := engine.NewExecutor(registry, engine.WithRecorder(store))
	report, err := executor.Import(ctx, pkg)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	run, err := store.GetRun(ctx, report.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Status != engine.RunStatusSucceeded {
		t.Errorf("expected stored status succeeded, got %s", run.Status)
	}
	if len(run.Outcomes) != 1 || run.Outcomes[0].Records != 2 {
		t.Errorf("unexpected stored outcomes %+v", run.Outcomes)
	}

	exportPkg, err := engine.LoadExportPackage(document.MustParseXML(`<export provider="csv">
  <instructions>
    <export subject="site" run="latest">
      <let Site="SiteName" />
      <let Region="RegionName" />
    </export>
  </instructions>
</export>`))
	if err != nil {
		t.Fatalf("failed to load export package: %v", err)
	}

	var out bytes.Buffer
	if err := executor.Export(ctx, exportPkg, &out); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	want := "Site,Region\nBoston,East\nDenver,West\n"
	if out.String() != want {
		t.Errorf("expected %q, got %q", want, out.String())
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	kinds := make([]string, 0, len(runs))
	for _, r := range runs {
		kinds = append(kinds, r.Kind)
	}
	if !strings.Contains(strings.Join(kinds, ","), engine.RunKindExport) {
		t.Errorf("expected the export run to be recorded, got %v", kinds)
	}
}

func TestSaveRun_Closed(t *testing.T) {
	store := setupTestStore(t)
	_ = store.Close()

	err := store.SaveRun(context.Background(), newReport("run-x", time.Now()))
	if err == nil || !strings.Contains(err.Error(), "failed to save run") {
		t.Errorf("expected wrapped save error, got %v", err)
	}
	if errors.Unwrap(err) == nil {
		t.Error("expected the driver error to be wrapped")
	}
}
