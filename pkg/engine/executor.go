package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/dataxchange/dxp/pkg/compiler"
	"github.com/dataxchange/dxp/pkg/logsink"
	"github.com/dataxchange/dxp/pkg/telemetry"
)

// Run kinds.
const (
	RunKindImport = "import"
	RunKindExport = "export"
)

// Executor runs packages against the providers of a registry.
type Executor struct {
	registry   *Registry
	log        logsink.LogFunc
	recorder   Recorder
	evaluators compiler.EvaluatorFactory
	context    map[string]string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLog sets the sink for progress messages and console output.
func WithLog(log logsink.LogFunc) ExecutorOption {
	return func(e *Executor) { e.log = logsink.OrNop(log) }
}

// WithRecorder persists runs and outcomes to r.
func WithRecorder(r Recorder) ExecutorOption {
	return func(e *Executor) { e.recorder = r }
}

// WithEvaluators sets the factory for let statements with an eval child.
func WithEvaluators(f compiler.EvaluatorFactory) ExecutorOption {
	return func(e *Executor) { e.evaluators = f }
}

// WithContext sets the key/value pairs handed to every provider.
func WithContext(values map[string]string) ExecutorOption {
	return func(e *Executor) { e.context = values }
}

// NewExecutor creates an executor resolving providers from registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		log:      logsink.Nop,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	return e
}

// Import runs every root action of pkg in declaration order, running
// dependencies first. A dependency that already completed is not run again.
//
// A failed action is logged and aborted. Its callers are aborted only when it
// breaks on error; otherwise they continue with their remaining
// dependencies. When a root that breaks on error fails, the remaining roots
// are skipped and the failure is returned. Failures that did not stop the
// run leave the report status partial and return nil.
func (e *Executor) Import(ctx context.Context, pkg *Package) (*RunReport, error) {
	if pkg == nil {
		return nil, NewLoadError("package is nil", nil)
	}

	report := &RunReport{
		ID:        uuid.New().String(),
		Kind:      RunKindImport,
		Package:   pkg.Name,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
		Context:   e.context,
	}

	ctx = telemetry.WithRunContext(ctx, report.ID, report.Kind, pkg.Name)
	e.saveRun(ctx, report)
	e.log.Infof("Import started")

	r := &importRun{Executor: e, pkg: pkg, report: report}

	var runErr error
	for _, root := range pkg.Roots() {
		if err := r.run(ctx, root, nil); err != nil && stopsRun(root, err) {
			runErr = err
			break
		}
	}

	for _, a := range pkg.Actions() {
		if report.Outcome(a.Name) == nil {
			report.Outcomes = append(report.Outcomes, &ActionOutcome{
				Action:   a.Name,
				Provider: a.Provider,
				Status:   OutcomeSkipped,
			})
		}
	}

	e.finish(report, runErr)
	if runErr != nil {
		e.log.Infof("Import aborted")
	} else {
		e.log.Infof("Import completed")
	}

	telemetry.EndRunContext(ctx, report.ID, string(report.Status), report.Duration, runErr)
	e.saveRun(ctx, report)
	return report, runErr
}

// stopsRun reports whether the failure of a stops the caller.
func stopsRun(a *Action, err error) bool {
	return a.BreakOnError || IsCycleError(err) || isCancelled(err)
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Executor) finish(report *RunReport, runErr error) {
	now := time.Now()
	report.CompletedAt = &now
	report.Duration = now.Sub(report.StartedAt)

	switch {
	case runErr != nil:
		report.Status = RunStatusFailed
		report.Error = runErr.Error()
	case report.Summary().Failed > 0:
		report.Status = RunStatusPartial
	default:
		report.Status = RunStatusSucceeded
	}
}

func (e *Executor) saveRun(ctx context.Context, report *RunReport) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.SaveRun(ctx, report); err != nil {
		e.log.Warnf("failed to record run %s: %v", report.ID, err)
	}
}

func (e *Executor) saveOutcome(ctx context.Context, runID string, outcome *ActionOutcome) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.SaveOutcome(ctx, runID, outcome); err != nil {
		e.log.Warnf("failed to record outcome of %s: %v", outcome.Action, err)
	}
}

// importRun holds the state of one Import call.
type importRun struct {
	*Executor
	pkg    *Package
	report *RunReport
}

// run executes a after its dependencies. path holds the actions currently
// running above a, for cycle reporting.
func (r *importRun) run(ctx context.Context, a *Action, path []string) error {
	switch a.State() {
	case ActionStateCompleted:
		return nil
	case ActionStateFailed:
		return a.Err()
	case ActionStateRunning:
		return NewCycleError(append(path[:len(path):len(path)], a.Name)).WithAction(a.Name)
	}

	path = append(path[:len(path):len(path)], a.Name)
	a.state = ActionStateRunning
	started := time.Now()

	if err := ctx.Err(); err != nil {
		return r.abort(ctx, a, started, RowStats{},
			NewActionError("run cancelled", err).WithCode(ErrCodeCancelled).WithAction(a.Name))
	}

	for _, name := range a.Dependencies {
		dep := r.pkg.Action(name)
		if dep == nil || dep.Executed() {
			continue
		}
		if err := r.run(ctx, dep, path); err != nil {
			if stopsRun(dep, err) {
				return r.abort(ctx, a, started, RowStats{},
					NewActionError(fmt.Sprintf("dependency %s failed", dep.Name), err).
						WithCode(ErrCodeDependencyFailed).WithAction(a.Name))
			}
			r.log.Warnf("%s: dependency %s failed, continuing", a.Name, dep.Name)
		}
	}

	r.log.Infof("%s started", a.Name)
	actx := telemetry.WithActionContext(ctx, r.report.ID, a.Name, a.Provider)

	stats, err := r.invoke(actx, a)
	if err != nil {
		telemetry.EndActionContext(actx, r.report.ID, a.Name, a.Provider, string(OutcomeFailed), err)
		return r.abort(ctx, a, started, stats, err)
	}

	a.markExecuted()
	r.log.Infof("%s completed", a.Name)
	telemetry.EndActionContext(actx, r.report.ID, a.Name, a.Provider, string(OutcomeCompleted), nil)
	r.record(ctx, a, started, stats, nil)
	return nil
}

// abort marks a failed and logs the failure.
func (r *importRun) abort(ctx context.Context, a *Action, started time.Time, stats RowStats, err error) error {
	r.log.Errorf("%v", err)
	r.log.Infof("%s aborted", a.Name)
	a.markFailed(err)
	r.record(ctx, a, started, stats, err)
	return err
}

func (r *importRun) record(ctx context.Context, a *Action, started time.Time, stats RowStats, err error) {
	now := time.Now()
	outcome := &ActionOutcome{
		Action:      a.Name,
		Provider:    a.Provider,
		Status:      OutcomeCompleted,
		StartedAt:   started,
		CompletedAt: now,
		Duration:    now.Sub(started),
		Stats:       stats,
	}
	if err != nil {
		outcome.Status = OutcomeFailed
		outcome.Error = err.Error()
	}
	r.report.Outcomes = append(r.report.Outcomes, outcome)
	r.saveOutcome(ctx, r.report.ID, outcome)
}

// invoke resolves the provider of a, compiles its instructions and runs them.
func (r *importRun) invoke(ctx context.Context, a *Action) (RowStats, error) {
	provider, err := r.registry.Importer(a.Provider)
	if err != nil {
		var ee *EngineError
		if errors.As(err, &ee) {
			return RowStats{}, ee.WithAction(a.Name)
		}
		return RowStats{}, err
	}

	program := compiler.New(r.log,
		compiler.WithSources(r.pkg.DataSources()),
		compiler.WithSubjects(provider.Subjects()),
		compiler.WithEvaluators(r.evaluators),
	).Compile(a.Instructions)
	telemetry.RecordCompileWarnings(ctx, a.Provider, len(program.Diagnostics))

	req := &ImportRequest{
		RunID:       r.report.ID,
		Action:      a,
		Program:     program,
		DataSources: r.pkg.DataSources(),
		Log:         r.log,
		Context:     r.context,
	}

	err = telemetry.RecordProviderOperation(ctx, a.Provider, RunKindImport, func() error {
		return callProvider(func() error { return provider.Import(ctx, req) })
	})

	stats := req.Stats()
	telemetry.RecordRows(ctx, a.Provider, stats.Rows, stats.Records, stats.Failed)

	if err != nil {
		return stats, NewActionError("provider failed", err).
			WithCode(ErrCodeProviderFailed).WithAction(a.Name)
	}
	return stats, nil
}

// callProvider runs fn and reports a panic as an error.
func callProvider(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("provider panicked: %v", p)
		}
	}()
	return fn()
}

// Export runs the provider of an export package, writing to w.
func (e *Executor) Export(ctx context.Context, pkg *ExportPackage, w io.Writer) error {
	if pkg == nil {
		return NewLoadError("package is nil", nil)
	}

	report := &RunReport{
		ID:        uuid.New().String(),
		Kind:      RunKindExport,
		Package:   pkg.Name,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
		Context:   e.context,
	}

	ctx = telemetry.WithRunContext(ctx, report.ID, report.Kind, pkg.Name)
	e.saveRun(ctx, report)
	e.log.Infof("Export started")

	err := e.export(ctx, report.ID, pkg, w)

	outcome := &ActionOutcome{
		Action:      pkg.Name,
		Provider:    pkg.Provider,
		Status:      OutcomeCompleted,
		StartedAt:   report.StartedAt,
		CompletedAt: time.Now(),
	}
	outcome.Duration = outcome.CompletedAt.Sub(outcome.StartedAt)
	if err != nil {
		outcome.Status = OutcomeFailed
		outcome.Error = err.Error()
		e.log.Errorf("%v", err)
		e.log.Infof("Export aborted")
	} else {
		e.log.Infof("Export completed")
	}
	report.Outcomes = append(report.Outcomes, outcome)
	e.saveOutcome(ctx, report.ID, outcome)

	e.finish(report, err)
	telemetry.EndRunContext(ctx, report.ID, string(report.Status), report.Duration, err)
	e.saveRun(ctx, report)
	return err
}

func (e *Executor) export(ctx context.Context, runID string, pkg *ExportPackage, w io.Writer) error {
	provider, err := e.registry.Exporter(pkg.Provider)
	if err != nil {
		return err
	}

	req := &ExportRequest{
		RunID:        runID,
		Instructions: pkg.Instructions,
		Writer:       w,
		Log:          e.log,
		Context:      e.context,
		Evaluators:   e.evaluators,
	}

	err = telemetry.RecordProviderOperation(ctx, pkg.Provider, RunKindExport, func() error {
		return callProvider(func() error { return provider.Export(ctx, req) })
	})
	if err != nil {
		return NewActionError("provider failed", err).
			WithCode(ErrCodeProviderFailed).WithAction(pkg.Name)
	}
	return nil
}
