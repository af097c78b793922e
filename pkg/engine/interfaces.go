package engine

import (
	"context"

	"github.com/dataxchange/dxp/pkg/compiler"
)

// Importer is the contract of an import provider.
type Importer interface {
	// Subjects returns the import subjects the provider accepts and the
	// vocabulary of each.
	Subjects() compiler.Subjects

	// Import consumes the compiled instructions of one action.
	Import(ctx context.Context, req *ImportRequest) error
}

// Exporter is the contract of an export provider.
type Exporter interface {
	// Export writes the result of the instructions to req.Writer.
	Export(ctx context.Context, req *ExportRequest) error
}

// RowHandler receives the target record of every row an import produces.
type RowHandler interface {
	HandleRow(ctx context.Context, imp *compiler.Import, rc *compiler.RowContext) error
}

// RowHandlerFunc adapts a function to RowHandler.
type RowHandlerFunc func(ctx context.Context, imp *compiler.Import, rc *compiler.RowContext) error

// HandleRow calls f.
func (f RowHandlerFunc) HandleRow(ctx context.Context, imp *compiler.Import, rc *compiler.RowContext) error {
	return f(ctx, imp, rc)
}

// Recorder persists runs and action outcomes.
type Recorder interface {
	// SaveRun creates or updates a run.
	SaveRun(ctx context.Context, run *RunReport) error

	// SaveOutcome records the outcome of one action of a run.
	SaveOutcome(ctx context.Context, runID string, outcome *ActionOutcome) error
}
