package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dataxchange/dxp/pkg/compiler"
	"github.com/dataxchange/dxp/pkg/datasource"
)

// Run executes the compiled program against the data sources. Console
// operations run once. Each import reads its source and applies its row
// operations to every row, handing the target record to h. A foreach reads
// its source once and applies every nested import to each row.
//
// A failure on one row is logged as a row error and the row is skipped. A
// source that cannot be read fails the whole run.
func (r *ImportRequest) Run(ctx context.Context, h RowHandler) error {
	if r.Program == nil {
		return nil
	}
	console := r.Console()

	for i := range r.Program.Ops {
		op := &r.Program.Ops[i]
		switch op.Kind {
		case compiler.KindConsole:
			op.Run(console)

		case compiler.KindImport:
			if err := r.readRows(ctx, op.Import.Source, []*compiler.Import{op.Import}, console, h); err != nil {
				return err
			}

		case compiler.KindForeach:
			for j := range op.Foreach.Ops {
				op.Foreach.Ops[j].Run(console)
			}
			imports := op.Foreach.Imports()
			if len(imports) == 0 {
				continue
			}
			if err := r.readRows(ctx, op.Foreach.Source, imports, console, h); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *ImportRequest) readRows(ctx context.Context, source *datasource.Source, imports []*compiler.Import, console *compiler.Console, h RowHandler) error {
	reader, err := source.Rows(ctx)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read data source %s: %w", source.Name(), err)
		}
		r.stats.Rows++

		for _, imp := range imports {
			rc := imp.NewRowContext(row)
			if err := applyRow(ctx, imp, rc, console, h); err != nil {
				rowErr := NewRowError(row.Number, err).WithDetail("subject", imp.Subject)
				if r.Action != nil {
					rowErr = rowErr.WithAction(r.Action.Name)
				}
				console.Error(rowErr.Error())
				r.stats.Failed++
				continue
			}
			r.stats.Records++
		}
	}
}

// applyRow runs the row operations and the handler. A panic is reported as
// the row's error.
func applyRow(ctx context.Context, imp *compiler.Import, rc *compiler.RowContext, console *compiler.Console, h RowHandler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if err := imp.Apply(rc, console); err != nil {
		return err
	}
	if h == nil {
		return nil
	}
	return h.HandleRow(ctx, imp, rc)
}
