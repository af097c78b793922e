package providers

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/dataxchange/dxp/pkg/compiler"
	"github.com/dataxchange/dxp/pkg/datasource"
	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/engine"
	"github.com/dataxchange/dxp/pkg/logsink"
	"github.com/dataxchange/dxp/pkg/record"
)

// CSVExporter writes stored records as CSV.
//
// Each <export subject="..."> statement selects the records of a subject and
// maps them to columns with let statements:
//
//	<export subject="site" run="latest">
//	  <let Site="SiteName" />
//	  <let Path="{CompanyName}/{RegionName}" />
//	</export>
//
// The run attribute is "latest", a run ID, or empty for every run. Without
// let statements every stored field becomes a column. Besides the stored
// fields, Key and Parent are available to let statements.
type CSVExporter struct {
	source RecordSource
}

// NewCSVExporter creates an exporter reading from source.
func NewCSVExporter(source RecordSource) *CSVExporter {
	return &CSVExporter{source: source}
}

// Export runs the export statements in document order.
func (e *CSVExporter) Export(ctx context.Context, req *engine.ExportRequest) error {
	if e.source == nil {
		return fmt.Errorf("csv exporter: no record source configured")
	}
	log := logsink.OrNop(req.Log)
	console := compiler.NewConsole(log)
	c := compiler.New(log, compiler.WithEvaluators(req.Evaluators))

	w := csv.NewWriter(req.Writer)
	for _, stmt := range req.Instructions.Elements() {
		switch stmt.LocalName() {
		case "export":
			if err := e.exportSubject(ctx, req, c, console, w, stmt); err != nil {
				return err
			}
		case "import", "foreach":
			console.Warn(fmt.Sprintf("'%s' is not supported by the csv exporter. Statement ignored.", stmt.Name))
		default:
			p := c.Compile(document.New("instructions").Append(stmt))
			for i := range p.Ops {
				p.Ops[i].Run(console)
			}
		}
	}

	w.Flush()
	return w.Error()
}

func (e *CSVExporter) exportSubject(ctx context.Context, req *engine.ExportRequest, c *compiler.Compiler, console *compiler.Console, w *csv.Writer, stmt *document.Element) error {
	subject := strings.TrimSpace(stmt.AttrOr("subject", ""))
	if subject == "" {
		console.Error("Missing subject attribute. An export element must contain a 'subject' attribute.")
		return nil
	}

	q := RecordQuery{Subject: subject}
	run := strings.TrimSpace(stmt.AttrOr("run", req.Context["run"]))
	if strings.EqualFold(run, "latest") {
		q.Latest = true
	} else {
		q.RunID = run
	}

	records, err := e.source.Records(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to list %s records: %w", subject, err)
	}

	vocab := record.OpenVocabulary("csv")
	ops := c.CompileStatements(stmt, vocab)
	columns := exportColumns(ops, records)

	if !strings.EqualFold(stmt.AttrOr("header", "true"), "false") {
		if err := w.Write(columns); err != nil {
			return err
		}
	}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		values := record.New()
		if rec.Fields == nil {
			rec.Fields = record.New()
		}
		rec.Fields.Each(func(name string, v record.Value) {
			_ = values.Set(name, v)
		})
		if !values.Has("Key") {
			_ = values.SetString("Key", rec.Key)
		}
		if !values.Has("Parent") {
			_ = values.SetString("Parent", rec.Parent)
		}

		rc := compiler.NewRowContext(&datasource.Row{Number: i + 1, Values: values}, vocab)
		if !hasLets(ops) {
			rc.TargetRecord = values
		}

		if err := applyOps(ops, rc, console); err != nil {
			console.Error(engine.NewRowError(i+1, err).WithDetail("subject", subject).Error())
			continue
		}

		line := make([]string, len(columns))
		for j, col := range columns {
			line[j] = rc.TargetRecord.GetString(col, "")
		}
		if err := w.Write(line); err != nil {
			return err
		}
	}

	console.Print(fmt.Sprintf("Exported %d %s records", len(records), subject))
	return nil
}

func applyOps(ops []compiler.Op, rc *compiler.RowContext, console *compiler.Console) error {
	for i := range ops {
		if err := ops[i].Apply(rc, console); err != nil {
			return err
		}
	}
	return nil
}

func hasLets(ops []compiler.Op) bool {
	for _, op := range ops {
		if op.Kind == compiler.KindLet {
			return true
		}
	}
	return false
}

// exportColumns returns the let targets, or the union of the stored field
// names when there are none.
func exportColumns(ops []compiler.Op, records []*Record) []string {
	seen := make(map[string]bool)
	var columns []string
	add := func(name string) {
		k := strings.ToLower(name)
		if seen[k] {
			return
		}
		seen[k] = true
		columns = append(columns, name)
	}

	if hasLets(ops) {
		for _, op := range ops {
			if op.Kind == compiler.KindLet {
				add(op.Setter.Target)
			}
		}
		return columns
	}

	for _, rec := range records {
		for _, name := range rec.Fields.Names() {
			add(name)
		}
	}
	return columns
}
