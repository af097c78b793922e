package providers

import (
	"context"
	"strings"

	"github.com/dataxchange/dxp/pkg/compiler"
	"github.com/dataxchange/dxp/pkg/engine"
	"github.com/dataxchange/dxp/pkg/logsink"
	"github.com/dataxchange/dxp/pkg/record"
)

// LabResult is the vocabulary of lab result and alarm imports.
var LabResult = record.NewVocabulary("LabResult", "ResultID", "Name", "Source", "Category")

// LabResultImporter imports lab results. Instructions usually group the
// imports in a foreach so several subjects share one pass over the rows.
type LabResultImporter struct {
	sink Sink
}

// NewLabResultImporter creates an importer writing to sink. A nil sink
// discards records.
func NewLabResultImporter(sink Sink) *LabResultImporter {
	return &LabResultImporter{sink: sinkOrNop(sink)}
}

// Subjects returns the labresult and alarm subjects.
func (l *LabResultImporter) Subjects() compiler.Subjects {
	return compiler.NewSubjects(LabResult, "labresult", "alarm")
}

// Import writes one record per row and import statement.
func (l *LabResultImporter) Import(ctx context.Context, req *engine.ImportRequest) error {
	log := logsink.OrNop(req.Log)
	log.Infof("Running ...")

	err := req.Run(ctx, engine.RowHandlerFunc(func(ctx context.Context, imp *compiler.Import, rc *compiler.RowContext) error {
		result := rc.TargetRecord
		id := result.GetString("ResultID", "0")
		log.Infof("%05d: %s (ResultID: %s)", rc.Row.Number, result.GetString("Name", ""), id)

		return l.sink.Put(ctx, &Record{
			RunID:   req.RunID,
			Action:  actionName(req),
			Subject: strings.ToLower(imp.Subject),
			Key:     id,
			Fields:  result.Clone(),
		})
	}))
	if err != nil {
		return err
	}

	log.Infof("Running ... Done.")
	return nil
}
