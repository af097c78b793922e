package providers

import (
	"context"
	"sort"
	"strings"

	"github.com/dataxchange/dxp/pkg/compiler"
	"github.com/dataxchange/dxp/pkg/engine"
	"github.com/dataxchange/dxp/pkg/logsink"
	"github.com/dataxchange/dxp/pkg/record"
)

// LocationPath is the vocabulary of location imports.
var LocationPath = record.NewVocabulary("LocationPath", "CompanyName", "RegionName", "SiteName")

// Location levels, also used as record subjects.
const (
	LevelCompany = "company"
	LevelRegion  = "region"
	LevelSite    = "site"
)

// locationPath is the company / region / site triple collected from one row.
type locationPath struct {
	company string
	region  string
	site    string
}

func pathFrom(b *record.Bag) locationPath {
	return locationPath{
		company: b.GetString("CompanyName", ""),
		region:  b.GetString("RegionName", ""),
		site:    b.GetString("SiteName", ""),
	}
}

func (p locationPath) key() string {
	return strings.ToLower(p.company) + "\x00" + strings.ToLower(p.region) + "\x00" + strings.ToLower(p.site)
}

// truncate keeps the levels down to and including level.
func (p locationPath) truncate(level string) locationPath {
	switch level {
	case LevelCompany:
		return locationPath{company: p.company}
	case LevelRegion:
		return locationPath{company: p.company, region: p.region}
	}
	return p
}

// distinctPaths removes case-insensitive duplicates, keeping the first
// spelling seen, and orders the result by company, region and site.
func distinctPaths(paths []locationPath) []locationPath {
	seen := make(map[string]bool, len(paths))
	var out []locationPath
	for _, p := range paths {
		k := p.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if c := compareFold(a.company, b.company); c != 0 {
			return c < 0
		}
		if c := compareFold(a.region, b.region); c != 0 {
			return c < 0
		}
		return compareFold(a.site, b.site) < 0
	})
	return out
}

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// LocationImporter imports the company / region / site hierarchy.
//
// The location subject writes the whole hierarchy. The company, region and
// site subjects write only their own level.
type LocationImporter struct {
	sink Sink
}

// NewLocationImporter creates an importer writing to sink. A nil sink
// discards records.
func NewLocationImporter(sink Sink) *LocationImporter {
	return &LocationImporter{sink: sinkOrNop(sink)}
}

// Subjects returns the location subjects.
func (l *LocationImporter) Subjects() compiler.Subjects {
	return compiler.NewSubjects(LocationPath, LevelCompany, LevelRegion, LevelSite, "location")
}

// Import collects a path per row for every import statement and writes the
// reduced hierarchy once all rows are read.
func (l *LocationImporter) Import(ctx context.Context, req *engine.ImportRequest) error {
	log := logsink.OrNop(req.Log)
	log.Infof("Running ...")

	collected := make(map[*compiler.Import][]locationPath)
	err := req.Run(ctx, engine.RowHandlerFunc(func(ctx context.Context, imp *compiler.Import, rc *compiler.RowContext) error {
		collected[imp] = append(collected[imp], pathFrom(rc.TargetRecord))
		return nil
	}))
	if err != nil {
		return err
	}

	w := &hierarchyWriter{sink: l.sink, req: req}
	for _, imp := range req.Program.Imports() {
		paths := collected[imp]

		switch strings.ToLower(imp.Subject) {
		case "location":
			distinct := distinctPaths(paths)
			log.Infof("Collected: %d items into a distinct count of %d items", len(paths), len(distinct))
			if err := w.writeHierarchy(ctx, log, distinct); err != nil {
				return err
			}
		default:
			level := strings.ToLower(imp.Subject)
			truncated := make([]locationPath, len(paths))
			for i, p := range paths {
				truncated[i] = p.truncate(level)
			}
			for _, p := range distinctPaths(truncated) {
				if err := w.write(ctx, level, p); err != nil {
					return err
				}
			}
		}
	}

	log.Infof("Running ... Done.")
	return nil
}

type hierarchyWriter struct {
	sink Sink
	req  *engine.ImportRequest
}

// writeHierarchy writes a record each time the company, region or site
// changes. A change at one level restarts the levels below it.
func (w *hierarchyWriter) writeHierarchy(ctx context.Context, log logsink.LogFunc, paths []locationPath) error {
	var current locationPath
	first := true

	for _, p := range paths {
		log.Infof("%s / %s / %s", p.company, p.region, p.site)

		companyChanged := first || !strings.EqualFold(current.company, p.company)
		if companyChanged {
			current = locationPath{company: p.company}
			if err := w.write(ctx, LevelCompany, current); err != nil {
				return err
			}
		}

		regionChanged := companyChanged || !strings.EqualFold(current.region, p.region)
		if regionChanged {
			current.region = p.region
			current.site = ""
			if err := w.write(ctx, LevelRegion, current); err != nil {
				return err
			}
		}

		if regionChanged || !strings.EqualFold(current.site, p.site) {
			current.site = p.site
			if err := w.write(ctx, LevelSite, current); err != nil {
				return err
			}
		}
		first = false
	}
	return nil
}

// write stores the level of p. Levels with an empty name are skipped.
func (w *hierarchyWriter) write(ctx context.Context, level string, p locationPath) error {
	var name, key, parent string
	fields := record.NewBound(LocationPath)

	switch level {
	case LevelCompany:
		name, key = p.company, p.company
		_ = fields.SetString("CompanyName", p.company)
	case LevelRegion:
		name, key, parent = p.region, p.company+"/"+p.region, p.company
		_ = fields.SetString("CompanyName", p.company)
		_ = fields.SetString("RegionName", p.region)
	case LevelSite:
		name, key, parent = p.site, p.company+"/"+p.region+"/"+p.site, p.company+"/"+p.region
		_ = fields.SetString("CompanyName", p.company)
		_ = fields.SetString("RegionName", p.region)
		_ = fields.SetString("SiteName", p.site)
	}

	if strings.TrimSpace(name) == "" {
		return nil
	}

	return w.sink.Put(ctx, &Record{
		RunID:   w.req.RunID,
		Action:  actionName(w.req),
		Subject: level,
		Key:     key,
		Parent:  parent,
		Fields:  fields,
	})
}

func actionName(req *engine.ImportRequest) string {
	if req.Action == nil {
		return ""
	}
	return req.Action.Name
}
