package engine

// PackageSummary is the plain data view of a loaded package that policy
// and schema checks run against.
type PackageSummary struct {
	Name        string              `json:"name"`
	Actions     []ActionSummary     `json:"actions"`
	DataSources []DataSourceSummary `json:"data_sources"`
}

// ActionSummary describes one action of a package.
type ActionSummary struct {
	Name         string   `json:"name"`
	Provider     string   `json:"provider"`
	Description  string   `json:"description,omitempty"`
	BreakOnError bool     `json:"break_on_error"`
	DependsOn    []string `json:"depends_on"`
	References   int      `json:"references"`
}

// DataSourceSummary describes one data element of a package.
type DataSourceSummary struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Summary returns the summary of p in declaration order.
func (p *Package) Summary() PackageSummary {
	s := PackageSummary{
		Name:        p.Name,
		Actions:     make([]ActionSummary, 0, len(p.actions)),
		DataSources: make([]DataSourceSummary, 0, len(p.sources)),
	}
	for _, a := range p.actions {
		deps := append([]string{}, a.Dependencies...)
		s.Actions = append(s.Actions, ActionSummary{
			Name:         a.Name,
			Provider:     a.Provider,
			Description:  a.DescriptionText(),
			BreakOnError: a.BreakOnError,
			DependsOn:    deps,
			References:   a.References,
		})
	}
	for _, src := range p.sources {
		s.DataSources = append(s.DataSources, DataSourceSummary{
			ID:      src.Name(),
			Content: src.Content,
			Source:  src.Location,
		})
	}
	return s
}
