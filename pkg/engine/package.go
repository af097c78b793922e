package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/dataxchange/dxp/pkg/datasource"
	"github.com/dataxchange/dxp/pkg/document"
)

// Package is a loaded import document: its actions and its data sources.
type Package struct {
	// Name is the root element name.
	Name string

	// Root is the document the package was loaded from.
	Root *document.Element

	actions []*Action
	index   map[string]*Action
	sources []*datasource.Source
	graph   *Graph
}

// LoadPackage builds a package from a document root.
//
// A root carrying both a provider attribute and an instructions element is a
// single implicit action. Otherwise every child other than data elements is
// an action. Dependency names must resolve, the dependency graph must be
// acyclic and at least one data element must be present; any violation is a
// load error and no action is returned.
func LoadPackage(root *document.Element, resolver *datasource.Resolver) (*Package, error) {
	if root == nil {
		return nil, NewLoadError("package document is empty", nil)
	}

	p := &Package{
		Name:  root.Name,
		Root:  root,
		index: make(map[string]*Action),
	}

	_, hasProvider := root.Attr("provider")
	if hasProvider && root.Child("instructions") != nil {
		a, err := newAction(root)
		if err != nil {
			return nil, err
		}
		p.actions = append(p.actions, a)
	} else {
		for _, el := range root.Elements() {
			if strings.EqualFold(el.Name, datasource.ElementName) {
				continue
			}
			a, err := newAction(el)
			if err != nil {
				return nil, err
			}
			p.actions = append(p.actions, a)
		}
	}

	graph, err := NewGraph(p.actions)
	if err != nil {
		return nil, err
	}
	p.graph = graph

	for _, a := range p.actions {
		p.index[graphKey(a.Name)] = a
	}
	for _, a := range p.actions {
		for _, dep := range a.Dependencies {
			p.index[graphKey(dep)].References++
		}
	}

	p.sources = datasource.FromElements(root, resolver)
	if len(p.sources) == 0 {
		return nil, NewLoadError("Import package does not contain any data elements", nil).
			WithCode(ErrCodeNoDataSources)
	}

	return p, nil
}

// LoadPackageWithData replaces the payload of the first data element with
// the contents of data, then loads the package. A missing data element is
// created as an inline CSV element.
func LoadPackageWithData(root *document.Element, data io.Reader, resolver *datasource.Resolver) (*Package, error) {
	if root == nil {
		return nil, NewLoadError("package document is empty", nil)
	}
	if err := datasource.InjectData(root, data); err != nil {
		return nil, NewLoadError("failed to read injected data", err)
	}
	return LoadPackage(root, resolver)
}

// Actions returns the actions in declaration order.
func (p *Package) Actions() []*Action {
	return p.actions
}

// Action returns the named action, ignoring case, or nil.
func (p *Package) Action(name string) *Action {
	return p.index[graphKey(name)]
}

// DataSources returns the data sources in declaration order.
func (p *Package) DataSources() []*datasource.Source {
	return p.sources
}

// Roots returns the actions no other action depends on, in declaration order.
func (p *Package) Roots() []*Action {
	var roots []*Action
	for _, a := range p.actions {
		if a.References == 0 {
			roots = append(roots, a)
		}
	}
	return roots
}

// Graph returns the dependency graph.
func (p *Package) Graph() *Graph {
	return p.graph
}

// Reset returns every action to the pending state so the package can run again.
func (p *Package) Reset() {
	for _, a := range p.actions {
		a.executed = false
		a.state = ActionStatePending
		a.err = nil
	}
}

// String returns a short description of the package.
func (p *Package) String() string {
	return fmt.Sprintf("%s (%d actions, %d data sources)", p.Name, len(p.actions), len(p.sources))
}

// ExportPackage is a loaded export document. The root carries the provider
// and the instructions.
type ExportPackage struct {
	Name         string
	Provider     string
	Instructions *document.Element
	Root         *document.Element
}

// LoadExportPackage builds an export package from a document root.
func LoadExportPackage(root *document.Element) (*ExportPackage, error) {
	if root == nil {
		return nil, NewLoadError("package document is empty", nil)
	}

	provider, ok := root.Attr("provider")
	if !ok {
		return nil, NewLoadError("Export element is missing the provider attribute", nil).
			WithCode(ErrCodeMissingProvider)
	}

	instructions := root.Child("instructions")
	if instructions == nil {
		return nil, NewLoadError("Export package does not contain an instructions element", nil).
			WithCode(ErrCodeMissingInstructions)
	}

	return &ExportPackage{
		Name:         root.Name,
		Provider:     strings.TrimSpace(provider),
		Instructions: instructions,
		Root:         root,
	}, nil
}
