package engine

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/dataxchange/dxp/pkg/compiler"
	"github.com/dataxchange/dxp/pkg/datasource"
	"github.com/dataxchange/dxp/pkg/document"
	"github.com/dataxchange/dxp/pkg/logsink"
)

// Factory creates a provider instance. The instance must implement
// Importer, Exporter or both.
type Factory func() (interface{}, error)

// Registry maps provider identifiers to factories. Identifiers are matched
// case-insensitively.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	ids       map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		ids:       make(map[string]string),
	}
}

// Register adds a factory under id.
func (r *Registry) Register(id string, factory Factory) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("provider id is required")
	}
	if factory == nil {
		return fmt.Errorf("provider %s: factory is nil", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(id)
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("provider %s is already registered", id)
	}
	r.factories[key] = factory
	r.ids[key] = id
	return nil
}

// MustRegister is Register that panics on error. It is meant for process
// start-up.
func (r *Registry) MustRegister(id string, factory Factory) {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
}

// Resolve creates a provider instance for id.
func (r *Registry) Resolve(id string) (interface{}, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(id))]
	r.mu.RUnlock()

	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("Provider does not exist. '%s'", id), nil).
			WithCode(ErrCodeProviderNotFound).WithDetail("provider", id)
	}

	p, err := factory()
	if err != nil {
		return nil, NewConfigurationError(fmt.Sprintf("Provider could not be created. '%s'", id), err).
			WithCode(ErrCodeInvalidProvider).WithDetail("provider", id)
	}
	return p, nil
}

// Importer resolves id to an import provider.
func (r *Registry) Importer(id string) (Importer, error) {
	p, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	imp, ok := p.(Importer)
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("Invalid import action provider: '%s'.", id), nil).
			WithCode(ErrCodeInvalidProvider).WithDetail("provider", id)
	}
	return imp, nil
}

// Exporter resolves id to an export provider.
func (r *Registry) Exporter(id string) (Exporter, error) {
	p, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	exp, ok := p.(Exporter)
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("Invalid export provider: '%s'.", id), nil).
			WithCode(ErrCodeInvalidProvider).WithDetail("provider", id)
	}
	return exp, nil
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ImportRequest is what an import provider receives for one action.
type ImportRequest struct {
	// RunID identifies the run the action belongs to.
	RunID string

	// Action is the action being run.
	Action *Action

	// Program is the compiled instructions.
	Program *compiler.Program

	// DataSources are the package's data sources.
	DataSources []*datasource.Source

	// Log receives console output and diagnostics.
	Log logsink.LogFunc

	// Context holds the caller supplied key/value pairs.
	Context map[string]string

	stats RowStats
}

// Console returns a console writing to the request's log.
func (r *ImportRequest) Console() *compiler.Console {
	return compiler.NewConsole(r.Log)
}

// Stats returns the row counters accumulated by Run.
func (r *ImportRequest) Stats() RowStats {
	return r.stats
}

// ExportRequest is what an export provider receives.
type ExportRequest struct {
	// RunID identifies the export run.
	RunID string

	// Instructions holds the export statements.
	Instructions *document.Element

	// Writer receives the exported data.
	Writer io.Writer

	// Log receives console output and diagnostics.
	Log logsink.LogFunc

	// Context holds the caller supplied key/value pairs.
	Context map[string]string

	// Evaluators builds evaluators for let statements with an eval child.
	Evaluators compiler.EvaluatorFactory
}
