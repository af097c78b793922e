package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/dataxchange/dxp/pkg/engine"
)

// SchemaRegistry holds named CUE definitions that documents are checked
// against. It always contains "package", the shape of a package summary.
type SchemaRegistry struct {
	cue *cue.Context

	mu      sync.RWMutex
	schemas map[string]cue.Value
}

// NewSchemaRegistry returns a registry holding the package schema.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{cue: cuecontext.New(), schemas: map[string]cue.Value{}}
	if err := sr.RegisterSchema("package", packageSchema, "#Package"); err != nil {
		panic(fmt.Sprintf("package schema: %v", err))
	}
	return sr
}

// RegisterSchema compiles src and stores the definition it names, such as
// "#Package", under name. An empty definition stores the whole value.
func (sr *SchemaRegistry) RegisterSchema(name, src, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	v := sr.cue.CompileString(src, cue.Filename(name+".cue"))
	if v.Err() != nil {
		return fmt.Errorf("schema %s: %w", name, v.Err())
	}
	if definition != "" {
		if v = v.LookupPath(cue.ParsePath(definition)); !v.Exists() {
			return fmt.Errorf("schema %s has no %s", name, definition)
		}
	}

	sr.schemas[name] = v
	return nil
}

// GetSchema returns the schema registered as name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	v, ok := sr.schemas[name]
	return v, ok
}

// ValidateAgainstSchema unifies data with the named schema and requires a
// concrete result. Failures are returned as ValidationErrors.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, name string, data interface{}) error {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return fmt.Errorf("unknown schema %s", name)
	}

	v := sr.cue.Encode(data)
	if v.Err() != nil {
		return fmt.Errorf("failed to encode data for schema %s: %w", name, v.Err())
	}
	if err := schema.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// ValidatePackage checks a package summary against the package schema.
// Failures are configuration errors coded SCHEMA_INVALID.
func (sr *SchemaRegistry) ValidatePackage(ctx context.Context, summary engine.PackageSummary) error {
	err := sr.ValidateAgainstSchema(ctx, "package", summary)
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("Package %s does not match the package schema", summary.Name)
	return engine.NewConfigurationError(msg, err).WithCode(engine.ErrCodeSchemaInvalid)
}

// ListSchemas returns the registered names in order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const packageSchema = `
#Name: =~"^[A-Za-z_][A-Za-z0-9_.-]*$"

#Action: {
	name:           #Name
	provider:       string & =~"\\S"
	description?:   string
	break_on_error: bool
	depends_on: [...#Name]
	references: int & >=0
}

#DataSource: {
	id:      string & !=""
	content: string
	source:  string & !=""
}

#Package: {
	name: #Name
	actions: [...#Action]

	// At least one data element is required.
	data_sources: [#DataSource, ...#DataSource]
}
`
