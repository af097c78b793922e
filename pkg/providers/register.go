package providers

import (
	"github.com/dataxchange/dxp/pkg/engine"
)

// Store is a sink that can also list what it stored.
type Store interface {
	Sink
	RecordSource
}

// Register adds the built-in providers to r. Import providers write to
// store and the csv exporter reads from it.
func Register(r *engine.Registry, store Store) error {
	builtins := []struct {
		id      string
		factory engine.Factory
	}{
		{"locations", func() (interface{}, error) { return NewLocationImporter(store), nil }},
		{"labresults", func() (interface{}, error) { return NewLabResultImporter(store), nil }},
		{"csv", func() (interface{}, error) { return NewCSVExporter(store), nil }},
	}

	for _, b := range builtins {
		if err := r.Register(b.id, b.factory); err != nil {
			return err
		}
	}
	return nil
}
