package wasm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dataxchange/dxp/pkg/engine"
)

// Host owns the WASM providers loaded by the process.
type Host struct {
	mu        sync.Mutex
	providers map[string]*Provider
}

// NewHost creates an empty host.
func NewHost() *Host {
	return &Host{providers: make(map[string]*Provider)}
}

// Load reads, verifies and compiles the module of m.
func (h *Host) Load(ctx context.Context, m *Manifest) (*Provider, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	key := strings.ToLower(m.ID)
	h.mu.Lock()
	_, exists := h.providers[key]
	h.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("provider %s already loaded", m.ID)
	}

	module, err := m.ReadModule()
	if err != nil {
		return nil, err
	}

	p, err := New(ctx, m, module)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.providers[key] = p
	return p, nil
}

// LoadFile loads the manifest at path.
func (h *Host) LoadFile(ctx context.Context, path string) (*Provider, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return h.Load(ctx, m)
}

// ScanDirectory loads every <dir>/*/manifest.yaml. Manifests that fail to
// load are returned as one joined error after the rest are loaded.
func (h *Host) ScanDirectory(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), "manifest.yaml")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if _, err := h.LoadFile(ctx, path); err != nil {
			errs = append(errs, fmt.Errorf("failed to load provider from %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// IDs returns the loaded provider identifiers in sorted order.
func (h *Host) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.providers))
	for _, p := range h.providers {
		ids = append(ids, p.ID())
	}
	sort.Strings(ids)
	return ids
}

// Register adds every loaded provider to r.
func (h *Host) Register(r *engine.Registry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range h.providers {
		p := p
		if err := r.Register(p.ID(), func() (interface{}, error) { return p, nil }); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every provider.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for key, p := range h.providers {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		delete(h.providers, key)
	}
	return errors.Join(errs...)
}
