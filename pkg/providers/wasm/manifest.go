package wasm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dataxchange/dxp/pkg/compiler"
	"github.com/dataxchange/dxp/pkg/record"
)

const (
	// DefaultTimeout bounds one module invocation.
	DefaultTimeout = 30 * time.Second

	// DefaultMemoryLimitPages is 16MB in 64KB pages.
	DefaultMemoryLimitPages = 256
)

// Manifest describes a WASM import provider.
//
//	id: sensors
//	module: sensors.wasm
//	checksum: 9f86d0...
//	subjects:
//	  reading: [SensorID, Value, Unit]
//	capabilities: [clock, env:read]
//	timeout: 10s
type Manifest struct {
	// ID is the provider identifier used in package provider attributes.
	ID string `yaml:"id" validate:"required"`

	// Module is the path of the .wasm file, relative to the manifest.
	Module string `yaml:"module" validate:"required"`

	// Checksum is the hex SHA-256 of the module. Empty skips verification.
	Checksum string `yaml:"checksum,omitempty" validate:"omitempty,hexadecimal,len=64"`

	// Subjects maps import subjects to the fields they accept.
	Subjects map[string][]string `yaml:"subjects" validate:"required,min=1,dive,keys,required,endkeys,min=1"`

	// Capabilities lists what the module may access.
	Capabilities []string `yaml:"capabilities,omitempty" validate:"dive,oneof=clock random env:read fs:read"`

	// DataDir is mounted read-only at /data when fs:read is granted.
	// Relative to the manifest; defaults to the manifest directory.
	DataDir string `yaml:"data_dir,omitempty"`

	Timeout          time.Duration `yaml:"timeout,omitempty"`
	MemoryLimitPages uint32        `yaml:"memory_limit_pages,omitempty" validate:"omitempty,max=65536"`

	// Dir is the directory relative paths resolve against.
	Dir string `yaml:"-"`
}

var validate = validator.New()

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Dir = filepath.Dir(path)
	return m, nil
}

// ParseManifest parses and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest and applies defaults.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	if m.Timeout <= 0 {
		m.Timeout = DefaultTimeout
	}
	if m.MemoryLimitPages == 0 {
		m.MemoryLimitPages = DefaultMemoryLimitPages
	}
	return nil
}

func (m *Manifest) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.Dir, path)
}

// ModulePath returns the resolved path of the module file.
func (m *Manifest) ModulePath() string {
	return m.resolve(m.Module)
}

// DataPath returns the resolved host directory for fs:read.
func (m *Manifest) DataPath() string {
	if m.DataDir == "" {
		if m.Dir == "" {
			return "."
		}
		return m.Dir
	}
	return m.resolve(m.DataDir)
}

// ReadModule reads the module file and verifies its checksum.
func (m *Manifest) ReadModule() ([]byte, error) {
	data, err := os.ReadFile(m.ModulePath())
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM module: %w", err)
	}
	if err := m.VerifyChecksum(data); err != nil {
		return nil, err
	}
	return data, nil
}

// VerifyChecksum compares the module against the manifest checksum. A
// manifest without a checksum accepts any module.
func (m *Manifest) VerifyChecksum(module []byte) error {
	if m.Checksum == "" {
		return nil
	}

	hash := sha256.Sum256(module)
	computed := hex.EncodeToString(hash[:])
	if !strings.EqualFold(computed, m.Checksum) {
		return fmt.Errorf("WASM module checksum mismatch: expected %s, got %s", m.Checksum, computed)
	}
	return nil
}

// HasCapability reports whether the manifest grants capability.
func (m *Manifest) HasCapability(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// CompilerSubjects returns a vocabulary per declared subject.
func (m *Manifest) CompilerSubjects() compiler.Subjects {
	names := make([]string, 0, len(m.Subjects))
	for name := range m.Subjects {
		names = append(names, name)
	}
	sort.Strings(names)

	subjects := compiler.Subjects{}
	for _, name := range names {
		vocab := record.NewVocabulary(name, m.Subjects[name]...)
		subjects = subjects.Merge(compiler.NewSubjects(vocab, name))
	}
	return subjects
}
