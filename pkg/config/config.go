package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dataxchange/dxp/pkg/providers/wasm"
	"github.com/dataxchange/dxp/pkg/telemetry"
	"github.com/dataxchange/dxp/pkg/transports/ssh"
)

// EnvConfigPath names the environment variable overriding the config file path.
const EnvConfigPath = "DXP_CONFIG"

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "dxp.yaml"

// Config is the dxp configuration file.
type Config struct {
	Telemetry *telemetry.Config `yaml:"telemetry"`
	Store     StoreConfig       `yaml:"store"`
	Policy    PolicyConfig      `yaml:"policy"`
	SFTP      *SFTPConfig       `yaml:"sftp,omitempty"`
	Providers ProvidersConfig   `yaml:"providers"`
	Script    ScriptConfig      `yaml:"script"`

	// Path is the file the configuration was loaded from, if any.
	Path string `yaml:"-"`
}

// StoreConfig selects where runs and records are kept.
type StoreConfig struct {
	// Driver is sqlite or memory. The memory driver keeps records for the
	// lifetime of the process only.
	Driver          string        `yaml:"driver" validate:"oneof=sqlite memory"`
	Path            string        `yaml:"path" validate:"required_if=Driver sqlite"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// PolicyConfig configures package policy checks.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Paths are .rego/.json files or directories loaded next to the built-ins.
	Paths []string `yaml:"paths" validate:"dive,required"`

	// Watch reloads Paths when a policy file changes.
	Watch bool `yaml:"watch"`

	// Disabled names policies, built-in or loaded, that are switched off.
	Disabled []string `yaml:"disabled"`
}

// SFTPConfig holds the connection used for sftp:// data sources.
type SFTPConfig struct {
	Host                  string        `yaml:"host" validate:"required"`
	Port                  int           `yaml:"port" validate:"omitempty,min=1,max=65535"`
	User                  string        `yaml:"user" validate:"required"`
	AuthMethod            string        `yaml:"auth_method" validate:"omitempty,oneof=password key"`
	Password              string        `yaml:"password"`
	PrivateKeyPath        string        `yaml:"private_key_path"`
	PrivateKeyPassphrase  string        `yaml:"private_key_passphrase"`
	KnownHostsPath        string        `yaml:"known_hosts_path"`
	StrictHostKeyChecking *bool         `yaml:"strict_host_key_checking"`
	ConnectionTimeout     time.Duration `yaml:"connection_timeout"`
	MaxFileSize           int64         `yaml:"max_file_size" validate:"gte=0"`
}

// ProvidersConfig lists the providers registered on top of the built-in ones.
type ProvidersConfig struct {
	WASM []WASMProviderConfig `yaml:"wasm" validate:"dive"`

	// WASMDir is scanned for <name>/manifest.yaml provider bundles.
	WASMDir string `yaml:"wasm_dir"`
}

// WASMProviderConfig registers a WASM provider, either from a manifest file
// or inline.
type WASMProviderConfig struct {
	// Manifest is the path of a manifest.yaml. The inline fields are ignored
	// when it is set.
	Manifest string `yaml:"manifest"`

	ID               string              `yaml:"id" validate:"required_without=Manifest"`
	Path             string              `yaml:"path" validate:"required_without=Manifest"`
	Checksum         string              `yaml:"checksum"`
	Subjects         map[string][]string `yaml:"subjects"`
	Capabilities     []string            `yaml:"capabilities"`
	DataDir          string              `yaml:"data_dir"`
	Timeout          time.Duration       `yaml:"timeout"`
	MemoryLimitPages uint32              `yaml:"memory_limit_pages"`
}

// ScriptConfig controls the Starlark <eval> evaluator.
type ScriptConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

var validate = validator.New()

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Telemetry: telemetry.DefaultConfig(),
		Store: StoreConfig{
			Driver:          "sqlite",
			Path:            "dxp.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Policy: PolicyConfig{Enabled: true},
		Script: ScriptConfig{Enabled: true, Timeout: time.Second},
	}
}

// Load reads the configuration at path over the defaults. Files ending in
// .cue are evaluated with CUE; anything else is read as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".cue") {
		data, err = NewCUELoader().Export(data, path)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes a YAML (or JSON) document over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault resolves the config file from explicit, then $DXP_CONFIG, then
// dxp.yaml in the working directory. Without any of them the defaults are
// returned.
func LoadDefault(explicit string) (*Config, error) {
	path := explicit
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		if _, err := os.Stat(DefaultFile); err != nil {
			return Default(), nil
		}
		path = DefaultFile
	}
	return Load(path)
}

// Validate checks the struct tags and the telemetry settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// Dir is the directory relative paths in the file resolve against.
func (c *Config) Dir() string {
	if c.Path == "" {
		return "."
	}
	return filepath.Dir(c.Path)
}

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir(), path)
}

// StorePath is the sqlite path relative to the config file.
func (c *Config) StorePath() string {
	if c.Store.Path == ":memory:" {
		return c.Store.Path
	}
	return c.resolve(c.Store.Path)
}

// WASMDir is the provider bundle directory relative to the config file.
func (c *Config) WASMDir() string {
	return c.resolve(c.Providers.WASMDir)
}

// PolicyPaths are the policy paths relative to the config file.
func (c *Config) PolicyPaths() []string {
	paths := make([]string, 0, len(c.Policy.Paths))
	for _, p := range c.Policy.Paths {
		paths = append(paths, c.resolve(p))
	}
	return paths
}

// SSHConfig converts the sftp section. It returns nil when the section is absent.
func (c *Config) SSHConfig() *ssh.Config {
	if c.SFTP == nil {
		return nil
	}

	s := c.SFTP
	out := ssh.DefaultConfig(s.Host, s.User)
	if s.Port != 0 {
		out.Port = s.Port
	}
	if s.AuthMethod != "" {
		out.AuthMethod = ssh.AuthMethod(s.AuthMethod)
	}
	out.Password = s.Password
	out.PrivateKeyPath = c.resolve(s.PrivateKeyPath)
	out.PrivateKeyPassphrase = s.PrivateKeyPassphrase
	if s.KnownHostsPath != "" {
		out.KnownHostsPath = c.resolve(s.KnownHostsPath)
	}
	if s.StrictHostKeyChecking != nil {
		out.StrictHostKeyChecking = *s.StrictHostKeyChecking
	}
	if s.ConnectionTimeout > 0 {
		out.ConnectionTimeout = s.ConnectionTimeout
	}
	out.MaxFileSize = s.MaxFileSize
	return out
}

// WASMManifests loads and validates the manifests of every configured WASM
// provider.
func (c *Config) WASMManifests() ([]*wasm.Manifest, error) {
	manifests := make([]*wasm.Manifest, 0, len(c.Providers.WASM))
	for i, p := range c.Providers.WASM {
		if p.Manifest != "" {
			m, err := wasm.LoadManifest(c.resolve(p.Manifest))
			if err != nil {
				return nil, fmt.Errorf("providers.wasm[%d]: %w", i, err)
			}
			manifests = append(manifests, m)
			continue
		}

		m := &wasm.Manifest{
			ID:               p.ID,
			Module:           p.Path,
			Checksum:         p.Checksum,
			Subjects:         p.Subjects,
			Capabilities:     p.Capabilities,
			DataDir:          p.DataDir,
			Timeout:          p.Timeout,
			MemoryLimitPages: p.MemoryLimitPages,
			Dir:              c.Dir(),
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("providers.wasm[%d] (%s): %w", i, p.ID, err)
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
