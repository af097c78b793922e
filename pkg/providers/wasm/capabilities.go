package wasm

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
)

// Capabilities a manifest may grant.
const (
	CapabilityClock   = "clock"
	CapabilityRandom  = "random"
	CapabilityEnvRead = "env:read"
	CapabilityFSRead  = "fs:read"
)

// GuestDataDir is where the fs:read directory is mounted.
const GuestDataDir = "/data"

// moduleConfig returns the sandbox for one invocation. Nothing beyond stdio
// and args is available unless the manifest grants it.
func moduleConfig(m *Manifest, environ []string) (wazero.ModuleConfig, error) {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(m.ID)

	if m.HasCapability(CapabilityClock) {
		cfg = cfg.WithSysWalltime().WithSysNanotime().WithSysNanosleep()
	}

	if m.HasCapability(CapabilityRandom) {
		cfg = cfg.WithRandSource(rand.Reader)
	}

	if m.HasCapability(CapabilityEnvRead) {
		for _, kv := range filterEnv(environ) {
			k, v, _ := strings.Cut(kv, "=")
			cfg = cfg.WithEnv(k, v)
		}
	}

	if m.HasCapability(CapabilityFSRead) {
		dir, err := filepath.Abs(m.DataPath())
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data directory: %w", err)
		}
		if isSensitivePath(dir) {
			return nil, fmt.Errorf("access to sensitive path denied: %s", dir)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("data directory %s is not a directory", dir)
		}
		cfg = cfg.WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(dir, GuestDataDir))
	}

	return cfg, nil
}

// filterEnv drops variables that look like credentials and sorts the rest.
func filterEnv(environ []string) []string {
	var out []string
	for _, kv := range environ {
		k, _, ok := strings.Cut(kv, "=")
		if !ok || k == "" || isSensitiveEnvVar(k) {
			continue
		}
		out = append(out, kv)
	}
	sort.Strings(out)
	return out
}

// isSensitivePath reports whether a host directory must never be mounted.
func isSensitivePath(path string) bool {
	sensitivePaths := []string{
		"/etc",
		"/sys",
		"/proc",
		"/dev",
		"/root/.ssh",
	}

	cleanPath := filepath.Clean(path)
	if cleanPath == "/" {
		return true
	}
	for _, sensitive := range sensitivePaths {
		if cleanPath == sensitive || strings.HasPrefix(cleanPath, sensitive+"/") {
			return true
		}
	}
	return false
}

// isSensitiveEnvVar reports whether an environment variable is withheld
// from modules.
func isSensitiveEnvVar(key string) bool {
	sensitiveVars := []string{
		"AWS_SECRET_ACCESS_KEY",
		"AWS_SESSION_TOKEN",
		"SSH_PRIVATE_KEY",
		"DATABASE_PASSWORD",
		"API_KEY",
		"SECRET",
		"TOKEN",
		"PASSWORD",
		"PASSPHRASE",
	}

	upperKey := strings.ToUpper(key)
	for _, sensitive := range sensitiveVars {
		if strings.Contains(upperKey, sensitive) {
			return true
		}
	}
	return false
}
