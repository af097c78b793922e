package wasm

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFilterEnv(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin",
		"AWS_SECRET_ACCESS_KEY=x",
		"GITHUB_TOKEN=x",
		"DB_PASSWORD=x",
		"LANG=C",
		"malformed",
		"=empty",
	}

	want := []string{"LANG=C", "PATH=/usr/bin"}
	if diff := cmp.Diff(want, filterEnv(environ)); diff != "" {
		t.Errorf("Unexpected environment (-want +got):\n%s", diff)
	}
}

func TestIsSensitivePath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/etc", true},
		{"/etc/ssl", true},
		{"/proc/1", true},
		{"/root/.ssh", true},
		{"/etcetera", false},
		{"/srv/data", false},
		{"/root/module", false},
	}

	for _, tt := range tests {
		if got := isSensitivePath(tt.path); got != tt.want {
			t.Errorf("isSensitivePath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestModuleConfig(t *testing.T) {
	tests := []struct {
		name    string
		m       *Manifest
		wantErr string
	}{
		{"no capabilities", &Manifest{ID: "a"}, ""},
		{"clock and random", &Manifest{ID: "a", Capabilities: []string{CapabilityClock, CapabilityRandom}}, ""},
		{"env", &Manifest{ID: "a", Capabilities: []string{CapabilityEnvRead}}, ""},
		{"data dir", &Manifest{ID: "a", Capabilities: []string{CapabilityFSRead}, Dir: t.TempDir()}, ""},
		{"sensitive data dir", &Manifest{ID: "a", Capabilities: []string{CapabilityFSRead}, DataDir: "/etc"}, "sensitive path"},
		{"missing data dir", &Manifest{ID: "a", Capabilities: []string{CapabilityFSRead}, DataDir: "/nonexistent/dxp"}, "not a directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := moduleConfig(tt.m, []string{"LANG=C"})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Expected error containing %q, got: %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if cfg == nil {
				t.Error("Expected a module config")
			}
		})
	}
}
