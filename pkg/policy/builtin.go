package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		providerRequiredPolicy(),
		remoteSourceSchemePolicy(),
		sharedDependencyPolicy(),
	}
}

// providerRequiredPolicy rejects actions without a provider.
func providerRequiredPolicy() Policy {
	return Policy{
		Name:        "provider-required",
		Description: "Every action must name the provider that runs it",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"actions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package dxp.policies.providers

import rego.v1

deny contains violation if {
	some action in input.package.actions
	trim_space(action.provider) == ""
	violation := {
		"message": sprintf("Action %s does not name a provider", [action.name]),
		"severity": "error",
		"subject": action.name,
	}
}`,
	}
}

// remoteSourceSchemePolicy limits where data sources may be read from.
func remoteSourceSchemePolicy() Policy {
	return Policy{
		Name:        "remote-source-scheme",
		Description: "Data sources must be inline, a local path, a file:// URL or an sftp:// URL",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"data"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package dxp.policies.sources

import rego.v1

allowed_schemes := {"file", "sftp"}

deny contains violation if {
	some source in input.package.data_sources
	contains(source.source, "://")
	scheme := lower(split(source.source, "://")[0])
	not allowed_schemes[scheme]
	violation := {
		"message": sprintf("Data source %s uses unsupported scheme '%s'", [source.id, scheme]),
		"severity": "error",
		"subject": source.id,
	}
}`,
	}
}

// sharedDependencyPolicy warns about shared dependencies whose failure
// would be ignored by every caller.
func sharedDependencyPolicy() Policy {
	return Policy{
		Name:        "non-breaking-shared-dependency",
		Description: "Actions that several actions depend on should break on error",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"actions", "dependencies"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package dxp.policies.dependencies

import rego.v1

deny contains violation if {
	some action in input.package.actions
	action.references > 1
	not action.break_on_error
	violation := {
		"message": sprintf("Action %s is a dependency of %d actions but does not break on error", [action.name, action.references]),
		"severity": "warning",
		"subject": action.name,
	}
}`,
	}
}
