// Package policy checks import packages against Open Policy Agent (OPA)
// Rego policies before they run.
//
// # Input
//
// Every policy sees the same input document:
//
//	{
//	  "package": {
//	    "name": "import",
//	    "actions": [{"name", "provider", "break_on_error", "depends_on", "references"}],
//	    "data_sources": [{"id", "content", "source"}]
//	  },
//	  "context": {"operation": "import", "values": {...}, "timestamp": "..."}
//	}
//
// Violations are read from the deny set of the policy's Rego package. An
// entry is either a message string or an object with message, severity and
// subject keys.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := eng.Evaluate(ctx, pkg, "import", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := result.Err(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
//  1. provider-required - every action names a provider
//  2. remote-source-scheme - data sources are inline, a path, file:// or sftp://
//  3. non-breaking-shared-dependency - warns when a dependency of several
//     actions does not break on error
//
// # Custom Policies
//
// Policies load from .rego and .json files with LoadPolicies. A .rego file
// is named after the file and defaults to warning severity. Its leading
// comments describe it; "severity", "operations", "tags" and "enabled"
// lines set those fields instead:
//
//	# Lab result imports need a named source
//	# operations: import
//	package custom.labs
//
//	import rego.v1
//
//	deny contains violation if {
//	    some source in input.package.data_sources
//	    startswith(source.id, "data[")
//	    violation := {
//	        "message": "Data sources must have an id",
//	        "severity": "error",
//	        "subject": source.id,
//	    }
//	}
//
// # Severity Levels
//
//  - info, warning: reported, the run continues
//  - error, critical: the package is denied
//
// # Hot Reload
//
// Watch reloads file policies when they change. Built-in policies are kept
// and a reload that fails to compile leaves the previous policies in place.
package policy
