// Package config loads the dxp configuration file and validates packages
// against the CUE package schema.
//
// The configuration is read from dxp.yaml (or the file named by DXP_CONFIG)
// over the defaults returned by Default, then checked with validator struct
// tags. A file ending in .cue is evaluated with CUE first and decoded the
// same way, so definitions and hidden fields can be used to share values:
//
//	store: driver: "sqlite"
//	store: path:   "runs/dxp.db"
//	policy: paths: ["policies"]
//	providers: wasm: [{manifest: "sensors/manifest.yaml"}]
//
// Relative paths in the file resolve against the file's directory.
//
// SchemaRegistry holds CUE schemas. The built-in "package" schema checks an
// engine.PackageSummary: action and package names, non-blank providers and
// at least one data element.
package config
