// Package wasm runs import providers compiled to WebAssembly (WASI) with
// wazero.
//
// A provider is described by a YAML manifest naming the module, its
// subjects with their fields, and the capabilities it is granted (clock,
// random, env:read, fs:read). Modules run without any host access beyond
// stdio unless a capability grants it; credential-like environment
// variables are never passed through.
//
// Records travel to the module as JSON lines on stdin and the module
// reports back on stdout. See Provider for the message flow.
package wasm
