// Package providers contains the built-in import and export providers.
//
// Import providers receive the compiled instructions of an action, run them
// against the package's data sources and write the resulting records to a
// Sink:
//
//   - locations: subjects company, region, site and location over the
//     LocationPath vocabulary. The location subject reduces the collected
//     paths to a distinct, ordered hierarchy.
//   - labresults: subjects labresult and alarm over the LabResult
//     vocabulary, usually grouped in a foreach.
//
// The csv export provider reads stored records back through a RecordSource
// and writes them as CSV.
//
// MemorySink implements both Sink and RecordSource; the SQLite store in
// pkg/stores is the persistent implementation. Package wasm adds providers
// implemented as WASI modules.
package providers
