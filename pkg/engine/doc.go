// Package engine loads import and export packages and runs their actions.
//
// # Overview
//
// A package is a document whose children are actions plus one or more data
// elements. Each action names a provider, carries an instructions element
// and may depend on sibling actions:
//
//	<import>
//	  <LoadCompanies provider="locations">
//	    <instructions>
//	      <import into="company" from="sites">
//	        <let CompanyName="Company" default="" />
//	      </import>
//	    </instructions>
//	  </LoadCompanies>
//	  <LoadSites provider="locations" dependsOn="LoadCompanies" breakOnError="false">
//	    ...
//	  </LoadSites>
//	  <data id="sites">Company,Region,Site
//	Acme,East,North</data>
//	</import>
//
// A root element that carries the provider attribute and the instructions
// itself is a package with a single implicit action.
//
// # Loading
//
// LoadPackage validates the document and builds the dependency Graph. A
// missing provider attribute or instructions element, an undefined
// dependency, a dependency cycle or a package without data elements is a
// load error and nothing runs.
//
// # Execution
//
// Executor.Import runs the roots (actions no other action depends on) in
// declaration order. Every action runs its dependencies first, then resolves
// its provider from the Registry, compiles its instructions and hands the
// program to the provider. Each action runs at most once per run.
//
// Failure propagation is gated by breakOnError, which defaults to true:
//
//   - a failed dependency that breaks on error aborts its caller;
//   - a failed dependency that does not break on error is logged and the
//     caller continues;
//   - a failed root that breaks on error stops the remaining roots.
//
// Progress is reported through a logsink.LogFunc as "<name> started",
// "<name> completed" and "<name> aborted". Runs are traced and counted
// through the telemetry attached to the context and, when a Recorder is
// configured, persisted.
//
// # Error Classification
//
// Errors are EngineErrors classified as load, compile, row, action,
// configuration or cycle errors:
//
//	if engine.IsLoadError(err) {
//	    // the document is malformed
//	}
//
// # Providers
//
// Providers are registered by identifier at process start:
//
//	registry := engine.NewRegistry()
//	registry.MustRegister("locations", func() (interface{}, error) {
//	    return providers.NewLocationImporter(sink), nil
//	})
//
// An import provider implements Importer and usually calls
// ImportRequest.Run with a RowHandler that stores each target record.
//
// # Thread Safety
//
// A run is single threaded. Packages and actions must not be shared by
// concurrent runs. The Registry is safe for concurrent use.
package engine
