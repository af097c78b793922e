// Package stores provides the persistence layer for dxp.
//
// SQLiteStore keeps run history, action outcomes, the event log and the
// records written by import providers. It implements engine.Recorder, so
// an executor can persist runs as they progress, and providers.Store, so
// import providers can write records that export providers read back.
// Schema changes are applied with embedded golang-migrate migrations.
package stores
