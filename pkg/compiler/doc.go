// Package compiler turns the statements of an action's instructions into an
// ordered list of operations.
//
// Operations are tagged values rather than closures. Console operations log
// text, either once or per row with the row's fields interpolated. Let
// operations apply a setter.Setter to a row. Import and foreach operations
// group per-row operations with the data source they read and the subject
// vocabulary that limits which target fields may be assigned.
//
// Compilation never fails. Invalid statements are logged through the
// logsink.LogFunc and compiled to no-ops, and the problems are kept as
// diagnostics on the Program.
package compiler
