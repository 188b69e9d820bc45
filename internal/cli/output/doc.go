// Package output renders archvault command results.
//
//   - formatter.go: Formatter interface and factory
//   - table.go: tabwriter tables, reflection over view structs
//   - json.go, yaml.go: machine-readable output for scripting
//   - views.go: display DTOs built from ledger values
//
// Views carry amounts as decimal strings in the token's precision and,
// in wide mode or structured formats, the raw base units as well.
package output
