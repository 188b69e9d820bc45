// Package main provides the entry point for archvault.
//
// archvault keeps per-user time-locked deposits. Each subcommand loads
// the persisted ledger, applies one operation and saves; the shell
// subcommand runs the interactive menu over a single loaded ledger.
package main
