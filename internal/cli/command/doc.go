// Package command provides the archvault command line.
//
// It uses urfave/cli/v2. Every invocation loads configuration, opens
// the storage engine, runs one ledger operation and closes the engine,
// which saves the ledger when it changed:
//
//   - root.go: application, global flags, exit codes
//   - runtime.go: per-invocation configuration, logger, metrics, engine
//   - vault.go: deposit, withdraw, emergency-withdraw, view, summary, users
//   - snapshot.go: snapshot and config commands
//   - shell.go: the interactive menu
package command
