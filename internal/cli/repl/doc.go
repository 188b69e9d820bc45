// Package repl provides the interactive vault menu.
//
//   - repl.go: menu loop, prompts and the deposit/withdraw/emergency flows
//   - completer.go: resolution of typed menu words by unique prefix
//   - history.go: persisted input history
//
// The menu runs against any service.Vault, normally a storage.Engine so
// every accepted action is persisted.
package repl
