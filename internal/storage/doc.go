// Package storage provides the durable ledger engine for ArchVault.
//
// The engine wraps an in-memory service.Ledger with a persistence backend
// and owns the load, mutate, save lifecycle:
//
//   - Open loads the last saved ledger (an absent store is an empty ledger)
//   - mutating operations apply to memory and, in "mutation" mode, are
//     saved before returning; a failed save rolls the mutation back
//   - "interval" mode saves from a background ticker when dirty
//   - "exit" mode saves only on Close
//
// Backends:
//
//   - file: single-file binary snapshots (package snapshot)
//   - badger: embedded Badger database (package kv)
//
// Both backends support optional at-rest encryption through
// pkg/crypto/adaptive.
package storage
