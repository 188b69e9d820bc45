// Package kv persists the ledger in an embedded Badger database.
//
// Key layout:
//
//	ledger/meta                 JSON metadata of the last save
//	ledger/salt                 key-derivation salt (encrypted stores only)
//	ledger/g/<gen>/u/<user>     JSON list of the user's deposits
//
// A save writes every user under a new generation with write batches,
// then points the metadata record at it in one small transaction, and
// finally deletes older generations. Readers only follow the generation
// named by the metadata, so they observe either the previous ledger or
// the new one regardless of ledger size.
package kv
