// Package config defines the ArchVault configuration structure.
//
// Values are loaded by confloader with the priority
// flag > env > file > default. Verify rejects values the storage engine
// or the ledger would refuse later; Sanitize masks secrets for display.
package config
