// Package domain defines the core domain models for ArchVault.
//
// Domain models are pure value objects without IO dependencies:
//
//   - Deposit: one time-locked funding record
//   - Amount: 128-bit unsigned base-unit quantities and penalty arithmetic
//   - Token: supported asset symbols and their decimal precision
//   - Errors: coded domain errors
//
// A deposit's lock state is derived from its unlock time and the caller's
// clock; only the withdrawn flag is stored.
package domain
