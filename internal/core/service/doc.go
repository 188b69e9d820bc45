// Package service provides the ArchVault ledger.
//
// The Ledger maps each user to the ordered sequence of their deposits and
// implements the deposit lifecycle:
//
//	locked --(time passes)--> unlocked --(Withdraw)--> withdrawn
//	locked|unlocked --(EmergencyWithdraw*)--> withdrawn
//
// All mutations are serialized through one writer lock and are atomic per
// call: an operation that fails leaves every deposit unchanged. Reads take
// the shared lock and return copies, so callers never alias ledger state.
//
// The Ledger itself performs no IO; durability is layered on top by
// internal/storage.
package service
