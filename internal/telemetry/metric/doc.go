// Package metric provides Prometheus metrics for ArchVault.
//
// Registry implements both service.Recorder and storage.Observer, so a
// single value can be handed to the ledger and the persistence engine.
// Collector reports live ledger size at scrape time. Dump renders a
// registry in the text exposition format for the snapshot command.
package metric
