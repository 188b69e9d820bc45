// Package logger provides structured logging for ArchVault.
//
// It wraps log/slog:
//
//   - logger.go: handler setup, global level, package-level helpers
//   - context.go: logger and operation ID propagation through context
//   - redact.go: masking of secrets such as the encryption key
//
// Every CLI invocation and every interactive-shell action carries an
// operation ID, attached by L(ctx) as the "op_id" attribute.
package logger
