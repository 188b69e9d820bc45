// Package domain defines the core domain models for ArchVault.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business error with a structured error code.
//
// Codes have the form AV-<AREA>-<NNNN>, where the number loosely follows
// HTTP status semantics (4xxx caller error, 5xxx system error).
type DomainError struct {
	Code    string // Error code (e.g., "AV-DEP-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Argument errors. These are raised at the input boundary, before any
// ledger state changes.
var (
	// ErrInvalidInput indicates a non-numeric, negative or out-of-range value.
	ErrInvalidInput = NewDomainError("AV-ARG-4001", "invalid input")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("AV-ARG-4002", "missing required argument")
)

// Deposit errors.
var (
	// ErrDepositNotFound indicates the selected deposit does not exist.
	ErrDepositNotFound = NewDomainError("AV-DEP-4040", "deposit not found")

	// ErrDepositLocked indicates an ordinary withdrawal of a still-locked deposit.
	ErrDepositLocked = NewDomainError("AV-DEP-4090", "deposit is still locked")

	// ErrAlreadyWithdrawn indicates the selected deposit was already consumed.
	ErrAlreadyWithdrawn = NewDomainError("AV-DEP-4091", "deposit already withdrawn")

	// ErrAmountOverflow indicates a total exceeded the 128-bit amount range.
	ErrAmountOverflow = NewDomainError("AV-DEP-4220", "amount overflow")
)

// Storage errors.
var (
	// ErrPersistenceIO indicates the snapshot could not be read or written.
	// The in-memory ledger remains valid.
	ErrPersistenceIO = NewDomainError("AV-STOR-5001", "persistence io failure")

	// ErrPersistenceCorrupt indicates a persisted snapshot exists but cannot
	// be decoded. It is never treated as an empty ledger.
	ErrPersistenceCorrupt = NewDomainError("AV-STOR-5002", "persisted ledger is corrupt")
)
