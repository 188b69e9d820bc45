package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("AV-TEST-1000", "test message"),
			expected: "[AV-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("AV-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[AV-TEST-1001] test message: extra info",
		},
		{
			name:     "formatted details",
			err:      ErrInvalidInput.WithDetailsf("fee %d%%", 120),
			expected: "[AV-ARG-4001] invalid input: fee 120%",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("AV-TEST-1000", "message 1")
	err2 := NewDomainError("AV-TEST-1000", "message 2")
	err3 := NewDomainError("AV-TEST-1001", "message 1")

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_CopiesDoNotMutate(t *testing.T) {
	cause := fmt.Errorf("disk full")
	derived := ErrPersistenceIO.WithDetails("save").WithCause(cause)

	if ErrPersistenceIO.Details != "" || ErrPersistenceIO.Cause != nil {
		t.Fatal("sentinel error was modified")
	}
	if derived.Cause != cause || errors.Unwrap(derived) != cause {
		t.Errorf("Cause = %v, want %v", derived.Cause, cause)
	}
	if !errors.Is(derived, ErrPersistenceIO) {
		t.Error("derived error should match its sentinel")
	}
}

func TestIsDomainErrorAndCode(t *testing.T) {
	wrapped := fmt.Errorf("load: %w", ErrPersistenceCorrupt.WithDetails("bad checksum"))

	if !IsDomainError(wrapped, "AV-STOR-5002") {
		t.Error("IsDomainError should see through wrapping")
	}
	if !IsDomainError(wrapped, "") {
		t.Error("IsDomainError with empty code should match any DomainError")
	}
	if IsDomainError(fmt.Errorf("plain"), "") {
		t.Error("plain error is not a DomainError")
	}
	if got := GetErrorCode(wrapped); got != "AV-STOR-5002" {
		t.Errorf("GetErrorCode() = %q", got)
	}
	if got := GetErrorCode(nil); got != "" {
		t.Errorf("GetErrorCode(nil) = %q, want empty", got)
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err  *DomainError
		code string
	}{
		{ErrInvalidInput, "AV-ARG-4001"},
		{ErrMissingArgument, "AV-ARG-4002"},
		{ErrDepositNotFound, "AV-DEP-4040"},
		{ErrDepositLocked, "AV-DEP-4090"},
		{ErrAlreadyWithdrawn, "AV-DEP-4091"},
		{ErrAmountOverflow, "AV-DEP-4220"},
		{ErrPersistenceIO, "AV-STOR-5001"},
		{ErrPersistenceCorrupt, "AV-STOR-5002"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Error code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Error message should not be empty")
			}
		})
	}
}
