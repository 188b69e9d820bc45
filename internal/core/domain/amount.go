// Package domain defines the core domain models for ArchVault.
package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"lukechampine.com/uint128"
)

// MaxFeePercent is the upper bound of an emergency withdrawal fee.
const MaxFeePercent = 100

// DefaultEmergencyFeePercent is the penalty charged when none is configured.
const DefaultEmergencyFeePercent = 10

// ParseAmount parses a base-unit amount. Only plain decimal digits are
// accepted; signs, separators and fractions are rejected. Zero is rejected.
func ParseAmount(s string) (uint128.Uint128, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uint128.Zero, ErrMissingArgument.WithDetails("amount is required")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return uint128.Zero, ErrInvalidInput.WithDetailsf("amount %q is not a non-negative integer", s)
		}
	}
	a, err := uint128.FromString(s)
	if err != nil {
		return uint128.Zero, ErrInvalidInput.WithDetailsf("amount %q exceeds 128 bits", s).WithCause(err)
	}
	if a.IsZero() {
		return uint128.Zero, ErrInvalidInput.WithDetails("amount must be greater than zero")
	}
	return a, nil
}

// ParseTokenAmount parses a human amount such as "1.5" into base units of
// the given token. More fractional digits than the token supports is an
// error rather than a silent truncation.
func ParseTokenAmount(s string, tok Token) (uint128.Uint128, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uint128.Zero, ErrMissingArgument.WithDetails("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return uint128.Zero, ErrInvalidInput.WithDetailsf("amount %q is not a number", s).WithCause(err)
	}
	if d.IsNegative() || d.IsZero() {
		return uint128.Zero, ErrInvalidInput.WithDetails("amount must be greater than zero")
	}
	units := d.Shift(int32(tok.Decimals()))
	if !units.IsInteger() {
		return uint128.Zero, ErrInvalidInput.WithDetailsf("%s supports at most %d decimal places", tok, tok.Decimals())
	}
	b := units.BigInt()
	if b.BitLen() > 128 {
		return uint128.Zero, ErrInvalidInput.WithDetailsf("amount %q exceeds 128 bits", s)
	}
	return uint128.FromBig(b), nil
}

// FormatTokenAmount renders base units in the token's display precision.
func FormatTokenAmount(a uint128.Uint128, tok Token) string {
	return decimal.NewFromBigInt(a.Big(), -int32(tok.Decimals())).String()
}

// ParseFeePercent parses an integer percentage in [0, 100].
func ParseFeePercent(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	fee, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidInput.WithDetailsf("fee %q is not a non-negative integer", s)
	}
	if err := ValidateFeePercent(fee); err != nil {
		return 0, err
	}
	return fee, nil
}

// ValidateFeePercent checks that fee is within [0, MaxFeePercent].
func ValidateFeePercent(fee uint64) error {
	if fee > MaxFeePercent {
		return ErrInvalidInput.WithDetailsf("fee %d%% exceeds %d%%", fee, MaxFeePercent)
	}
	return nil
}

// ParseLockPeriod parses a lock period given either as whole seconds ("30")
// or as a Go duration ("90s", "2h"). Negative periods are rejected.
func ParseLockPeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMissingArgument.WithDetails("lock period is required")
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs < 0 {
			return 0, ErrInvalidInput.WithDetails("lock period must not be negative")
		}
		if secs > int64(MaxLockPeriod/time.Second) {
			return 0, ErrInvalidInput.WithDetailsf("lock period exceeds %s", MaxLockPeriod)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, ErrInvalidInput.WithDetailsf("lock period %q is neither seconds nor a duration", s)
	}
	if d < 0 {
		return 0, ErrInvalidInput.WithDetails("lock period must not be negative")
	}
	if d > MaxLockPeriod {
		return 0, ErrInvalidInput.WithDetailsf("lock period exceeds %s", MaxLockPeriod)
	}
	return d.Truncate(time.Second), nil
}

// Penalty returns floor(amount * feePercent / 100) without intermediate
// overflow: amount = 100q + r, so the result is q*fee + (r*fee)/100.
func Penalty(amount uint128.Uint128, feePercent uint64) uint128.Uint128 {
	if feePercent >= MaxFeePercent {
		return amount
	}
	q, r := amount.QuoRem64(100)
	return q.Mul64(feePercent).Add64(r * feePercent / 100)
}

// AfterPenalty returns the payout of an emergency withdrawal.
func AfterPenalty(amount uint128.Uint128, feePercent uint64) uint128.Uint128 {
	return amount.Sub(Penalty(amount, feePercent))
}

// CheckedAdd returns a+b, or false if the sum overflows 128 bits.
func CheckedAdd(a, b uint128.Uint128) (uint128.Uint128, bool) {
	if a.Cmp(uint128.Max.Sub(b)) > 0 {
		return uint128.Zero, false
	}
	return a.Add(b), true
}
