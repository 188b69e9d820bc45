// Package domain defines the core domain models for ArchVault.
package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"lukechampine.com/uint128"
)

// Deposit constraints.
const (
	MaxUserIDLength = 128

	// MaxLockPeriod bounds lock periods so unlock times stay far from
	// int64 overflow.
	MaxLockPeriod = 100 * 365 * 24 * time.Hour

	// DepositIDPrefix is the prefix for deposit IDs.
	DepositIDPrefix = "avdp-"
)

// Status is the derived lifecycle state of a deposit.
type Status string

const (
	StatusLocked    Status = "locked"
	StatusUnlocked  Status = "unlocked"
	StatusWithdrawn Status = "withdrawn"
)

// Deposit is one time-locked funding event.
//
// Amount, DepositedAt, LockSeconds and UnlockTime are fixed at creation.
// Withdrawn moves from false to true at most once via MarkWithdrawn.
type Deposit struct {
	// ID is avdp-{ulid_lowercase}.
	ID string

	// Token is the asset symbol.
	Token Token

	// Amount is the deposited quantity in base units.
	Amount uint128.Uint128

	// DepositedAt is the creation time (Unix seconds).
	DepositedAt int64

	// LockSeconds is the requested lock duration.
	LockSeconds int64

	// UnlockTime is DepositedAt + LockSeconds (Unix seconds). Ordinary
	// withdrawal is allowed once now >= UnlockTime.
	UnlockTime int64

	// Withdrawn is set when any withdrawal consumes this deposit.
	Withdrawn bool

	// WithdrawnAt is the withdrawal time (Unix seconds), zero until withdrawn.
	WithdrawnAt int64

	// Penalty is the amount forfeited by an emergency withdrawal.
	Penalty uint128.Uint128
}

// NewDeposit creates a deposit that unlocks lock after now.
func NewDeposit(token Token, amount uint128.Uint128, lock time.Duration, now time.Time) (*Deposit, error) {
	if lock < 0 {
		return nil, ErrInvalidInput.WithDetails("lock period must not be negative")
	}
	if lock > MaxLockPeriod {
		return nil, ErrInvalidInput.WithDetailsf("lock period exceeds %s", MaxLockPeriod)
	}
	if token == "" {
		token = DefaultToken
	}
	id, err := GenerateDepositID(now)
	if err != nil {
		return nil, err
	}

	lockSecs := int64(lock / time.Second)
	deposited := now.Unix()
	return &Deposit{
		ID:          id,
		Token:       token,
		Amount:      amount,
		DepositedAt: deposited,
		LockSeconds: lockSecs,
		UnlockTime:  deposited + lockSecs,
	}, nil
}

// GenerateDepositID generates a new deposit ID using ULID.
func GenerateDepositID(now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", ErrInvalidInput.WithDetails("cannot generate deposit id").WithCause(err)
	}
	return DepositIDPrefix + strings.ToLower(id.String()), nil
}

// IsValidDepositID checks the avdp-{ulid} format.
func IsValidDepositID(id string) bool {
	id = strings.ToLower(id)
	if !strings.HasPrefix(id, DepositIDPrefix) {
		return false
	}
	if len(id) != len(DepositIDPrefix)+ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(id[len(DepositIDPrefix):]))
	return err == nil
}

// IsUnlocked reports whether the lock period has elapsed at now.
func (d *Deposit) IsUnlocked(now time.Time) bool {
	return now.Unix() >= d.UnlockTime
}

// Status derives the lifecycle state at now.
func (d *Deposit) Status(now time.Time) Status {
	switch {
	case d.Withdrawn:
		return StatusWithdrawn
	case d.IsUnlocked(now):
		return StatusUnlocked
	default:
		return StatusLocked
	}
}

// Remaining returns how long until the deposit unlocks, or zero.
func (d *Deposit) Remaining(now time.Time) time.Duration {
	left := d.UnlockTime - now.Unix()
	if left <= 0 {
		return 0
	}
	return time.Duration(left) * time.Second
}

// MarkWithdrawn consumes the deposit. It fails if the deposit was
// already withdrawn; the flag never reverts.
func (d *Deposit) MarkWithdrawn(now time.Time, penalty uint128.Uint128) error {
	if d.Withdrawn {
		return ErrAlreadyWithdrawn.WithDetails(d.ID)
	}
	d.Withdrawn = true
	d.WithdrawnAt = now.Unix()
	d.Penalty = penalty
	return nil
}

// Payout returns what the owner received (Amount - Penalty) once
// withdrawn, zero otherwise.
func (d *Deposit) Payout() uint128.Uint128 {
	if !d.Withdrawn {
		return uint128.Zero
	}
	return d.Amount.Sub(d.Penalty)
}

// Validate checks invariants of a decoded deposit.
func (d *Deposit) Validate() error {
	var violations []string

	if d.ID == "" {
		violations = append(violations, "id is required")
	}
	if _, ok := tokenDecimals[d.Token]; !ok {
		violations = append(violations, "unsupported token "+string(d.Token))
	}
	if d.LockSeconds < 0 {
		violations = append(violations, "lock_seconds is negative")
	}
	if d.UnlockTime != d.DepositedAt+d.LockSeconds {
		violations = append(violations, "unlock_time does not match deposited_at + lock_seconds")
	}
	if d.Penalty.Cmp(d.Amount) > 0 {
		violations = append(violations, "penalty exceeds amount")
	}
	if !d.Withdrawn && (d.WithdrawnAt != 0 || !d.Penalty.IsZero()) {
		violations = append(violations, "withdrawal fields set on an active deposit")
	}

	if len(violations) > 0 {
		return ErrInvalidInput.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// Clone returns a copy of the deposit.
func (d *Deposit) Clone() *Deposit {
	clone := *d
	return &clone
}

// DepositedAtTime returns DepositedAt as time.Time.
func (d *Deposit) DepositedAtTime() time.Time {
	return time.Unix(d.DepositedAt, 0)
}

// UnlockTimeTime returns UnlockTime as time.Time.
func (d *Deposit) UnlockTimeTime() time.Time {
	return time.Unix(d.UnlockTime, 0)
}

// ValidateUserID checks a ledger user identifier.
func ValidateUserID(user string) error {
	if strings.TrimSpace(user) == "" {
		return ErrMissingArgument.WithDetails("user is required")
	}
	if len(user) > MaxUserIDLength {
		return ErrInvalidInput.WithDetailsf("user exceeds %d characters", MaxUserIDLength)
	}
	return nil
}
