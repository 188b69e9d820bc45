// Package record defines the persisted form of the ledger shared by every
// storage backend.
//
// Amounts are encoded as base-10 strings so 128-bit values survive JSON
// decoders that would otherwise coerce them to float64.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"lukechampine.com/uint128"

	"github.com/Legendarykuga/archVault/internal/core/domain"
)

// ErrMalformed is returned when persisted bytes do not decode to a
// valid ledger.
var ErrMalformed = errors.New("record: malformed ledger data")

// Deposit is the persisted form of domain.Deposit.
type Deposit struct {
	ID          string `json:"id"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	DepositedAt int64  `json:"deposited_at"`
	LockSeconds int64  `json:"lock_seconds"`
	UnlockTime  int64  `json:"unlock_time"`
	Withdrawn   bool   `json:"withdrawn"`
	WithdrawnAt int64  `json:"withdrawn_at,omitempty"`
	Penalty     string `json:"penalty,omitempty"`
}

// User holds one user's deposits in insertion order.
type User struct {
	User     string    `json:"user"`
	Deposits []Deposit `json:"deposits"`
}

// Ledger is the full persisted ledger. Users are sorted by name so equal
// states encode to equal bytes.
type Ledger struct {
	Users []User `json:"users"`
}

// FromDomain converts a deposit for persistence.
func FromDomain(d *domain.Deposit) Deposit {
	r := Deposit{
		ID:          d.ID,
		Token:       string(d.Token),
		Amount:      d.Amount.String(),
		DepositedAt: d.DepositedAt,
		LockSeconds: d.LockSeconds,
		UnlockTime:  d.UnlockTime,
		Withdrawn:   d.Withdrawn,
		WithdrawnAt: d.WithdrawnAt,
	}
	if !d.Penalty.IsZero() {
		r.Penalty = d.Penalty.String()
	}
	return r
}

// ToDomain decodes and validates a persisted deposit.
func (r Deposit) ToDomain() (*domain.Deposit, error) {
	amount, err := uint128.FromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: deposit %s amount %q: %v", ErrMalformed, r.ID, r.Amount, err)
	}
	penalty := uint128.Zero
	if r.Penalty != "" {
		if penalty, err = uint128.FromString(r.Penalty); err != nil {
			return nil, fmt.Errorf("%w: deposit %s penalty %q: %v", ErrMalformed, r.ID, r.Penalty, err)
		}
	}

	d := &domain.Deposit{
		ID:          r.ID,
		Token:       domain.Token(r.Token),
		Amount:      amount,
		DepositedAt: r.DepositedAt,
		LockSeconds: r.LockSeconds,
		UnlockTime:  r.UnlockTime,
		Withdrawn:   r.Withdrawn,
		WithdrawnAt: r.WithdrawnAt,
		Penalty:     penalty,
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: deposit %s: %v", ErrMalformed, r.ID, err)
	}
	return d, nil
}

// EncodeDeposits converts one user's deposits.
func EncodeDeposits(deps []*domain.Deposit) []Deposit {
	out := make([]Deposit, len(deps))
	for i, d := range deps {
		out[i] = FromDomain(d)
	}
	return out
}

// DecodeDeposits converts persisted deposits back, failing on the first
// invalid record.
func DecodeDeposits(recs []Deposit) ([]*domain.Deposit, error) {
	out := make([]*domain.Deposit, len(recs))
	for i, r := range recs {
		d, err := r.ToDomain()
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// FromState builds the persisted ledger from a ledger export.
func FromState(state map[string][]*domain.Deposit) *Ledger {
	users := make([]string, 0, len(state))
	for u := range state {
		users = append(users, u)
	}
	sort.Strings(users)

	l := &Ledger{Users: make([]User, 0, len(users))}
	for _, u := range users {
		l.Users = append(l.Users, User{User: u, Deposits: EncodeDeposits(state[u])})
	}
	return l
}

// State converts the persisted ledger back into a ledger export.
func (l *Ledger) State() (map[string][]*domain.Deposit, error) {
	state := make(map[string][]*domain.Deposit, len(l.Users))
	for _, u := range l.Users {
		if _, dup := state[u.User]; dup {
			return nil, fmt.Errorf("%w: user %q appears twice", ErrMalformed, u.User)
		}
		deps, err := DecodeDeposits(u.Deposits)
		if err != nil {
			return nil, err
		}
		state[u.User] = deps
	}
	return state, nil
}

// Marshal encodes a ledger export as JSON.
func Marshal(state map[string][]*domain.Deposit) ([]byte, error) {
	return json.Marshal(FromState(state))
}

// Unmarshal decodes JSON produced by Marshal.
func Unmarshal(data []byte) (map[string][]*domain.Deposit, error) {
	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return l.State()
}

// Counts returns the number of users and deposits in state.
func Counts(state map[string][]*domain.Deposit) (users, deposits int) {
	for _, deps := range state {
		deposits += len(deps)
	}
	return len(state), deposits
}
