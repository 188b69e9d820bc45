// Package service provides the ArchVault ledger.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"lukechampine.com/uint128"

	"github.com/Legendarykuga/archVault/internal/core/domain"
)

// Vault is the set of operations front-ends invoke. Both *Ledger and the
// durable storage.Engine implement it.
type Vault interface {
	Deposit(ctx context.Context, req *DepositRequest) (*domain.Deposit, error)
	Withdraw(ctx context.Context, user string) (*WithdrawalResult, error)
	WithdrawOne(ctx context.Context, user string, index int) (*WithdrawalResult, error)
	EmergencyWithdrawAll(ctx context.Context, user string, feePercent uint64) (*WithdrawalResult, error)
	EmergencyWithdrawOne(ctx context.Context, user string, index int, feePercent uint64) (*WithdrawalResult, error)
	EmergencyWithdrawByID(ctx context.Context, user, depositID string, feePercent uint64) (*WithdrawalResult, error)
	ViewDeposits(ctx context.Context, user string) ([]*domain.Deposit, error)
	Summary(ctx context.Context, user string) (*Summary, error)
	Users(ctx context.Context) []string
}

// Recorder observes ledger events, typically for metrics.
type Recorder interface {
	ObserveDeposit(d *domain.Deposit)
	ObserveWithdrawal(res *WithdrawalResult)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDeposit(*domain.Deposit)     {}
func (nopRecorder) ObserveWithdrawal(*WithdrawalResult) {}

// Ledger holds every user's deposits in memory.
type Ledger struct {
	mu    sync.RWMutex
	users map[string][]*domain.Deposit

	now      func() time.Time
	recorder Recorder
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now, e.g. with a simulated clock in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithRecorder attaches an event recorder.
func WithRecorder(r Recorder) Option {
	return func(l *Ledger) {
		if r != nil {
			l.recorder = r
		}
	}
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		users:    make(map[string][]*domain.Deposit),
		now:      time.Now,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger's notion of the current time.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// ============================================================================
// Deposit
// ============================================================================

// DepositRequest contains the parameters of a deposit.
type DepositRequest struct {
	User   string          // Required
	Token  domain.Token    // Optional, defaults to domain.DefaultToken
	Amount uint128.Uint128 // Base units
	Lock   time.Duration   // Time from now until ordinary withdrawal is allowed
}

// Deposit appends a new deposit to the user's sequence. The deposit
// unlocks at now + Lock.
func (l *Ledger) Deposit(_ context.Context, req *DepositRequest) (*domain.Deposit, error) {
	if req == nil {
		return nil, domain.ErrMissingArgument.WithDetails("deposit request is required")
	}
	if err := domain.ValidateUserID(req.User); err != nil {
		return nil, err
	}
	token, err := domain.ParseToken(string(req.Token))
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	d, err := domain.NewDeposit(token, req.Amount, req.Lock, l.now())
	if err != nil {
		return nil, err
	}
	l.users[req.User] = append(l.users[req.User], d)
	l.recorder.ObserveDeposit(d)

	return d.Clone(), nil
}

// ============================================================================
// Withdrawals
// ============================================================================

// WithdrawalKind distinguishes ordinary from emergency withdrawals.
type WithdrawalKind string

const (
	KindOrdinary  WithdrawalKind = "ordinary"
	KindEmergency WithdrawalKind = "emergency"
)

// WithdrawalResult describes the deposits consumed by one withdrawal call.
type WithdrawalResult struct {
	User       string
	Kind       WithdrawalKind
	FeePercent uint64

	// Total is the amount paid out, summed over all consumed deposits.
	Total uint128.Uint128

	// Penalty is the amount forfeited (emergency withdrawals only).
	Penalty uint128.Uint128

	// Count is the number of deposits consumed.
	Count int

	// DepositIDs lists the consumed deposits in ledger order.
	DepositIDs []string

	// ByToken breaks Total down per token.
	ByToken map[domain.Token]uint128.Uint128

	// PenaltyByToken breaks Penalty down per token.
	PenaltyByToken map[domain.Token]uint128.Uint128
}

func newResult(user string, kind WithdrawalKind, fee uint64) *WithdrawalResult {
	return &WithdrawalResult{
		User:       user,
		Kind:       kind,
		FeePercent: fee,
		Total:      uint128.Zero,
		Penalty:    uint128.Zero,
		ByToken:    make(map[domain.Token]uint128.Uint128),

		PenaltyByToken: make(map[domain.Token]uint128.Uint128),
	}
}

// planned is a deposit selected for withdrawal with its computed payout.
type planned struct {
	dep     *domain.Deposit
	penalty uint128.Uint128
}

// Withdraw consumes every unwithdrawn deposit of user whose lock has
// elapsed and returns the total. An unknown user yields a zero result.
func (l *Ledger) Withdraw(_ context.Context, user string) (*WithdrawalResult, error) {
	if err := domain.ValidateUserID(user); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var plan []planned
	for _, d := range l.users[user] {
		if !d.Withdrawn && d.IsUnlocked(now) {
			plan = append(plan, planned{dep: d, penalty: uint128.Zero})
		}
	}
	return l.apply(user, KindOrdinary, 0, now, plan)
}

// WithdrawOne consumes the deposit at index (0-based, over the user's full
// sequence) if its lock has elapsed.
func (l *Ledger) WithdrawOne(_ context.Context, user string, index int) (*WithdrawalResult, error) {
	if err := domain.ValidateUserID(user); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	d, err := l.selectIndex(user, index)
	if err != nil {
		return nil, err
	}
	now := l.now()
	if !d.IsUnlocked(now) {
		return nil, domain.ErrDepositLocked.WithDetailsf("%s unlocks in %s", d.ID, d.Remaining(now))
	}
	return l.apply(user, KindOrdinary, 0, now, []planned{{dep: d, penalty: uint128.Zero}})
}

// EmergencyWithdrawAll consumes every unwithdrawn deposit of user
// regardless of lock state, forfeiting floor(amount*feePercent/100) of each.
func (l *Ledger) EmergencyWithdrawAll(_ context.Context, user string, feePercent uint64) (*WithdrawalResult, error) {
	if err := domain.ValidateUserID(user); err != nil {
		return nil, err
	}
	if err := domain.ValidateFeePercent(feePercent); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var plan []planned
	for _, d := range l.users[user] {
		if !d.Withdrawn {
			plan = append(plan, planned{dep: d, penalty: domain.Penalty(d.Amount, feePercent)})
		}
	}
	return l.apply(user, KindEmergency, feePercent, l.now(), plan)
}

// EmergencyWithdrawOne is EmergencyWithdrawAll restricted to the deposit
// at index.
func (l *Ledger) EmergencyWithdrawOne(_ context.Context, user string, index int, feePercent uint64) (*WithdrawalResult, error) {
	if err := domain.ValidateUserID(user); err != nil {
		return nil, err
	}
	if err := domain.ValidateFeePercent(feePercent); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	d, err := l.selectIndex(user, index)
	if err != nil {
		return nil, err
	}
	plan := []planned{{dep: d, penalty: domain.Penalty(d.Amount, feePercent)}}
	return l.apply(user, KindEmergency, feePercent, l.now(), plan)
}

// EmergencyWithdrawByID is EmergencyWithdrawOne selecting by deposit ID.
func (l *Ledger) EmergencyWithdrawByID(_ context.Context, user, depositID string, feePercent uint64) (*WithdrawalResult, error) {
	if err := domain.ValidateUserID(user); err != nil {
		return nil, err
	}
	if err := domain.ValidateFeePercent(feePercent); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for i, d := range l.users[user] {
		if d.ID != depositID {
			continue
		}
		d, err := l.selectIndex(user, i)
		if err != nil {
			return nil, err
		}
		plan := []planned{{dep: d, penalty: domain.Penalty(d.Amount, feePercent)}}
		return l.apply(user, KindEmergency, feePercent, l.now(), plan)
	}
	return nil, domain.ErrDepositNotFound.WithDetails(depositID)
}

// selectIndex returns the live deposit at index. Callers hold l.mu.
func (l *Ledger) selectIndex(user string, index int) (*domain.Deposit, error) {
	deps := l.users[user]
	if index < 0 || index >= len(deps) {
		return nil, domain.ErrDepositNotFound.WithDetailsf("user %q has no deposit #%d", user, index)
	}
	d := deps[index]
	if d.Withdrawn {
		return nil, domain.ErrAlreadyWithdrawn.WithDetails(d.ID)
	}
	return d, nil
}

// apply totals the plan, failing before any mutation on overflow, then
// marks every planned deposit withdrawn. Callers hold l.mu.
func (l *Ledger) apply(user string, kind WithdrawalKind, fee uint64, now time.Time, plan []planned) (*WithdrawalResult, error) {
	res := newResult(user, kind, fee)

	var ok bool
	for _, p := range plan {
		payout := p.dep.Amount.Sub(p.penalty)
		if res.Total, ok = domain.CheckedAdd(res.Total, payout); !ok {
			return nil, domain.ErrAmountOverflow.WithDetails("withdrawal total exceeds 128 bits")
		}
		if res.Penalty, ok = domain.CheckedAdd(res.Penalty, p.penalty); !ok {
			return nil, domain.ErrAmountOverflow.WithDetails("penalty total exceeds 128 bits")
		}
		if res.ByToken[p.dep.Token], ok = domain.CheckedAdd(res.ByToken[p.dep.Token], payout); !ok {
			return nil, domain.ErrAmountOverflow.WithDetailsf("%s total exceeds 128 bits", p.dep.Token)
		}
		if !p.penalty.IsZero() {
			// Bounded by res.Penalty, which was checked above.
			res.PenaltyByToken[p.dep.Token] = res.PenaltyByToken[p.dep.Token].Add(p.penalty)
		}
	}

	for _, p := range plan {
		// Selection only admits unwithdrawn deposits, so this cannot fail.
		if err := p.dep.MarkWithdrawn(now, p.penalty); err != nil {
			return nil, err
		}
		res.Count++
		res.DepositIDs = append(res.DepositIDs, p.dep.ID)
	}

	if res.Count > 0 {
		l.recorder.ObserveWithdrawal(res)
	}
	return res, nil
}

// ============================================================================
// Reads
// ============================================================================

// ViewDeposits returns copies of user's deposits in insertion order.
// An unknown user yields an empty, non-nil slice.
func (l *Ledger) ViewDeposits(_ context.Context, user string) ([]*domain.Deposit, error) {
	if err := domain.ValidateUserID(user); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return cloneDeposits(l.users[user]), nil
}

// TokenSummary aggregates one token's deposits by status.
type TokenSummary struct {
	Locked    uint128.Uint128
	Unlocked  uint128.Uint128
	Withdrawn uint128.Uint128 // paid out
	Penalties uint128.Uint128
}

// Summary aggregates a user's deposits at the ledger's current time.
type Summary struct {
	User      string
	At        time.Time
	Locked    int
	Unlocked  int
	Withdrawn int
	ByToken   map[domain.Token]*TokenSummary
}

// Summary computes per-status counts and per-token totals for user.
// Totals saturate at the 128-bit maximum rather than failing.
func (l *Ledger) Summary(_ context.Context, user string) (*Summary, error) {
	if err := domain.ValidateUserID(user); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	s := &Summary{
		User:    user,
		At:      now,
		ByToken: make(map[domain.Token]*TokenSummary),
	}
	for _, d := range l.users[user] {
		ts, ok := s.ByToken[d.Token]
		if !ok {
			ts = &TokenSummary{}
			s.ByToken[d.Token] = ts
		}
		switch d.Status(now) {
		case domain.StatusLocked:
			s.Locked++
			ts.Locked = saturatingAdd(ts.Locked, d.Amount)
		case domain.StatusUnlocked:
			s.Unlocked++
			ts.Unlocked = saturatingAdd(ts.Unlocked, d.Amount)
		case domain.StatusWithdrawn:
			s.Withdrawn++
			ts.Withdrawn = saturatingAdd(ts.Withdrawn, d.Payout())
			ts.Penalties = saturatingAdd(ts.Penalties, d.Penalty)
		}
	}
	return s, nil
}

// Users returns all users with at least one deposit, sorted.
func (l *Ledger) Users(_ context.Context) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	users := make([]string, 0, len(l.users))
	for u := range l.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Stats returns the number of users and deposits.
func (l *Ledger) Stats() (users, deposits int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, deps := range l.users {
		deposits += len(deps)
	}
	return len(l.users), deposits
}

// ============================================================================
// Persistence hooks
// ============================================================================

// Export returns a deep copy of the full ledger state.
func (l *Ledger) Export() map[string][]*domain.Deposit {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state := make(map[string][]*domain.Deposit, len(l.users))
	for u, deps := range l.users {
		state[u] = cloneDeposits(deps)
	}
	return state
}

// Restore replaces the ledger state. Every record is validated first; on
// error the current state is kept.
func (l *Ledger) Restore(state map[string][]*domain.Deposit) error {
	users := make(map[string][]*domain.Deposit, len(state))
	seen := make(map[string]struct{})
	for u, deps := range state {
		if err := domain.ValidateUserID(u); err != nil {
			return err
		}
		for i, d := range deps {
			if d == nil {
				return domain.ErrInvalidInput.WithDetailsf("user %q deposit #%d is empty", u, i)
			}
			if err := d.Validate(); err != nil {
				return err
			}
			if _, dup := seen[d.ID]; dup {
				return domain.ErrInvalidInput.WithDetailsf("duplicate deposit id %s", d.ID)
			}
			seen[d.ID] = struct{}{}
		}
		if len(deps) > 0 {
			users[u] = cloneDeposits(deps)
		}
	}

	l.mu.Lock()
	l.users = users
	l.mu.Unlock()
	return nil
}

func cloneDeposits(deps []*domain.Deposit) []*domain.Deposit {
	out := make([]*domain.Deposit, len(deps))
	for i, d := range deps {
		out[i] = d.Clone()
	}
	return out
}

func saturatingAdd(a, b uint128.Uint128) uint128.Uint128 {
	if sum, ok := domain.CheckedAdd(a, b); ok {
		return sum
	}
	return uint128.Max
}
