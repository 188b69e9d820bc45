package output

import (
	"maps"
	"slices"
	"strconv"
	"time"

	"lukechampine.com/uint128"

	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/internal/core/service"
	"github.com/Legendarykuga/archVault/internal/storage"
)

// DepositView is one row of the view command.
type DepositView struct {
	Index       int        `json:"index" yaml:"index" table:"#"`
	ID          string     `json:"id" yaml:"id" table:"id,wide"`
	Token       string     `json:"token" yaml:"token"`
	Amount      string     `json:"amount" yaml:"amount"`
	BaseUnits   string     `json:"base_units" yaml:"base_units" table:"wide"`
	Status      string     `json:"status" yaml:"status"`
	DepositedAt time.Time  `json:"deposited_at" yaml:"deposited_at" table:"wide"`
	UnlockAt    time.Time  `json:"unlock_at" yaml:"unlock_at"`
	Remaining   string     `json:"remaining,omitempty" yaml:"remaining,omitempty"`
	WithdrawnAt *time.Time `json:"withdrawn_at,omitempty" yaml:"withdrawn_at,omitempty" table:"wide"`
	Penalty     string     `json:"penalty,omitempty" yaml:"penalty,omitempty" table:"wide"`
}

// NewDepositView renders d as seen at now. index is its position in the
// user's sequence.
func NewDepositView(index int, d *domain.Deposit, now time.Time) DepositView {
	v := DepositView{
		Index:       index,
		ID:          d.ID,
		Token:       d.Token.String(),
		Amount:      domain.FormatTokenAmount(d.Amount, d.Token),
		BaseUnits:   d.Amount.String(),
		Status:      string(d.Status(now)),
		DepositedAt: time.Unix(d.DepositedAt, 0).UTC(),
		UnlockAt:    time.Unix(d.UnlockTime, 0).UTC(),
	}
	if left := d.Remaining(now); left > 0 && !d.Withdrawn {
		v.Remaining = left.String()
	}
	if d.Withdrawn {
		at := time.Unix(d.WithdrawnAt, 0).UTC()
		v.WithdrawnAt = &at
	}
	if !d.Penalty.IsZero() {
		v.Penalty = domain.FormatTokenAmount(d.Penalty, d.Token)
	}
	return v
}

// NewDepositViews renders deps in ledger order. The result is never nil
// so JSON output is [] rather than null.
func NewDepositViews(deps []*domain.Deposit, now time.Time) []DepositView {
	views := make([]DepositView, 0, len(deps))
	for i, d := range deps {
		views = append(views, NewDepositView(i, d, now))
	}
	return views
}

// AmountView is an amount of one token.
type AmountView struct {
	Token     string `json:"token" yaml:"token"`
	Amount    string `json:"amount" yaml:"amount"`
	BaseUnits string `json:"base_units" yaml:"base_units"`
}

func amountViews(m map[domain.Token]uint128.Uint128) []AmountView {
	views := make([]AmountView, 0, len(m))
	for _, tok := range slices.Sorted(maps.Keys(m)) {
		views = append(views, AmountView{
			Token:     tok.String(),
			Amount:    domain.FormatTokenAmount(m[tok], tok),
			BaseUnits: m[tok].String(),
		})
	}
	return views
}

// WithdrawalView is the result of withdraw and emergency-withdraw.
type WithdrawalView struct {
	User       string       `json:"user" yaml:"user"`
	Kind       string       `json:"kind" yaml:"kind"`
	FeePercent uint64       `json:"fee_percent" yaml:"fee_percent"`
	Count      int          `json:"count" yaml:"count"`
	Received   []AmountView `json:"received" yaml:"received"`
	Penalties  []AmountView `json:"penalties,omitempty" yaml:"penalties,omitempty"`
	DepositIDs []string     `json:"deposit_ids" yaml:"deposit_ids"`
}

// NewWithdrawalView converts a ledger withdrawal result.
func NewWithdrawalView(res *service.WithdrawalResult) *WithdrawalView {
	v := &WithdrawalView{
		User:       res.User,
		Kind:       string(res.Kind),
		FeePercent: res.FeePercent,
		Count:      res.Count,
		Received:   amountViews(res.ByToken),
		DepositIDs: res.DepositIDs,
	}
	if len(res.PenaltyByToken) > 0 {
		v.Penalties = amountViews(res.PenaltyByToken)
	}
	if v.DepositIDs == nil {
		v.DepositIDs = []string{}
	}
	return v
}

// Table implements Tabler.
func (v *WithdrawalView) Table(wide bool) *Table {
	t := &Table{Headers: []string{"TOKEN", "RECEIVED", "PENALTY"}}
	if wide {
		t.Headers = append(t.Headers, "BASE_UNITS")
	}

	penalties := make(map[string]string, len(v.Penalties))
	for _, p := range v.Penalties {
		penalties[p.Token] = p.Amount
	}
	for _, r := range v.Received {
		row := []string{r.Token, r.Amount, orDash(penalties[r.Token])}
		if wide {
			row = append(row, r.BaseUnits)
		}
		t.AddRow(row...)
	}
	if len(v.Received) == 0 {
		row := []string{"-", "0", "-"}
		if wide {
			row = append(row, "0")
		}
		t.AddRow(row...)
	}
	return t
}

// TokenSummaryView is one token's totals in a SummaryView.
type TokenSummaryView struct {
	Token     string `json:"token" yaml:"token"`
	Locked    string `json:"locked" yaml:"locked"`
	Unlocked  string `json:"unlocked" yaml:"unlocked"`
	Withdrawn string `json:"withdrawn" yaml:"withdrawn"`
	Penalties string `json:"penalties" yaml:"penalties"`
}

// SummaryView aggregates a user's deposits by status.
type SummaryView struct {
	User      string             `json:"user" yaml:"user"`
	At        time.Time          `json:"at" yaml:"at"`
	Locked    int                `json:"locked" yaml:"locked"`
	Unlocked  int                `json:"unlocked" yaml:"unlocked"`
	Withdrawn int                `json:"withdrawn" yaml:"withdrawn"`
	Tokens    []TokenSummaryView `json:"tokens" yaml:"tokens"`
}

// NewSummaryView converts a ledger summary.
func NewSummaryView(s *service.Summary) *SummaryView {
	v := &SummaryView{
		User:      s.User,
		At:        s.At.UTC(),
		Locked:    s.Locked,
		Unlocked:  s.Unlocked,
		Withdrawn: s.Withdrawn,
		Tokens:    make([]TokenSummaryView, 0, len(s.ByToken)),
	}
	for _, tok := range slices.Sorted(maps.Keys(s.ByToken)) {
		ts := s.ByToken[tok]
		v.Tokens = append(v.Tokens, TokenSummaryView{
			Token:     tok.String(),
			Locked:    domain.FormatTokenAmount(ts.Locked, tok),
			Unlocked:  domain.FormatTokenAmount(ts.Unlocked, tok),
			Withdrawn: domain.FormatTokenAmount(ts.Withdrawn, tok),
			Penalties: domain.FormatTokenAmount(ts.Penalties, tok),
		})
	}
	return v
}

// Table implements Tabler.
func (v *SummaryView) Table(bool) *Table {
	t := &Table{Headers: []string{"TOKEN", "LOCKED", "UNLOCKED", "WITHDRAWN", "PENALTIES"}}
	for _, ts := range v.Tokens {
		t.AddRow(ts.Token, ts.Locked, ts.Unlocked, ts.Withdrawn, ts.Penalties)
	}
	t.AddRow("deposits",
		strconv.Itoa(v.Locked), strconv.Itoa(v.Unlocked), strconv.Itoa(v.Withdrawn), "")
	return t
}

// UsersView lists users with deposits.
type UsersView struct {
	Users []string `json:"users" yaml:"users"`
}

// Table implements Tabler.
func (v *UsersView) Table(bool) *Table {
	t := &Table{Headers: []string{"USER"}}
	for _, u := range v.Users {
		t.AddRow(u)
	}
	return t
}

// SnapshotView reports a manual save.
type SnapshotView struct {
	Backend  string `json:"backend" yaml:"backend"`
	ID       string `json:"id" yaml:"id"`
	Users    int    `json:"users" yaml:"users"`
	Deposits int    `json:"deposits" yaml:"deposits"`
	Size     int64  `json:"size_bytes" yaml:"size_bytes"`
}

// NewSnapshotView converts a storage save report.
func NewSnapshotView(backend string, info *storage.SaveInfo) *SnapshotView {
	return &SnapshotView{
		Backend:  backend,
		ID:       info.ID,
		Users:    info.Users,
		Deposits: info.Deposits,
		Size:     info.Size,
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
