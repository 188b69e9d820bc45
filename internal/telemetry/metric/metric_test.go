package metric

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"lukechampine.com/uint128"

	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/internal/core/service"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil || r.Registerer() == nil || r.Gatherer() == nil {
		t.Fatal("NewRegistry returned an incomplete registry")
	}
}

func TestRegistry_ObserveDeposit(t *testing.T) {
	r := NewRegistry()

	r.ObserveDeposit(&domain.Deposit{Token: domain.TokenBTC, Amount: uint128.From64(100)})
	r.ObserveDeposit(&domain.Deposit{Token: domain.TokenBTC, Amount: uint128.From64(50)})
	r.ObserveDeposit(&domain.Deposit{Token: domain.TokenETH, Amount: uint128.From64(7)})

	if got := testutil.ToFloat64(r.DepositsTotal.WithLabelValues("BTC")); got != 2 {
		t.Errorf("BTC deposits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.DepositedAmount.WithLabelValues("BTC")); got != 150 {
		t.Errorf("BTC amount = %v, want 150", got)
	}
	if got := testutil.ToFloat64(r.DepositsTotal.WithLabelValues("ETH")); got != 1 {
		t.Errorf("ETH deposits = %v, want 1", got)
	}
}

func TestRegistry_ObserveWithdrawal(t *testing.T) {
	r := NewRegistry()

	r.ObserveWithdrawal(&service.WithdrawalResult{Kind: service.KindOrdinary, Count: 2, Total: uint128.From64(10)})
	r.ObserveWithdrawal(&service.WithdrawalResult{Kind: service.KindEmergency, Count: 1, Total: uint128.From64(67), Penalty: uint128.From64(33)})
	r.ObserveWithdrawal(&service.WithdrawalResult{Kind: service.KindOrdinary, Count: 0})

	if got := testutil.ToFloat64(r.WithdrawalsTotal.WithLabelValues("ordinary")); got != 1 {
		t.Errorf("ordinary withdrawals = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.WithdrawnDeposits.WithLabelValues("ordinary")); got != 2 {
		t.Errorf("ordinary withdrawn deposits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.WithdrawalsTotal.WithLabelValues("emergency")); got != 1 {
		t.Errorf("emergency withdrawals = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.PenaltyAmount); got != 33 {
		t.Errorf("penalty = %v, want 33", got)
	}
}

func TestRegistry_ObserveSave(t *testing.T) {
	r := NewRegistry()

	r.ObserveSave("file", 3*time.Millisecond, nil)
	r.ObserveSave("file", time.Millisecond, errors.New("disk full"))
	r.ObserveLedgerSize(2, 5)

	if got := testutil.ToFloat64(r.SavesTotal.WithLabelValues("file")); got != 1 {
		t.Errorf("saves = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.SaveFailures.WithLabelValues("file")); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(r.SaveDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(r.PersistedDeposits); got != 5 {
		t.Errorf("persisted deposits = %v, want 5", got)
	}
}

func TestRegistry_WithLedger(t *testing.T) {
	r := NewRegistry()
	l := service.NewLedger(service.WithRecorder(r))

	if _, err := l.Deposit(t.Context(), &service.DepositRequest{User: "alice", Amount: uint128.From64(100)}); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if _, err := l.EmergencyWithdrawAll(t.Context(), "alice", 10); err != nil {
		t.Fatalf("EmergencyWithdrawAll() error = %v", err)
	}

	if got := testutil.ToFloat64(r.PenaltyAmount); got != 10 {
		t.Errorf("penalty = %v, want 10", got)
	}
}

type fixedStats struct{ users, deposits int }

func (f fixedStats) Stats() (int, int) { return f.users, f.deposits }

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(fixedStats{users: 3, deposits: 9}))

	expected := `
# HELP archvault_ledger_deposits Deposits currently held by the ledger, withdrawn included.
# TYPE archvault_ledger_deposits gauge
archvault_ledger_deposits 9
# HELP archvault_ledger_users Users currently held by the ledger.
# TYPE archvault_ledger_users gauge
archvault_ledger_users 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected)); err != nil {
		t.Error(err)
	}
}

func TestDump(t *testing.T) {
	r := NewRegistry()
	r.ObserveSave("badger", time.Millisecond, nil)

	out, err := Dump(r.Gatherer())
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if !strings.Contains(out, `archvault_storage_saves_total{backend="badger"} 1`) {
		t.Errorf("Dump() missing saves counter:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE archvault_storage_save_duration_seconds histogram") {
		t.Errorf("Dump() missing histogram:\n%s", out)
	}
}

func TestSum(t *testing.T) {
	r := NewRegistry()
	r.ObserveDeposit(&domain.Deposit{Token: domain.TokenBTC, Amount: uint128.From64(1)})
	r.ObserveDeposit(&domain.Deposit{Token: domain.TokenETH, Amount: uint128.From64(1)})
	r.ObserveDeposit(&domain.Deposit{Token: domain.TokenETH, Amount: uint128.From64(1)})
	r.ObserveLedgerSize(2, 3)

	tests := []struct {
		name string
		want float64
	}{
		{"archvault_ledger_deposits_total", 3},
		{"archvault_storage_persisted_deposits", 3},
		{"archvault_ledger_withdrawals_total", 0},
		{"archvault_storage_save_duration_seconds", 0},
	}
	for _, tt := range tests {
		got, err := Sum(r.Gatherer(), tt.name)
		if err != nil {
			t.Fatalf("Sum(%s) error = %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("Sum(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
