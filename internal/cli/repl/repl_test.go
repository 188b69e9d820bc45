package repl

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lukechampine.com/uint128"

	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/internal/core/service"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestREPL(t *testing.T, input string, opts ...Option) (*REPL, *service.Ledger, *bytes.Buffer, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	ledger := service.NewLedger(service.WithClock(clock.Now))
	out := &bytes.Buffer{}
	base := []Option{
		WithInput(strings.NewReader(input)),
		WithOutput(out),
		WithClock(clock.Now),
	}
	return New(ledger, append(base, opts...)...), ledger, out, clock
}

func TestREPL_Run_Exit(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"exit by number", "alice\n7\n"},
		{"exit by word", "alice\nexit\n"},
		{"quit", "alice\nquit\n"},
		{"EOF at user prompt", ""},
		{"EOF at menu", "alice\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, out, _ := newTestREPL(t, tt.input)
			if err := r.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if !strings.Contains(out.String(), "Goodbye!") {
				t.Errorf("output missing goodbye:\n%s", out.String())
			}
		})
	}
}

func TestREPL_UserPrompt_Retries(t *testing.T) {
	r, _, out, _ := newTestREPL(t, "\n   \nalice\nexit\n")
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "Welcome alice!") {
		t.Errorf("output missing welcome:\n%s", out.String())
	}
}

func TestREPL_Deposit(t *testing.T) {
	// token 1 (BTC), bad amount then 1.5, bad lock then 30, confirm.
	input := "alice\n1\n1\nabc\n1.5\n-5\n30\ny\nexit\n"
	r, ledger, out, _ := newTestREPL(t, input)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "Deposit successful! Funds are now time-locked") {
		t.Fatalf("output missing success:\n%s", out.String())
	}

	deps, _ := ledger.ViewDeposits(context.Background(), "alice")
	if len(deps) != 1 {
		t.Fatalf("deposits = %d, want 1", len(deps))
	}
	if deps[0].Token != domain.TokenBTC || deps[0].Amount.Lo != 150_000_000 || deps[0].LockSeconds != 30 {
		t.Errorf("deposit = %+v", deps[0])
	}
}

func TestREPL_Deposit_Cancelled(t *testing.T) {
	input := "alice\ndeposit\neth\n2\n60\nn\nexit\n"
	r, ledger, out, _ := newTestREPL(t, input)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "Deposit cancelled.") {
		t.Errorf("output missing cancel:\n%s", out.String())
	}
	if deps, _ := ledger.ViewDeposits(context.Background(), "alice"); len(deps) != 0 {
		t.Errorf("deposits = %d, want 0", len(deps))
	}
}

func TestREPL_Deposit_ZeroLockRejected(t *testing.T) {
	input := "alice\n1\n\n5\n0\n10\ny\nexit\n"
	r, ledger, out, _ := newTestREPL(t, input)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "enter a valid time") {
		t.Errorf("output missing lock error:\n%s", out.String())
	}
	deps, _ := ledger.ViewDeposits(context.Background(), "alice")
	if len(deps) != 1 || deps[0].LockSeconds != 10 {
		t.Errorf("deposits = %+v", deps)
	}
}

func TestREPL_Withdraw(t *testing.T) {
	r, ledger, out, clock := newTestREPL(t, "")
	ctx := context.Background()

	if _, err := ledger.Deposit(ctx, &service.DepositRequest{User: "alice", Token: domain.TokenBTC, Amount: uint128.From64(100), Lock: time.Minute}); err != nil {
		t.Fatal(err)
	}

	// Locked: selecting the vault reports it.
	r.input = strings.NewReader("alice\n2\n0\nexit\n")
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "Vault is still locked.") {
		t.Errorf("output missing locked message:\n%s", out.String())
	}

	clock.Advance(time.Minute)
	out.Reset()
	r.input = strings.NewReader("2\n0\n2\nexit\n")
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "Withdrawal of 0.000001 BTC successful.") {
		t.Errorf("output missing withdrawal:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "No withdrawable vaults found.") {
		t.Errorf("output missing empty message:\n%s", out.String())
	}
}

func TestREPL_Withdraw_AllNothingUnlocked(t *testing.T) {
	r, ledger, out, _ := newTestREPL(t, "alice\nw\na\nexit\n")
	ctx := context.Background()
	if _, err := ledger.Deposit(ctx, &service.DepositRequest{User: "alice", Amount: uint128.From64(5), Lock: time.Hour}); err != nil {
		t.Fatal(err)
	}

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "No vaults have unlocked yet.") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestREPL_Emergency(t *testing.T) {
	r, ledger, out, _ := newTestREPL(t, "alice\n3\n0\ny\nexit\n", WithFeePercent(10))
	ctx := context.Background()
	if _, err := ledger.Deposit(ctx, &service.DepositRequest{User: "alice", Token: domain.TokenRunes, Amount: uint128.From64(1000), Lock: time.Hour}); err != nil {
		t.Fatal(err)
	}

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "This will incur a 10% fee.") {
		t.Errorf("output missing fee warning:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Emergency withdrawal complete. You received 900 RUNES") {
		t.Errorf("output missing result:\n%s", out.String())
	}

	deps, _ := ledger.ViewDeposits(ctx, "alice")
	if !deps[0].Withdrawn || deps[0].Penalty.Lo != 100 {
		t.Errorf("deposit = %+v", deps[0])
	}
}

func TestREPL_Emergency_Cancelled(t *testing.T) {
	r, ledger, out, _ := newTestREPL(t, "alice\nem\na\n\nexit\n")
	ctx := context.Background()
	if _, err := ledger.Deposit(ctx, &service.DepositRequest{User: "alice", Amount: uint128.From64(1), Lock: time.Hour}); err != nil {
		t.Fatal(err)
	}

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "Emergency withdrawal cancelled.") {
		t.Errorf("output:\n%s", out.String())
	}
	deps, _ := ledger.ViewDeposits(ctx, "alice")
	if deps[0].Withdrawn {
		t.Error("deposit withdrawn after cancel")
	}
}

func TestREPL_View(t *testing.T) {
	r, ledger, out, _ := newTestREPL(t, "bob\nview\nexit\n")
	ctx := context.Background()

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "No vaults found.") {
		t.Errorf("output:\n%s", out.String())
	}

	if _, err := ledger.Deposit(ctx, &service.DepositRequest{User: "bob", Token: domain.TokenETH, Amount: uint128.From64(1), Lock: time.Hour}); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	r.input = strings.NewReader("4\nexit\n")
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, want := range []string{"Your Vaults:", "TOKEN", "ETH", "locked"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestREPL_SwitchUser(t *testing.T) {
	r, _, out, _ := newTestREPL(t, "switch\ncarol\nexit\n", WithUser("alice"))
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "Welcome alice!") || !strings.Contains(out.String(), "Welcome carol!") {
		t.Errorf("output:\n%s", out.String())
	}
	if r.user != "carol" {
		t.Errorf("user = %q, want carol", r.user)
	}
}

func TestREPL_AmbiguousChoice(t *testing.T) {
	r, _, out, _ := newTestREPL(t, "alice\ne\n9\nexit\n")
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "did you mean emergency or exit?") {
		t.Errorf("output missing suggestion:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "choose 1-7") {
		t.Errorf("output missing range error:\n%s", out.String())
	}
}

func TestREPL_History(t *testing.T) {
	h := NewHistory("", 0)
	r, _, _, _ := newTestREPL(t, "alice\nview\nexit\n", WithHistory(h))
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.Len() != 3 || h.Get(0) != "exit" || h.Get(2) != "alice" {
		t.Errorf("history = %v", h.entries)
	}
}

func TestREPL_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, _, _, _ := newTestREPL(t, "", WithInput(blockingReader{}))
	err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	select {}
}

type failingVault struct {
	service.Vault
}

func (failingVault) ViewDeposits(context.Context, string) ([]*domain.Deposit, error) {
	return nil, domain.ErrPersistenceIO.WithDetails("disk gone")
}

func TestREPL_PersistenceErrorEndsRun(t *testing.T) {
	out := &bytes.Buffer{}
	r := New(failingVault{Vault: service.NewLedger()},
		WithInput(strings.NewReader("alice\nview\nexit\n")),
		WithOutput(out))

	err := r.Run(context.Background())
	if !errors.Is(err, domain.ErrPersistenceIO) {
		t.Errorf("Run() error = %v, want persistence error", err)
	}
}
