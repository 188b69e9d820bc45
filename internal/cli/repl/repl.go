package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"lukechampine.com/uint128"

	"github.com/Legendarykuga/archVault/internal/cli/output"
	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/internal/core/service"
)

// Menu words. Each can be typed in full, by unique prefix, or by number.
const (
	actDeposit   = "deposit"
	actWithdraw  = "withdraw"
	actEmergency = "emergency"
	actView      = "view"
	actSummary   = "summary"
	actSwitch    = "switch"
	actExit      = "exit"
)

// errExit ends the menu loop normally.
var errExit = errors.New("exit")

type menuItem struct {
	word  string
	label string
}

var menu = []menuItem{
	{actDeposit, "Deposit funds"},
	{actWithdraw, "Withdraw funds"},
	{actEmergency, "Emergency withdraw"},
	{actView, "View my vaults"},
	{actSummary, "Summary"},
	{actSwitch, "Switch user"},
	{actExit, "Exit"},
}

// REPL is the interactive vault menu.
type REPL struct {
	vault     service.Vault
	input     io.Reader
	output    io.Writer
	completer *Completer
	history   *History
	formatter output.Formatter
	now       func() time.Time
	fee       uint64
	user      string
	logger    *slog.Logger

	lines <-chan lineResult
}

// Option configures a REPL.
type Option func(*REPL)

// WithInput sets the input reader (default os.Stdin).
func WithInput(r io.Reader) Option { return func(p *REPL) { p.input = r } }

// WithOutput sets the output writer (default os.Stdout).
func WithOutput(w io.Writer) Option { return func(p *REPL) { p.output = w } }

// WithHistory records accepted input in h.
func WithHistory(h *History) Option { return func(p *REPL) { p.history = h } }

// WithFormatter sets how the vault list is rendered.
func WithFormatter(f output.Formatter) Option { return func(p *REPL) { p.formatter = f } }

// WithClock sets the time used for lock status display.
func WithClock(now func() time.Time) Option { return func(p *REPL) { p.now = now } }

// WithFeePercent sets the emergency penalty.
func WithFeePercent(fee uint64) Option { return func(p *REPL) { p.fee = fee } }

// WithUser skips the initial user prompt.
func WithUser(user string) Option { return func(p *REPL) { p.user = strings.TrimSpace(user) } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *REPL) { p.logger = l } }

// New creates a menu over v.
func New(v service.Vault, opts ...Option) *REPL {
	words := make([]string, 0, len(menu)+1)
	for _, m := range menu {
		words = append(words, m.word)
	}
	words = append(words, "quit")

	r := &REPL{
		vault:     v,
		input:     os.Stdin,
		output:    os.Stdout,
		completer: NewCompleter(words...),
		history:   NewHistory("", 0),
		formatter: &output.TableFormatter{},
		now:       time.Now,
		fee:       domain.DefaultEmergencyFeePercent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run shows the menu until the user exits, input ends, or ctx is done.
// Ledger rule violations are printed and the menu continues; persistence
// failures end the loop and are returned.
func (r *REPL) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.lines = readLines(ctx, r.input)

	r.println("\n=== ArchVault: Time-Locked Vault System ===")
	if r.user == "" {
		if err := r.chooseUser(ctx); err != nil {
			return r.finish(err)
		}
	}

	for {
		r.printf("\nWelcome %s! What would you like to do?\n", r.user)
		for i, m := range menu {
			r.printf("  %d) %s\n", i+1, m.label)
		}

		choice, err := r.prompt(ctx, "> ", r.resolveMenu)
		if err != nil {
			return r.finish(err)
		}
		if err := r.dispatch(ctx, choice); err != nil {
			if errors.Is(err, errExit) || isFatal(err) || ctx.Err() != nil || errors.Is(err, io.EOF) {
				return r.finish(err)
			}
			r.printf("Error: %v\n", err)
		}
	}
}

func (r *REPL) finish(err error) error {
	if errors.Is(err, errExit) || errors.Is(err, io.EOF) {
		r.println("Goodbye!")
		return nil
	}
	return err
}

func isFatal(err error) bool {
	return errors.Is(err, domain.ErrPersistenceIO) || errors.Is(err, domain.ErrPersistenceCorrupt)
}

func (r *REPL) resolveMenu(s string) (string, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > len(menu) {
			return "", fmt.Errorf("choose 1-%d", len(menu))
		}
		return menu[n-1].word, nil
	}
	word, candidates := r.completer.Resolve(s)
	switch {
	case word == "quit":
		return actExit, nil
	case word != "":
		return word, nil
	case len(candidates) > 0:
		return "", fmt.Errorf("ambiguous, did you mean %s?", strings.Join(candidates, " or "))
	default:
		return "", fmt.Errorf("unknown choice %q", s)
	}
}

func (r *REPL) dispatch(ctx context.Context, choice string) error {
	switch choice {
	case actDeposit:
		return r.handleDeposit(ctx)
	case actWithdraw:
		return r.handleWithdraw(ctx)
	case actEmergency:
		return r.handleEmergency(ctx)
	case actView:
		return r.handleView(ctx)
	case actSummary:
		return r.handleSummary(ctx)
	case actSwitch:
		return r.chooseUser(ctx)
	default:
		return errExit
	}
}

func (r *REPL) chooseUser(ctx context.Context) error {
	user, err := r.prompt(ctx, "Enter your user ID: ", func(s string) (string, error) {
		if err := domain.ValidateUserID(s); err != nil {
			return "", err
		}
		return s, nil
	})
	if err != nil {
		return err
	}
	r.user = user
	return nil
}

// ============================================================================
// Flows
// ============================================================================

func (r *REPL) handleDeposit(ctx context.Context) error {
	tokens := domain.Tokens()
	names := make([]string, len(tokens))
	for i, t := range tokens {
		names[i] = fmt.Sprintf("%d) %s", i+1, t)
	}

	tokText, err := r.prompt(ctx, fmt.Sprintf("Select token [%s] (default %s): ", strings.Join(names, " "), domain.DefaultToken),
		func(s string) (string, error) {
			if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= len(tokens) {
				return string(tokens[n-1]), nil
			}
			tok, err := domain.ParseToken(s)
			return string(tok), err
		}, allowEmpty)
	if err != nil {
		return err
	}
	token := domain.Token(tokText)

	amountText, err := r.prompt(ctx, "Enter amount to deposit: ", func(s string) (string, error) {
		_, err := domain.ParseTokenAmount(s, token)
		return s, err
	})
	if err != nil {
		return err
	}
	amount, _ := domain.ParseTokenAmount(amountText, token)

	lockText, err := r.prompt(ctx, "Enter lock period (seconds or duration, e.g. 30 or 2h): ", func(s string) (string, error) {
		d, err := domain.ParseLockPeriod(s)
		if err != nil {
			return "", err
		}
		if d <= 0 {
			return "", errors.New("enter a valid time")
		}
		return s, nil
	})
	if err != nil {
		return err
	}
	lock, _ := domain.ParseLockPeriod(lockText)

	ok, err := r.confirm(ctx, fmt.Sprintf("Lock %s %s for %s?", domain.FormatTokenAmount(amount, token), token, lock))
	if err != nil {
		return err
	}
	if !ok {
		r.println("Deposit cancelled.")
		return nil
	}

	d, err := r.vault.Deposit(ctx, &service.DepositRequest{User: r.user, Token: token, Amount: amount, Lock: lock})
	if err != nil {
		return err
	}
	r.logger.Info("deposit created", "user", r.user, "deposit_id", d.ID)
	r.printf("Deposit successful! Funds are now time-locked until %s.\n",
		d.UnlockTimeTime().UTC().Format(output.TimeLayout))
	return nil
}

func (r *REPL) handleWithdraw(ctx context.Context) error {
	open, err := r.openDeposits(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		r.println("No withdrawable vaults found.")
		return nil
	}

	r.println("Select a vault to withdraw:")
	index, all, err := r.selectDeposit(ctx, open, "all unlocked vaults")
	if err != nil {
		return err
	}

	var res *service.WithdrawalResult
	if all {
		res, err = r.vault.Withdraw(ctx, r.user)
	} else {
		res, err = r.vault.WithdrawOne(ctx, r.user, index)
	}
	if errors.Is(err, domain.ErrDepositLocked) {
		r.println("Vault is still locked.")
		return nil
	}
	if err != nil {
		return err
	}
	if res.Count == 0 {
		r.println("No vaults have unlocked yet.")
		return nil
	}
	r.printf("Withdrawal of %s successful.\n", describe(res.ByToken))
	return nil
}

func (r *REPL) handleEmergency(ctx context.Context) error {
	open, err := r.openDeposits(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		r.println("No vaults available.")
		return nil
	}

	r.printf("Select a vault for emergency withdrawal (%d%% penalty):\n", r.fee)
	index, all, err := r.selectDeposit(ctx, open, "all vaults")
	if err != nil {
		return err
	}

	what := "all vaults"
	if !all {
		d := open[index]
		what = domain.FormatTokenAmount(d.Amount, d.Token) + " " + d.Token.String()
	}
	ok, err := r.confirm(ctx, fmt.Sprintf("Are you sure you want to emergency withdraw %s? This will incur a %d%% fee.", what, r.fee))
	if err != nil {
		return err
	}
	if !ok {
		r.println("Emergency withdrawal cancelled.")
		return nil
	}

	var res *service.WithdrawalResult
	if all {
		res, err = r.vault.EmergencyWithdrawAll(ctx, r.user, r.fee)
	} else {
		res, err = r.vault.EmergencyWithdrawOne(ctx, r.user, index, r.fee)
	}
	if err != nil {
		return err
	}
	r.printf("Emergency withdrawal complete. You received %s\n", describe(res.ByToken))
	return nil
}

func (r *REPL) handleView(ctx context.Context) error {
	deps, err := r.vault.ViewDeposits(ctx, r.user)
	if err != nil {
		return err
	}
	if len(deps) == 0 {
		r.println("No vaults found.")
		return nil
	}
	r.println("\nYour Vaults:")
	return r.formatter.Format(r.output, output.NewDepositViews(deps, r.now()))
}

func (r *REPL) handleSummary(ctx context.Context) error {
	s, err := r.vault.Summary(ctx, r.user)
	if err != nil {
		return err
	}
	return r.formatter.Format(r.output, output.NewSummaryView(s))
}

// openDeposits returns the user's unwithdrawn deposits keyed by their
// position in the full sequence.
func (r *REPL) openDeposits(ctx context.Context) (map[int]*domain.Deposit, error) {
	deps, err := r.vault.ViewDeposits(ctx, r.user)
	if err != nil {
		return nil, err
	}
	open := make(map[int]*domain.Deposit)
	for i, d := range deps {
		if !d.Withdrawn {
			open[i] = d
		}
	}
	return open, nil
}

// selectDeposit lists open deposits in order and reads a choice. "a"
// selects every deposit.
func (r *REPL) selectDeposit(ctx context.Context, open map[int]*domain.Deposit, allLabel string) (int, bool, error) {
	now := r.now()
	for i := 0; len(open) > 0 && i <= maxKey(open); i++ {
		d, ok := open[i]
		if !ok {
			continue
		}
		state := "unlocked"
		if left := d.Remaining(now); left > 0 {
			state = "unlocks in " + left.String()
		}
		r.printf("  [%d] %s %s (locked for %ds, %s)\n",
			i, domain.FormatTokenAmount(d.Amount, d.Token), d.Token, d.LockSeconds, state)
	}
	r.printf("  [a] %s\n", allLabel)

	choice, err := r.prompt(ctx, "> ", func(s string) (string, error) {
		if strings.EqualFold(s, "a") {
			return "a", nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return "", errors.New("enter a vault number or a")
		}
		if _, ok := open[n]; !ok {
			return "", fmt.Errorf("no open vault #%d", n)
		}
		return s, nil
	})
	if err != nil {
		return 0, false, err
	}
	if choice == "a" {
		return 0, true, nil
	}
	n, _ := strconv.Atoi(choice)
	return n, false, nil
}

func maxKey(m map[int]*domain.Deposit) int {
	hi := -1
	for k := range m {
		hi = max(hi, k)
	}
	return hi
}

// describe renders per-token totals as "1.5 BTC, 2 ETH" in token order.
func describe(byToken map[domain.Token]uint128.Uint128) string {
	var parts []string
	for _, tok := range domain.Tokens() {
		amt, ok := byToken[tok]
		if !ok {
			continue
		}
		parts = append(parts, domain.FormatTokenAmount(amt, tok)+" "+tok.String())
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, ", ")
}

// ============================================================================
// Input
// ============================================================================

type lineResult struct {
	line string
	err  error
}

// readLines scans r on its own goroutine so prompts can observe context
// cancellation while the terminal blocks.
func readLines(ctx context.Context, r io.Reader) <-chan lineResult {
	ch := make(chan lineResult)
	send := func(res lineResult) bool {
		select {
		case ch <- res:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if !send(lineResult{line: scanner.Text()}) {
				return
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		send(lineResult{err: err})
	}()
	return ch
}

func (r *REPL) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-r.lines:
		if !ok {
			return "", io.EOF
		}
		return res.line, res.err
	}
}

// allowEmpty lets prompt accept an empty answer, passed as "" to parse.
const allowEmpty = true

// prompt asks until parse accepts the answer. Empty answers are asked
// again unless optional is set.
func (r *REPL) prompt(ctx context.Context, msg string, parse func(string) (string, error), optional ...bool) (string, error) {
	for {
		r.printf("%s", msg)
		line, err := r.readLine(ctx)
		if err != nil {
			r.println("")
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" && (len(optional) == 0 || !optional[0]) {
			continue
		}
		val, err := parse(line)
		if err != nil {
			r.printf("  ! %v\n", err)
			continue
		}
		if line != "" {
			r.history.Add(line)
		}
		return val, nil
	}
}

func (r *REPL) confirm(ctx context.Context, msg string) (bool, error) {
	answer, err := r.prompt(ctx, msg+" [y/N] ", func(s string) (string, error) {
		switch strings.ToLower(s) {
		case "y", "yes":
			return "y", nil
		case "", "n", "no":
			return "n", nil
		}
		return "", errors.New("answer y or n")
	}, allowEmpty)
	return answer == "y", err
}

func (r *REPL) printf(format string, args ...any) {
	fmt.Fprintf(r.output, format, args...)
}

func (r *REPL) println(s string) {
	fmt.Fprintln(r.output, s)
}
