package storage

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/internal/core/service"
	"github.com/Legendarykuga/archVault/internal/storage/kv"
	"github.com/Legendarykuga/archVault/internal/storage/snapshot"
	"github.com/Legendarykuga/archVault/pkg/crypto/adaptive"
)

// PersistMode selects when the ledger is saved.
type PersistMode string

const (
	PersistOnMutation PersistMode = "mutation"
	PersistOnInterval PersistMode = "interval"
	PersistOnExit     PersistMode = "exit"
)

// BackendType selects the persistence backend.
type BackendType string

const (
	BackendFile   BackendType = "file"
	BackendBadger BackendType = "badger"
)

// Default configuration values.
const (
	DefaultSnapshotInterval = time.Minute
	DefaultSnapshotDir      = "snapshots"
	DefaultBadgerDir        = "badger"
)

// Observer receives persistence events, typically for metrics.
type Observer interface {
	ObserveSave(backend string, elapsed time.Duration, err error)
	ObserveLedgerSize(users, deposits int)
}

type nopObserver struct{}

func (nopObserver) ObserveSave(string, time.Duration, error) {}
func (nopObserver) ObserveLedgerSize(int, int)               {}

// Config configures the storage engine.
type Config struct {
	// DataDir is the base directory for all storage files.
	DataDir string

	Backend     BackendType
	PersistMode PersistMode

	// SnapshotInterval is the save period in interval mode.
	SnapshotInterval time.Duration

	// File backend retention.
	RetentionCount int
	RetentionDays  int

	// AllowFallback loads an older intact snapshot when the newest is
	// damaged (file backend).
	AllowFallback bool

	// Keyring enables at-rest encryption when non-nil.
	Keyring   *adaptive.Keyring
	Algorithm adaptive.Algorithm

	// BadgerSyncWrites fsyncs every badger commit.
	BadgerSyncWrites bool

	// Ledger options, e.g. service.WithClock. A recorder set here is
	// replaced by the engine; use Recorder instead.
	LedgerOptions []service.Option

	// Recorder receives deposit and withdrawal events once the mutation
	// that raised them is kept. In mutation mode that means saved.
	Recorder service.Recorder

	Observer   Observer
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:          dataDir,
		Backend:          BackendFile,
		PersistMode:      PersistOnMutation,
		SnapshotInterval: DefaultSnapshotInterval,
		RetentionCount:   snapshot.DefaultRetentionCount,
		RetentionDays:    snapshot.DefaultRetentionDays,
		BadgerSyncWrites: true,
		Logger:           slog.Default(),
	}
}

// Engine is a durable service.Vault.
type Engine struct {
	cfg     Config
	ledger  *service.Ledger
	backend Backend
	logger  *slog.Logger
	obs     Observer

	// mu serializes mutations with their save so a rollback never
	// discards another caller's change.
	mu      sync.Mutex
	pending pendingEvents
	saveMu  sync.Mutex
	dirty  atomic.Bool
	last   atomic.Pointer[SaveInfo]
	closed atomic.Bool

	stopCh chan struct{}
	doneCh chan struct{}
}

var _ service.Vault = (*Engine)(nil)

// Open creates the backend, loads the saved ledger and, in interval mode,
// starts the background save loop.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, domain.ErrMissingArgument.WithDetails("storage data_dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendFile
	}
	if cfg.PersistMode == "" {
		cfg.PersistMode = PersistOnMutation
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}
	switch cfg.PersistMode {
	case PersistOnMutation, PersistOnInterval, PersistOnExit:
	default:
		return nil, domain.ErrInvalidInput.WithDetailsf("unknown persist mode %q", cfg.PersistMode)
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	return openWith(ctx, cfg, backend)
}

func openWith(ctx context.Context, cfg Config, backend Backend) (*Engine, error) {
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	e := &Engine{
		cfg:     cfg,
		backend: backend,
		logger:  cfg.Logger.With("backend", backend.Name()),
		obs:     cfg.Observer,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	opts := append(append([]service.Option{}, cfg.LedgerOptions...), service.WithRecorder(&e.pending))
	e.ledger = service.NewLedger(opts...)

	if err := e.recover(ctx); err != nil {
		backend.Close()
		return nil, err
	}

	if cfg.PersistMode == PersistOnInterval {
		go e.backgroundLoop()
	} else {
		close(e.doneCh)
	}
	return e, nil
}

func newBackend(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case BackendFile:
		mgr, err := snapshot.NewManager(snapshot.Config{
			Dir:            filepath.Join(cfg.DataDir, DefaultSnapshotDir),
			RetentionCount: cfg.RetentionCount,
			RetentionDays:  cfg.RetentionDays,
			Keyring:        cfg.Keyring,
			Algorithm:      cfg.Algorithm,
			AllowFallback:  cfg.AllowFallback,
		})
		if err != nil {
			return nil, domain.ErrPersistenceIO.WithDetails("open snapshot directory").WithCause(err)
		}
		return &fileBackend{mgr: mgr, logger: cfg.Logger}, nil

	case BackendBadger:
		kcfg := kv.DefaultConfig(filepath.Join(cfg.DataDir, DefaultBadgerDir))
		kcfg.SyncWrites = cfg.BadgerSyncWrites
		kcfg.Keyring = cfg.Keyring
		kcfg.Algorithm = cfg.Algorithm
		store, err := kv.Open(kcfg, cfg.Logger)
		if err != nil {
			if kv.IsCorrupt(err) {
				return nil, domain.ErrPersistenceCorrupt.WithDetails("open badger store").WithCause(err)
			}
			return nil, domain.ErrPersistenceIO.WithDetails("open badger store").WithCause(err)
		}
		if cfg.Registerer != nil {
			if err := store.RegisterMetrics(cfg.Registerer); err != nil {
				cfg.Logger.Warn("badger metrics not registered", "error", err)
			}
		}
		return &badgerBackend{store: store}, nil

	default:
		return nil, domain.ErrInvalidInput.WithDetailsf("unknown storage backend %q", cfg.Backend)
	}
}

// recover loads the saved ledger into memory.
func (e *Engine) recover(ctx context.Context) error {
	startTime := time.Now()

	state, info, err := e.backend.Load(ctx)
	if err != nil {
		if isCorrupt(err) {
			return domain.ErrPersistenceCorrupt.WithDetails("saved ledger cannot be decoded").WithCause(err)
		}
		return domain.ErrPersistenceIO.WithDetails("load saved ledger").WithCause(err)
	}
	if err := e.ledger.Restore(state); err != nil {
		return domain.ErrPersistenceCorrupt.WithDetails("saved ledger violates invariants").WithCause(err)
	}

	users, deposits := e.ledger.Stats()
	e.obs.ObserveLedgerSize(users, deposits)

	if info == nil {
		e.logger.Info("no saved ledger found, starting empty")
		return nil
	}
	for _, id := range info.Skipped {
		e.logger.Warn("damaged snapshot skipped", "snapshot", id)
	}
	e.logger.Info("ledger loaded",
		"source", info.Source,
		"saved_at", info.SavedAt,
		"users", users,
		"deposits", deposits,
		"elapsed", time.Since(startTime))
	return nil
}

// Ledger returns the in-memory ledger. Mutations made through it bypass
// persistence.
func (e *Engine) Ledger() *service.Ledger {
	return e.ledger
}

// BackendName returns the active backend.
func (e *Engine) BackendName() string {
	return e.backend.Name()
}

// LastSave returns the most recent successful save, or nil.
func (e *Engine) LastSave() *SaveInfo {
	return e.last.Load()
}

// Dirty reports whether memory holds changes not yet saved.
func (e *Engine) Dirty() bool {
	return e.dirty.Load()
}

// ============================================================================
// Vault
// ============================================================================

// Deposit records a deposit and persists it according to the persist mode.
func (e *Engine) Deposit(ctx context.Context, req *service.DepositRequest) (*domain.Deposit, error) {
	var d *domain.Deposit
	err := e.mutate(ctx, func() (bool, error) {
		var err error
		d, err = e.ledger.Deposit(ctx, req)
		return err == nil, err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Withdraw performs an ordinary withdrawal of every unlocked deposit.
func (e *Engine) Withdraw(ctx context.Context, user string) (*service.WithdrawalResult, error) {
	return e.withdraw(ctx, func() (*service.WithdrawalResult, error) {
		return e.ledger.Withdraw(ctx, user)
	})
}

// WithdrawOne performs an ordinary withdrawal of one deposit.
func (e *Engine) WithdrawOne(ctx context.Context, user string, index int) (*service.WithdrawalResult, error) {
	return e.withdraw(ctx, func() (*service.WithdrawalResult, error) {
		return e.ledger.WithdrawOne(ctx, user, index)
	})
}

// EmergencyWithdrawAll withdraws every unwithdrawn deposit with a penalty.
func (e *Engine) EmergencyWithdrawAll(ctx context.Context, user string, feePercent uint64) (*service.WithdrawalResult, error) {
	return e.withdraw(ctx, func() (*service.WithdrawalResult, error) {
		return e.ledger.EmergencyWithdrawAll(ctx, user, feePercent)
	})
}

// EmergencyWithdrawOne withdraws one deposit by index with a penalty.
func (e *Engine) EmergencyWithdrawOne(ctx context.Context, user string, index int, feePercent uint64) (*service.WithdrawalResult, error) {
	return e.withdraw(ctx, func() (*service.WithdrawalResult, error) {
		return e.ledger.EmergencyWithdrawOne(ctx, user, index, feePercent)
	})
}

// EmergencyWithdrawByID withdraws one deposit by ID with a penalty.
func (e *Engine) EmergencyWithdrawByID(ctx context.Context, user, depositID string, feePercent uint64) (*service.WithdrawalResult, error) {
	return e.withdraw(ctx, func() (*service.WithdrawalResult, error) {
		return e.ledger.EmergencyWithdrawByID(ctx, user, depositID, feePercent)
	})
}

func (e *Engine) withdraw(ctx context.Context, fn func() (*service.WithdrawalResult, error)) (*service.WithdrawalResult, error) {
	var res *service.WithdrawalResult
	err := e.mutate(ctx, func() (bool, error) {
		var err error
		res, err = fn()
		return err == nil && res.Count > 0, err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ViewDeposits returns copies of user's deposits.
func (e *Engine) ViewDeposits(ctx context.Context, user string) ([]*domain.Deposit, error) {
	return e.ledger.ViewDeposits(ctx, user)
}

// Summary aggregates user's deposits.
func (e *Engine) Summary(ctx context.Context, user string) (*service.Summary, error) {
	return e.ledger.Summary(ctx, user)
}

// Users lists users with deposits.
func (e *Engine) Users(ctx context.Context) []string {
	return e.ledger.Users(ctx)
}

// mutate runs fn and applies the persist policy. In mutation mode a
// failed save restores the state captured before fn.
func (e *Engine) mutate(ctx context.Context, fn func() (changed bool, err error)) error {
	if e.closed.Load() {
		return domain.ErrPersistenceIO.WithDetails("storage engine is closed")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var before map[string][]*domain.Deposit
	if e.cfg.PersistMode == PersistOnMutation {
		before = e.ledger.Export()
	}

	changed, err := fn()
	if err != nil || !changed {
		e.pending.flush(e.cfg.Recorder)
		return err
	}
	e.dirty.Store(true)
	e.obs.ObserveLedgerSize(e.ledger.Stats())

	if e.cfg.PersistMode != PersistOnMutation {
		e.pending.flush(e.cfg.Recorder)
		return nil
	}
	if _, err := e.Save(ctx); err != nil {
		// Events of a rolled back mutation never happened.
		e.pending.reset()
		// The captured state is what the backend last stored.
		if rerr := e.ledger.Restore(before); rerr != nil {
			e.logger.Error("rollback after failed save failed", "error", rerr)
		} else {
			e.dirty.Store(false)
		}
		e.obs.ObserveLedgerSize(e.ledger.Stats())
		return err
	}
	e.pending.flush(e.cfg.Recorder)
	return nil
}

// pendingEvents holds ledger events raised inside mutate until the
// mutation is kept. Guarded by Engine.mu.
type pendingEvents struct {
	deposits    []domain.Deposit
	withdrawals []*service.WithdrawalResult
}

func (p *pendingEvents) ObserveDeposit(d *domain.Deposit) {
	p.deposits = append(p.deposits, *d)
}

func (p *pendingEvents) ObserveWithdrawal(res *service.WithdrawalResult) {
	p.withdrawals = append(p.withdrawals, res)
}

func (p *pendingEvents) flush(r service.Recorder) {
	if r != nil {
		for i := range p.deposits {
			r.ObserveDeposit(&p.deposits[i])
		}
		for _, res := range p.withdrawals {
			r.ObserveWithdrawal(res)
		}
	}
	p.reset()
}

func (p *pendingEvents) reset() {
	p.deposits = nil
	p.withdrawals = nil
}

// Save writes the current ledger through the backend.
func (e *Engine) Save(ctx context.Context) (*SaveInfo, error) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	start := time.Now()
	// Cleared before export so a concurrent interval-mode mutation
	// leaves the engine dirty.
	e.dirty.Store(false)
	info, err := e.backend.Save(ctx, e.ledger.Export())
	e.obs.ObserveSave(e.backend.Name(), time.Since(start), err)
	if err != nil {
		e.dirty.Store(true)
		e.logger.Error("ledger save failed", "error", err)
		return nil, domain.ErrPersistenceIO.WithDetails("save ledger").WithCause(err)
	}

	e.last.Store(info)
	e.logger.Debug("ledger saved",
		"id", info.ID,
		"users", info.Users,
		"deposits", info.Deposits,
		"size_bytes", info.Size,
		"elapsed", time.Since(start))
	return info, nil
}

// TriggerSnapshot saves the ledger on demand, regardless of persist mode.
func (e *Engine) TriggerSnapshot(ctx context.Context) (*SaveInfo, error) {
	if e.closed.Load() {
		return nil, domain.ErrPersistenceIO.WithDetails("storage engine is closed")
	}
	e.logger.Info("triggering snapshot")
	info, err := e.Save(ctx)
	if err != nil {
		return nil, err
	}
	e.logger.Info("snapshot created",
		"id", info.ID,
		"users", info.Users,
		"deposits", info.Deposits,
		"size_bytes", info.Size)
	return info, nil
}

// backgroundLoop saves the ledger periodically when it has changed.
func (e *Engine) backgroundLoop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !e.dirty.Load() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := e.Save(ctx); err != nil {
				e.logger.Error("auto snapshot failed", "error", err)
			}
			cancel()

		case <-e.stopCh:
			return
		}
	}
}

// Close stops the background loop, saves unsaved changes and closes
// the backend. A final-save failure is returned after the backend closes.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.logger.Info("shutting down storage engine")

	close(e.stopCh)
	<-e.doneCh

	var saveErr error
	if e.dirty.Load() {
		_, saveErr = e.Save(ctx)
	}
	if err := e.backend.Close(); err != nil {
		e.logger.Error("close backend failed", "error", err)
		return errors.Join(saveErr, domain.ErrPersistenceIO.WithDetails("close backend").WithCause(err))
	}
	if saveErr != nil {
		return saveErr
	}

	e.logger.Info("storage engine shutdown complete")
	return nil
}
