package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/internal/storage/kv"
	"github.com/Legendarykuga/archVault/internal/storage/snapshot"
)

// Backend persists complete ledger exports.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Load returns the saved state, or an empty state and nil info when
	// nothing has been saved yet.
	Load(ctx context.Context) (map[string][]*domain.Deposit, *LoadInfo, error)

	// Save atomically replaces the saved state.
	Save(ctx context.Context, state map[string][]*domain.Deposit) (*SaveInfo, error)

	// Close releases backend resources.
	Close() error
}

// LoadInfo describes what Load restored.
type LoadInfo struct {
	Source   string
	SavedAt  time.Time
	Users    int
	Deposits int

	// Skipped lists damaged snapshots passed over by fallback loading.
	Skipped []string
}

// SaveInfo describes one completed save.
type SaveInfo struct {
	ID       string
	Users    int
	Deposits int
	Size     int64
}

// fileBackend stores snapshots through snapshot.Manager.
type fileBackend struct {
	mgr    *snapshot.Manager
	logger *slog.Logger
}

func (b *fileBackend) Name() string { return string(BackendFile) }

func (b *fileBackend) Load(_ context.Context) (map[string][]*domain.Deposit, *LoadInfo, error) {
	state, info, err := b.mgr.Load()
	if errors.Is(err, snapshot.ErrNoSnapshots) {
		return map[string][]*domain.Deposit{}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return state, &LoadInfo{
		Source:   info.ID,
		SavedAt:  time.UnixMilli(info.CreatedAt),
		Users:    info.UserCount,
		Deposits: info.DepositCount,
		Skipped:  info.Skipped,
	}, nil
}

func (b *fileBackend) Save(_ context.Context, state map[string][]*domain.Deposit) (*SaveInfo, error) {
	info, err := b.mgr.Create(state)
	if err != nil {
		return nil, err
	}

	// Retention failures never fail the save.
	removed, err := b.mgr.Prune()
	if err != nil {
		b.logger.Warn("snapshot cleanup failed", "error", err)
	}
	if len(removed) > 0 {
		b.logger.Debug("snapshots pruned", "removed", removed)
	}

	return &SaveInfo{
		ID:       info.ID,
		Users:    info.UserCount,
		Deposits: info.DepositCount,
		Size:     info.Size,
	}, nil
}

func (b *fileBackend) Close() error { return nil }

// badgerBackend stores the ledger through kv.Store.
type badgerBackend struct {
	store *kv.Store
}

func (b *badgerBackend) Name() string { return string(BackendBadger) }

func (b *badgerBackend) Load(ctx context.Context) (map[string][]*domain.Deposit, *LoadInfo, error) {
	state, meta, err := b.store.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	if meta == nil {
		return state, nil, nil
	}
	return state, &LoadInfo{
		Source:   "badger",
		SavedAt:  time.UnixMilli(meta.SavedAt),
		Users:    meta.UserCount,
		Deposits: meta.DepositCount,
	}, nil
}

func (b *badgerBackend) Save(ctx context.Context, state map[string][]*domain.Deposit) (*SaveInfo, error) {
	meta, err := b.store.Save(ctx, state)
	if err != nil {
		return nil, err
	}
	b.store.UpdateMetrics()
	st := b.store.Stats()
	return &SaveInfo{
		ID:       "badger",
		Users:    meta.UserCount,
		Deposits: meta.DepositCount,
		Size:     st.LSMSize + st.ValueLogSize,
	}, nil
}

func (b *badgerBackend) Close() error { return b.store.Close() }

// isCorrupt reports whether a backend error means saved data exists but
// cannot be decoded.
func isCorrupt(err error) bool {
	return snapshot.IsCorrupt(err) || kv.IsCorrupt(err)
}
