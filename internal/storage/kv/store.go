package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/internal/storage/record"
	"github.com/Legendarykuga/archVault/pkg/crypto/adaptive"
)

const (
	genPrefix     = "ledger/g/"
	metaKey       = "ledger/meta"
	saltKey       = "ledger/salt"
	metaVersion   = 2
	cipherPurpose = "badger"

	DefaultGCInterval     = 10 * time.Minute
	DefaultGCDiscardRatio = 0.5
)

var (
	ErrClosed      = errors.New("kv: store closed")
	ErrKeyRequired = errors.New("kv: store is encrypted but no key is configured")
	ErrDecrypt     = errors.New("kv: decryption failed, wrong key or corrupted data")
)

// IsCorrupt reports whether err means stored data cannot be decoded.
func IsCorrupt(err error) bool {
	return errors.Is(err, record.ErrMalformed) || errors.Is(err, ErrKeyRequired) || errors.Is(err, ErrDecrypt)
}

// Config configures the Badger store.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the database in RAM (tests).
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval is the value-log GC period. Zero selects the default;
	// negative disables background GC.
	GCInterval time.Duration

	// GCDiscardRatio is the stale fraction that triggers a rewrite.
	GCDiscardRatio float64

	// Keyring enables value encryption when non-nil.
	Keyring *adaptive.Keyring

	// Algorithm is the AEAD for new stores. Empty selects
	// adaptive.Preferred.
	Algorithm adaptive.Algorithm
}

// DefaultConfig returns the default configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		SyncWrites:     true,
		GCInterval:     DefaultGCInterval,
		GCDiscardRatio: DefaultGCDiscardRatio,
	}
}

// Meta describes the last save.
type Meta struct {
	Version      int    `json:"version"`
	Generation   uint64 `json:"generation"`
	SavedAt      int64  `json:"saved_at"`
	UserCount    int    `json:"user_count"`
	DepositCount int    `json:"deposit_count"`
	Encrypted    bool   `json:"encrypted"`
	Algorithm    string `json:"algorithm,omitempty"`
}

// Stats reports on-disk sizes.
type Stats struct {
	LSMSize      int64
	ValueLogSize int64
	LastGCTime   int64 // Unix milliseconds
	GCRuns       uint64
}

// Store persists the ledger in Badger.
type Store struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger
	cipher adaptive.Cipher

	closed atomic.Bool

	// Internal counters
	lastGCTime atomic.Int64
	gcRuns     atomic.Uint64

	// Prometheus metrics
	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsGCRuns       prometheus.Counter

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Open opens or creates the database and starts background GC.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("kv: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GCInterval == 0 {
		cfg.GCInterval = DefaultGCInterval
	}
	if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
		cfg.GCDiscardRatio = DefaultGCDiscardRatio
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts.Logger = &badgerLogger{logger: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open db: %w", err)
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if cfg.Keyring != nil {
		if s.cipher, err = s.openCipher(); err != nil {
			db.Close()
			return nil, err
		}
	}

	go s.gcLoop()

	logger.Info("badger store opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"encrypted", s.cipher != nil)

	return s, nil
}

// openCipher loads the stored salt and algorithm, creating them on first
// use.
func (s *Store) openCipher() (adaptive.Cipher, error) {
	alg, err := adaptive.ParseAlgorithm(string(s.cfg.Algorithm))
	if err != nil {
		return nil, fmt.Errorf("kv: %w", err)
	}

	var salt []byte
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(saltKey))
		switch {
		case err == nil:
			salt, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
			// An existing store keeps the algorithm it was written with.
			if meta, err := readMeta(txn); err == nil && meta != nil && meta.Algorithm != "" {
				alg = adaptive.Algorithm(meta.Algorithm)
			}
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			if salt, err = adaptive.NewSalt(); err != nil {
				return err
			}
			return txn.Set([]byte(saltKey), salt)
		default:
			return err
		}
	})
	if err != nil {
		return nil, fmt.Errorf("kv: load salt: %w", err)
	}

	c, err := s.cfg.Keyring.Cipher(salt, cipherPurpose, alg)
	if err != nil {
		return nil, fmt.Errorf("kv: %w", err)
	}
	return c, nil
}

// Load reads the full ledger. An empty database yields an empty state
// and nil Meta.
func (s *Store) Load(ctx context.Context) (map[string][]*domain.Deposit, *Meta, error) {
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}

	state := make(map[string][]*domain.Deposit)
	var meta *Meta

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if meta, err = readMeta(txn); err != nil {
			return err
		}
		if meta != nil && meta.Encrypted && s.cipher == nil {
			return ErrKeyRequired
		}
		if meta != nil && !meta.Encrypted && s.cipher != nil && meta.UserCount > 0 {
			return fmt.Errorf("%w: store was written without encryption", record.ErrMalformed)
		}

		if meta == nil {
			return nil
		}

		prefix := userPrefix(meta.Generation)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := item.KeyCopy(nil)
			user := string(key[len(prefix):])

			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if value, err = s.open(key, value); err != nil {
				return err
			}

			var recs []record.Deposit
			if err := json.Unmarshal(value, &recs); err != nil {
				return fmt.Errorf("%w: user %q: %v", record.ErrMalformed, user, err)
			}
			deps, err := record.DecodeDeposits(recs)
			if err != nil {
				return err
			}
			state[user] = deps
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("kv: load: %w", err)
	}

	if meta != nil {
		if users, deposits := record.Counts(state); users != meta.UserCount || deposits != meta.DepositCount {
			return nil, nil, fmt.Errorf("kv: load: %w: meta records %d users/%d deposits, found %d/%d",
				record.ErrMalformed, meta.UserCount, meta.DepositCount, users, deposits)
		}
	}
	return state, meta, nil
}

// Save replaces the stored ledger with state.
//
// Users are written under a fresh generation in write batches, so the
// ledger size is not bounded by Badger's transaction limit. The meta
// record then switches to the new generation in one small transaction;
// until that commit, Load keeps returning the previous ledger. The old
// generation is deleted afterwards.
func (s *Store) Save(ctx context.Context, state map[string][]*domain.Deposit) (*Meta, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var prev *Meta
	if err := s.db.View(func(txn *badger.Txn) error {
		var err error
		prev, err = readMeta(txn)
		return err
	}); err != nil && !errors.Is(err, record.ErrMalformed) {
		return nil, fmt.Errorf("kv: save: %w", err)
	}
	var gen uint64 = 1
	if prev != nil {
		gen = prev.Generation + 1
	}

	users, deposits := record.Counts(state)
	meta := &Meta{
		Version:      metaVersion,
		Generation:   gen,
		SavedAt:      time.Now().UnixMilli(),
		UserCount:    users,
		DepositCount: deposits,
		Encrypted:    s.cipher != nil,
	}
	if s.cipher != nil {
		meta.Algorithm = string(s.cipher.Algorithm())
	}

	// A save that died before its meta commit may have left keys here.
	if err := s.deletePrefix(ctx, userPrefix(gen), nil); err != nil {
		return nil, fmt.Errorf("kv: save: %w", err)
	}
	if err := s.writeUsers(ctx, gen, state); err != nil {
		return nil, fmt.Errorf("kv: save: %w", err)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("kv: save: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaKey), metaJSON)
	}); err != nil {
		return nil, fmt.Errorf("kv: save: %w", err)
	}

	// Everything outside the live generation is garbage now.
	live := userPrefix(gen)
	if err := s.deletePrefix(ctx, []byte(genPrefix), live); err != nil {
		s.logger.Warn("failed to delete old ledger generations", "generation", gen, "error", err)
	}
	return meta, nil
}

func (s *Store) writeUsers(ctx context.Context, gen uint64, state map[string][]*domain.Deposit) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	prefix := userPrefix(gen)
	for user, deps := range state {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := append(append([]byte{}, prefix...), user...)
		value, err := json.Marshal(record.EncodeDeposits(deps))
		if err != nil {
			return err
		}
		if value, err = s.seal(key, value); err != nil {
			return err
		}
		if err := wb.Set(key, value); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// deletePrefix deletes every key under prefix except those under keep.
func (s *Store) deletePrefix(ctx context.Context, prefix, keep []byte) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if keep != nil && bytes.HasPrefix(key, keep) {
				continue
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// userPrefix returns ledger/g/<generation>/u/.
func userPrefix(gen uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/u/", genPrefix, gen))
}

func readMeta(txn *badger.Txn) (*Meta, error) {
	item, err := txn.Get([]byte(metaKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: meta: %v", record.ErrMalformed, err)
	}
	if meta.Version != metaVersion {
		return nil, fmt.Errorf("%w: unsupported meta version %d", record.ErrMalformed, meta.Version)
	}
	return &meta, nil
}

// seal encrypts value bound to its key, or returns it unchanged.
func (s *Store) seal(key, value []byte) ([]byte, error) {
	if s.cipher == nil {
		return value, nil
	}
	return s.cipher.Seal(value, key)
}

func (s *Store) open(key, value []byte) ([]byte, error) {
	if s.cipher == nil {
		return value, nil
	}
	plain, err := s.cipher.Open(value, key)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// GC runs value-log garbage collection until nothing is left to rewrite.
func (s *Store) GC(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if s.cfg.InMemory {
		return 0, nil
	}

	runs := 0
	for {
		if err := ctx.Err(); err != nil {
			return runs, err
		}
		err := s.db.RunValueLogGC(s.cfg.GCDiscardRatio)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
				break
			}
			return runs, fmt.Errorf("kv: gc: %w", err)
		}
		runs++
	}

	s.lastGCTime.Store(time.Now().UnixMilli())
	s.gcRuns.Add(uint64(runs))
	if s.metricsGCRuns != nil {
		s.metricsGCRuns.Add(float64(runs))
	}
	return runs, nil
}

// Stats returns storage statistics.
func (s *Store) Stats() Stats {
	lsm, vlog := s.db.Size()
	return Stats{
		LSMSize:      lsm,
		ValueLogSize: vlog,
		LastGCTime:   s.lastGCTime.Load(),
		GCRuns:       s.gcRuns.Load(),
	}
}

// RegisterMetrics registers size gauges and the GC counter.
func (s *Store) RegisterMetrics(reg prometheus.Registerer) error {
	s.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "archvault",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes.",
	})
	s.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "archvault",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes.",
	})
	s.metricsGCRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "archvault",
		Subsystem: "badger",
		Name:      "gc_rewrites_total",
		Help:      "Value log files rewritten by garbage collection.",
	})

	for _, c := range []prometheus.Collector{s.metricsLSMSize, s.metricsValueLogSize, s.metricsGCRuns} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("kv: register metrics: %w", err)
		}
	}
	s.UpdateMetrics()
	return nil
}

// UpdateMetrics refreshes the size gauges.
func (s *Store) UpdateMetrics() {
	if s.metricsLSMSize == nil || s.closed.Load() {
		return
	}
	st := s.Stats()
	s.metricsLSMSize.Set(float64(st.LSMSize))
	s.metricsValueLogSize.Set(float64(st.ValueLogSize))
}

// gcLoop runs periodic garbage collection.
func (s *Store) gcLoop() {
	defer close(s.doneCh)

	if s.cfg.GCInterval < 0 {
		<-s.stopCh
		return
	}

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := s.GC(ctx); err != nil {
				s.logger.Error("auto gc failed", "error", err)
			}
			cancel()
			s.UpdateMetrics()

		case <-s.stopCh:
			return
		}
	}
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		s.closed.Store(true)
		if cerr := s.db.Close(); cerr != nil {
			err = fmt.Errorf("kv: close db: %w", cerr)
		}
	})
	return err
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
