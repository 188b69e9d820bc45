package snapshot

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lukechampine.com/uint128"

	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/pkg/crypto/adaptive"
)

var fastKDF = adaptive.KDFParams{Time: 1, MemoryKiB: 1024, Threads: 1}

func fixClock(t *testing.T, at time.Time) {
	t.Helper()
	old := timeNow
	timeNow = func() time.Time { return at }
	t.Cleanup(func() { timeNow = old })
}

func testState(t *testing.T) map[string][]*domain.Deposit {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	mk := func(amount uint64, lock time.Duration) *domain.Deposit {
		d, err := domain.NewDeposit(domain.TokenBTC, uint128.From64(amount), lock, now)
		if err != nil {
			t.Fatalf("NewDeposit: %v", err)
		}
		return d
	}
	spent := mk(1000, 100*time.Second)
	if err := spent.MarkWithdrawn(now.Add(time.Second), uint128.From64(100)); err != nil {
		t.Fatal(err)
	}
	return map[string][]*domain.Deposit{
		"alice": {mk(1000, 10*time.Second), spent},
		"bob":   {mk(7, 0)},
	}
}

func assertSameState(t *testing.T, got, want map[string][]*domain.Deposit) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("users = %d, want %d", len(got), len(want))
	}
	for u, deps := range want {
		if len(got[u]) != len(deps) {
			t.Fatalf("user %s deposits = %d, want %d", u, len(got[u]), len(deps))
		}
		for i := range deps {
			if *got[u][i] != *deps[i] {
				t.Errorf("user %s deposit %d = %+v, want %+v", u, i, got[u][i], deps[i])
			}
		}
	}
}

func newKeyring(t *testing.T, secret string) *adaptive.Keyring {
	t.Helper()
	kr, err := adaptive.NewKeyring(secret, fastKDF)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	return kr
}

func TestManager_CreateLoadPlain(t *testing.T) {
	m, err := NewManager(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	state := testState(t)

	info, err := m.Create(state)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.UserCount != 2 || info.DepositCount != 3 {
		t.Fatalf("counts = %d/%d, want 2/3", info.UserCount, info.DepositCount)
	}
	if st, err := os.Stat(info.Path); err != nil || st.Size() != info.Size {
		t.Fatalf("stat %s: size %v, err %v, want size %d", info.Path, st, err, info.Size)
	}

	got, loaded, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != info.ID || loaded.Checksum != info.Checksum {
		t.Errorf("loaded %s/%s, want %s/%s", loaded.ID, loaded.Checksum, info.ID, info.Checksum)
	}
	if loaded.Encrypted {
		t.Error("plain snapshot reported as encrypted")
	}
	assertSameState(t, got, state)
}

func TestManager_LoadEmptyDir(t *testing.T) {
	m, _ := NewManager(DefaultConfig(t.TempDir()))
	if _, _, err := m.Load(); !errors.Is(err, ErrNoSnapshots) {
		t.Fatalf("Load error = %v, want ErrNoSnapshots", err)
	}
}

func TestManager_EmptyLedgerRoundTrip(t *testing.T) {
	m, _ := NewManager(DefaultConfig(t.TempDir()))
	if _, err := m.Create(map[string][]*domain.Deposit{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, _, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("users = %d, want 0", len(got))
	}
}

func TestManager_CreateLoadEncrypted(t *testing.T) {
	dir := t.TempDir()
	secret := "correct horse battery"

	for _, alg := range []adaptive.Algorithm{adaptive.AlgAESGCM, adaptive.AlgChaCha20} {
		t.Run(string(alg), func(t *testing.T) {
			m, err := NewManager(Config{Dir: dir, Keyring: newKeyring(t, secret), Algorithm: alg})
			if err != nil {
				t.Fatalf("NewManager: %v", err)
			}
			state := testState(t)
			info, err := m.Create(state)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			raw, _ := os.ReadFile(info.Path)
			if bytes.Contains(raw, []byte("alice")) {
				t.Fatal("encrypted snapshot contains plaintext user")
			}

			// A fresh manager with the same secret can read it.
			m2, _ := NewManager(Config{Dir: dir, Keyring: newKeyring(t, secret)})
			got, loaded, err := m2.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !loaded.Encrypted {
				t.Error("Encrypted = false")
			}
			assertSameState(t, got, state)
		})
	}
}

func TestManager_EncryptedNeedsKey(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(Config{Dir: dir, Keyring: newKeyring(t, hex.EncodeToString(make([]byte, 32)))})
	if _, err := m.Create(testState(t)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	plain, _ := NewManager(Config{Dir: dir})
	_, _, err := plain.Load()
	if !errors.Is(err, ErrKeyRequired) || !IsCorrupt(err) {
		t.Fatalf("Load without key error = %v, want ErrKeyRequired", err)
	}

	wrong, _ := NewManager(Config{Dir: dir, Keyring: newKeyring(t, "another passphrase")})
	_, _, err = wrong.Load()
	if !errors.Is(err, ErrDecrypt) || !IsCorrupt(err) {
		t.Fatalf("Load with wrong key error = %v, want ErrDecrypt", err)
	}
}

func corrupt(t *testing.T, path string) {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	b[len(b)/2] ^= 0xFF
	if err := os.WriteFile(path, b, 0600); err != nil {
		t.Fatal(err)
	}
}

func TestManager_LoadStrictOnCorruptedLatest(t *testing.T) {
	m, _ := NewManager(DefaultConfig(t.TempDir()))
	if _, err := m.Create(testState(t)); err != nil {
		t.Fatal(err)
	}
	latest, err := m.Create(map[string][]*domain.Deposit{})
	if err != nil {
		t.Fatal(err)
	}
	corrupt(t, latest.Path)

	_, _, err = m.Load()
	if !errors.Is(err, ErrChecksumMismatch) || !IsCorrupt(err) {
		t.Fatalf("Load error = %v, want ErrChecksumMismatch", err)
	}
}

func TestManager_LoadFallbackOnCorruptedLatest(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(Config{Dir: dir, AllowFallback: true})
	state := testState(t)
	older, err := m.Create(state)
	if err != nil {
		t.Fatal(err)
	}
	latest, err := m.Create(map[string][]*domain.Deposit{})
	if err != nil {
		t.Fatal(err)
	}
	corrupt(t, latest.Path)

	got, info, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if info.ID != older.ID {
		t.Errorf("loaded %s, want %s", info.ID, older.ID)
	}
	if len(info.Skipped) != 1 || info.Skipped[0] != latest.ID {
		t.Errorf("Skipped = %v, want [%s]", info.Skipped, latest.ID)
	}
	assertSameState(t, got, state)

	corrupt(t, older.Path)
	if _, _, err := m.Load(); !IsCorrupt(err) {
		t.Fatalf("Load with every snapshot damaged error = %v, want corrupt", err)
	}
}

func TestManager_TruncatedAndForeignFiles(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    error
	}{
		{"tiny", []byte("ARCH"), ErrTruncated},
		{"garbage", bytes.Repeat([]byte{0x42}, 128), ErrChecksumMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "archvault-00000000000000000001-20260101000000.snap")
			if err := os.WriteFile(path, tt.content, 0600); err != nil {
				t.Fatal(err)
			}
			m, _ := NewManager(DefaultConfig(dir))
			if _, _, err := m.Load(); !errors.Is(err, tt.want) {
				t.Fatalf("Load error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestManager_SequenceWithinOneSecond(t *testing.T) {
	fixClock(t, time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC))
	m, _ := NewManager(Config{Dir: t.TempDir(), RetentionCount: 1, RetentionDays: -1})

	var ids []string
	for i := 0; i < 3; i++ {
		info, err := m.Create(map[string][]*domain.Deposit{})
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		ids = append(ids, info.ID)
		// Pruning between saves must not cause a sequence to be reused.
		if _, err := m.Prune(); err != nil {
			t.Fatalf("Prune: %v", err)
		}
	}

	want := []string{
		"archvault-00000000000000000001-20261014120000",
		"archvault-00000000000000000002-20261014120000",
		"archvault-00000000000000000003-20261014120000",
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("id[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestManager_ClockStepsBackwards(t *testing.T) {
	m, _ := NewManager(Config{Dir: t.TempDir(), RetentionCount: 5, RetentionDays: -1})

	fixClock(t, time.Date(2026, 1, 1, 12, 0, 5, 0, time.UTC))
	first := map[string][]*domain.Deposit{"alice": testState(t)["alice"][:1]}
	if _, err := m.Create(first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// An NTP correction moves the clock two seconds back.
	fixClock(t, time.Date(2026, 1, 1, 12, 0, 3, 0, time.UTC))
	latest := testState(t)
	info, err := m.Create(latest)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	state, loaded, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != info.ID || loaded.Seq != 2 {
		t.Errorf("loaded %s (seq %d), want %s (seq 2)", loaded.ID, loaded.Seq, info.ID)
	}
	assertSameState(t, state, latest)

	// Retention must keep the save made under the earlier clock reading.
	m.cfg.RetentionCount = 1
	removed, err := m.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(removed) != 1 || removed[0] == info.ID {
		t.Errorf("removed = %v, want only the first snapshot", removed)
	}
}

func TestManager_RenamedSnapshotIsDamaged(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(Config{Dir: dir, RetentionCount: 5, RetentionDays: -1})
	info, err := m.Create(testState(t))
	if err != nil {
		t.Fatal(err)
	}
	renamed := filepath.Join(dir, "archvault-00000000000000000005-20260101120005.snap")
	if err := os.Rename(info.Path, renamed); err != nil {
		t.Fatal(err)
	}

	_, _, err = m.Load()
	if !errors.Is(err, ErrSequenceMismatch) || !IsCorrupt(err) {
		t.Fatalf("Load error = %v, want ErrSequenceMismatch", err)
	}
}

func TestManager_ManySavesInOneSecond(t *testing.T) {
	fixClock(t, time.Date(2026, 1, 1, 12, 0, 5, 0, time.UTC))
	m, _ := NewManager(Config{Dir: t.TempDir(), RetentionCount: 2, RetentionDays: -1})

	old := map[string][]*domain.Deposit{"alice": testState(t)["alice"][:1]}
	for i := 0; i < 12; i++ {
		if _, err := m.Create(old); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		if _, err := m.Prune(); err != nil {
			t.Fatalf("Prune: %v", err)
		}
	}
	latest := testState(t)
	info, err := m.Create(latest)
	if err != nil {
		t.Fatal(err)
	}
	if info.Seq != 13 {
		t.Errorf("seq = %d, want 13", info.Seq)
	}

	state, loaded, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != info.ID {
		t.Errorf("loaded %s, want %s", loaded.ID, info.ID)
	}
	assertSameState(t, state, latest)
}

func TestParseSeq(t *testing.T) {
	tests := []struct {
		id   string
		want uint64
		ok   bool
	}{
		{"archvault-00000000000000000001-20260101120005", 1, true},
		{"archvault-00000000000000010000-20260101120005", 10000, true},
		{"archvault-18446744073709551615-20260101120005", 18446744073709551615, true},
		{"archvault-99999999999999999999-20260101120005", 0, false},
		{"archvault-00000000000000000000-20260101120005", 0, false},
		{"archvault-20260101120005-0001", 0, false},
		{"archvault-0000000000000000000x-20260101120005", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseSeq(tt.id)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseSeq(%q) = %d, %v; want %d, %v", tt.id, got, ok, tt.want, tt.ok)
		}
	}
}

func TestManager_SequenceOrderIsNumeric(t *testing.T) {
	fixClock(t, time.Date(2026, 1, 1, 12, 0, 5, 0, time.UTC))
	dir := t.TempDir()
	m, _ := NewManager(Config{Dir: dir, RetentionCount: 10, RetentionDays: -1})

	// Seed the directory as if 9999 saves had already happened.
	older := map[string][]*domain.Deposit{"alice": testState(t)["alice"][:1]}
	m.mu.Lock()
	_, err := m.write(9999, "archvault-00000000000000009999-20260101120005", timeNow(), older)
	m.mu.Unlock()
	if err != nil {
		t.Fatal(err)
	}

	latest := testState(t)
	info, err := m.Create(latest)
	if err != nil {
		t.Fatal(err)
	}
	if info.Seq != 10000 {
		t.Fatalf("seq = %d, want 10000", info.Seq)
	}

	state, loaded, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Seq != 10000 {
		t.Errorf("loaded seq %d, want 10000", loaded.Seq)
	}
	assertSameState(t, state, latest)
}

func TestManager_UnrecognizedNameFailsLoad(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(DefaultConfig(dir))
	if _, err := m.Create(testState(t)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "archvault-20260101120005-0001.snap"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	_, _, err := m.Load()
	if !errors.Is(err, ErrUnrecognizedName) || !IsCorrupt(err) {
		t.Fatalf("Load error = %v, want ErrUnrecognizedName", err)
	}
	if _, err := m.Create(testState(t)); !errors.Is(err, ErrUnrecognizedName) {
		t.Errorf("Create error = %v, want ErrUnrecognizedName", err)
	}
}

func TestManager_PruneKeepsNewest(t *testing.T) {
	m, _ := NewManager(Config{Dir: t.TempDir(), RetentionCount: 2, RetentionDays: -1})

	var last *Info
	for i := 0; i < 4; i++ {
		info, err := m.Create(map[string][]*domain.Deposit{})
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		last = info
	}

	removed, err := m.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed %d, want 2", len(removed))
	}

	infos, _ := m.List()
	if len(infos) != 2 {
		t.Fatalf("remaining = %d, want 2", len(infos))
	}
	if infos[len(infos)-1].ID != last.ID {
		t.Errorf("newest = %s, want %s", infos[len(infos)-1].ID, last.ID)
	}
}

func TestManager_PruneByAge(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(Config{Dir: dir, RetentionCount: -1, RetentionDays: 1})

	old, _ := m.Create(map[string][]*domain.Deposit{})
	fresh, _ := m.Create(map[string][]*domain.Deposit{})
	past := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(old.Path, past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := m.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(removed) != 1 || removed[0] != old.ID {
		t.Errorf("removed = %v, want [%s]", removed, old.ID)
	}
	if _, err := os.Stat(fresh.Path); err != nil {
		t.Errorf("fresh snapshot removed: %v", err)
	}
}

func TestNewManager_RemovesTempFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "archvault-00000000000000000001-20260101000000.tmp")
	if err := os.WriteFile(stale, []byte("partial"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(DefaultConfig(dir)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale temp file still present: %v", err)
	}
}

func TestNewManager_RequiresDir(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Fatal("NewManager without dir should fail")
	}
}
