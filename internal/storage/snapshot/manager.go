package snapshot

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/internal/storage/record"
	"github.com/Legendarykuga/archVault/pkg/crypto/adaptive"
)

// Magic bytes identify snapshot files.
var magicBytes = []byte("ARCHVSNP")

const (
	filePrefix    = "archvault-"
	fileExtension = ".snap"
	tempExtension = ".tmp"
	checksumSize  = 32
	seqDigits     = 20
	headerVersion = 1
	cipherPurpose = "snapshot"

	DefaultRetentionCount = 5
	DefaultRetentionDays  = 7
)

// timeNow is replaced in tests.
var timeNow = time.Now

type snapshotHeader struct {
	Version      int    `json:"version"`
	Seq          uint64 `json:"seq"`
	CreatedAt    int64  `json:"created_at"`
	UserCount    int    `json:"user_count"`
	DepositCount int    `json:"deposit_count"`
	Encrypted    bool   `json:"encrypted"`
	Algorithm    string `json:"algorithm,omitempty"`
	Salt         string `json:"salt,omitempty"`
}

var (
	ErrInvalidMagic       = errors.New("snapshot: invalid magic bytes")
	ErrChecksumMismatch   = errors.New("snapshot: checksum mismatch")
	ErrTruncated          = errors.New("snapshot: truncated file")
	ErrUnsupportedVersion = errors.New("snapshot: unsupported version")
	ErrNoSnapshots        = errors.New("snapshot: no snapshots available")
	ErrKeyRequired        = errors.New("snapshot: snapshot is encrypted but no key is configured")
	ErrDecrypt            = errors.New("snapshot: decryption failed, wrong key or corrupted data")
	ErrUnrecognizedName   = errors.New("snapshot: unrecognized snapshot file name")
	ErrSequenceMismatch   = errors.New("snapshot: header sequence does not match file name")
)

// isDamaged reports integrity failures that an older snapshot may not share.
func isDamaged(err error) bool {
	return errors.Is(err, ErrInvalidMagic) ||
		errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrSequenceMismatch) ||
		errors.Is(err, record.ErrMalformed)
}

// IsCorrupt reports whether err means a snapshot exists but cannot be
// turned back into a ledger.
func IsCorrupt(err error) bool {
	return isDamaged(err) ||
		errors.Is(err, ErrKeyRequired) ||
		errors.Is(err, ErrDecrypt) ||
		errors.Is(err, ErrUnrecognizedName)
}

// Config configures the snapshot manager.
type Config struct {
	Dir string

	// RetentionCount keeps the newest N snapshots. Zero selects the
	// default; negative disables count-based retention.
	RetentionCount int

	// RetentionDays keeps snapshots younger than D days. Zero selects
	// the default; negative disables age-based retention.
	RetentionDays int

	// Keyring enables encryption when non-nil.
	Keyring *adaptive.Keyring

	// Algorithm is the AEAD for new snapshots. Empty selects
	// adaptive.Preferred.
	Algorithm adaptive.Algorithm

	// AllowFallback loads an older intact snapshot when newer ones are
	// damaged.
	AllowFallback bool
}

// DefaultConfig returns the default configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		RetentionCount: DefaultRetentionCount,
		RetentionDays:  DefaultRetentionDays,
	}
}

// Manager creates, loads and prunes snapshots in one directory. It
// assumes a single writer process.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	salt   []byte
	writer adaptive.Cipher
}

// NewManager creates the snapshot directory if needed and removes
// temporary files left by an interrupted save.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	if cfg.RetentionCount == 0 {
		cfg.RetentionCount = DefaultRetentionCount
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.Keyring != nil {
		alg, err := adaptive.ParseAlgorithm(string(cfg.Algorithm))
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		cfg.Algorithm = alg
	}

	m := &Manager{cfg: cfg}
	m.removeTemp()
	return m, nil
}

// Dir returns the snapshot directory.
func (m *Manager) Dir() string {
	return m.cfg.Dir
}

// Info contains metadata about a snapshot.
type Info struct {
	ID           string   `json:"id"`
	Seq          uint64   `json:"seq"`
	Path         string   `json:"path"`
	CreatedAt    int64    `json:"created_at"`
	UserCount    int      `json:"user_count"`
	DepositCount int      `json:"deposit_count"`
	Encrypted    bool     `json:"encrypted"`
	Size         int64    `json:"size"`
	Checksum     string   `json:"checksum,omitempty"`
	Skipped      []string `json:"skipped,omitempty"`
}

// Create writes state as a new snapshot.
func (m *Manager) Create(state map[string][]*domain.Deposit) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := timeNow()
	seq, id, err := m.generateID(now)
	if err != nil {
		return nil, err
	}
	return m.write(seq, id, now, state)
}

// write stores state under id. Callers hold m.mu.
func (m *Manager) write(seq uint64, id string, now time.Time, state map[string][]*domain.Deposit) (*Info, error) {
	users, deposits := record.Counts(state)

	hdr := snapshotHeader{
		Version:      headerVersion,
		Seq:          seq,
		CreatedAt:    now.UnixMilli(),
		UserCount:    users,
		DepositCount: deposits,
	}
	c, err := m.writeCipher()
	if err != nil {
		return nil, err
	}
	if c != nil {
		hdr.Encrypted = true
		hdr.Algorithm = string(c.Algorithm())
		hdr.Salt = hex.EncodeToString(m.salt)
	}
	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal header: %w", err)
	}

	data, err := record.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal ledger: %w", err)
	}
	if c != nil {
		if data, err = c.Seal(data, additionalData(hdrJSON)); err != nil {
			return nil, fmt.Errorf("snapshot: encrypt: %w", err)
		}
	}

	tempPath := filepath.Join(m.cfg.Dir, id+tempExtension)
	sum, size, err := writeFile(tempPath, hdrJSON, data)
	defer os.Remove(tempPath)
	if err != nil {
		return nil, err
	}

	finalPath := filepath.Join(m.cfg.Dir, id+fileExtension)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return nil, fmt.Errorf("snapshot: rename: %w", err)
	}
	if err := syncDir(m.cfg.Dir); err != nil {
		return nil, err
	}

	return &Info{
		ID:           id,
		Seq:          seq,
		Path:         finalPath,
		CreatedAt:    hdr.CreatedAt,
		UserCount:    users,
		DepositCount: deposits,
		Encrypted:    hdr.Encrypted,
		Size:         size,
		Checksum:     hex.EncodeToString(sum),
	}, nil
}

func writeFile(path string, hdrJSON, data []byte) ([]byte, int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("snapshot: create temp file: %w", err)
	}

	hash := sha256.New()
	bw := bufio.NewWriter(io.MultiWriter(file, hash))

	var size int64
	write := func(b []byte) error {
		n, err := bw.Write(b)
		size += int64(n)
		return err
	}
	var hdrLen, dataLen [4]byte
	binary.BigEndian.PutUint32(hdrLen[:], uint32(len(hdrJSON)))
	binary.BigEndian.PutUint32(dataLen[:], uint32(len(data)))

	for _, part := range [][]byte{magicBytes, hdrLen[:], hdrJSON, dataLen[:], data} {
		if err := write(part); err != nil {
			file.Close()
			return nil, 0, fmt.Errorf("snapshot: write: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("snapshot: write: %w", err)
	}

	// Checksum trailer is not included in the hash.
	sum := hash.Sum(nil)
	if _, err := file.Write(sum); err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("snapshot: write checksum: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, 0, fmt.Errorf("snapshot: close: %w", err)
	}
	return sum, size + checksumSize, nil
}

// Load returns the ledger state of the newest snapshot.
func (m *Manager) Load() (map[string][]*domain.Deposit, *Info, error) {
	snapshots, err := m.List()
	if err != nil {
		return nil, nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil, ErrNoSnapshots
	}

	var skipped []string
	for i := len(snapshots) - 1; i >= 0; i-- {
		state, info, err := m.loadFile(snapshots[i].Path, snapshots[i].Seq)
		if err == nil {
			info.Skipped = skipped
			return state, info, nil
		}
		if !m.cfg.AllowFallback || !isDamaged(err) {
			return nil, nil, fmt.Errorf("snapshot %s: %w", snapshots[i].ID, err)
		}
		skipped = append(skipped, snapshots[i].ID)
	}

	return nil, nil, fmt.Errorf("%w: all %d snapshots are damaged", ErrChecksumMismatch, len(snapshots))
}

func (m *Manager) loadFile(path string, seq uint64) (map[string][]*domain.Deposit, *Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: open: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: stat: %w", err)
	}
	minSize := int64(len(magicBytes)) + 8 + checksumSize
	if stat.Size() < minSize {
		return nil, nil, ErrTruncated
	}

	// Verify checksum.
	bodyLen := stat.Size() - checksumSize
	expected := make([]byte, checksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, bodyLen, checksumSize), expected); err != nil {
		return nil, nil, fmt.Errorf("snapshot: read checksum: %w", err)
	}
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, bodyLen)); err != nil {
		return nil, nil, fmt.Errorf("snapshot: read: %w", err)
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return nil, nil, ErrChecksumMismatch
	}

	br := bufio.NewReader(io.NewSectionReader(f, 0, bodyLen))
	remaining := bodyLen

	magic := make([]byte, len(magicBytes))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, nil, ErrTruncated
	}
	if !bytes.Equal(magic, magicBytes) {
		return nil, nil, ErrInvalidMagic
	}
	remaining -= int64(len(magicBytes))

	hdrJSON, err := readSection(br, &remaining)
	if err != nil {
		return nil, nil, err
	}
	var hdr snapshotHeader
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, nil, fmt.Errorf("%w: header: %v", record.ErrMalformed, err)
	}
	if hdr.Version != headerVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr.Version)
	}
	if hdr.Seq != seq {
		return nil, nil, fmt.Errorf("%w: header %d, name %d", ErrSequenceMismatch, hdr.Seq, seq)
	}

	data, err := readSection(br, &remaining)
	if err != nil {
		return nil, nil, err
	}
	if remaining != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", record.ErrMalformed, remaining)
	}

	if hdr.Encrypted {
		if data, err = m.open(hdr, hdrJSON, data); err != nil {
			return nil, nil, err
		}
	}

	state, err := record.Unmarshal(data)
	if err != nil {
		return nil, nil, err
	}

	info := &Info{
		ID:           strings.TrimSuffix(filepath.Base(path), fileExtension),
		Seq:          hdr.Seq,
		Path:         path,
		CreatedAt:    hdr.CreatedAt,
		UserCount:    hdr.UserCount,
		DepositCount: hdr.DepositCount,
		Encrypted:    hdr.Encrypted,
		Size:         stat.Size(),
		Checksum:     hex.EncodeToString(expected),
	}
	return state, info, nil
}

// readSection reads a length-prefixed section, refusing lengths that
// exceed what is left of the file.
func readSection(r io.Reader, remaining *int64) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, ErrTruncated
	}
	*remaining -= 4
	n := int64(binary.BigEndian.Uint32(lenBuf[:]))
	if n > *remaining {
		return nil, ErrTruncated
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrTruncated
	}
	*remaining -= n
	return buf, nil
}

// open decrypts an encrypted data section. A successful open adopts the
// snapshot's salt for later writes so the passphrase is stretched once.
func (m *Manager) open(hdr snapshotHeader, hdrJSON, data []byte) ([]byte, error) {
	if m.cfg.Keyring == nil {
		return nil, ErrKeyRequired
	}
	salt, err := hex.DecodeString(hdr.Salt)
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: bad salt", record.ErrMalformed)
	}
	c, err := m.cfg.Keyring.Cipher(salt, cipherPurpose, adaptive.Algorithm(hdr.Algorithm))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	plain, err := c.Open(data, additionalData(hdrJSON))
	if err != nil {
		return nil, ErrDecrypt
	}

	m.mu.Lock()
	if m.salt == nil {
		m.salt = salt
	}
	m.mu.Unlock()
	return plain, nil
}

// writeCipher returns the cipher for new snapshots, nil when encryption
// is off. Callers hold m.mu.
func (m *Manager) writeCipher() (adaptive.Cipher, error) {
	if m.cfg.Keyring == nil {
		return nil, nil
	}
	if m.writer != nil {
		return m.writer, nil
	}
	if m.salt == nil {
		salt, err := adaptive.NewSalt()
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		m.salt = salt
	}
	c, err := m.cfg.Keyring.Cipher(m.salt, cipherPurpose, m.cfg.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	m.writer = c
	return c, nil
}

// additionalData binds the header to the sealed body.
func additionalData(hdrJSON []byte) []byte {
	aad := make([]byte, 0, len(magicBytes)+len(hdrJSON))
	aad = append(aad, magicBytes...)
	return append(aad, hdrJSON...)
}

// List lists snapshot files oldest first by sequence (metadata only).
// A file that carries the snapshot prefix and extension but no parsable
// sequence fails the listing, since it may hold a newer ledger.
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: read dir: %w", err)
	}

	var infos []*Info
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExtension) {
			continue
		}
		id := strings.TrimSuffix(name, fileExtension)
		seq, ok := parseSeq(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnrecognizedName, name)
		}
		p := filepath.Join(m.cfg.Dir, name)
		stat, err := os.Stat(p)
		if err != nil {
			continue
		}
		infos = append(infos, &Info{
			ID:   id,
			Seq:  seq,
			Path: p,
			Size: stat.Size(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Seq < infos[j].Seq })
	return infos, nil
}

// Prune applies the retention policy and returns the IDs it removed.
// The newest snapshot is never removed.
func (m *Manager) Prune() ([]string, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(infos) <= 1 {
		return nil, nil
	}

	keep := make(map[string]struct{}, len(infos))

	// Keep last RetentionCount.
	if m.cfg.RetentionCount > 0 {
		start := len(infos) - m.cfg.RetentionCount
		if start < 0 {
			start = 0
		}
		for _, info := range infos[start:] {
			keep[info.Path] = struct{}{}
		}
	}

	// Keep those within RetentionDays based on mtime.
	if m.cfg.RetentionDays > 0 {
		cutoff := timeNow().Add(-time.Duration(m.cfg.RetentionDays) * 24 * time.Hour)
		for _, info := range infos {
			st, err := os.Stat(info.Path)
			if err != nil {
				continue
			}
			if st.ModTime().After(cutoff) {
				keep[info.Path] = struct{}{}
			}
		}
	}

	keep[infos[len(infos)-1].Path] = struct{}{}

	var removed []string
	var errs []error
	for _, info := range infos {
		if _, ok := keep[info.Path]; ok {
			continue
		}
		if err := os.Remove(info.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, info.ID)
	}
	return removed, errors.Join(errs...)
}

// generateID returns archvault-<seq>-<timestamp>. The sequence is one
// above the highest in the directory, so save order never depends on
// the wall clock; the timestamp is informational.
func (m *Manager) generateID(t time.Time) (uint64, string, error) {
	infos, err := m.List()
	if err != nil {
		return 0, "", err
	}
	var seq uint64
	if n := len(infos); n > 0 {
		seq = infos[n-1].Seq
	}
	if seq == math.MaxUint64 {
		return 0, "", fmt.Errorf("snapshot: sequence exhausted")
	}
	seq++
	return seq, fmt.Sprintf("%s%0*d-%s", filePrefix, seqDigits, seq, t.UTC().Format("20060102150405")), nil
}

// parseSeq extracts the sequence from archvault-<seq>-<timestamp>.
func parseSeq(id string) (uint64, bool) {
	rest := strings.TrimPrefix(id, filePrefix)
	digits, _, found := strings.Cut(rest, "-")
	if !found || len(digits) != seqDigits {
		return 0, false
	}
	seq, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || seq == 0 {
		return 0, false
	}
	return seq, true
}

func (m *Manager) removeTemp() {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), filePrefix) && strings.HasSuffix(e.Name(), tempExtension) {
			_ = os.Remove(filepath.Join(m.cfg.Dir, e.Name()))
		}
	}
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("snapshot: open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("snapshot: sync dir: %w", err)
	}
	return nil
}
