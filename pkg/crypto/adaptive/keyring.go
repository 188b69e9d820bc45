package adaptive

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// SaltSize is the length of salts produced by NewSalt.
	SaltSize = 16

	// MinPassphraseLength is the shortest accepted passphrase.
	MinPassphraseLength = 8
)

// ErrWeakSecret is returned for passphrases below MinPassphraseLength.
var ErrWeakSecret = fmt.Errorf("adaptive: passphrase must be at least %d characters", MinPassphraseLength)

// KDFParams tunes Argon2id passphrase stretching.
type KDFParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultKDFParams follows the RFC 9106 second recommended option.
var DefaultKDFParams = KDFParams{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("adaptive: read salt: %w", err)
	}
	return salt, nil
}

// Keyring derives keys from one configured secret.
//
// A secret of exactly 64 hex digits is used as a raw 32-byte master key.
// Anything else is treated as a passphrase and stretched with Argon2id
// under the caller's salt. Master keys are cached per salt.
type Keyring struct {
	raw        []byte
	passphrase []byte
	params     KDFParams

	mu      sync.Mutex
	masters map[string][]byte
}

// NewKeyring parses secret. An empty secret is an error; callers that
// allow plaintext storage pass a nil *Keyring instead.
func NewKeyring(secret string, params KDFParams) (*Keyring, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("adaptive: empty secret")
	}
	if params.Time == 0 || params.MemoryKiB == 0 || params.Threads == 0 {
		params = DefaultKDFParams
	}

	kr := &Keyring{params: params, masters: make(map[string][]byte)}
	if len(secret) == 2*KeySize {
		if raw, err := hex.DecodeString(secret); err == nil {
			kr.raw = raw
			return kr, nil
		}
	}
	if len(secret) < MinPassphraseLength {
		return nil, ErrWeakSecret
	}
	kr.passphrase = []byte(secret)
	return kr, nil
}

// IsPassphrase reports whether keys are stretched from a passphrase.
func (k *Keyring) IsPassphrase() bool {
	return k.raw == nil
}

// Key derives the KeySize key for salt and purpose.
func (k *Keyring) Key(salt []byte, purpose string) ([]byte, error) {
	if len(salt) == 0 {
		return nil, errors.New("adaptive: salt is required")
	}
	master := k.master(salt)

	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, master, salt, []byte("archvault/"+purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("adaptive: derive %s key: %w", purpose, err)
	}
	return key, nil
}

// Cipher derives the key for salt and purpose and wraps it in alg.
func (k *Keyring) Cipher(salt []byte, purpose string, alg Algorithm) (Cipher, error) {
	key, err := k.Key(salt, purpose)
	if err != nil {
		return nil, err
	}
	defer Zero(key)
	return NewWithAlgorithm(key, alg)
}

func (k *Keyring) master(salt []byte) []byte {
	if k.raw != nil {
		return k.raw
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if m, ok := k.masters[string(salt)]; ok {
		return m
	}
	m := argon2.IDKey(k.passphrase, salt, k.params.Time, k.params.MemoryKiB, k.params.Threads, KeySize)
	k.masters[string(salt)] = m
	return m
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
