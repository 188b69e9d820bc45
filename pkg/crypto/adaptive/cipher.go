package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm identifies an AEAD construction.
type Algorithm string

const (
	AlgAESGCM   Algorithm = "aes-256-gcm"
	AlgChaCha20 Algorithm = "chacha20-poly1305"
)

// KeySize is the key length for every supported algorithm.
const KeySize = 32

// Cipher errors.
var (
	ErrKeySize          = errors.New("adaptive: key must be 32 bytes")
	ErrUnknownAlgorithm = errors.New("adaptive: unknown algorithm")
	ErrShortCiphertext  = errors.New("adaptive: ciphertext too short")
	ErrOpen             = errors.New("adaptive: message authentication failed")
)

// Cipher provides authenticated encryption. Implementations are safe for
// concurrent use.
type Cipher interface {
	// Algorithm returns the AEAD construction in use.
	Algorithm() Algorithm

	// Seal encrypts plaintext, binding additionalData. The random nonce
	// is prepended to the result.
	Seal(plaintext, additionalData []byte) ([]byte, error)

	// Open reverses Seal. Any tampering yields ErrOpen.
	Open(sealed, additionalData []byte) ([]byte, error)
}

// Preferred returns the algorithm best suited to the running CPU.
func Preferred() Algorithm {
	// Go's crypto/aes uses AES-NI on amd64 and the ARMv8 crypto
	// extensions on arm64.
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return AlgAESGCM
	default:
		return AlgChaCha20
	}
}

// ParseAlgorithm validates an algorithm name. Empty selects Preferred.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "":
		return Preferred(), nil
	case AlgAESGCM, AlgChaCha20:
		return Algorithm(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

// New creates a cipher with the preferred algorithm.
func New(key []byte) (Cipher, error) {
	return NewWithAlgorithm(key, Preferred())
}

// NewWithAlgorithm creates a cipher of the given algorithm.
func NewWithAlgorithm(key []byte, alg Algorithm) (Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch alg {
	case AlgAESGCM:
		var block cipher.Block
		if block, err = aes.NewCipher(key); err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case AlgChaCha20:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
	if err != nil {
		return nil, err
	}
	return &aeadCipher{alg: alg, aead: aead}, nil
}

type aeadCipher struct {
	alg  Algorithm
	aead cipher.AEAD
}

func (c *aeadCipher) Algorithm() Algorithm { return c.alg }

func (c *aeadCipher) Seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("adaptive: read nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

func (c *aeadCipher) Open(sealed, additionalData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns+c.aead.Overhead() {
		return nil, ErrShortCiphertext
	}
	plain, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], additionalData)
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}
