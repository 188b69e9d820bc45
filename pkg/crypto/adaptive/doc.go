// Package adaptive provides authenticated encryption for data at rest.
//
// Two AEAD algorithms are supported:
//
//   - AES-256-GCM: preferred where the CPU accelerates AES
//   - ChaCha20-Poly1305: used elsewhere
//
// A Keyring turns the configured secret (a hex-encoded 32-byte key or a
// passphrase) into per-salt, per-purpose keys. Passphrases are stretched
// with Argon2id, and every key is separated by purpose with HKDF-SHA256,
// so the snapshot and badger backends never share a key.
//
// Usage:
//
//	kr, err := adaptive.NewKeyring(secret, adaptive.DefaultKDFParams)
//	salt, _ := adaptive.NewSalt()
//	c, err := kr.Cipher(salt, "snapshot", adaptive.Preferred())
//	sealed, err := c.Seal(plaintext, aad)
//	plaintext, err := c.Open(sealed, aad)
package adaptive
