package config

import "strings"

// Sanitize returns a copy of the config with sensitive fields masked.
//
// This is used for printing or logging configuration without exposing
// the encryption key.
func Sanitize(cfg *Config) *Config {
	sanitized := *cfg

	if sanitized.Security.EncryptionKey != "" {
		sanitized.Security.EncryptionKey = maskSecret(sanitized.Security.EncryptionKey)
	}

	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
