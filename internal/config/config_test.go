package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Storage.DataDir != DefaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.Storage.DataDir, DefaultDataDir)
	}
	if cfg.Storage.Backend != "file" || cfg.Storage.PersistMode != "mutation" {
		t.Errorf("Backend/PersistMode = %q/%q", cfg.Storage.Backend, cfg.Storage.PersistMode)
	}
	if cfg.Storage.SnapshotInterval != time.Minute {
		t.Errorf("SnapshotInterval = %v", cfg.Storage.SnapshotInterval)
	}
	if cfg.Storage.AllowFallback {
		t.Error("AllowFallback should be off by default")
	}
	if !cfg.Storage.BadgerSyncWrites {
		t.Error("BadgerSyncWrites should be on by default")
	}
	if cfg.Vault.EmergencyFeePercent != DefaultEmergencyFeePercent {
		t.Errorf("EmergencyFeePercent = %d", cfg.Vault.EmergencyFeePercent)
	}
	if cfg.Security.EncryptionKey != "" {
		t.Error("encryption should be disabled by default")
	}

	if err := Verify(cfg); err != nil {
		t.Errorf("Verify(Default()) error = %v", err)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty data dir", func(c *Config) { c.Storage.DataDir = " " }, "storage.data_dir"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }, "storage.backend"},
		{"unknown persist mode", func(c *Config) { c.Storage.PersistMode = "sometimes" }, "storage.persist_mode"},
		{"interval without period", func(c *Config) {
			c.Storage.PersistMode = "interval"
			c.Storage.SnapshotInterval = 0
		}, "storage.snapshot_interval"},
		{"zero retention", func(c *Config) { c.Storage.RetentionCount = 0 }, "storage.retention_count"},
		{"unknown algorithm", func(c *Config) { c.Security.Algorithm = "rot13" }, "security.algorithm"},
		{"short passphrase", func(c *Config) { c.Security.EncryptionKey = "abc" }, "security.encryption_key"},
		{"fee above 100", func(c *Config) { c.Vault.EmergencyFeePercent = 101 }, "vault.emergency_fee_percent"},
		{"unknown token", func(c *Config) { c.Vault.DefaultToken = "DOGE" }, "vault.default_token"},
		{"negative lock", func(c *Config) { c.Vault.DefaultLock = "-1" }, "vault.default_lock"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad output", func(c *Config) { c.CLI.Output = "csv" }, "cli.output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Verify(cfg)
			if err == nil {
				t.Fatal("Verify() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Verify() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestVerify_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "sqlite"
	cfg.Log.Format = "xml"

	err := Verify(cfg)
	if err == nil {
		t.Fatal("Verify() expected error")
	}
	for _, want := range []string{"storage.backend", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestVerify_AcceptsValidEncryption(t *testing.T) {
	cfg := Default()
	cfg.Security.EncryptionKey = "correct horse battery staple"
	cfg.Security.Algorithm = "chacha20-poly1305"
	cfg.Storage.Backend = "badger"
	cfg.Storage.PersistMode = "interval"

	if err := Verify(cfg); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestSanitize(t *testing.T) {
	cfg := Default()
	cfg.Security.EncryptionKey = "super-secret-key-1234567890"

	sanitized := Sanitize(cfg)

	if cfg.Security.EncryptionKey != "super-secret-key-1234567890" {
		t.Error("Sanitize modified the original config")
	}
	if sanitized.Security.EncryptionKey == cfg.Security.EncryptionKey {
		t.Error("encryption key not masked")
	}
	if !strings.HasPrefix(sanitized.Security.EncryptionKey, "su") || !strings.HasSuffix(sanitized.Security.EncryptionKey, "90") {
		t.Errorf("masked key = %q", sanitized.Security.EncryptionKey)
	}
	if sanitized.Storage.DataDir != cfg.Storage.DataDir {
		t.Error("Sanitize changed non-secret fields")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc", "****"},
		{"12345678", "****"},
		{"123456789", "12*****89"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
