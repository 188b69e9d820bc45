package config

import "time"

// Config is the root configuration for archvault.
type Config struct {
	Storage  StorageSection  `koanf:"storage" json:"storage" yaml:"storage"`
	Security SecuritySection `koanf:"security" json:"security" yaml:"security"`
	Vault    VaultSection    `koanf:"vault" json:"vault" yaml:"vault"`
	Log      LogSection      `koanf:"log" json:"log" yaml:"log"`
	CLI      CLISection      `koanf:"cli" json:"cli" yaml:"cli"`
}

// StorageSection configures persistence.
type StorageSection struct {
	DataDir string `koanf:"data_dir" json:"data_dir" yaml:"data_dir"`

	// Backend is "file" (snapshot files) or "badger".
	Backend string `koanf:"backend" json:"backend" yaml:"backend"`

	// PersistMode is "mutation", "interval" or "exit".
	PersistMode      string        `koanf:"persist_mode" json:"persist_mode" yaml:"persist_mode"`
	SnapshotInterval time.Duration `koanf:"snapshot_interval" json:"snapshot_interval" yaml:"snapshot_interval"`

	// Snapshot retention: keep RetentionCount newest files and anything
	// younger than RetentionDays. Negative disables the rule.
	RetentionCount int `koanf:"retention_count" json:"retention_count" yaml:"retention_count"`
	RetentionDays  int `koanf:"retention_days" json:"retention_days" yaml:"retention_days"`

	// AllowFallback loads the newest intact snapshot when the latest one
	// is damaged instead of failing.
	AllowFallback bool `koanf:"allow_fallback" json:"allow_fallback" yaml:"allow_fallback"`

	BadgerSyncWrites bool `koanf:"badger_sync_writes" json:"badger_sync_writes" yaml:"badger_sync_writes"`
}

// SecuritySection configures at-rest encryption.
type SecuritySection struct {
	// EncryptionKey is either 64 hex characters (raw key) or a
	// passphrase. Empty disables encryption.
	EncryptionKey string `koanf:"encryption_key" json:"encryption_key" yaml:"encryption_key"`

	// Algorithm is "aes-256-gcm" or "chacha20-poly1305"; empty picks the
	// fastest for the host.
	Algorithm string `koanf:"algorithm" json:"algorithm" yaml:"algorithm"`
}

// VaultSection configures ledger defaults.
type VaultSection struct {
	EmergencyFeePercent uint64 `koanf:"emergency_fee_percent" json:"emergency_fee_percent" yaml:"emergency_fee_percent"`
	DefaultToken        string `koanf:"default_token" json:"default_token" yaml:"default_token"`
	DefaultLock         string `koanf:"default_lock" json:"default_lock" yaml:"default_lock"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" json:"level" yaml:"level"`
	Format string `koanf:"format" json:"format" yaml:"format"`
}

// CLISection configures the command line front-end.
type CLISection struct {
	// Output is the default render format: table, json or yaml.
	Output      string `koanf:"output" json:"output" yaml:"output"`
	HistoryFile string `koanf:"history_file" json:"history_file" yaml:"history_file"`
}
