package config

import "time"

// Default configuration values.
const (
	DefaultDataDir          = "archvault-data"
	DefaultBackend          = "file"
	DefaultPersistMode      = "mutation"
	DefaultSnapshotInterval = time.Minute
	DefaultRetentionCount   = 5
	DefaultRetentionDays    = 7

	DefaultEmergencyFeePercent = 10
	DefaultToken               = "BTC"
	DefaultLock                = "24h"

	DefaultLogLevel  = "warn"
	DefaultLogFormat = "text"

	DefaultOutput = "table"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageSection{
			DataDir:          DefaultDataDir,
			Backend:          DefaultBackend,
			PersistMode:      DefaultPersistMode,
			SnapshotInterval: DefaultSnapshotInterval,
			RetentionCount:   DefaultRetentionCount,
			RetentionDays:    DefaultRetentionDays,
			BadgerSyncWrites: true,
		},
		Vault: VaultSection{
			EmergencyFeePercent: DefaultEmergencyFeePercent,
			DefaultToken:        DefaultToken,
			DefaultLock:         DefaultLock,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		CLI: CLISection{
			Output: DefaultOutput,
		},
	}
}
