package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/internal/telemetry/logger"
	"github.com/Legendarykuga/archVault/pkg/crypto/adaptive"
)

// Verify validates the configuration. Every problem is reported, not
// only the first.
func Verify(cfg *Config) error {
	return errors.Join(
		verifyStorage(&cfg.Storage),
		verifySecurity(&cfg.Security),
		verifyVault(&cfg.Vault),
		verifyLog(&cfg.Log),
		verifyCLI(&cfg.CLI),
	)
}

func verifyStorage(cfg *StorageSection) error {
	var errs []error
	if strings.TrimSpace(cfg.DataDir) == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}
	switch cfg.Backend {
	case "file", "badger":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be file or badger", cfg.Backend))
	}
	switch cfg.PersistMode {
	case "mutation", "exit":
	case "interval":
		if cfg.SnapshotInterval <= 0 {
			errs = append(errs, errors.New("storage.snapshot_interval must be positive in interval mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.persist_mode %q must be mutation, interval or exit", cfg.PersistMode))
	}
	if cfg.RetentionCount == 0 {
		errs = append(errs, errors.New("storage.retention_count must be non-zero (negative disables)"))
	}
	return errors.Join(errs...)
}

func verifySecurity(cfg *SecuritySection) error {
	if _, err := adaptive.ParseAlgorithm(cfg.Algorithm); err != nil {
		return fmt.Errorf("security.algorithm: %w", err)
	}
	if cfg.EncryptionKey != "" {
		if _, err := adaptive.NewKeyring(cfg.EncryptionKey, adaptive.KDFParams{}); err != nil {
			return fmt.Errorf("security.encryption_key: %w", err)
		}
	}
	return nil
}

func verifyVault(cfg *VaultSection) error {
	var errs []error
	if err := domain.ValidateFeePercent(cfg.EmergencyFeePercent); err != nil {
		errs = append(errs, fmt.Errorf("vault.emergency_fee_percent: %w", err))
	}
	if _, err := domain.ParseToken(cfg.DefaultToken); err != nil {
		errs = append(errs, fmt.Errorf("vault.default_token: %w", err))
	}
	if _, err := domain.ParseLockPeriod(cfg.DefaultLock); err != nil {
		errs = append(errs, fmt.Errorf("vault.default_lock: %w", err))
	}
	return errors.Join(errs...)
}

func verifyLog(cfg *LogSection) error {
	var errs []error
	if !logger.ValidLevel(cfg.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is not debug, info, warn or error", cfg.Level))
	}
	switch cfg.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", cfg.Format))
	}
	return errors.Join(errs...)
}

func verifyCLI(cfg *CLISection) error {
	switch cfg.Output {
	case "table", "json", "yaml":
		return nil
	}
	return fmt.Errorf("cli.output %q must be table, json or yaml", cfg.Output)
}
