package config

import (
	"encoding/hex"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/shardvault/shardvault/pkg/lb/policy"
	"github.com/shardvault/shardvault/pkg/metadata/store"
)

// Validate checks the configuration for errors.
//
// Struct tags handle the field-level rules; the cross-field rules that
// tags cannot express live here: database completeness, encryption key
// format, backend endpoint syntax, policy names, and watermark ordering.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := validateDatabase(&cfg.Database); err != nil {
		return err
	}
	if err := validateEncryption(&cfg.Encryption); err != nil {
		return err
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		return err
	}
	if err := validateBackends(&cfg.Backends); err != nil {
		return err
	}
	if err := validateLB(&cfg.LB); err != nil {
		return err
	}
	return nil
}

func validateDatabase(cfg *store.Config) error {
	switch cfg.Type {
	case store.DatabaseTypeSQLite:
		if cfg.SQLite.Path == "" {
			return fmt.Errorf("database: sqlite path is required")
		}
	case store.DatabaseTypePostgres:
		if cfg.Postgres.Host == "" {
			return fmt.Errorf("database: postgres host is required")
		}
		if cfg.Postgres.Database == "" {
			return fmt.Errorf("database: postgres database name is required")
		}
		if cfg.Postgres.User == "" {
			return fmt.Errorf("database: postgres user is required")
		}
	default:
		return fmt.Errorf("database: unknown type %q", cfg.Type)
	}
	return nil
}

// validateEncryption enforces the mandatory key. The process must not
// come up able to write chunks it cannot later decrypt, so a missing or
// malformed key is fatal.
func validateEncryption(cfg *EncryptionConfig) error {
	if cfg.Key == "" && cfg.Passphrase == "" {
		return fmt.Errorf("encryption: a key or passphrase is required (set SHARDVAULT_ENCRYPTION_KEY)")
	}
	if cfg.Key != "" {
		raw, err := hex.DecodeString(cfg.Key)
		if err != nil {
			return fmt.Errorf("encryption: key must be hex encoded: %w", err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("encryption: key must be 32 bytes, got %d", len(raw))
		}
	}
	return nil
}

func validateBackends(cfg *BackendsConfig) error {
	endpoints, err := ParseEndpoints(cfg)
	if err != nil {
		return fmt.Errorf("backends: %w", err)
	}
	for _, ep := range endpoints {
		if ep.Password == "" && ep.PrivateKeyPath == "" {
			return fmt.Errorf("backends: endpoint %s has no password or private key", ep.Name)
		}
	}
	return nil
}

func validateLB(cfg *LBConfig) error {
	if _, err := policy.Parse(cfg.Policy); err != nil {
		return fmt.Errorf("lb: %w", err)
	}
	if cfg.Scaler.LowWatermark > cfg.Scaler.HighWatermark {
		return fmt.Errorf("lb: low watermark %d exceeds high watermark %d",
			cfg.Scaler.LowWatermark, cfg.Scaler.HighWatermark)
	}
	return nil
}
