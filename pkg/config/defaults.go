package config

import (
	"strings"
	"time"

	"github.com/shardvault/shardvault/pkg/lb/policy"
	"github.com/shardvault/shardvault/pkg/lb/queue"
	"github.com/shardvault/shardvault/pkg/metadata/store"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	applyMetricsDefaults(&cfg.Metrics)
	cfg.Database.ApplyDefaults()
	applyStartupDefaults(&cfg.Startup)
	cfg.Pipeline.ApplyDefaults()
	cfg.API.ApplyDefaults()
	applyBackendsDefaults(&cfg.Backends)
	applyLBDefaults(&cfg.LB)
	cfg.Host.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9091
	}
}

// applyStartupDefaults sets the connect retry defaults.
func applyStartupDefaults(cfg *StartupConfig) {
	if cfg.RetryCount == 0 {
		cfg.RetryCount = 10
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 3 * time.Second
	}
}

// applyBackendsDefaults sets the SFTP fleet defaults.
func applyBackendsDefaults(cfg *BackendsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.StorageRoot == "" {
		cfg.StorageRoot = "/data"
	}
	if cfg.PermitCount == 0 {
		cfg.PermitCount = 4
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
}

// applyLBDefaults sets the load balancer defaults.
func applyLBDefaults(cfg *LBConfig) {
	cfg.API.ApplyDefaults()
	if cfg.Policy == "" {
		cfg.Policy = string(policy.SJN)
	}
	if cfg.Aging == 0 {
		cfg.Aging = queue.DefaultAging
	}
	cfg.Worker.ApplyDefaults()
	cfg.Prober.ApplyDefaults()
	cfg.Scaler.ApplyDefaults()
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: store.Config{
			Type: store.DatabaseTypeSQLite,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
