package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/shardvault/shardvault/internal/bytesize"
	"github.com/shardvault/shardvault/pkg/aggregator"
	aggapi "github.com/shardvault/shardvault/pkg/aggregator/api"
	"github.com/shardvault/shardvault/pkg/bus"
	"github.com/shardvault/shardvault/pkg/hostctl"
	lbapi "github.com/shardvault/shardvault/pkg/lb/api"
	"github.com/shardvault/shardvault/pkg/lb/prober"
	"github.com/shardvault/shardvault/pkg/lb/scaler"
	"github.com/shardvault/shardvault/pkg/lb/worker"
	"github.com/shardvault/shardvault/pkg/metadata/store"
)

// Config represents the ShardVault configuration.
//
// One file covers all three processes; each binary reads the sections it
// needs. The aggregator uses Database, Encryption, Pipeline, Backends,
// and API; the load balancer uses LB and Bus; the host controller uses
// Host and Bus.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (SHARDVAULT_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Database configures the metadata store (SQLite or PostgreSQL)
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Encryption configures the cipher engine. A key is mandatory; the
	// aggregator refuses to start without one.
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`

	// Startup controls the database connect retry loop
	Startup StartupConfig `mapstructure:"startup" yaml:"startup"`

	// Pipeline controls chunking and upload admission
	Pipeline aggregator.Config `mapstructure:"pipeline" yaml:"pipeline"`

	// API contains the aggregator HTTP server configuration
	API aggapi.Config `mapstructure:"api" yaml:"api"`

	// Backends describes the SFTP storage fleet
	Backends BackendsConfig `mapstructure:"backends" yaml:"backends"`

	// Bus configures the MQTT connection shared by the load balancer
	// and the host controller
	Bus bus.Config `mapstructure:"bus" yaml:"bus"`

	// LB contains the load balancer configuration
	LB LBConfig `mapstructure:"lb" yaml:"lb"`

	// Host contains the host controller configuration
	Host hostctl.Config `mapstructure:"host" yaml:"host"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9091
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// EncryptionConfig configures the AES-256-GCM engine. Exactly one of
// Key or Passphrase must be set.
type EncryptionConfig struct {
	// Key is a hex-encoded 32-byte key
	// Override: SHARDVAULT_ENCRYPTION_KEY
	Key string `mapstructure:"key" yaml:"key,omitempty"`

	// Passphrase derives the key via SHA-256 when Key is not set
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`
}

// StartupConfig controls the database connect retry loop. The store may
// come up after the service in containerized deployments.
type StartupConfig struct {
	// RetryCount is how many connect attempts are made before giving up
	// Default: 10
	RetryCount int `mapstructure:"retry_count" yaml:"retry_count"`

	// RetryDelay is the pause between attempts
	// Default: 3s
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// BackendsConfig describes the SFTP storage fleet. Endpoints is the
// comma-separated `host[:port]` list from the environment; Nodes allows
// full per-endpoint configuration in the YAML file. Nodes wins when both
// are set.
type BackendsConfig struct {
	// Endpoints is a comma-separated list of `host[:port]` entries
	// Override: SHARDVAULT_BACKENDS_ENDPOINTS
	Endpoints string `mapstructure:"endpoints" yaml:"endpoints,omitempty"`

	// Nodes is the structured per-endpoint list
	Nodes []NodeConfig `mapstructure:"nodes" yaml:"nodes,omitempty"`

	// User and Password are the SFTP credentials shared by endpoints
	// that do not set their own
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// PrivateKeyPath is an SSH private key used instead of the password
	PrivateKeyPath string `mapstructure:"private_key_path" yaml:"private_key_path,omitempty"`

	// Port is the default SFTP port for entries without one
	// Default: 22
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// StorageRoot is the remote directory chunks are written under
	// Default: /data
	StorageRoot string `mapstructure:"storage_root" yaml:"storage_root"`

	// PermitCount bounds concurrent transfers per backend
	// Default: 4
	PermitCount int64 `mapstructure:"permit_count" yaml:"permit_count"`

	// AcquireTimeout bounds how long a transfer waits for a permit
	// Default: 30s
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`

	// DialTimeout bounds the SSH connection setup per operation
	// Default: 10s
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// NodeConfig is one structured backend entry.
type NodeConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Host string `mapstructure:"host" validate:"required" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port,omitempty"`

	// Per-endpoint overrides; empty values fall back to BackendsConfig
	User           string `mapstructure:"user" yaml:"user,omitempty"`
	Password       string `mapstructure:"password" yaml:"password,omitempty"`
	PrivateKeyPath string `mapstructure:"private_key_path" yaml:"private_key_path,omitempty"`
	StorageRoot    string `mapstructure:"storage_root" yaml:"storage_root,omitempty"`
}

// LBConfig contains the load balancer configuration.
type LBConfig struct {
	// API contains the front HTTP server configuration
	API lbapi.Config `mapstructure:"api" yaml:"api"`

	// Policy selects the scheduling policy: FCFS, SJN, or ROUNDROBIN
	// Default: SJN
	Policy string `mapstructure:"policy" yaml:"policy"`

	// Aging is the SJN aging coefficient in size-megabytes per
	// waiting millisecond
	Aging float64 `mapstructure:"aging" validate:"omitempty,gt=0" yaml:"aging,omitempty"`

	// Nodes is a comma-separated list of aggregator addresses
	// registered at startup; more can join at runtime through the API
	Nodes string `mapstructure:"nodes" yaml:"nodes,omitempty"`

	// Worker controls simulated latency and per-node permits
	Worker worker.Config `mapstructure:"worker" yaml:"worker"`

	// Prober controls health probing of registered nodes
	Prober prober.Config `mapstructure:"prober" yaml:"prober"`

	// Scaler controls the queue watermarks and scale event publishing
	Scaler scaler.Config `mapstructure:"scaler" yaml:"scaler"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SHARDVAULT_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the
// config file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  shardvault init\n\n"+
				"Or specify a custom config file:\n"+
				"  shardvault <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  shardvault init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600 because the file carries database and SFTP credentials and
	// the encryption key.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the SHARDVAULT_ prefix and underscores
	// Example: SHARDVAULT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("SHARDVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys must be known to viper for AutomaticEnv to surface them in
	// AllKeys and Unmarshal.
	for _, key := range envBoundKeys {
		v.SetDefault(key, nil)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envBoundKeys lists the keys recognized from the environment even when
// no config file sets them.
var envBoundKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"shutdown_timeout",
	"metrics.enabled",
	"metrics.port",
	"database.type",
	"database.reset_schema",
	"database.sqlite.path",
	"database.postgres.host",
	"database.postgres.port",
	"database.postgres.database",
	"database.postgres.user",
	"database.postgres.password",
	"encryption.key",
	"encryption.passphrase",
	"startup.retry_count",
	"startup.retry_delay",
	"pipeline.chunk_size",
	"pipeline.max_file_size",
	"pipeline.max_concurrent_uploads",
	"api.port",
	"backends.endpoints",
	"backends.user",
	"backends.password",
	"backends.private_key_path",
	"backends.port",
	"backends.storage_root",
	"backends.permit_count",
	"bus.broker_url",
	"bus.client_id",
	"bus.username",
	"bus.password",
	"lb.api.port",
	"lb.policy",
	"lb.aging",
	"lb.nodes",
	"lb.worker.latency_min",
	"lb.worker.latency_max",
	"lb.worker.permits_per_node",
	"lb.prober.interval",
	"lb.prober.timeout",
	"lb.prober.failure_threshold",
	"lb.scaler.interval",
	"lb.scaler.high_watermark",
	"lb.scaler.low_watermark",
	"lb.scaler.max_backends",
	"lb.scaler.min_backends",
	"host.image",
	"host.network",
	"host.internal_port",
	"host.volume_root",
	"host.name_prefix",
	"host.health_interval",
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize
// so config files can use human-readable sizes like "4Mi" or "100MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files
// can use human-readable durations like "30s" or "5m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// the current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "shardvault")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "shardvault")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
