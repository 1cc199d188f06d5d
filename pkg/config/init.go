package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// InitConfig creates a sample configuration file at the default location.
// Returns the path of the created file.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a sample configuration file at the given path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	key, err := generateEncryptionKey()
	if err != nil {
		return fmt.Errorf("failed to generate encryption key: %w", err)
	}

	content := fmt.Sprintf(sampleConfig, key)
	// 0600 because the sample already carries a live encryption key.
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateEncryptionKey returns a fresh random 32-byte key, hex encoded.
func generateEncryptionKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

const sampleConfig = `# ShardVault Configuration File
#
# One file covers all three processes: the aggregator (shardvault), the
# load balancer (shardvault-lb), and the host controller
# (shardvault-hostd). Each binary reads the sections it needs.
#
# Every option can be overridden with a SHARDVAULT_* environment
# variable, for example SHARDVAULT_LOGGING_LEVEL=DEBUG.

logging:
  level: "INFO"     # DEBUG, INFO, WARN, ERROR
  format: "text"    # text, json
  output: "stdout"  # stdout, stderr, or a file path

shutdown_timeout: "30s"

metrics:
  enabled: false
  # port: 9091

database:
  type: sqlite      # sqlite or postgres
  sqlite:
    path: "/var/lib/shardvault/meta.db"
  # postgres:
  #   host: "localhost"
  #   port: 5432
  #   database: "shardvault"
  #   user: "shardvault"
  #   password: ""
  # reset_schema: false  # drops and re-creates all tables at startup

encryption:
  # Generated at init time. Losing this key makes every stored chunk
  # unreadable; back it up.
  key: "%s"

startup:
  retry_count: 10
  retry_delay: "3s"

pipeline:
  chunk_size: "4Mi"
  max_file_size: "5Gi"
  max_concurrent_uploads: 8

api:
  port: 8080

backends:
  # Comma-separated host[:port] list; port defaults to backends.port.
  endpoints: "sftp1:22,sftp2:22"
  user: "shardvault"
  password: "changeme"
  # private_key_path: "/etc/shardvault/id_ed25519"
  port: 22
  storage_root: "/data"
  permit_count: 4

bus:
  broker_url: "tcp://localhost:1883"
  client_id: "shardvault"
  # username: ""
  # password: ""

lb:
  api:
    port: 9090
    # max_request_size: "5Gi"
    # spool_dir: ""      # queued upload bodies; defaults to the OS temp dir
  policy: "SJN"     # FCFS, SJN, ROUNDROBIN
  # Aggregator nodes registered at startup; more can join at runtime.
  nodes: "localhost:8080"
  worker:
    latency_min: "1s"
    latency_max: "5s"
    permits_per_node: 1
  prober:
    interval: "5s"
    timeout: "2s"
    failure_threshold: 2
  scaler:
    interval: "10s"
    high_watermark: 80
    low_watermark: 10
    max_backends: 5
    min_backends: 1

host:
  image: "shardvault/backend:latest"
  network: "shardvault"
  internal_port: 22
  volume_root: "/var/lib/shardvault/backends"
  name_prefix: "shardvault-backend"
  health_interval: "30s"
`
