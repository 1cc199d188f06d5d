package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shardvault/shardvault/internal/bytesize"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted
// as escape sequences, causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func minimalConfig(t *testing.T) string {
	tmpDir := t.TempDir()
	return `
logging:
  level: "INFO"

database:
  type: sqlite
  sqlite:
    path: "` + yamlSafePath(tmpDir) + `/meta.db"

encryption:
  passphrase: "test-passphrase"

backends:
  endpoints: "sftp1:22,sftp2"
  user: "vault"
  password: "secret"
`
}

func TestLoad_DefaultsApplied(t *testing.T) {
	configPath := writeTestConfig(t, minimalConfig(t))

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Expected aggregator port 8080, got %d", cfg.API.Port)
	}
	if cfg.LB.API.Port != 9090 {
		t.Errorf("Expected LB port 9090, got %d", cfg.LB.API.Port)
	}
	if cfg.LB.Policy != "SJN" {
		t.Errorf("Expected default policy SJN, got %q", cfg.LB.Policy)
	}
	if cfg.Pipeline.ChunkSize != 4*bytesize.MiB {
		t.Errorf("Expected default chunk size 4Mi, got %s", cfg.Pipeline.ChunkSize)
	}
	if cfg.Backends.Port != 22 {
		t.Errorf("Expected default SFTP port 22, got %d", cfg.Backends.Port)
	}
	if cfg.Startup.RetryCount != 10 {
		t.Errorf("Expected default retry count 10, got %d", cfg.Startup.RetryCount)
	}
}

func TestLoad_MissingEncryptionKey(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeTestConfig(t, `
database:
  type: sqlite
  sqlite:
    path: "`+yamlSafePath(tmpDir)+`/meta.db"

backends:
  endpoints: "sftp1"
  password: "secret"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error when no encryption key is configured")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeTestConfig(t, `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_HumanReadableSizesAndDurations(t *testing.T) {
	configPath := writeTestConfig(t, minimalConfig(t)+`
pipeline:
  chunk_size: "1Mi"
  max_file_size: "2Gi"

lb:
  worker:
    latency_min: "500ms"
    latency_max: "2s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Pipeline.ChunkSize != bytesize.MiB {
		t.Errorf("Expected chunk size 1Mi, got %s", cfg.Pipeline.ChunkSize)
	}
	if cfg.Pipeline.MaxFileSize != 2*bytesize.GiB {
		t.Errorf("Expected max file size 2Gi, got %s", cfg.Pipeline.MaxFileSize)
	}
	if cfg.LB.Worker.LatencyMin != 500*time.Millisecond {
		t.Errorf("Expected latency min 500ms, got %v", cfg.LB.Worker.LatencyMin)
	}
	if cfg.LB.Worker.LatencyMax != 2*time.Second {
		t.Errorf("Expected latency max 2s, got %v", cfg.LB.Worker.LatencyMax)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("SHARDVAULT_LOGGING_LEVEL", "ERROR")
	t.Setenv("SHARDVAULT_API_PORT", "8181")
	t.Setenv("SHARDVAULT_LB_POLICY", "FCFS")
	t.Setenv("SHARDVAULT_ENCRYPTION_PASSPHRASE", "from-env")

	configPath := writeTestConfig(t, minimalConfig(t))

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.API.Port != 8181 {
		t.Errorf("Expected port 8181 from env var, got %d", cfg.API.Port)
	}
	if cfg.LB.Policy != "FCFS" {
		t.Errorf("Expected policy FCFS from env var, got %q", cfg.LB.Policy)
	}
	if cfg.Encryption.Passphrase != "from-env" {
		t.Errorf("Expected passphrase from env var, got %q", cfg.Encryption.Passphrase)
	}
}

func TestSaveConfig_Roundtrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Encryption.Passphrase = "roundtrip"
	cfg.Database.SQLite.Path = "/tmp/shardvault-test.db"
	cfg.Backends.Endpoints = "sftp1,sftp2"
	cfg.Backends.Password = "secret"

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "saved", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Saved config missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Backends.Endpoints != "sftp1,sftp2" {
		t.Errorf("Expected endpoints to survive roundtrip, got %q", loaded.Backends.Endpoints)
	}
	if loaded.Encryption.Passphrase != "roundtrip" {
		t.Errorf("Expected passphrase to survive roundtrip, got %q", loaded.Encryption.Passphrase)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
	if filepath.Base(filepath.Dir(path)) != "shardvault" {
		t.Errorf("Expected directory 'shardvault', got %q", filepath.Dir(path))
	}
}
