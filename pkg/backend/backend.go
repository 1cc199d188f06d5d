// Package backend defines the chunk storage contract and its SFTP
// implementation. A backend stores opaque encrypted chunks under a
// per-file directory; it has no knowledge of file metadata.
package backend

import (
	"context"
	"fmt"
	"path"
	"time"
)

// Default endpoint settings.
const (
	DefaultPort          = 22
	DefaultDialTimeout   = 10 * time.Second
	DefaultMaxConcurrent = 4
)

// Endpoint describes one chunk storage backend.
type Endpoint struct {
	// Name is the stable identifier recorded in chunk metadata. Chunks can
	// only be retrieved while an endpoint with the same name is configured.
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	Host string `mapstructure:"host" yaml:"host" validate:"required"`
	Port int    `mapstructure:"port" yaml:"port"`

	User     string `mapstructure:"user" yaml:"user" validate:"required"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// PrivateKeyPath is used instead of Password when set.
	PrivateKeyPath string `mapstructure:"private_key_path" yaml:"private_key_path,omitempty"`

	// StorageRoot is the directory on the backend under which all chunk
	// files are created.
	StorageRoot string `mapstructure:"storage_root" yaml:"storage_root" validate:"required"`

	// MaxConcurrent bounds in-flight operations against this endpoint.
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`

	// DialTimeout bounds the TCP and SSH handshake.
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// ApplyDefaults fills in missing endpoint settings.
func (e *Endpoint) ApplyDefaults() {
	if e.Port == 0 {
		e.Port = DefaultPort
	}
	if e.MaxConcurrent == 0 {
		e.MaxConcurrent = DefaultMaxConcurrent
	}
	if e.DialTimeout == 0 {
		e.DialTimeout = DefaultDialTimeout
	}
}

// Addr returns the host:port dial address.
func (e *Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Client stores and retrieves chunk payloads on one backend. Payloads are
// opaque; integrity and encryption happen above this layer.
type Client interface {
	// Name returns the endpoint identifier.
	Name() string

	// Path returns the remote path this backend uses for a chunk,
	// rooted at the endpoint's storage root.
	Path(fileID string, index int) string

	// Put writes data to remotePath, creating parent directories as
	// needed. An existing file at remotePath is overwritten.
	Put(ctx context.Context, remotePath string, data []byte) error

	// Get reads the full contents of remotePath. A missing file fails
	// with ErrNotFound.
	Get(ctx context.Context, remotePath string) ([]byte, error)

	// Delete removes remotePath. Deleting a missing file is not an error,
	// so rollback and delete stay idempotent.
	Delete(ctx context.Context, remotePath string) error

	// Close releases any held resources.
	Close() error
}

// ChunkPath returns the canonical remote path for a chunk:
// {storageRoot}/{fileID}/chunk_{index}.enc
func ChunkPath(storageRoot, fileID string, index int) string {
	return path.Join(storageRoot, fileID, fmt.Sprintf("chunk_%d.enc", index))
}

// FileDir returns the per-file chunk directory on a backend.
func FileDir(storageRoot, fileID string) string {
	return path.Join(storageRoot, fileID)
}
