// Package aggregator implements the storage pipeline: uploads are
// chunked, encrypted, checksummed, and spread round-robin across the
// backend pool with transactional metadata and best-effort rollback.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shardvault/shardvault/internal/bytesize"
	"github.com/shardvault/shardvault/pkg/backend/pool"
	"github.com/shardvault/shardvault/pkg/crypto"
	"github.com/shardvault/shardvault/pkg/errdefs"
	"github.com/shardvault/shardvault/pkg/metadata/models"
	"github.com/shardvault/shardvault/pkg/metadata/store"
	"github.com/shardvault/shardvault/pkg/metrics"
)

// Default pipeline settings.
const (
	DefaultChunkSize   = 4 * bytesize.MiB
	DefaultMaxFileSize = 5 * bytesize.GiB
	DefaultMaxUploads  = 8

	defaultUploadAdmitTimeout = 30 * time.Second
)

// Config controls the storage pipeline.
type Config struct {
	// ChunkSize is the plaintext size of every chunk except the last.
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`

	// MaxFileSize bounds the plaintext size of a single upload.
	MaxFileSize bytesize.ByteSize `mapstructure:"max_file_size" yaml:"max_file_size"`

	// MaxConcurrentUploads bounds uploads admitted into the pipeline.
	MaxConcurrentUploads int `mapstructure:"max_concurrent_uploads" yaml:"max_concurrent_uploads"`

	// UploadAdmitTimeout bounds how long an upload waits for admission
	// before failing with a resource error.
	UploadAdmitTimeout time.Duration `mapstructure:"upload_admit_timeout" yaml:"upload_admit_timeout"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.MaxConcurrentUploads == 0 {
		c.MaxConcurrentUploads = DefaultMaxUploads
	}
	if c.UploadAdmitTimeout == 0 {
		c.UploadAdmitTimeout = defaultUploadAdmitTimeout
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ChunkSize < bytesize.KiB {
		return fmt.Errorf("chunk size must be at least 1KiB, got %s", c.ChunkSize)
	}
	if c.MaxFileSize < c.ChunkSize {
		return fmt.Errorf("max file size %s is smaller than chunk size %s", c.MaxFileSize, c.ChunkSize)
	}
	return nil
}

// Service is the aggregator pipeline. It owns no HTTP concerns; the API
// layer translates its errors to status codes.
type Service struct {
	store   *store.GORMStore
	pool    *pool.Pool
	engine  *crypto.Engine
	config  Config
	uploads *semaphore.Weighted
	metrics *metrics.PipelineMetrics
}

// SetMetrics attaches pipeline instrumentation. A nil value (metrics
// disabled) is fine.
func (s *Service) SetMetrics(m *metrics.PipelineMetrics) {
	s.metrics = m
}

// New creates the pipeline over a metadata store, a backend pool, and a
// cipher engine.
func New(metaStore *store.GORMStore, backendPool *pool.Pool, engine *crypto.Engine, config Config) (*Service, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}
	return &Service{
		store:   metaStore,
		pool:    backendPool,
		engine:  engine,
		config:  config,
		uploads: semaphore.NewWeighted(int64(config.MaxConcurrentUploads)),
	}, nil
}

// Store exposes the metadata store for the API's audit and health paths.
func (s *Service) Store() *store.GORMStore {
	return s.store
}

// Healthcheck reports whether the metadata store answers.
func (s *Service) Healthcheck(ctx context.Context) error {
	return s.store.Healthcheck(ctx)
}

// List returns file records, optionally filtered by owner, newest first.
func (s *Service) List(ctx context.Context, owner string) ([]*models.FileRecord, error) {
	files, err := s.store.ListFiles(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing files: %v: %w", err, errdefs.ErrStorage)
	}
	return files, nil
}

// Stat loads one file record.
func (s *Service) Stat(ctx context.Context, fileID string) (*models.FileRecord, error) {
	record, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, models.ErrFileNotFound) {
			return nil, fmt.Errorf("file %s: %w", fileID, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("loading file %s: %v: %w", fileID, err, errdefs.ErrStorage)
	}
	return record, nil
}

// RecordAudit ingests an externally produced audit entry, for example
// from the load balancer. It never fails.
func (s *Service) RecordAudit(entry *models.AuditEntry) {
	if entry == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = "external"
	}
	s.store.Log(entry)
}

// admit reserves an upload slot, bounded by the admission timeout.
func (s *Service) admit(ctx context.Context) (release func(), err error) {
	admitCtx, cancel := context.WithTimeout(ctx, s.config.UploadAdmitTimeout)
	defer cancel()

	if err := s.uploads.Acquire(admitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("upload admission: %w", errdefs.ErrCancelled)
		}
		return nil, fmt.Errorf("upload admission timeout: %w", errdefs.ErrResource)
	}
	return func() { s.uploads.Release(1) }, nil
}
