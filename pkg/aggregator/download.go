package aggregator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/errdefs"
	"github.com/shardvault/shardvault/pkg/integrity"
	"github.com/shardvault/shardvault/pkg/metadata/models"
)

// Download streams the decrypted file to w in chunk order. Every chunk's
// checksum is verified against the ciphertext before any plaintext is
// written, so a corrupted chunk fails the download with zero bytes
// produced regardless of its position.
func (s *Service) Download(ctx context.Context, fileID string, w io.Writer) error {
	start := time.Now()
	err := s.download(ctx, fileID, w)
	s.metrics.ObserveOperation("download", err, 0, time.Since(start))
	return err
}

func (s *Service) download(ctx context.Context, fileID string, w io.Writer) error {
	record, err := s.Stat(ctx, fileID)
	if err != nil {
		return err
	}

	if record.CipherTag != s.engine.Tag() {
		s.auditDownloadFail(record, fmt.Sprintf("cipher tag %q does not match the configured engine", record.CipherTag))
		return fmt.Errorf("file %s sealed with %s: %w", fileID, record.CipherTag, errdefs.ErrIntegrity)
	}

	chunks, err := s.store.ListChunks(ctx, fileID)
	if err != nil {
		return fmt.Errorf("listing chunks of %s: %v: %w", fileID, err, errdefs.ErrStorage)
	}
	if err := verifyChunkSet(record, chunks); err != nil {
		s.auditDownloadFail(record, err.Error())
		return err
	}

	s.store.Log(&models.AuditEntry{
		EventKind:   models.EventDownloadStart,
		Owner:       record.Owner,
		Description: fmt.Sprintf("download of %q started (file %s)", record.Name, fileID),
		Component:   "aggregator",
	})

	// First pass: verify every chunk's ciphertext checksum. No plaintext
	// leaves before the whole file checks out, at the cost of fetching
	// each chunk twice.
	for _, chunk := range chunks {
		if _, err := s.fetchChunk(ctx, record, chunk); err != nil {
			s.auditDownloadFail(record, err.Error())
			return err
		}
	}

	for _, chunk := range chunks {
		if err := s.streamChunk(ctx, record, chunk, w); err != nil {
			s.auditDownloadFail(record, err.Error())
			return err
		}
	}

	s.store.Log(&models.AuditEntry{
		EventKind:   models.EventDownloadComplete,
		Owner:       record.Owner,
		Description: fmt.Sprintf("download of %q complete (file %s)", record.Name, fileID),
		Component:   "aggregator",
	})
	logger.InfoCtx(ctx, "download complete",
		logger.FileID(fileID), logger.FileName(record.Name), logger.Size(record.Length))
	return nil
}

// verifyChunkSet checks that the chunk records are dense in
// 0..TotalChunks-1. ListChunks already orders by index.
func verifyChunkSet(record *models.FileRecord, chunks []*models.ChunkRecord) error {
	if len(chunks) != record.TotalChunks {
		return fmt.Errorf("file %s has %d of %d chunks: %w",
			record.ID, len(chunks), record.TotalChunks, errdefs.ErrIntegrity)
	}
	for i, chunk := range chunks {
		if chunk.ChunkIndex != i {
			return fmt.Errorf("file %s chunk sequence broken at index %d: %w",
				record.ID, i, errdefs.ErrIntegrity)
		}
	}
	return nil
}

// fetchChunk retrieves one chunk's ciphertext and verifies its checksum.
// Verification needs no key, so it runs before any decryption.
func (s *Service) fetchChunk(ctx context.Context, record *models.FileRecord, chunk *models.ChunkRecord) ([]byte, error) {
	client, err := s.pool.Get(chunk.Backend)
	if err != nil {
		return nil, errdefs.NewStorageOp("download", record.ID, chunk.ChunkIndex, chunk.Backend, err)
	}

	var ciphertext []byte
	transferStart := time.Now()
	err = s.pool.WithPermit(ctx, client.Name(), func(ctx context.Context) error {
		var getErr error
		ciphertext, getErr = client.Get(ctx, chunk.RemotePath)
		return getErr
	})
	s.metrics.ObserveChunkTransfer(time.Since(transferStart))
	if err != nil {
		return nil, errdefs.NewStorageOp("download", record.ID, chunk.ChunkIndex, chunk.Backend, err)
	}

	if !integrity.Verify(ciphertext, uint32(chunk.CRC32)) {
		s.store.Log(&models.AuditEntry{
			EventKind:   models.EventCRCMismatch,
			Owner:       record.Owner,
			Description: fmt.Sprintf("checksum mismatch on file %s chunk %d (backend %s)", record.ID, chunk.ChunkIndex, chunk.Backend),
			Severity:    models.SeverityError,
			Component:   "aggregator",
		})
		return nil, errdefs.NewStorageOp("download", record.ID, chunk.ChunkIndex, chunk.Backend, errdefs.ErrIntegrity)
	}
	return ciphertext, nil
}

// streamChunk fetches, re-verifies, decrypts, and writes one chunk.
func (s *Service) streamChunk(ctx context.Context, record *models.FileRecord, chunk *models.ChunkRecord, w io.Writer) error {
	ciphertext, err := s.fetchChunk(ctx, record, chunk)
	if err != nil {
		return err
	}

	plaintext, err := s.engine.Decrypt(ciphertext)
	if err != nil {
		return errdefs.NewStorageOp("download", record.ID, chunk.ChunkIndex, chunk.Backend, err)
	}

	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("writing chunk %d of %s: %w", chunk.ChunkIndex, record.ID, err)
	}
	return nil
}

func (s *Service) auditDownloadFail(record *models.FileRecord, reason string) {
	s.store.Log(&models.AuditEntry{
		EventKind:   models.EventDownloadFail,
		Owner:       record.Owner,
		Description: fmt.Sprintf("download of file %s failed: %s", record.ID, reason),
		Severity:    models.SeverityError,
		Component:   "aggregator",
	})
}
