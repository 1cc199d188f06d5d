package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/errdefs"
	"github.com/shardvault/shardvault/pkg/metadata/models"
)

// Delete removes every stored chunk and then the metadata. Remote chunks
// go first so a partial failure leaves the metadata in place and the
// delete can be retried; backend deletes are idempotent.
func (s *Service) Delete(ctx context.Context, fileID string) error {
	start := time.Now()
	err := s.deleteFile(ctx, fileID)
	s.metrics.ObserveOperation("delete", err, 0, time.Since(start))
	return err
}

func (s *Service) deleteFile(ctx context.Context, fileID string) error {
	record, err := s.Stat(ctx, fileID)
	if err != nil {
		return err
	}

	chunks, err := s.store.ListChunks(ctx, fileID)
	if err != nil {
		return fmt.Errorf("listing chunks of %s: %v: %w", fileID, err, errdefs.ErrStorage)
	}

	var failed int
	for _, chunk := range chunks {
		client, err := s.pool.Get(chunk.Backend)
		if err != nil {
			failed++
			logger.WarnCtx(ctx, "chunk backend missing during delete",
				logger.FileID(fileID), logger.ChunkIndex(chunk.ChunkIndex),
				logger.Backend(chunk.Backend))
			continue
		}
		err = s.pool.WithPermit(ctx, client.Name(), func(ctx context.Context) error {
			return client.Delete(ctx, chunk.RemotePath)
		})
		if err != nil {
			failed++
			logger.WarnCtx(ctx, "chunk delete failed",
				logger.FileID(fileID), logger.ChunkIndex(chunk.ChunkIndex),
				logger.Backend(chunk.Backend), logger.Err(err))
		}
	}

	if failed > 0 {
		s.store.Log(&models.AuditEntry{
			EventKind:   models.EventDeleteFail,
			Owner:       record.Owner,
			Description: fmt.Sprintf("delete of file %s left %d of %d chunks in place, metadata kept for retry", fileID, failed, len(chunks)),
			Severity:    models.SeverityError,
			Component:   "aggregator",
		})
		return errdefs.NewStorageOp("delete", fileID, -1, "", errdefs.ErrTransport)
	}

	if err := s.store.DeleteFile(ctx, fileID); err != nil {
		return fmt.Errorf("removing metadata of %s: %v: %w", fileID, err, errdefs.ErrStorage)
	}

	s.store.Log(&models.AuditEntry{
		EventKind:   models.EventDeleteComplete,
		Owner:       record.Owner,
		Description: fmt.Sprintf("file %s (%q) deleted, %d chunks removed", fileID, record.Name, len(chunks)),
		Component:   "aggregator",
	})
	logger.InfoCtx(ctx, "delete complete",
		logger.FileID(fileID), logger.ChunkCount(len(chunks)))
	return nil
}
