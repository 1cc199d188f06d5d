package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/backend"
	"github.com/shardvault/shardvault/pkg/crypto"
	"github.com/shardvault/shardvault/pkg/errdefs"
	"github.com/shardvault/shardvault/pkg/integrity"
	"github.com/shardvault/shardvault/pkg/metadata/models"
)

// UploadRequest carries one upload through the pipeline. Size is the
// declared plaintext length; the stream must match it exactly. FileID is
// optional; the load balancer supplies one so clients learn the id at
// queue time, direct clients leave it empty and get a generated one.
// CipherTag optionally names the cipher suite the client expects; empty
// means the engine's own suite.
type UploadRequest struct {
	FileID    string
	Name      string
	Owner     string
	Size      int64
	CipherTag string
	Body      io.Reader
}

// UploadResult summarizes a committed upload.
type UploadResult struct {
	FileID    string `json:"file_id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Chunks    int    `json:"chunks"`
	CipherTag string `json:"cipher_tag"`
}

// placedChunk tracks one stored chunk for rollback.
type placedChunk struct {
	client     backend.Client
	remotePath string
}

// Upload runs the full pipeline: validate, chunk, encrypt, checksum,
// distribute round-robin, and record metadata. Any failure after the
// file record exists triggers a best-effort rollback that removes every
// stored chunk and the metadata, then the original error is returned.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	start := time.Now()
	result, err := s.upload(ctx, req)
	s.metrics.ObserveOperation("upload", err, req.Size, time.Since(start))
	return result, err
}

func (s *Service) upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	if err := s.validateSize(req.Size); err != nil {
		return nil, err
	}
	if req.CipherTag != "" && !crypto.KnownCipherTag(req.CipherTag) {
		return nil, errdefs.NewValidation("cipher_tag", "unknown cipher tag")
	}

	fileID := req.FileID
	if fileID == "" {
		fileID = uuid.NewString()
	} else if _, err := uuid.Parse(fileID); err != nil {
		return nil, errdefs.NewValidation("file_id", "file id must be a UUID")
	}

	release, err := s.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	chunkSize := s.config.ChunkSize.Int64()
	totalChunks := int((req.Size + chunkSize - 1) / chunkSize)

	record := &models.FileRecord{
		ID:          fileID,
		Name:        req.Name,
		Length:      req.Size,
		TotalChunks: totalChunks,
		CipherTag:   s.engine.Tag(),
		Owner:       req.Owner,
	}
	if err := s.store.BeginUpload(ctx, record); err != nil {
		if errors.Is(err, models.ErrDuplicateFile) {
			return nil, fmt.Errorf("file %s: %w", fileID, errdefs.ErrDuplicate)
		}
		return nil, fmt.Errorf("recording upload: %v: %w", err, errdefs.ErrStorage)
	}

	s.store.Log(&models.AuditEntry{
		EventKind:   models.EventUploadStart,
		Owner:       req.Owner,
		Description: fmt.Sprintf("upload of %q started (%d bytes, %d chunks, file %s)", req.Name, req.Size, totalChunks, fileID),
		Component:   "aggregator",
	})

	placed, err := s.storeChunks(ctx, fileID, req)
	if err != nil {
		s.rollback(fileID, req.Owner, placed)
		s.store.Log(&models.AuditEntry{
			EventKind:   models.EventUploadFail,
			Owner:       req.Owner,
			Description: fmt.Sprintf("upload of file %s failed: %v", fileID, err),
			Severity:    models.SeverityError,
			Component:   "aggregator",
		})
		return nil, err
	}

	s.store.Log(&models.AuditEntry{
		EventKind:   models.EventUploadComplete,
		Owner:       req.Owner,
		Description: fmt.Sprintf("upload of %q complete (file %s, %d chunks)", req.Name, fileID, totalChunks),
		Component:   "aggregator",
	})
	logger.InfoCtx(ctx, "upload complete",
		logger.FileID(fileID), logger.FileName(req.Name),
		logger.Size(req.Size), logger.ChunkCount(totalChunks))

	return &UploadResult{
		FileID:    fileID,
		Name:      req.Name,
		Size:      req.Size,
		Chunks:    totalChunks,
		CipherTag: s.engine.Tag(),
	}, nil
}

// storeChunks consumes the stream one chunk at a time. Each plaintext
// chunk is sealed independently and its checksum is computed over the
// ciphertext, so corruption is detected before decryption ever runs.
func (s *Service) storeChunks(ctx context.Context, fileID string, req UploadRequest) ([]placedChunk, error) {
	var (
		placed    []placedChunk
		bytesRead int64
		chunkSize = s.config.ChunkSize.Int64()
		buf       = make([]byte, chunkSize)
	)

	for index := 0; bytesRead < req.Size; index++ {
		want := chunkSize
		if remaining := req.Size - bytesRead; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(req.Body, buf[:want])
		if err != nil {
			return placed, errdefs.NewValidation("body", "upload stream ended before the declared size")
		}
		bytesRead += int64(n)

		ciphertext, err := s.engine.Encrypt(buf[:n])
		if err != nil {
			return placed, fmt.Errorf("sealing chunk %d: %w", index, err)
		}
		sum := integrity.Checksum(ciphertext)

		client := s.pool.Next()
		remotePath := client.Path(fileID, index)

		transferStart := time.Now()
		err = s.pool.WithPermit(ctx, client.Name(), func(ctx context.Context) error {
			return client.Put(ctx, remotePath, ciphertext)
		})
		s.metrics.ObserveChunkTransfer(time.Since(transferStart))
		if err != nil {
			return placed, errdefs.NewStorageOp("upload", fileID, index, client.Name(), err)
		}
		placed = append(placed, placedChunk{client: client, remotePath: remotePath})

		chunk := &models.ChunkRecord{
			FileID:     fileID,
			ChunkIndex: index,
			Backend:    client.Name(),
			RemotePath: remotePath,
			Length:     int64(len(ciphertext)),
			CRC32:      int64(sum),
		}
		if err := s.store.SaveChunk(ctx, chunk); err != nil {
			return placed, errdefs.NewStorageOp("upload", fileID, index, client.Name(), errdefs.ErrStorage)
		}

		logger.DebugCtx(ctx, "chunk stored",
			logger.FileID(fileID), logger.ChunkIndex(index),
			logger.Backend(client.Name()), logger.CRC(sum))
	}

	// Trailing bytes past the declared size mean the declaration was wrong.
	var probe [1]byte
	if n, _ := req.Body.Read(probe[:]); n > 0 {
		return placed, errdefs.NewValidation("body", "upload stream exceeds the declared size")
	}
	return placed, nil
}

// rollback removes every stored chunk and the file metadata after a
// failed upload. It is best effort: each remote delete gets its own
// attempt, survivors are reported to the audit log, and the caller's
// error is preserved either way. A fresh context is used because the
// caller's may already be cancelled.
func (s *Service) rollback(fileID, owner string, placed []placedChunk) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var failed int
	for _, pc := range placed {
		if err := pc.client.Delete(ctx, pc.remotePath); err != nil {
			failed++
			logger.Warn("rollback could not remove chunk",
				logger.FileID(fileID), logger.Backend(pc.client.Name()),
				logger.RemotePath(pc.remotePath), logger.Err(err))
		}
	}

	if err := s.store.DeleteFile(ctx, fileID); err != nil && !errors.Is(err, models.ErrFileNotFound) {
		failed++
		logger.Warn("rollback could not remove metadata", logger.FileID(fileID), logger.Err(err))
	}

	if failed > 0 {
		s.store.Log(&models.AuditEntry{
			EventKind:   models.EventRollbackFail,
			Owner:       owner,
			Description: fmt.Sprintf("rollback of file %s left %d orphaned artifacts", fileID, failed),
			Severity:    models.SeverityWarning,
			Component:   "aggregator",
		})
		return
	}
	s.store.Log(&models.AuditEntry{
		EventKind:   models.EventRollback,
		Owner:       owner,
		Description: fmt.Sprintf("rollback of file %s removed %d chunks", fileID, len(placed)),
		Severity:    models.SeverityWarning,
		Component:   "aggregator",
	})
}
