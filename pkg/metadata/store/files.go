package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/shardvault/shardvault/pkg/metadata/models"
)

// ============================================
// FILE OPERATIONS
// ============================================

// BeginUpload inserts the file record at the start of an upload.
// A duplicate id (concurrent upload with the same client-supplied id)
// fails with ErrDuplicateFile via the primary-key constraint.
func (s *GORMStore) BeginUpload(ctx context.Context, file *models.FileRecord) error {
	opCtx, cancel, done := s.opContext(ctx, "begin_upload")
	defer cancel()
	defer done()

	if err := s.db.WithContext(opCtx).Create(file).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateFile
		}
		return err
	}
	return nil
}

// GetFile loads a file record by id.
func (s *GORMStore) GetFile(ctx context.Context, fileID string) (*models.FileRecord, error) {
	opCtx, cancel, done := s.opContext(ctx, "get_file")
	defer cancel()
	defer done()

	var file models.FileRecord
	if err := s.db.WithContext(opCtx).Where("id = ?", fileID).First(&file).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

// Exists reports whether a file record with the given id exists.
func (s *GORMStore) Exists(ctx context.Context, fileID string) (bool, error) {
	_, err := s.GetFile(ctx, fileID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, models.ErrFileNotFound) {
		return false, nil
	}
	return false, err
}

// ListFiles returns all file records, optionally filtered by owner,
// newest first.
func (s *GORMStore) ListFiles(ctx context.Context, owner string) ([]*models.FileRecord, error) {
	opCtx, cancel, done := s.opContext(ctx, "list_files")
	defer cancel()
	defer done()

	var files []*models.FileRecord
	q := s.db.WithContext(opCtx).Order("created_at DESC")
	if owner != "" {
		q = q.Where("owner = ?", owner)
	}
	if err := q.Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// DeleteFile removes the file record and all of its chunk records in one
// transaction. Missing files fail with ErrFileNotFound.
func (s *GORMStore) DeleteFile(ctx context.Context, fileID string) error {
	opCtx, cancel, done := s.opContext(ctx, "delete_file")
	defer cancel()
	defer done()

	return s.db.WithContext(opCtx).Transaction(func(tx *gorm.DB) error {
		var file models.FileRecord
		if err := tx.Where("id = ?", fileID).First(&file).Error; err != nil {
			return convertNotFoundError(err, models.ErrFileNotFound)
		}

		if err := tx.Where("file_id = ?", fileID).Delete(&models.ChunkRecord{}).Error; err != nil {
			return err
		}

		return tx.Delete(&file).Error
	})
}

// ============================================
// CHUNK OPERATIONS
// ============================================

// SaveChunk inserts one chunk record. The (file_id, chunk_index) unique
// constraint rejects duplicates with ErrDuplicateChunk.
func (s *GORMStore) SaveChunk(ctx context.Context, chunk *models.ChunkRecord) error {
	opCtx, cancel, done := s.opContext(ctx, "save_chunk")
	defer cancel()
	defer done()

	if err := s.db.WithContext(opCtx).Create(chunk).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateChunk
		}
		return err
	}
	return nil
}

// ListChunks returns all chunk records for a file ordered by index ascending.
func (s *GORMStore) ListChunks(ctx context.Context, fileID string) ([]*models.ChunkRecord, error) {
	opCtx, cancel, done := s.opContext(ctx, "list_chunks")
	defer cancel()
	defer done()

	var chunks []*models.ChunkRecord
	err := s.db.WithContext(opCtx).
		Where("file_id = ?", fileID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// DeleteChunk removes a single chunk record, used during rollback.
func (s *GORMStore) DeleteChunk(ctx context.Context, fileID string, chunkIndex int) error {
	opCtx, cancel, done := s.opContext(ctx, "delete_chunk")
	defer cancel()
	defer done()

	return s.db.WithContext(opCtx).
		Where("file_id = ? AND chunk_index = ?", fileID, chunkIndex).
		Delete(&models.ChunkRecord{}).Error
}
