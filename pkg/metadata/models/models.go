// Package models defines the persisted records of the metadata store.
package models

import "time"

// FileRecord describes one stored object. It is created at upload start,
// never mutated after commit, and deleted only by explicit delete or
// rollback. Deletion cascades to all associated chunk records.
type FileRecord struct {
	// ID is the globally unique file identifier (UUID, 36-char string).
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// Name is the original display name supplied by the client.
	Name string `gorm:"not null;size:255" json:"name"`

	// Length is the total byte length of the plaintext.
	Length int64 `gorm:"not null" json:"length"`

	// TotalChunks equals the number of chunk records for this file.
	TotalChunks int `gorm:"not null" json:"total_chunks"`

	// CipherTag names the cipher suite the payload was sealed with.
	CipherTag string `gorm:"not null;size:32" json:"cipher_tag"`

	// Owner is the owner identifier resolved from the owner username.
	Owner string `gorm:"size:255;index" json:"owner"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for FileRecord.
func (FileRecord) TableName() string {
	return "files"
}

// ChunkRecord describes one encrypted slice of a file stored as a single
// remote file on one backend. (FileID, ChunkIndex) is unique and indices
// are dense in 0..TotalChunks-1.
type ChunkRecord struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	// FileID references the owning file record.
	FileID string `gorm:"size:36;not null;uniqueIndex:idx_file_chunk,priority:1" json:"file_id"`

	// ChunkIndex is the 0-based dense sequence index.
	ChunkIndex int `gorm:"not null;uniqueIndex:idx_file_chunk,priority:2" json:"chunk_index"`

	// Backend is the endpoint identifier where the chunk physically lives.
	Backend string `gorm:"not null;size:255" json:"backend"`

	// RemotePath is the chunk's path on the backend.
	RemotePath string `gorm:"not null;size:512" json:"remote_path"`

	// Length is the stored (encrypted) byte length.
	Length int64 `gorm:"not null" json:"length"`

	// CRC32 is the checksum of the encrypted payload. Stored as int64 so
	// the full uint32 range fits in every supported database.
	CRC32 int64 `gorm:"not null" json:"crc32"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for ChunkRecord.
func (ChunkRecord) TableName() string {
	return "chunks"
}

// Severity levels for audit entries.
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// Audit event kinds.
const (
	EventUploadStart      = "UPLOAD_START"
	EventUploadComplete   = "UPLOAD_COMPLETE"
	EventUploadFail       = "UPLOAD_FAIL"
	EventDownloadStart    = "DOWNLOAD_START"
	EventDownloadComplete = "DOWNLOAD_COMPLETE"
	EventDownloadFail     = "DOWNLOAD_FAIL"
	EventDeleteComplete   = "DELETE_COMPLETE"
	EventDeleteFail       = "DELETE_FAIL"
	EventCRCMismatch      = "CRC_MISMATCH"
	EventRollback         = "ROLLBACK"
	EventRollbackFail     = "ROLLBACK_FAIL"
	EventScaleRequest     = "SCALE_REQUEST"
)

// AuditEntry is an append-only audit log record.
type AuditEntry struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	// EventKind is one of the Event* constants, or a caller-supplied kind
	// for records ingested from other services.
	EventKind string `gorm:"not null;size:64;index" json:"event_kind"`

	// Owner is the owner identifier, empty when the event is not
	// attributable to a user.
	Owner string `gorm:"size:255" json:"owner,omitempty"`

	// Description is a human-readable account of the event.
	Description string `gorm:"type:text" json:"description"`

	// Severity is INFO, WARNING, or ERROR.
	Severity string `gorm:"not null;size:16;default:INFO" json:"severity"`

	// Component names the originating component.
	Component string `gorm:"size:64" json:"component"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for AuditEntry.
func (AuditEntry) TableName() string {
	return "audit_log"
}

// AllModels returns every model for schema migration.
func AllModels() []any {
	return []any{
		&FileRecord{},
		&ChunkRecord{},
		&AuditEntry{},
	}
}
