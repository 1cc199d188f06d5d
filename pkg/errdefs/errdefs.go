// Package errdefs defines the error taxonomy shared by the aggregator,
// the load balancer, and the host controller. API layers map these errors
// to HTTP status codes; everything below the API returns them directly.
package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers should match with errors.Is; wrappers in this
// package unwrap to these sentinels.
var (
	// ErrNotFound indicates an unknown file id or an absent chunk path.
	//
	// HTTP mapping: 404 Not Found.
	ErrNotFound = errors.New("not found")

	// ErrIntegrity indicates a CRC mismatch or a cipher tag mismatch.
	// The request is aborted without returning any plaintext.
	//
	// HTTP mapping: 500 Internal Server Error.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrTransport indicates the backend is unreachable or the SFTP
	// session failed. Retryable at the load-balancer layer only; the
	// pipeline never retries it.
	//
	// HTTP mapping: 500 Internal Server Error.
	ErrTransport = errors.New("backend transport failure")

	// ErrStorage indicates a metadata insert/update/delete failure,
	// including duplicate keys and constraint violations.
	ErrStorage = errors.New("metadata storage failure")

	// ErrDuplicate indicates a unique-constraint violation, typically a
	// concurrent upload with the same client-supplied file id.
	//
	// HTTP mapping: 409 Conflict.
	ErrDuplicate = errors.New("duplicate record")

	// ErrCrypto indicates an encryption or decryption failure.
	ErrCrypto = errors.New("crypto failure")

	// ErrResource indicates permit acquisition timeout or pool exhaustion.
	//
	// HTTP mapping: 503 Service Unavailable.
	ErrResource = errors.New("resource exhausted")

	// ErrCancelled indicates cooperative interruption of a long wait.
	ErrCancelled = errors.New("operation cancelled")

	// ErrNoHealthyNodes indicates the scheduler found no healthy backend.
	//
	// HTTP mapping: 503 Service Unavailable.
	ErrNoHealthyNodes = errors.New("no healthy nodes available")

	// ErrInternal indicates an unexpected failure. The API surfaces a safe
	// message; full detail goes to the audit log.
	ErrInternal = errors.New("internal error")
)

// ValidationError is a user-caused input failure. It carries the offending
// field name and a user-safe message; security-relevant validations (path
// traversal) must not echo the offending value in Message.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the field and the user-safe message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidation creates a ValidationError for the given field.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StorageOpError wraps a sentinel error with operational context for
// diagnosing storage-path failures without losing errors.Is matching.
// For example:
//
//	err := NewStorageOp("upload", fileID, 3, "backend-2", ErrTransport)
//	errors.Is(err, ErrTransport) // true
type StorageOpError struct {
	// Op describes the operation that failed: "upload", "download",
	// "delete", or "rollback".
	Op string

	// FileID is the identifier of the affected file.
	FileID string

	// ChunkIndex is the chunk index that failed, or -1 when not chunk-scoped.
	ChunkIndex int

	// Backend identifies the backend involved, when any.
	Backend string

	// Err is the wrapped sentinel error.
	Err error
}

// Error returns a human-readable description including the operation and
// key context fields.
func (e *StorageOpError) Error() string {
	if e.ChunkIndex >= 0 {
		return fmt.Sprintf("%s: %s (file=%s, chunk=%d, backend=%s)",
			e.Op, e.Err, e.FileID, e.ChunkIndex, e.Backend)
	}
	return fmt.Sprintf("%s: %s (file=%s)", e.Op, e.Err, e.FileID)
}

// Unwrap returns the underlying sentinel error.
func (e *StorageOpError) Unwrap() error {
	return e.Err
}

// NewStorageOp creates a StorageOpError wrapping the given sentinel.
func NewStorageOp(op, fileID string, chunkIndex int, backend string, err error) *StorageOpError {
	return &StorageOpError{
		Op:         op,
		FileID:     fileID,
		ChunkIndex: chunkIndex,
		Backend:    backend,
		Err:        err,
	}
}
