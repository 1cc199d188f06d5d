package models

import "errors"

// Common errors for metadata store operations.
var (
	// File errors
	ErrFileNotFound  = errors.New("file not found")
	ErrDuplicateFile = errors.New("file already exists")

	// Chunk errors
	ErrChunkNotFound  = errors.New("chunk not found")
	ErrDuplicateChunk = errors.New("chunk already exists")
)
