package aggregator

import (
	"strings"

	"github.com/shardvault/shardvault/pkg/errdefs"
)

const maxFileNameLength = 255

// validateName enforces the display-name rules. Names become log fields
// and audit text but never filesystem paths; traversal sequences are
// rejected anyway so a name can never be misused as one. The offending
// value is not echoed back.
func validateName(name string) error {
	switch {
	case name == "":
		return errdefs.NewValidation("name", "file name is required")
	case len(name) > maxFileNameLength:
		return errdefs.NewValidation("name", "file name exceeds 255 characters")
	case strings.ContainsAny(name, "/\\"):
		return errdefs.NewValidation("name", "file name must not contain path separators")
	case strings.Contains(name, ".."):
		return errdefs.NewValidation("name", "file name must not contain traversal sequences")
	case strings.ContainsRune(name, '\x00'):
		return errdefs.NewValidation("name", "file name must not contain NUL bytes")
	}
	return nil
}

// validateSize enforces the declared plaintext size against the limit.
func (s *Service) validateSize(size int64) error {
	switch {
	case size < 0:
		return errdefs.NewValidation("size", "file size must be declared")
	case size == 0:
		return errdefs.NewValidation("size", "empty uploads are not accepted")
	case size > s.config.MaxFileSize.Int64():
		return errdefs.NewValidation("size", "file exceeds the maximum size of "+s.config.MaxFileSize.String())
	}
	return nil
}
