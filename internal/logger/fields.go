package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that logs from the
// aggregator, the load balancer, and the host controller can be aggregated
// and queried together.
const (
	// ========================================================================
	// Request & Ownership
	// ========================================================================
	KeyRequestID = "request_id" // Opaque request identifier
	KeyOwner     = "owner"      // Owner username tag
	KeyClientIP  = "client_ip"  // Client IP address
	KeyComponent = "component"  // Originating component name

	// ========================================================================
	// Files & Chunks
	// ========================================================================
	KeyFileID     = "file_id"     // File record identifier (UUID)
	KeyFileName   = "file_name"   // Original display name
	KeySize       = "size"        // Byte length
	KeyChunkIndex = "chunk_index" // 0-based chunk sequence index
	KeyChunkCount = "chunk_count" // Total chunks for a file
	KeyRemotePath = "remote_path" // Chunk path on the backend
	KeyCRC        = "crc32"       // CRC-32 of the encrypted chunk

	// ========================================================================
	// Backends & Scheduling
	// ========================================================================
	KeyBackend   = "backend"    // Backend logical name
	KeyEndpoint  = "endpoint"   // Backend network endpoint (host:port)
	KeyPolicy    = "policy"     // Scheduler policy name
	KeyQueueSize = "queue_size" // Request queue depth
	KeyAction    = "action"     // Scale action (up/down/stable)
	KeyHealth    = "health"     // Node health state

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyOperation  = "operation"   // Operation name (upload, download, delete)
	KeyEvent      = "event"       // Audit event kind
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyAttempt    = "attempt"     // Retry attempt number
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// RequestID returns a slog.Attr for an opaque request identifier.
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// Owner returns a slog.Attr for the owner username tag.
func Owner(name string) slog.Attr {
	return slog.String(KeyOwner, name)
}

// ClientIP returns a slog.Attr for the client IP address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// Component returns a slog.Attr for the originating component name.
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// FileID returns a slog.Attr for a file record identifier.
func FileID(id string) slog.Attr {
	return slog.String(KeyFileID, id)
}

// FileName returns a slog.Attr for the original display name.
func FileName(name string) slog.Attr {
	return slog.String(KeyFileName, name)
}

// Size returns a slog.Attr for a byte length.
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// ChunkIndex returns a slog.Attr for a chunk sequence index.
func ChunkIndex(i int) slog.Attr {
	return slog.Int(KeyChunkIndex, i)
}

// ChunkCount returns a slog.Attr for a file's total chunk count.
func ChunkCount(n int) slog.Attr {
	return slog.Int(KeyChunkCount, n)
}

// RemotePath returns a slog.Attr for a chunk path on a backend.
func RemotePath(p string) slog.Attr {
	return slog.String(KeyRemotePath, p)
}

// CRC returns a slog.Attr for a chunk CRC-32 checksum.
func CRC(sum uint32) slog.Attr {
	return slog.Any(KeyCRC, sum)
}

// Backend returns a slog.Attr for a backend logical name.
func Backend(name string) slog.Attr {
	return slog.String(KeyBackend, name)
}

// Endpoint returns a slog.Attr for a backend network endpoint.
func Endpoint(addr string) slog.Attr {
	return slog.String(KeyEndpoint, addr)
}

// Policy returns a slog.Attr for the scheduler policy name.
func Policy(name string) slog.Attr {
	return slog.String(KeyPolicy, name)
}

// QueueSize returns a slog.Attr for the request queue depth.
func QueueSize(n int) slog.Attr {
	return slog.Int(KeyQueueSize, n)
}

// Action returns a slog.Attr for a scale action.
func Action(a string) slog.Attr {
	return slog.String(KeyAction, a)
}

// Health returns a slog.Attr for a node health state.
func Health(state string) slog.Attr {
	return slog.String(KeyHealth, state)
}

// Operation returns a slog.Attr for an operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Event returns a slog.Attr for an audit event kind.
func Event(kind string) slog.Attr {
	return slog.String(KeyEvent, kind)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}
