package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Entries & Directories
	// ========================================================================
	KeyEntryID   = "entry_id"   // Entry ID of a file or directory
	KeyParentID  = "parent_id"  // Entry ID of the parent directory
	KeyDirID     = "dir_id"     // Directory the operation runs in
	KeyName      = "name"       // Entry name in its parent
	KeyNewName   = "new_name"   // Destination name for rename/link operations
	KeyEntryType = "entry_type" // Entry type: file, directory, symlink, etc.
	KeyOwnerNode = "owner_node" // Owning metadata node or buddy group
	KeyLinkCount = "link_count" // Hard link count
	KeyRefCount  = "refcount"   // In-memory reference count
	KeyInlined   = "inlined"    // Whether the inode is inlined in its dentry
	KeyMirrored  = "mirrored"   // Whether the entry is buddy mirrored

	// ========================================================================
	// Records & Storage
	// ========================================================================
	KeyFormatVersion = "format_version" // On-disk record format version
	KeyRecordKind    = "record_kind"    // Record kind: dentry, inode, dir-inode
	KeyPath          = "path"           // Record path relative to the store root
	KeyStoreType     = "store_type"     // Record store backend: fs, badger, memory
	KeyAttempt       = "attempt"        // Retry attempt number

	// ========================================================================
	// Locking
	// ========================================================================
	KeyLockAckID  = "lock_ack_id" // Client supplied lock request identifier
	KeyClientID   = "client_id"   // Client identifier owning a lock
	KeyHandle     = "handle"      // File handle a lock was taken through
	KeyRangeStart = "range_start" // Byte range start (inclusive)
	KeyRangeEnd   = "range_end"   // Byte range end (inclusive)
	KeyLockKind   = "lock_kind"   // Lock kind: shared, exclusive, unlock

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyOperation  = "operation"   // Coordinator operation name
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Taxonomy error code

	// ========================================================================
	// Cache Layer
	// ========================================================================
	KeyCacheSize  = "cache_size"  // Current cache size
	KeyCacheLimit = "cache_limit" // Cache size limit
	KeyEvicted    = "evicted"     // Number of entries evicted
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// Entries & Directories
// ----------------------------------------------------------------------------

// EntryID returns a slog.Attr for an entry ID
func EntryID(id string) slog.Attr {
	return slog.String(KeyEntryID, id)
}

// ParentID returns a slog.Attr for a parent directory ID
func ParentID(id string) slog.Attr {
	return slog.String(KeyParentID, id)
}

// DirID returns a slog.Attr for the directory an operation runs in
func DirID(id string) slog.Attr {
	return slog.String(KeyDirID, id)
}

// Name returns a slog.Attr for an entry name
func Name(name string) slog.Attr {
	return slog.String(KeyName, name)
}

// NewName returns a slog.Attr for a destination name
func NewName(name string) slog.Attr {
	return slog.String(KeyNewName, name)
}

// EntryType returns a slog.Attr for an entry type
func EntryType(t string) slog.Attr {
	return slog.String(KeyEntryType, t)
}

// OwnerNode returns a slog.Attr for the owning node
func OwnerNode(id uint32) slog.Attr {
	return slog.Any(KeyOwnerNode, id)
}

// LinkCount returns a slog.Attr for hard link count
func LinkCount(n uint32) slog.Attr {
	return slog.Any(KeyLinkCount, n)
}

// RefCount returns a slog.Attr for an in-memory reference count
func RefCount(n int) slog.Attr {
	return slog.Int(KeyRefCount, n)
}

// Inlined returns a slog.Attr for the inline state of an inode
func Inlined(v bool) slog.Attr {
	return slog.Bool(KeyInlined, v)
}

// Mirrored returns a slog.Attr for the buddy mirror state
func Mirrored(v bool) slog.Attr {
	return slog.Bool(KeyMirrored, v)
}

// ----------------------------------------------------------------------------
// Records & Storage
// ----------------------------------------------------------------------------

// FormatVersion returns a slog.Attr for a record format version
func FormatVersion(v uint8) slog.Attr {
	return slog.Any(KeyFormatVersion, v)
}

// RecordKind returns a slog.Attr for a record kind
func RecordKind(kind string) slog.Attr {
	return slog.String(KeyRecordKind, kind)
}

// Path returns a slog.Attr for a record path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// StoreType returns a slog.Attr for the record store backend
func StoreType(t string) slog.Attr {
	return slog.String(KeyStoreType, t)
}

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n uint) slog.Attr {
	return slog.Any(KeyAttempt, n)
}

// ----------------------------------------------------------------------------
// Locking
// ----------------------------------------------------------------------------

// LockAckID returns a slog.Attr for a lock request identifier
func LockAckID(id string) slog.Attr {
	return slog.String(KeyLockAckID, id)
}

// ClientID returns a slog.Attr for a client identifier
func ClientID(id string) slog.Attr {
	return slog.String(KeyClientID, id)
}

// Handle returns a slog.Attr for a file handle
func Handle(h string) slog.Attr {
	return slog.String(KeyHandle, h)
}

// LockRange returns slog.Attrs for a byte range
func LockRange(start, end uint64) []any {
	return []any{
		slog.Uint64(KeyRangeStart, start),
		slog.Uint64(KeyRangeEnd, end),
	}
}

// LockKind returns a slog.Attr for the lock kind
func LockKind(kind string) slog.Attr {
	return slog.String(KeyLockKind, kind)
}

// ----------------------------------------------------------------------------
// Operation Metadata
// ----------------------------------------------------------------------------

// Operation returns a slog.Attr for an operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a taxonomy error code
func ErrorCode(code string) slog.Attr {
	return slog.String(KeyErrorCode, code)
}

// ----------------------------------------------------------------------------
// Cache Layer
// ----------------------------------------------------------------------------

// CacheSize returns a slog.Attr for current cache size
func CacheSize(n int) slog.Attr {
	return slog.Int(KeyCacheSize, n)
}

// CacheLimit returns a slog.Attr for the cache size limit
func CacheLimit(n int) slog.Attr {
	return slog.Int(KeyCacheLimit, n)
}

// Evicted returns a slog.Attr for number of evicted entries
func Evicted(n int) slog.Attr {
	return slog.Int(KeyEvicted, n)
}
