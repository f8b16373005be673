package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for metadata operations.
const (
	// ========================================================================
	// Entry attributes
	// ========================================================================
	AttrEntryID   = "entry.id"
	AttrParentID  = "parent.id"
	AttrEntryName = "entry.name"
	AttrNewName   = "entry.new_name"
	AttrEntryType = "entry.type"
	AttrInlined   = "entry.inlined"
	AttrMirrored  = "entry.mirrored"
	AttrLinkCount = "entry.nlink"

	// ========================================================================
	// Lock attributes
	// ========================================================================
	AttrLockFamily = "lock.family"
	AttrLockKind   = "lock.kind"
	AttrClientID   = "client.id"

	// ========================================================================
	// Store attributes
	// ========================================================================
	AttrStoreType = "store.type"
	AttrAttempt   = "retry.attempt"
	AttrCacheSize = "cache.size"

	// ========================================================================
	// Node attributes
	// ========================================================================
	AttrNodeID  = "dittometa.node_id"
	AttrGroupID = "dittometa.group_id"
)

// Span name prefixes.
const (
	SpanPrefixMetaStore = "metastore."
	SpanPrefixAdmin     = "admin."
)

// EntryID returns an attribute for an entry ID.
func EntryID(id string) attribute.KeyValue {
	return attribute.String(AttrEntryID, id)
}

// ParentID returns an attribute for a parent directory ID.
func ParentID(id string) attribute.KeyValue {
	return attribute.String(AttrParentID, id)
}

// EntryName returns an attribute for an entry name.
func EntryName(name string) attribute.KeyValue {
	return attribute.String(AttrEntryName, name)
}

// NewName returns an attribute for the target name of a rename or link.
func NewName(name string) attribute.KeyValue {
	return attribute.String(AttrNewName, name)
}

// EntryType returns an attribute for an entry type.
func EntryType(t string) attribute.KeyValue {
	return attribute.String(AttrEntryType, t)
}

// Inlined returns an attribute for the inline placement of a file inode.
func Inlined(inlined bool) attribute.KeyValue {
	return attribute.Bool(AttrInlined, inlined)
}

// Mirrored returns an attribute for the buddy mirror state.
func Mirrored(mirrored bool) attribute.KeyValue {
	return attribute.Bool(AttrMirrored, mirrored)
}

// LinkCount returns an attribute for a hard link count.
func LinkCount(n uint32) attribute.KeyValue {
	return attribute.Int64(AttrLinkCount, int64(n))
}

// LockFamily returns an attribute for the lock state machine (entry, range, append).
func LockFamily(family string) attribute.KeyValue {
	return attribute.String(AttrLockFamily, family)
}

// LockKind returns an attribute for the lock request kind.
func LockKind(kind string) attribute.KeyValue {
	return attribute.String(AttrLockKind, kind)
}

// ClientID returns an attribute for a client ID.
func ClientID(id string) attribute.KeyValue {
	return attribute.String(AttrClientID, id)
}

// StoreType returns an attribute for the record store backend.
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// Attempt returns an attribute for a retry attempt.
func Attempt(n uint) attribute.KeyValue {
	return attribute.Int64(AttrAttempt, int64(n))
}

// CacheSize returns an attribute for a cache size.
func CacheSize(n int) attribute.KeyValue {
	return attribute.Int(AttrCacheSize, n)
}

// StartMetaStoreSpan starts a span named "metastore.<operation>".
func StartMetaStoreSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanPrefixMetaStore+operation, trace.WithAttributes(attrs...))
}

// StartAdminSpan starts a span for an admin API request.
func StartAdminSpan(ctx context.Context, route string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanPrefixAdmin+route, trace.WithAttributes(attrs...))
}
