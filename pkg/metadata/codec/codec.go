// Package codec encodes and decodes the on-disk records of directory entries,
// file inodes and directory inodes.
//
// Every record starts with a fixed header:
//
//	recordKind u8 | formatVersion u8 | featureFlags u16 | entryType u8 | pad[3]
//
// Directory inode records only carry the first four bytes. All integers are
// little-endian. Strings are a u32 length followed by the bytes, a NUL and
// padding to a 4 byte boundary.
//
// Decoding accepts every supported format version and upgrades the result to
// the newest in-memory semantics, so that the next write persists the newest
// format. Records using feature flags outside the supported mask of their
// kind are rejected.
package codec

import (
	"errors"
	"fmt"

	"github.com/marmos91/dittometa/pkg/metadata"
)

// RecordKind is the first byte of every record.
type RecordKind uint8

const (
	KindFileInode  RecordKind = 1
	KindDirDentry  RecordKind = 2
	KindFileDentry RecordKind = 3
	KindDirInode   RecordKind = 4
)

// String returns a human-readable name for the record kind.
func (k RecordKind) String() string {
	switch k {
	case KindFileInode:
		return "file-inode"
	case KindDirDentry:
		return "dir-dentry"
	case KindFileDentry:
		return "file-dentry"
	case KindDirInode:
		return "dir-inode"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Dentry format versions.
const (
	DentryV3 uint8 = 3 // entry ID + owner node, dirs and non-inlined files
	DentryV4 uint8 = 4 // inlined inode, chunk path without original parent (read only)
	DentryV5 uint8 = 5 // inlined inode with original parent/uid (read only)
	DentryV6 uint8 = 6 // V5 + storage pool in the stripe pattern
)

// Directory inode format versions.
const (
	DirInodeV1 uint8 = 1 // 16 bit node IDs
	DirInodeV2 uint8 = 2 // 32 bit node IDs
	DirInodeV3 uint8 = 3 // 32 bit node IDs + storage pool in the pattern
)

// Buffer budgets.
const (
	DentryBufferSize = 4096
	InodeBufferSize  = 8192
	HeaderSize       = 8
)

// Supported feature flag masks per record kind and version.
const (
	SupportedDentryFlags = metadata.DentryInodeInline | metadata.DentryIsFileInode |
		metadata.DentryLegacyMirrored | metadata.DentryBuddyMirrored | metadata.DentryWideNodeIDs

	SupportedInodeFlagsV4 = metadata.InodeLegacyMirrored | metadata.InodeBuddyMirrored |
		metadata.InodeHasVersions

	SupportedInodeFlagsV5 = SupportedInodeFlagsV4 | metadata.InodeHasOrigParentID |
		metadata.InodeHasOrigUID

	SupportedInodeFlagsV6 = SupportedInodeFlagsV5 | metadata.InodeHasStatFlags |
		metadata.InodeHasRemoteTargets | metadata.InodeHasDataState | metadata.InodeLegacyChunkPath

	SupportedDirFlags = metadata.DirEarlySubdirs | metadata.DirLegacyMirrored |
		metadata.DirStatFlags | metadata.DirBuddyMirrored
)

var (
	// ErrBufferOverflow is returned when a record does not fit its budget.
	ErrBufferOverflow = errors.New("record exceeds buffer budget")

	// ErrTruncated is returned when a record ends early.
	ErrTruncated = errors.New("record truncated")

	// ErrCorrupt is returned for structurally invalid content.
	ErrCorrupt = errors.New("record corrupt")

	// ErrUnsupportedFlags is returned when a record uses unknown feature flags.
	ErrUnsupportedFlags = errors.New("unsupported feature flags")

	// ErrUnsupportedVersion is returned for unknown format versions.
	ErrUnsupportedVersion = errors.New("unsupported format version")
)

// FormatError describes a record that could not be decoded.
type FormatError struct {
	Kind    RecordKind
	Version uint8
	Err     error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("decode %s record (version %d): %v", e.Kind, e.Version, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

func checkFlags(used, supported uint32) error {
	if unsupported := used &^ supported; unsupported != 0 {
		return fmt.Errorf("%w: used %#x, supported %#x", ErrUnsupportedFlags, used, supported)
	}
	return nil
}

// Header is the decoded fixed record header.
type Header struct {
	Kind      RecordKind
	Version   uint8
	Flags     uint16
	EntryType metadata.EntryType
}

// PeekHeader decodes the fixed header without interpreting the body.
func PeekHeader(b []byte) (Header, error) {
	if len(b) < 4 {
		return Header{}, ErrTruncated
	}
	r := newReader(b)
	h := Header{Kind: RecordKind(r.u8()), Version: r.u8(), Flags: r.u16()}
	if h.Kind != KindDirInode {
		if len(b) < HeaderSize {
			return Header{}, ErrTruncated
		}
		h.EntryType = metadata.EntryType(r.u8())
	}
	return h, nil
}

// LocalContext provides the values that are implied rather than stored: an
// inlined inode is always owned by the node (or buddy group) holding it.
type LocalContext struct {
	NodeID  metadata.NodeID
	GroupID metadata.NodeID
}

func (c LocalContext) owner(mirrored bool) metadata.NodeID {
	if mirrored && c.GroupID != 0 {
		return c.GroupID
	}
	return c.NodeID
}

// Codec encodes and decodes records with fixed budgets.
type Codec struct {
	DentryLimit int
	InodeLimit  int
	Local       LocalContext
}

// New creates a codec with the default budgets.
func New(local LocalContext) *Codec {
	return &Codec{
		DentryLimit: DentryBufferSize,
		InodeLimit:  InodeBufferSize,
		Local:       local,
	}
}
