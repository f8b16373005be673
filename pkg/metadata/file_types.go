// Package metadata defines the entity model of the metadata engine: directory
// entries, file inodes, directory inodes and the sub-objects they own (stat
// data and stripe patterns).
//
// The types in this package are plain data. Concurrency, reference counting
// and persistence live in the inode, store and metastore packages.
package metadata

import (
	"fmt"
	"os"
)

// NodeID identifies a metadata node or, for buddy-mirrored entries, a buddy group.
type NodeID uint32

// Reserved directory IDs.
const (
	// RootDirID is the ID of the file system root directory.
	RootDirID = "root"

	// DisposalDirID anchors unlinked-but-open inodes of unmirrored files.
	DisposalDirID = "disposal"

	// MirrorDisposalDirID anchors unlinked-but-open inodes of buddy-mirrored files.
	MirrorDisposalDirID = "mdisposal"
)

// IsDisposalDir reports whether id names one of the two disposal directories.
func IsDisposalDir(id string) bool {
	return id == DisposalDirID || id == MirrorDisposalDirID
}

// DisposalDirFor returns the disposal directory matching the mirror state.
func DisposalDirFor(buddyMirrored bool) string {
	if buddyMirrored {
		return MirrorDisposalDirID
	}
	return DisposalDirID
}

// EntryType is the type of a directory entry. The numeric values are persisted
// in the record header.
type EntryType uint8

const (
	EntryTypeInvalid EntryType = iota
	EntryTypeDirectory
	EntryTypeRegularFile
	EntryTypeSymlink
	EntryTypeBlockDev
	EntryTypeCharDev
	EntryTypeFIFO
	EntryTypeSocket
)

// String returns a human-readable name for the entry type.
func (t EntryType) String() string {
	switch t {
	case EntryTypeDirectory:
		return "directory"
	case EntryTypeRegularFile:
		return "file"
	case EntryTypeSymlink:
		return "symlink"
	case EntryTypeBlockDev:
		return "blockdev"
	case EntryTypeCharDev:
		return "chardev"
	case EntryTypeFIFO:
		return "fifo"
	case EntryTypeSocket:
		return "socket"
	case EntryTypeInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// IsValid reports whether t is a known, non-invalid type.
func (t EntryType) IsValid() bool {
	return t > EntryTypeInvalid && t <= EntryTypeSocket
}

// IsDir reports whether t is a directory.
func (t EntryType) IsDir() bool { return t == EntryTypeDirectory }

// IsFile reports whether t is anything stored with a file inode.
func (t EntryType) IsFile() bool { return t.IsValid() && t != EntryTypeDirectory }

// IsRegularFile reports whether t is a regular file.
func (t EntryType) IsRegularFile() bool { return t == EntryTypeRegularFile }

// EntryTypeFromMode derives the entry type from POSIX mode bits.
func EntryTypeFromMode(mode uint32) EntryType {
	switch mode & 0o170000 {
	case 0o040000:
		return EntryTypeDirectory
	case 0o100000:
		return EntryTypeRegularFile
	case 0o120000:
		return EntryTypeSymlink
	case 0o060000:
		return EntryTypeBlockDev
	case 0o020000:
		return EntryTypeCharDev
	case 0o010000:
		return EntryTypeFIFO
	case 0o140000:
		return EntryTypeSocket
	default:
		return EntryTypeInvalid
	}
}

// ModeTypeBits returns the S_IFMT bits for the entry type.
func (t EntryType) ModeTypeBits() uint32 {
	switch t {
	case EntryTypeDirectory:
		return 0o040000
	case EntryTypeRegularFile:
		return 0o100000
	case EntryTypeSymlink:
		return 0o120000
	case EntryTypeBlockDev:
		return 0o060000
	case EntryTypeCharDev:
		return 0o020000
	case EntryTypeFIFO:
		return 0o010000
	case EntryTypeSocket:
		return 0o140000
	default:
		return 0
	}
}

// FileMode converts POSIX mode bits into an os.FileMode for display.
func FileMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0o777)
	switch EntryTypeFromMode(mode) {
	case EntryTypeDirectory:
		m |= os.ModeDir
	case EntryTypeSymlink:
		m |= os.ModeSymlink
	case EntryTypeBlockDev:
		m |= os.ModeDevice
	case EntryTypeCharDev:
		m |= os.ModeDevice | os.ModeCharDevice
	case EntryTypeFIFO:
		m |= os.ModeNamedPipe
	case EntryTypeSocket:
		m |= os.ModeSocket
	}
	return m
}

// ============================================================================
// Feature Flags
// ============================================================================

// DentryFlags are the persisted feature flags of a directory entry record.
type DentryFlags uint16

const (
	DentryInodeInline    DentryFlags = 1
	DentryIsFileInode    DentryFlags = 2
	DentryLegacyMirrored DentryFlags = 4
	DentryBuddyMirrored  DentryFlags = 8
	DentryWideNodeIDs    DentryFlags = 16
)

// InodeFlags are the persisted feature flags of a file inode.
type InodeFlags uint32

const (
	InodeLegacyMirrored   InodeFlags = 1
	InodeBuddyMirrored    InodeFlags = 8
	InodeHasOrigParentID  InodeFlags = 16
	InodeHasOrigUID       InodeFlags = 32
	InodeHasStatFlags     InodeFlags = 64
	InodeHasVersions      InodeFlags = 128
	InodeHasRemoteTargets InodeFlags = 256
	InodeHasDataState     InodeFlags = 512

	// InodeLegacyChunkPath marks an upgraded inode whose chunks still live
	// under the path scheme without original parent. It is only set in
	// records; in memory the same fact is FileInodeData.OrigFeature == false.
	InodeLegacyChunkPath InodeFlags = 1024
)

// DirFlags are the persisted feature flags of a directory inode.
type DirFlags uint16

const (
	DirEarlySubdirs   DirFlags = 2
	DirLegacyMirrored DirFlags = 4
	DirStatFlags      DirFlags = 8
	DirBuddyMirrored  DirFlags = 16
)
