package store

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ============================================================================
// Record Namespace Layout
// ============================================================================
//
// Inodes and dentry directories are spread over two levels of hash buckets so
// that no single directory grows unbounded:
//
// Record                 Path
// ==========================================================================
// Directory inode        inodes/<h1>/<h2>/<dirID>
// Standalone file inode  inodes/<h1>/<h2>/<entryID>
// Dentry by name         dentries/<h1>/<h2>/<dirID>/<name>
// Dentry by ID           dentries/<h1>/<h2>/<dirID>/#fSiDs#/<entryID>
//
// h1 and h2 are derived from the xxhash64 of the ID, formatted as upper-case
// hex in [0, Buckets).

const (
	// InodesDir is the top level directory of inode records.
	InodesDir RecordDir = "inodes"

	// DentriesDir is the top level directory of dentry directories.
	DentriesDir RecordDir = "dentries"

	// ByIDSubdir holds the by-ID hard links of file dentries.
	ByIDSubdir = "#fSiDs#"

	// RecordXattr is the attribute name used when records are stored as an
	// extended attribute instead of file contents.
	RecordXattr = "user.dmeta"

	// DefaultBuckets is the default number of hash buckets per level.
	DefaultBuckets = 128
)

// Layout computes the record paths of inodes and dentries.
type Layout struct {
	Buckets uint32
}

// NewLayout returns a layout with buckets per level, or the default when
// buckets is zero.
func NewLayout(buckets uint32) Layout {
	if buckets == 0 {
		buckets = DefaultBuckets
	}
	return Layout{Buckets: buckets}
}

func (l Layout) bucket(id string) string {
	n := uint64(l.Buckets)
	if n == 0 {
		n = DefaultBuckets
	}
	h := xxhash.Sum64String(id)
	return fmt.Sprintf("%X/%X", (h>>32)%n, h%n)
}

// InodeBucket returns the bucket directory holding the inode of id.
func (l Layout) InodeBucket(id string) RecordDir {
	return InodesDir.Sub(l.bucket(id))
}

// InodePath returns the path of a directory inode or standalone file inode.
func (l Layout) InodePath(id string) RecordPath {
	return l.InodeBucket(id).Join(id)
}

// DentryDir returns the directory holding the dentries of dirID.
func (l Layout) DentryDir(dirID string) RecordDir {
	return DentriesDir.Sub(l.bucket(dirID)).Sub(dirID)
}

// DentryPath returns the by-name dentry path of name in dirID.
func (l Layout) DentryPath(dirID, name string) RecordPath {
	return l.DentryDir(dirID).Join(name)
}

// ByIDDir returns the by-ID sub-directory of dirID.
func (l Layout) ByIDDir(dirID string) RecordDir {
	return l.DentryDir(dirID).Sub(ByIDSubdir)
}

// ByIDPath returns the by-ID dentry path of entryID in dirID.
func (l Layout) ByIDPath(dirID, entryID string) RecordPath {
	return l.ByIDDir(dirID).Join(entryID)
}
