// Package store defines the record namespace the metadata engine persists
// into: a tree of directories holding small binary records that support
// exclusive creation, in-place overwrite, hard links and user extended
// attributes.
//
// Three implementations exist:
//   - fs: records are regular files (or one xattr of an empty file) below a
//     root directory, hard links are real hard links
//   - memory: an in-process tree used by tests and ephemeral nodes
//   - badger: link names point to shared record nodes with a link counter
//
// All implementations report failures as *fs.PathError values wrapping the
// POSIX errno that a filesystem would return (ENOENT, EEXIST, ENOTEMPTY,
// ENOTDIR), so callers classify them with errors.FromOS.
package store

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"strings"

	"golang.org/x/sys/unix"
)

// RecordPath is a slash separated path of a record relative to the store root.
type RecordPath string

// RecordDir is a slash separated path of a directory relative to the store root.
type RecordDir string

// Join returns the path of name inside d.
func (d RecordDir) Join(name string) RecordPath {
	return RecordPath(path.Join(string(d), name))
}

// Sub returns the sub-directory name of d.
func (d RecordDir) Sub(name string) RecordDir {
	return RecordDir(path.Join(string(d), name))
}

// Dir returns the directory holding the record.
func (p RecordPath) Dir() RecordDir {
	return RecordDir(path.Dir(string(p)))
}

// Base returns the last element of the record path.
func (p RecordPath) Base() string {
	return path.Base(string(p))
}

// ErrEmptyRecord is returned by ReadRecord for a record that exists but holds
// no data, which happens when a node crashed between create and write.
var ErrEmptyRecord = errors.New("empty record")

// RecordStore is the persistence interface of the metadata engine.
//
// Implementations must be safe for concurrent use. Atomicity across calls is
// not provided: the engine serializes conflicting operations itself.
type RecordStore interface {
	// CreateRecord creates a new record exclusively. Fails with EEXIST when
	// the name is taken and ENOENT when the directory does not exist.
	CreateRecord(ctx context.Context, p RecordPath, data []byte) error

	// ReadRecord returns the record data. An existing record without data is
	// reported as ErrEmptyRecord.
	ReadRecord(ctx context.Context, p RecordPath) ([]byte, error)

	// WriteRecord overwrites an existing record. Every hard link observes
	// the new data.
	WriteRecord(ctx context.Context, p RecordPath, data []byte) error

	// Link creates a hard link to an existing record. Fails with EEXIST when
	// the target name is taken.
	Link(ctx context.Context, from, to RecordPath) error

	// Rename moves a record, replacing an existing target.
	Rename(ctx context.Context, from, to RecordPath) error

	// Remove unlinks one name of a record.
	Remove(ctx context.Context, p RecordPath) error

	Exists(ctx context.Context, p RecordPath) (bool, error)

	// LinkCount returns the number of names referring to the record.
	LinkCount(ctx context.Context, p RecordPath) (uint32, error)

	// List returns up to limit entry names of dir in lexical order, starting
	// at offset, together with the offset to continue from. Sub-directory
	// names are included. A limit <= 0 lists everything.
	List(ctx context.Context, dir RecordDir, offset, limit int) ([]string, int, error)

	MkdirAll(ctx context.Context, dir RecordDir) error

	// RemoveDir removes an empty directory. Fails with ENOTEMPTY otherwise.
	RemoveDir(ctx context.Context, dir RecordDir) error

	GetXattr(ctx context.Context, p RecordPath, name string) ([]byte, error)
	SetXattr(ctx context.Context, p RecordPath, name string, value []byte) error
	ListXattrs(ctx context.Context, p RecordPath) ([]string, error)
	RemoveXattr(ctx context.Context, p RecordPath, name string) error

	// Healthcheck verifies the store can serve requests.
	Healthcheck(ctx context.Context) error

	Close() error
}

// ============================================================================
// Error Helpers
// ============================================================================

// NotExist returns the error reported for a missing record or directory.
func NotExist(op string, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: unix.ENOENT}
}

// Exist returns the error reported for a name that is already taken.
func Exist(op string, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: unix.EEXIST}
}

// NotEmpty returns the error reported when removing a non-empty directory.
func NotEmpty(op string, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: unix.ENOTEMPTY}
}

// NotDir returns the error reported when a path element is not a directory.
func NotDir(op string, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: unix.ENOTDIR}
}

// NoData returns the error reported for a missing extended attribute.
func NoData(op string, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: unix.ENODATA}
}

// IsNoData reports whether err is a missing extended attribute.
func IsNoData(err error) bool {
	return errors.Is(err, unix.ENODATA)
}

// ============================================================================
// Pagination
// ============================================================================

// Page applies List's offset/limit semantics to a sorted slice of names.
func Page(names []string, offset, limit int) ([]string, int) {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(names) {
		return nil, len(names)
	}
	end := len(names)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]string, end-offset)
	copy(out, names[offset:end])
	return out, end
}

// Clean normalizes a path relative to the store root. Leading slashes and
// ".." elements cannot escape the root.
func Clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
