// Package fs implements the record store on a local POSIX filesystem.
//
// Records are regular files below a root directory. In RecordModeContents the
// record is the file contents; in RecordModeXattr the file is empty and the
// record is kept in the user.dmeta extended attribute, which lets the
// underlying filesystem store small records inside the inode. Hard links are
// real hard links, so every name of a record observes every write.
package fs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/pkg/metadata/store"
	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"
)

// RecordMode selects where record bytes are kept.
type RecordMode string

const (
	RecordModeContents RecordMode = "contents"
	RecordModeXattr    RecordMode = "xattr"
)

// lockFileName is created in the root and flocked while the store is open.
const lockFileName = ".lock"

// Config configures a filesystem record store.
type Config struct {
	Root     string
	Mode     RecordMode
	UseFsync bool
}

// FSRecordStore is a RecordStore backed by a directory tree.
type FSRecordStore struct {
	root     string
	mode     RecordMode
	useFsync bool
	lock     *flock.Flock
}

var _ store.RecordStore = (*FSRecordStore)(nil)

// NewFSRecordStore opens (and creates if needed) a record store rooted at
// cfg.Root. The root is locked exclusively: a second store on the same root
// fails until the first one is closed.
func NewFSRecordStore(cfg Config) (*FSRecordStore, error) {
	if cfg.Root == "" {
		return nil, errors.New("record store root is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = RecordModeContents
	}
	if cfg.Mode != RecordModeContents && cfg.Mode != RecordModeXattr {
		return nil, fmt.Errorf("unknown record mode %q", cfg.Mode)
	}

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root %q: %w", cfg.Root, err)
	}

	fl := flock.New(filepath.Join(cfg.Root, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock root %q: %w", cfg.Root, err)
	}
	if !locked {
		return nil, fmt.Errorf("root %q is in use by another process", cfg.Root)
	}

	s := &FSRecordStore{
		root:     cfg.Root,
		mode:     cfg.Mode,
		useFsync: cfg.UseFsync,
		lock:     fl,
	}

	if cfg.Mode == RecordModeXattr {
		if err := s.probeXattrs(); err != nil {
			_ = fl.Unlock()
			return nil, err
		}
	}

	logger.Info("Record store opened",
		logger.StoreType("fs"),
		logger.Path(cfg.Root),
		"record_mode", string(cfg.Mode),
		"fsync", cfg.UseFsync)

	return s, nil
}

func (s *FSRecordStore) probeXattrs() error {
	probe := filepath.Join(s.root, lockFileName)
	if err := xattr.Set(probe, store.RecordXattr, []byte{0}); err != nil {
		return fmt.Errorf("filesystem at %q does not support user xattrs: %w", s.root, err)
	}
	return xattr.Remove(probe, store.RecordXattr)
}

// Root returns the root directory.
func (s *FSRecordStore) Root() string {
	return s.root
}

// Mode returns the record mode.
func (s *FSRecordStore) Mode() RecordMode {
	return s.mode
}

func (s *FSRecordStore) abs(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(store.Clean(p)))
}

// syncDir flushes directory metadata after a namespace change.
func (s *FSRecordStore) syncDir(p string) error {
	if !s.useFsync {
		return nil
	}
	d, err := os.Open(filepath.Dir(s.abs(p)))
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func mapXattrErr(op, p string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, xattr.ENOATTR) {
		return store.NoData(op, p)
	}
	return err
}

// ============================================================================
// Record Operations
// ============================================================================

func (s *FSRecordStore) CreateRecord(ctx context.Context, p store.RecordPath, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.abs(string(p))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if err := s.writeOpen(f, data); err != nil {
		f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return s.syncDir(string(p))
}

// writeOpen stores data in an open record file.
func (s *FSRecordStore) writeOpen(f *os.File, data []byte) error {
	if s.mode == RecordModeXattr {
		if err := xattr.FSet(f, store.RecordXattr, data); err != nil {
			return err
		}
	} else if _, err := f.Write(data); err != nil {
		return err
	}
	if s.useFsync {
		return f.Sync()
	}
	return nil
}

func (s *FSRecordStore) ReadRecord(ctx context.Context, p store.RecordPath) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.abs(string(p))
	var (
		data []byte
		err  error
	)
	if s.mode == RecordModeXattr {
		data, err = xattr.Get(path, store.RecordXattr)
		if errors.Is(err, xattr.ENOATTR) {
			// The file exists but the attribute was never written.
			err = nil
		}
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &iofs.PathError{Op: "read", Path: string(p), Err: store.ErrEmptyRecord}
	}
	return data, nil
}

func (s *FSRecordStore) WriteRecord(ctx context.Context, p store.RecordPath, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	flags := os.O_WRONLY
	if s.mode == RecordModeContents {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(s.abs(string(p)), flags, 0)
	if err != nil {
		return err
	}
	if err := s.writeOpen(f, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *FSRecordStore) Link(ctx context.Context, from, to store.RecordPath) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Link(s.abs(string(from)), s.abs(string(to))); err != nil {
		return err
	}
	return s.syncDir(string(to))
}

func (s *FSRecordStore) Rename(ctx context.Context, from, to store.RecordPath) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(s.abs(string(from)), s.abs(string(to))); err != nil {
		return err
	}
	if err := s.syncDir(string(to)); err != nil {
		return err
	}
	if from.Dir() != to.Dir() {
		return s.syncDir(string(from))
	}
	return nil
}

func (s *FSRecordStore) Remove(ctx context.Context, p store.RecordPath) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := unix.Unlink(s.abs(string(p))); err != nil {
		return &iofs.PathError{Op: "unlink", Path: string(p), Err: err}
	}
	return s.syncDir(string(p))
}

func (s *FSRecordStore) Exists(ctx context.Context, p store.RecordPath) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fi, err := os.Lstat(s.abs(string(p)))
	if errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}

func (s *FSRecordStore) LinkCount(ctx context.Context, p store.RecordPath) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var st unix.Stat_t
	if err := unix.Lstat(s.abs(string(p)), &st); err != nil {
		return 0, &iofs.PathError{Op: "lstat", Path: string(p), Err: err}
	}
	return uint32(st.Nlink), nil
}

// ============================================================================
// Directory Operations
// ============================================================================

func (s *FSRecordStore) List(ctx context.Context, dir store.RecordDir, offset, limit int) ([]string, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	d, err := os.Open(s.abs(string(dir)))
	if err != nil {
		return nil, 0, err
	}
	defer d.Close()

	names, err := d.Readdirnames(-1)
	if err != nil {
		return nil, 0, err
	}
	if store.Clean(string(dir)) == "" {
		names = without(names, lockFileName)
	}
	sort.Strings(names)

	page, next := store.Page(names, offset, limit)
	return page, next, nil
}

func without(names []string, skip string) []string {
	out := names[:0]
	for _, n := range names {
		if n != skip {
			out = append(out, n)
		}
	}
	return out
}

func (s *FSRecordStore) MkdirAll(ctx context.Context, dir store.RecordDir) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.MkdirAll(s.abs(string(dir)), 0o755)
}

func (s *FSRecordStore) RemoveDir(ctx context.Context, dir store.RecordDir) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if store.Clean(string(dir)) == "" {
		return &iofs.PathError{Op: "rmdir", Path: string(dir), Err: unix.EBUSY}
	}
	if err := unix.Rmdir(s.abs(string(dir))); err != nil {
		if errors.Is(err, unix.EEXIST) {
			// Some platforms report a non-empty directory as EEXIST.
			err = unix.ENOTEMPTY
		}
		return &iofs.PathError{Op: "rmdir", Path: string(dir), Err: err}
	}
	return nil
}

// ============================================================================
// Extended Attributes
// ============================================================================

func (s *FSRecordStore) GetXattr(ctx context.Context, p store.RecordPath, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := xattr.LGet(s.abs(string(p)), name)
	return v, mapXattrErr("getxattr", string(p), err)
}

func (s *FSRecordStore) SetXattr(ctx context.Context, p store.RecordPath, name string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return xattr.LSet(s.abs(string(p)), name, value)
}

// ListXattrs lists user attributes. The record attribute of RecordModeXattr
// is not reported.
func (s *FSRecordStore) ListXattrs(ctx context.Context, p store.RecordPath) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := xattr.LList(s.abs(string(p)))
	if err != nil {
		return nil, err
	}
	names = without(names, store.RecordXattr)
	sort.Strings(names)
	return names, nil
}

func (s *FSRecordStore) RemoveXattr(ctx context.Context, p store.RecordPath, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapXattrErr("removexattr", string(p), xattr.LRemove(s.abs(string(p)), name))
}

// Healthcheck verifies the root is still accessible.
func (s *FSRecordStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

// Close releases the root lock.
func (s *FSRecordStore) Close() error {
	return s.lock.Unlock()
}
