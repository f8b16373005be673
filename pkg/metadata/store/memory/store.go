// Package memory implements an in-process record store.
//
// The store mirrors the semantics of a POSIX directory tree: records live in
// directories that must exist, names are unique per directory, hard links share
// one record node and removing the last name frees the node.
package memory

import (
	"context"
	"io/fs"
	"sort"
	"sync"

	"github.com/marmos91/dittometa/pkg/metadata/store"
	"golang.org/x/sys/unix"
)

// record is one record node, shared by all of its hard links.
type record struct {
	data   []byte
	xattrs map[string][]byte
	nlink  uint32
}

type directory struct {
	records map[string]*record
	subdirs map[string]struct{}
}

func newDirectory() *directory {
	return &directory{
		records: make(map[string]*record),
		subdirs: make(map[string]struct{}),
	}
}

// MemoryRecordStore is a thread-safe in-memory RecordStore.
type MemoryRecordStore struct {
	mu     sync.RWMutex
	dirs   map[string]*directory
	closed bool
}

var _ store.RecordStore = (*MemoryRecordStore)(nil)

// NewMemoryRecordStore creates an empty store containing only the root directory.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		dirs: map[string]*directory{"": newDirectory()},
	}
}

func split(p store.RecordPath) (dir, name string) {
	c := store.Clean(string(p))
	d := string(store.RecordPath(c).Dir())
	if d == "." {
		d = ""
	}
	return d, store.RecordPath(c).Base()
}

func (s *MemoryRecordStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return fs.ErrClosed
	}
	return nil
}

// lookup returns the record for p. Caller holds s.mu.
func (s *MemoryRecordStore) lookup(op string, p store.RecordPath) (*record, error) {
	dir, name := split(p)
	d, ok := s.dirs[dir]
	if !ok {
		return nil, store.NotExist(op, string(p))
	}
	r, ok := d.records[name]
	if !ok {
		if _, isDir := d.subdirs[name]; isDir {
			return nil, &fs.PathError{Op: op, Path: string(p), Err: unix.EISDIR}
		}
		return nil, store.NotExist(op, string(p))
	}
	return r, nil
}

// bind adds name to the directory of p. Caller holds s.mu.
func (s *MemoryRecordStore) bind(op string, p store.RecordPath, r *record) error {
	dir, name := split(p)
	d, ok := s.dirs[dir]
	if !ok {
		return store.NotExist(op, string(p))
	}
	if _, taken := d.records[name]; taken {
		return store.Exist(op, string(p))
	}
	if _, taken := d.subdirs[name]; taken {
		return store.Exist(op, string(p))
	}
	d.records[name] = r
	r.nlink++
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

// ============================================================================
// Record Operations
// ============================================================================

func (s *MemoryRecordStore) CreateRecord(ctx context.Context, p store.RecordPath, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.bind("create", p, &record{data: clone(data)})
}

func (s *MemoryRecordStore) ReadRecord(ctx context.Context, p store.RecordPath) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	r, err := s.lookup("read", p)
	if err != nil {
		return nil, err
	}
	if len(r.data) == 0 {
		return nil, &fs.PathError{Op: "read", Path: string(p), Err: store.ErrEmptyRecord}
	}
	return clone(r.data), nil
}

func (s *MemoryRecordStore) WriteRecord(ctx context.Context, p store.RecordPath, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	r, err := s.lookup("write", p)
	if err != nil {
		return err
	}
	r.data = clone(data)
	return nil
}

func (s *MemoryRecordStore) Link(ctx context.Context, from, to store.RecordPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	r, err := s.lookup("link", from)
	if err != nil {
		return err
	}
	return s.bind("link", to, r)
}

func (s *MemoryRecordStore) Rename(ctx context.Context, from, to store.RecordPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	r, err := s.lookup("rename", from)
	if err != nil {
		return err
	}
	toDir, toName := split(to)
	td, ok := s.dirs[toDir]
	if !ok {
		return store.NotExist("rename", string(to))
	}
	if _, isDir := td.subdirs[toName]; isDir {
		return &fs.PathError{Op: "rename", Path: string(to), Err: unix.EISDIR}
	}

	fromDir, fromName := split(from)
	if fromDir == toDir && fromName == toName {
		return nil
	}
	if old, ok := td.records[toName]; ok {
		if old == r {
			// POSIX: renaming onto another link of the same record is a no-op.
			return nil
		}
		old.nlink--
	}
	td.records[toName] = r
	delete(s.dirs[fromDir].records, fromName)
	return nil
}

func (s *MemoryRecordStore) Remove(ctx context.Context, p store.RecordPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	r, err := s.lookup("remove", p)
	if err != nil {
		return err
	}
	dir, name := split(p)
	delete(s.dirs[dir].records, name)
	r.nlink--
	return nil
}

func (s *MemoryRecordStore) Exists(ctx context.Context, p store.RecordPath) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	dir, name := split(p)
	d, ok := s.dirs[dir]
	if !ok {
		return false, nil
	}
	_, ok = d.records[name]
	return ok, nil
}

func (s *MemoryRecordStore) LinkCount(ctx context.Context, p store.RecordPath) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	r, err := s.lookup("stat", p)
	if err != nil {
		return 0, err
	}
	return r.nlink, nil
}

// ============================================================================
// Directory Operations
// ============================================================================

func (s *MemoryRecordStore) List(ctx context.Context, dir store.RecordDir, offset, limit int) ([]string, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, 0, err
	}
	d, ok := s.dirs[store.Clean(string(dir))]
	if !ok {
		return nil, 0, store.NotExist("readdir", string(dir))
	}

	names := make([]string, 0, len(d.records)+len(d.subdirs))
	for name := range d.records {
		names = append(names, name)
	}
	for name := range d.subdirs {
		names = append(names, name)
	}
	sort.Strings(names)

	page, next := store.Page(names, offset, limit)
	return page, next, nil
}

func (s *MemoryRecordStore) MkdirAll(ctx context.Context, dir store.RecordDir) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.mkdirAllLocked(store.Clean(string(dir)))
}

func (s *MemoryRecordStore) mkdirAllLocked(dir string) error {
	if _, ok := s.dirs[dir]; ok {
		return nil
	}
	parent, name := split(store.RecordPath(dir))
	if err := s.mkdirAllLocked(parent); err != nil {
		return err
	}
	pd := s.dirs[parent]
	if _, isRecord := pd.records[name]; isRecord {
		return store.NotDir("mkdir", dir)
	}
	pd.subdirs[name] = struct{}{}
	s.dirs[dir] = newDirectory()
	return nil
}

func (s *MemoryRecordStore) RemoveDir(ctx context.Context, dir store.RecordDir) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	c := store.Clean(string(dir))
	d, ok := s.dirs[c]
	if !ok || c == "" {
		return store.NotExist("rmdir", string(dir))
	}
	if len(d.records) > 0 || len(d.subdirs) > 0 {
		return store.NotEmpty("rmdir", string(dir))
	}
	parent, name := split(store.RecordPath(c))
	delete(s.dirs[parent].subdirs, name)
	delete(s.dirs, c)
	return nil
}

// ============================================================================
// Extended Attributes
// ============================================================================

func (s *MemoryRecordStore) GetXattr(ctx context.Context, p store.RecordPath, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	r, err := s.lookup("getxattr", p)
	if err != nil {
		return nil, err
	}
	v, ok := r.xattrs[name]
	if !ok {
		return nil, store.NoData("getxattr", string(p))
	}
	return clone(v), nil
}

func (s *MemoryRecordStore) SetXattr(ctx context.Context, p store.RecordPath, name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	r, err := s.lookup("setxattr", p)
	if err != nil {
		return err
	}
	if r.xattrs == nil {
		r.xattrs = make(map[string][]byte)
	}
	r.xattrs[name] = clone(value)
	return nil
}

func (s *MemoryRecordStore) ListXattrs(ctx context.Context, p store.RecordPath) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	r, err := s.lookup("listxattr", p)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(r.xattrs))
	for name := range r.xattrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryRecordStore) RemoveXattr(ctx context.Context, p store.RecordPath, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	r, err := s.lookup("removexattr", p)
	if err != nil {
		return err
	}
	if _, ok := r.xattrs[name]; !ok {
		return store.NoData("removexattr", string(p))
	}
	delete(r.xattrs, name)
	return nil
}

// Healthcheck reports an error once the store is closed.
func (s *MemoryRecordStore) Healthcheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

// Close releases all records. Subsequent calls fail with fs.ErrClosed.
func (s *MemoryRecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.dirs = nil
	return nil
}
