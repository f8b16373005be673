// Package badger implements the record store on top of BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/pkg/metadata/store"
	"golang.org/x/sys/unix"
)

// Config configures a BadgerDB record store.
type Config struct {
	Path       string
	SyncWrites bool
	InMemory   bool
}

// BadgerRecordStore is a RecordStore backed by BadgerDB.
type BadgerRecordStore struct {
	db  *badgerdb.DB
	seq *badgerdb.Sequence
}

var _ store.RecordStore = (*BadgerRecordStore)(nil)

// NewBadgerRecordStore opens the database at cfg.Path (or an in-memory
// database when cfg.InMemory is set).
func NewBadgerRecordStore(ctx context.Context, cfg Config) (*BadgerRecordStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := cfg.Path
	if cfg.InMemory {
		path = ""
	} else if path == "" {
		return nil, errors.New("badger path is required")
	}

	opts := badgerdb.DefaultOptions(path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	seq, err := db.GetSequence([]byte(keyNodeSequence), 256)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open node sequence: %w", err)
	}

	logger.Info("Record store opened",
		logger.StoreType("badger"),
		logger.Path(path),
		"in_memory", cfg.InMemory,
		"sync_writes", cfg.SyncWrites)

	return &BadgerRecordStore{db: db, seq: seq}, nil
}

// update runs fn in a read-write transaction, retrying on transaction
// conflicts with concurrent writers.
func (s *BadgerRecordStore) update(ctx context.Context, fn func(t txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return retry.Do(
		func() error {
			return s.db.Update(func(btx *badgerdb.Txn) error {
				return fn(txn{btx})
			})
		},
		retry.Attempts(5),
		retry.Delay(time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return errors.Is(err, badgerdb.ErrConflict) }),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

func (s *BadgerRecordStore) view(ctx context.Context, fn func(t txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *badgerdb.Txn) error {
		return fn(txn{btx})
	})
}

func split(p string) (dir, name string) {
	c := store.Clean(p)
	i := strings.LastIndexByte(c, '/')
	if i < 0 {
		return "", c
	}
	return c[:i], c[i+1:]
}

// ============================================================================
// Transaction Helpers
// ============================================================================

type txn struct {
	*badgerdb.Txn
}

func (t txn) value(key []byte) ([]byte, bool, error) {
	item, err := t.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := item.ValueCopy(nil)
	return v, true, err
}

func (t txn) entry(dir, name string) (entryValue, bool, error) {
	b, ok, err := t.value(keyEntry(dir, name))
	if err != nil || !ok {
		return entryValue{}, ok, err
	}
	v, err := decodeEntry(b)
	return v, true, err
}

func (t txn) dirExists(dir string) (bool, error) {
	if dir == "" {
		return true, nil
	}
	parent, name := split(dir)
	v, ok, err := t.entry(parent, name)
	if err != nil || !ok {
		return false, err
	}
	return v.kind == entryKindDir, nil
}

// record resolves p to its node.
func (t txn) record(op, p string) (uint64, error) {
	dir, name := split(p)
	v, ok, err := t.entry(dir, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, store.NotExist(op, p)
	}
	if v.kind != entryKindRecord {
		return 0, &iofs.PathError{Op: op, Path: p, Err: unix.EISDIR}
	}
	return v.node, nil
}

func (t txn) linkCount(node uint64) (uint32, error) {
	b, ok, err := t.value(keyLinkCount(node))
	if err != nil || !ok {
		return 0, err
	}
	return decodeUint32(b)
}

// bind adds a name for node and increments its link count.
func (t txn) bind(op, p string, node uint64) error {
	dir, name := split(p)
	exists, err := t.dirExists(dir)
	if err != nil {
		return err
	}
	if !exists {
		return store.NotExist(op, p)
	}
	if _, taken, err := t.entry(dir, name); err != nil {
		return err
	} else if taken {
		return store.Exist(op, p)
	}

	n, err := t.linkCount(node)
	if err != nil {
		return err
	}
	if err := t.Set(keyLinkCount(node), encodeUint32(n+1)); err != nil {
		return err
	}
	return t.Set(keyEntry(dir, name), encodeEntry(entryValue{kind: entryKindRecord, node: node}))
}

// unref decrements the link count of node and frees it at zero.
func (t txn) unref(node uint64) error {
	n, err := t.linkCount(node)
	if err != nil {
		return err
	}
	if n > 1 {
		return t.Set(keyLinkCount(node), encodeUint32(n-1))
	}

	if err := t.Delete(keyRecord(node)); err != nil {
		return err
	}
	if err := t.Delete(keyLinkCount(node)); err != nil {
		return err
	}
	keys, err := t.keys(keyXattrPrefix(node))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := t.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// keys returns copies of all keys with prefix, in order.
func (t txn) keys(prefix []byte) ([][]byte, error) {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := t.NewIterator(opts)
	defer it.Close()

	var out [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
	}
	return out, nil
}

// ============================================================================
// Record Operations
// ============================================================================

func (s *BadgerRecordStore) CreateRecord(ctx context.Context, p store.RecordPath, data []byte) error {
	id, err := s.seq.Next()
	if err != nil {
		return err
	}
	node := id + 1

	return s.update(ctx, func(t txn) error {
		if err := t.bind("create", string(p), node); err != nil {
			return err
		}
		return t.Set(keyRecord(node), append([]byte(nil), data...))
	})
}

func (s *BadgerRecordStore) ReadRecord(ctx context.Context, p store.RecordPath) ([]byte, error) {
	var data []byte
	err := s.view(ctx, func(t txn) error {
		node, err := t.record("read", string(p))
		if err != nil {
			return err
		}
		data, _, err = t.value(keyRecord(node))
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &iofs.PathError{Op: "read", Path: string(p), Err: store.ErrEmptyRecord}
	}
	return data, nil
}

func (s *BadgerRecordStore) WriteRecord(ctx context.Context, p store.RecordPath, data []byte) error {
	return s.update(ctx, func(t txn) error {
		node, err := t.record("write", string(p))
		if err != nil {
			return err
		}
		return t.Set(keyRecord(node), append([]byte(nil), data...))
	})
}

func (s *BadgerRecordStore) Link(ctx context.Context, from, to store.RecordPath) error {
	return s.update(ctx, func(t txn) error {
		node, err := t.record("link", string(from))
		if err != nil {
			return err
		}
		return t.bind("link", string(to), node)
	})
}

func (s *BadgerRecordStore) Rename(ctx context.Context, from, to store.RecordPath) error {
	return s.update(ctx, func(t txn) error {
		node, err := t.record("rename", string(from))
		if err != nil {
			return err
		}

		toDir, toName := split(string(to))
		exists, err := t.dirExists(toDir)
		if err != nil {
			return err
		}
		if !exists {
			return store.NotExist("rename", string(to))
		}

		fromDir, fromName := split(string(from))
		if fromDir == toDir && fromName == toName {
			return nil
		}

		old, taken, err := t.entry(toDir, toName)
		if err != nil {
			return err
		}
		if taken {
			if old.kind == entryKindDir {
				return &iofs.PathError{Op: "rename", Path: string(to), Err: unix.EISDIR}
			}
			if old.node == node {
				return nil
			}
			if err := t.unref(old.node); err != nil {
				return err
			}
		}

		if err := t.Set(keyEntry(toDir, toName), encodeEntry(entryValue{kind: entryKindRecord, node: node})); err != nil {
			return err
		}
		return t.Delete(keyEntry(fromDir, fromName))
	})
}

func (s *BadgerRecordStore) Remove(ctx context.Context, p store.RecordPath) error {
	return s.update(ctx, func(t txn) error {
		node, err := t.record("remove", string(p))
		if err != nil {
			return err
		}
		dir, name := split(string(p))
		if err := t.Delete(keyEntry(dir, name)); err != nil {
			return err
		}
		return t.unref(node)
	})
}

func (s *BadgerRecordStore) Exists(ctx context.Context, p store.RecordPath) (bool, error) {
	var found bool
	err := s.view(ctx, func(t txn) error {
		dir, name := split(string(p))
		v, ok, err := t.entry(dir, name)
		found = ok && v.kind == entryKindRecord
		return err
	})
	return found, err
}

func (s *BadgerRecordStore) LinkCount(ctx context.Context, p store.RecordPath) (uint32, error) {
	var n uint32
	err := s.view(ctx, func(t txn) error {
		node, err := t.record("stat", string(p))
		if err != nil {
			return err
		}
		n, err = t.linkCount(node)
		return err
	})
	return n, err
}

// ============================================================================
// Directory Operations
// ============================================================================

func (s *BadgerRecordStore) List(ctx context.Context, dir store.RecordDir, offset, limit int) ([]string, int, error) {
	d := store.Clean(string(dir))
	var names []string
	err := s.view(ctx, func(t txn) error {
		exists, err := t.dirExists(d)
		if err != nil {
			return err
		}
		if !exists {
			return store.NotExist("readdir", string(dir))
		}

		prefix := keyEntryPrefix(d)
		keys, err := t.keys(prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			names = append(names, string(k[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	page, next := store.Page(names, offset, limit)
	return page, next, nil
}

func (s *BadgerRecordStore) MkdirAll(ctx context.Context, dir store.RecordDir) error {
	d := store.Clean(string(dir))
	if d == "" {
		return nil
	}
	return s.update(ctx, func(t txn) error {
		parent := ""
		for _, name := range strings.Split(d, "/") {
			v, ok, err := t.entry(parent, name)
			if err != nil {
				return err
			}
			current := name
			if parent != "" {
				current = parent + "/" + name
			}
			if ok && v.kind != entryKindDir {
				return store.NotDir("mkdir", current)
			}
			if !ok {
				if err := t.Set(keyEntry(parent, name), encodeEntry(entryValue{kind: entryKindDir})); err != nil {
					return err
				}
			}
			parent = current
		}
		return nil
	})
}

func (s *BadgerRecordStore) RemoveDir(ctx context.Context, dir store.RecordDir) error {
	d := store.Clean(string(dir))
	if d == "" {
		return &iofs.PathError{Op: "rmdir", Path: string(dir), Err: unix.EBUSY}
	}
	return s.update(ctx, func(t txn) error {
		exists, err := t.dirExists(d)
		if err != nil {
			return err
		}
		if !exists {
			return store.NotExist("rmdir", string(dir))
		}

		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := keyEntryPrefix(d)
		opts.Prefix = prefix
		it := t.NewIterator(opts)
		it.Seek(prefix)
		nonEmpty := it.ValidForPrefix(prefix)
		it.Close()
		if nonEmpty {
			return store.NotEmpty("rmdir", string(dir))
		}

		parent, name := split(d)
		return t.Delete(keyEntry(parent, name))
	})
}

// ============================================================================
// Extended Attributes
// ============================================================================

func (s *BadgerRecordStore) GetXattr(ctx context.Context, p store.RecordPath, name string) ([]byte, error) {
	var v []byte
	err := s.view(ctx, func(t txn) error {
		node, err := t.record("getxattr", string(p))
		if err != nil {
			return err
		}
		var ok bool
		v, ok, err = t.value(keyXattr(node, name))
		if err == nil && !ok {
			return store.NoData("getxattr", string(p))
		}
		return err
	})
	return v, err
}

func (s *BadgerRecordStore) SetXattr(ctx context.Context, p store.RecordPath, name string, value []byte) error {
	return s.update(ctx, func(t txn) error {
		node, err := t.record("setxattr", string(p))
		if err != nil {
			return err
		}
		return t.Set(keyXattr(node, name), append([]byte(nil), value...))
	})
}

func (s *BadgerRecordStore) ListXattrs(ctx context.Context, p store.RecordPath) ([]string, error) {
	var names []string
	err := s.view(ctx, func(t txn) error {
		node, err := t.record("listxattr", string(p))
		if err != nil {
			return err
		}
		prefix := keyXattrPrefix(node)
		keys, err := t.keys(prefix)
		if err != nil {
			return err
		}
		names = make([]string, 0, len(keys))
		for _, k := range keys {
			names = append(names, string(k[len(prefix):]))
		}
		return nil
	})
	return names, err
}

func (s *BadgerRecordStore) RemoveXattr(ctx context.Context, p store.RecordPath, name string) error {
	return s.update(ctx, func(t txn) error {
		node, err := t.record("removexattr", string(p))
		if err != nil {
			return err
		}
		_, ok, err := t.value(keyXattr(node, name))
		if err != nil {
			return err
		}
		if !ok {
			return store.NoData("removexattr", string(p))
		}
		return t.Delete(keyXattr(node, name))
	})
}

// Healthcheck verifies the database can serve a read transaction.
func (s *BadgerRecordStore) Healthcheck(ctx context.Context) error {
	if err := s.view(ctx, func(txn) error { return nil }); err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

// Close releases the node sequence and closes the database.
func (s *BadgerRecordStore) Close() error {
	if err := s.seq.Release(); err != nil {
		logger.Warn("Failed to release node sequence", logger.Err(err))
	}
	return s.db.Close()
}
