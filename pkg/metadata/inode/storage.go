// Package inode implements the live in-memory objects of the metadata
// engine and the reference-counted stores that own them.
//
// A FileInode lives either in the FileStore embedded in its parent DirInode
// (while its inode data is inlined in the dentry) or in the global FileStore
// (once it was de-inlined). DirInodes live in the DirStore, which keeps a
// bounded soft cache of recently referenced directories.
//
// Reference counting is explicit: every successful Reference must be matched
// by exactly one Release. Releasing an object the store does not know is a
// bug and is logged as such.
package inode

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/codec"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/lock"
	"github.com/marmos91/dittometa/pkg/metadata/replication"
	"github.com/marmos91/dittometa/pkg/metadata/store"
	"github.com/marmos91/dittometa/pkg/metrics"
)

// Storage bundles the persistence dependencies shared by all stores of one
// metadata node.
type Storage struct {
	Records store.RecordStore
	Codec   *codec.Codec
	Layout  store.Layout

	// Hook is notified of every durable change of a buddy-mirrored record.
	Hook replication.Hook

	// Locks configures the lock state created for each file inode.
	Locks lock.Options

	Metrics *metrics.StoreMetrics
}

// LocalOwner returns the node ID that owns entities created on this node.
func (s *Storage) LocalOwner(mirrored bool) metadata.NodeID {
	if mirrored && s.Codec.Local.GroupID != 0 {
		return s.Codec.Local.GroupID
	}
	return s.Codec.Local.NodeID
}

func (s *Storage) modified(ctx context.Context, mirrored bool, p store.RecordPath, kind replication.Kind) {
	if mirrored && s.Hook != nil {
		s.Hook.OnModify(ctx, string(p), kind)
	}
}

func (s *Storage) deleted(ctx context.Context, mirrored bool, p store.RecordPath, kind replication.Kind) {
	if mirrored && s.Hook != nil {
		s.Hook.OnDelete(ctx, string(p), kind)
	}
}

// readRecord reads a record and heals records left empty by a crash between
// create and write: they are removed and reported as missing.
func (s *Storage) readRecord(ctx context.Context, p store.RecordPath) ([]byte, error) {
	data, err := s.Records.ReadRecord(ctx, p)
	if stderrors.Is(err, store.ErrEmptyRecord) {
		logger.WarnCtx(ctx, "Removing empty metadata record", logger.Path(string(p)))
		if rmErr := s.Records.Remove(ctx, p); rmErr != nil {
			logger.WarnCtx(ctx, "Failed to remove empty metadata record", logger.Path(string(p)), logger.Err(rmErr))
		}
		return nil, errors.NewPathNotExistsError(string(p))
	}
	if err != nil {
		return nil, errors.FromOS(err, string(p))
	}
	return data, nil
}

func (s *Storage) readEntry(ctx context.Context, p store.RecordPath) (*metadata.DirEntry, error) {
	data, err := s.readRecord(ctx, p)
	if err != nil {
		return nil, err
	}
	e, err := s.Codec.DecodeDentry(data)
	if err != nil {
		return nil, errors.NewInternalError(string(p), "cannot decode record", err)
	}
	return e, nil
}

// ============================================================================
// File Inodes
// ============================================================================

// LoadFileInode reads the inode of entryID. The location named by the
// inlined hint is tried first, then the other one. The returned flag tells
// where the inode was found.
func (s *Storage) LoadFileInode(ctx context.Context, parentID, entryID string, inlinedHint bool) (*metadata.DirEntry, bool, error) {
	tryInlined := func() (*metadata.DirEntry, error) {
		if parentID == "" {
			return nil, errors.NewPathNotExistsError(entryID)
		}
		e, err := s.readEntry(ctx, s.Layout.ByIDPath(parentID, entryID))
		if err != nil {
			return nil, err
		}
		if !e.IsInlined() || e.Inode == nil {
			return nil, errors.NewInodeNotInlinedError(entryID)
		}
		return e, nil
	}
	tryStandalone := func() (*metadata.DirEntry, error) {
		e, err := s.readEntry(ctx, s.Layout.InodePath(entryID))
		if err != nil {
			return nil, err
		}
		if e.Inode == nil {
			return nil, errors.NewInternalError(entryID, "inode record carries no inode data", nil)
		}
		return e, nil
	}

	first, second := tryStandalone, tryInlined
	if inlinedHint {
		first, second = tryInlined, tryStandalone
	}

	e, err := first()
	if err == nil {
		return e, inlinedHint, nil
	}
	if !errors.IsPathNotExists(err) && !errors.HasCode(err, errors.ErrInodeNotInlined) {
		return nil, false, err
	}

	e, err2 := second()
	if err2 == nil {
		return e, !inlinedHint, nil
	}
	if errors.HasCode(err2, errors.ErrInodeNotInlined) {
		return nil, false, errors.NewPathNotExistsError(entryID)
	}
	return nil, false, err2
}

// StoreFileInode persists e. An inlined inode is rewritten through its
// by-ID dentry. When that dentry is gone, the inode was de-inlined by
// another operation and is written standalone instead; the returned flag
// tells which placement was used.
func (s *Storage) StoreFileInode(ctx context.Context, parentID string, e *metadata.DirEntry, inlined bool) (bool, error) {
	mirrored := e.IsBuddyMirrored()

	if inlined {
		p := s.Layout.ByIDPath(parentID, e.EntryID)
		data, err := s.Codec.EncodeFileInode(e)
		if err != nil {
			return inlined, errors.NewInternalError(string(p), "cannot encode inode", err)
		}
		err = s.Records.WriteRecord(ctx, p, data)
		if err == nil {
			s.modified(ctx, mirrored, p, replication.KindDentry)
			return true, nil
		}
		if !errors.IsPathNotExists(errors.FromOS(err, string(p))) {
			return inlined, errors.FromOS(err, string(p))
		}

		logger.WarnCtx(ctx, "Inode not inlined anymore, storing standalone",
			logger.EntryID(e.EntryID), logger.ParentID(parentID))
		e.SetInlined(false)
	}

	p := s.Layout.InodePath(e.EntryID)
	data, err := s.Codec.EncodeFileInode(e)
	if err != nil {
		return false, errors.NewInternalError(string(p), "cannot encode inode", err)
	}
	if err := s.Records.WriteRecord(ctx, p, data); err != nil {
		return false, errors.FromOS(err, string(p))
	}
	s.modified(ctx, mirrored, p, replication.KindInode)
	return false, nil
}

// CreateFileInode creates the standalone inode record of e.
func (s *Storage) CreateFileInode(ctx context.Context, e *metadata.DirEntry) error {
	p := s.Layout.InodePath(e.EntryID)
	data, err := s.Codec.EncodeFileInode(e)
	if err != nil {
		return errors.NewInternalError(string(p), "cannot encode inode", err)
	}
	if err := s.Records.MkdirAll(ctx, s.Layout.InodeBucket(e.EntryID)); err != nil {
		return errors.FromOS(err, string(p))
	}
	if err := s.Records.CreateRecord(ctx, p, data); err != nil {
		return errors.FromOS(err, string(p))
	}
	s.modified(ctx, e.IsBuddyMirrored(), p, replication.KindInode)
	return nil
}

// RemoveFileInode unlinks the standalone inode record of entryID.
func (s *Storage) RemoveFileInode(ctx context.Context, entryID string, mirrored bool) error {
	p := s.Layout.InodePath(entryID)
	if err := s.Records.Remove(ctx, p); err != nil {
		return errors.FromOS(err, string(p))
	}
	s.deleted(ctx, mirrored, p, replication.KindInode)
	return nil
}

// StandaloneExists reports whether a standalone inode record exists.
func (s *Storage) StandaloneExists(ctx context.Context, entryID string) (bool, error) {
	p := s.Layout.InodePath(entryID)
	ok, err := s.Records.Exists(ctx, p)
	if err != nil {
		return false, errors.FromOS(err, string(p))
	}
	return ok, nil
}

// CopyUserXattrs copies every user extended attribute except the record
// attribute itself.
func (s *Storage) CopyUserXattrs(ctx context.Context, from, to store.RecordPath) error {
	names, err := s.Records.ListXattrs(ctx, from)
	if err != nil {
		return errors.FromOS(err, string(from))
	}
	for _, name := range names {
		if name == store.RecordXattr || !strings.HasPrefix(name, "user.") {
			continue
		}
		value, err := s.Records.GetXattr(ctx, from, name)
		if store.IsNoData(err) {
			continue
		}
		if err != nil {
			return errors.FromOS(err, string(from))
		}
		if err := s.Records.SetXattr(ctx, to, name, value); err != nil {
			return errors.FromOS(err, string(to))
		}
	}
	return nil
}

// ============================================================================
// Directory Inodes
// ============================================================================

// LoadDirInode reads the inode record of dirID.
func (s *Storage) LoadDirInode(ctx context.Context, dirID string) (*metadata.DirInodeData, error) {
	p := s.Layout.InodePath(dirID)
	data, err := s.readRecord(ctx, p)
	if err != nil {
		return nil, err
	}
	d, err := s.Codec.DecodeDirInode(data)
	if err != nil {
		return nil, errors.NewInternalError(string(p), "cannot decode directory inode", err)
	}
	d.ID = dirID
	return d, nil
}

// CreateDirInode creates the inode record of d.
func (s *Storage) CreateDirInode(ctx context.Context, d *metadata.DirInodeData) error {
	p := s.Layout.InodePath(d.ID)
	data, err := s.Codec.EncodeDirInode(d)
	if err != nil {
		return errors.NewInternalError(string(p), "cannot encode directory inode", err)
	}
	if err := s.Records.MkdirAll(ctx, s.Layout.InodeBucket(d.ID)); err != nil {
		return errors.FromOS(err, string(p))
	}
	if err := s.Records.CreateRecord(ctx, p, data); err != nil {
		return errors.FromOS(err, string(p))
	}
	s.modified(ctx, d.IsBuddyMirrored(), p, replication.KindDirectory)
	return nil
}

// StoreDirInode overwrites the inode record of d.
func (s *Storage) StoreDirInode(ctx context.Context, d *metadata.DirInodeData) error {
	p := s.Layout.InodePath(d.ID)
	data, err := s.Codec.EncodeDirInode(d)
	if err != nil {
		return errors.NewInternalError(string(p), "cannot encode directory inode", err)
	}
	if err := s.Records.WriteRecord(ctx, p, data); err != nil {
		return errors.FromOS(err, string(p))
	}
	s.modified(ctx, d.IsBuddyMirrored(), p, replication.KindDirectory)
	return nil
}

// RemoveDirInode unlinks the inode record of dirID.
func (s *Storage) RemoveDirInode(ctx context.Context, dirID string, mirrored bool) error {
	p := s.Layout.InodePath(dirID)
	if err := s.Records.Remove(ctx, p); err != nil {
		return errors.FromOS(err, string(p))
	}
	s.deleted(ctx, mirrored, p, replication.KindDirectory)
	return nil
}
