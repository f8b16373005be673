package inode

import (
	"context"
	"time"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/replication"
)

// LinkByIDToInode hard links the by-ID record of an inlined file to the
// standalone inode path of entryID. The record keeps its content; the next
// store of the inode rewrites it in the standalone format.
func (d *DentryStore) LinkByIDToInode(ctx context.Context, entryID string) error {
	bucket := d.st.Layout.InodeBucket(entryID)
	if err := d.st.Records.MkdirAll(ctx, bucket); err != nil {
		return errors.FromOS(err, string(bucket))
	}

	from, to := d.ByIDPath(entryID), d.st.Layout.InodePath(entryID)
	if err := d.st.Records.Link(ctx, from, to); err != nil {
		return errors.FromOS(err, string(to))
	}
	d.st.modified(ctx, d.mirrored, to, replication.KindInode)
	return nil
}

// ReferenceFile references an inlined file inode of the directory, loading
// it when absent. A standalone inode fails with InodeNotInlined.
func (d *DirInode) ReferenceFile(ctx context.Context, info metadata.EntryInfo) (*FileInode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.files.Reference(ctx, info, true)
}

// FileUnlink is the outcome of removing a file name from a directory.
type FileUnlink struct {
	// Entry is the removed dentry. For inlined files it carries the inode
	// data as it was before the unlink.
	Entry *metadata.DirEntry

	// Busy is set when the inlined inode was still referenced. Its record
	// was moved to the standalone inode path and its link count decremented.
	// The live object is still held by the directory's file store.
	Busy *FileInode

	// LinksLeft is set when the inlined inode keeps other names.
	LinksLeft bool
}

// UnlinkFile removes the file called name.
//
// A standalone inode is not touched: only the name is removed and the
// caller adjusts the inode. An unreferenced inlined inode is removed with
// its dentry. A referenced inlined inode is first linked to its standalone
// path so that open sessions keep a backing record.
func (d *DirInode) UnlinkFile(ctx context.Context, name string, now time.Time) (FileUnlink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.loadLocked(ctx); err != nil {
		return FileUnlink{}, err
	}
	e, err := d.dentries.Lookup(ctx, name)
	if err != nil {
		return FileUnlink{}, err
	}
	if e.Type.IsDir() {
		return FileUnlink{}, errors.NewIsDirectoryError(name)
	}

	if !e.IsInlined() {
		removed, err := d.unlinkEntryLocked(ctx, name, false, now)
		return FileUnlink{Entry: removed}, err
	}
	return d.unlinkInlinedLocked(ctx, e, true, now)
}

// UnlinkOverwritten removes the inode of an entry whose name was replaced by
// a rename. Only inlined inodes are handled here; the by-ID link is the last
// on-disk name of their record.
func (d *DirInode) UnlinkOverwritten(ctx context.Context, e *metadata.DirEntry, now time.Time) (FileUnlink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !e.IsInlined() {
		return FileUnlink{Entry: e}, nil
	}
	if err := d.loadLocked(ctx); err != nil {
		return FileUnlink{}, err
	}
	return d.unlinkInlinedLocked(ctx, e, false, now)
}

func (d *DirInode) unlinkInlinedLocked(ctx context.Context, e *metadata.DirEntry, removeName bool, now time.Time) (FileUnlink, error) {
	d.files.mu.Lock()
	defer d.files.mu.Unlock()

	if err := d.files.isUnlinkableLocked(ctx, e.EntryID); err != nil && !errors.IsInUse(err) {
		return FileUnlink{}, err
	}
	ref := d.files.inodes[e.EntryID]

	removeNames := func(unlinkByID bool) error {
		if removeName {
			_, err := d.unlinkEntryLocked(ctx, e.Name, unlinkByID, now)
			return err
		}
		if !unlinkByID {
			return nil
		}
		return d.dentries.RemoveByID(ctx, e.EntryID)
	}

	if e.Inode != nil && e.Inode.Stat.NumHardlinks > 1 {
		// Older releases created inlined hard links inside one directory.
		if err := removeNames(false); err != nil {
			return FileUnlink{}, err
		}
		var err error
		if ref != nil {
			err = ref.inode.IncDecLinkCount(ctx, -1, now)
		} else {
			e.Inode.Stat.NumHardlinks--
			e.Inode.Stat.CTime = now.Unix()
			_, err = d.st.StoreFileInode(ctx, d.id, e, true)
		}
		return FileUnlink{Entry: e, LinksLeft: true}, err
	}

	if ref == nil {
		if err := removeNames(true); err != nil {
			return FileUnlink{}, err
		}
		return FileUnlink{Entry: e}, nil
	}

	if err := d.dentries.LinkByIDToInode(ctx, e.EntryID); err != nil {
		return FileUnlink{}, err
	}
	if err := removeNames(true); err != nil {
		if rmErr := d.st.RemoveFileInode(ctx, e.EntryID, e.IsBuddyMirrored()); rmErr != nil {
			logger.BugCtx(ctx, "Failed to unwind inode link of busy file",
				logger.DirID(d.id), logger.EntryID(e.EntryID), logger.Err(rmErr))
		}
		return FileUnlink{}, err
	}

	busy := ref.inode
	busy.SetInlined(false)
	if err := busy.IncDecLinkCount(ctx, -1, now); err != nil {
		logger.WarnCtx(ctx, "Failed to persist link count of unlinked busy file",
			logger.DirID(d.id), logger.EntryID(e.EntryID), logger.Err(err))
	}
	return FileUnlink{Entry: e, Busy: busy}, nil
}

// ForEach calls fn for every referenced directory while holding the store
// lock. fn must not call back into the store.
func (s *DirStore) ForEach(fn func(*DirInode)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range s.dirs {
		fn(ref.dir)
	}
}
