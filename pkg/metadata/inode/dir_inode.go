package inode

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
)

// DirInode is the live object of one directory. It owns the directory's
// dentry store and the store of its inlined file inodes.
//
// A DirInode is inserted into the DirStore before its inode record is read;
// methods load it on first use.
type DirInode struct {
	mu sync.RWMutex

	id       string
	st       *Storage
	data     *metadata.DirInodeData
	loaded   bool
	dentries *DentryStore
	files    *FileStore

	// exclusive is guarded by the DirStore mutex.
	exclusive MoverToken
}

func newDirInode(st *Storage, id string) *DirInode {
	return &DirInode{
		id:       id,
		st:       st,
		dentries: NewDentryStore(st, id, false),
		files:    newDirFileStore(st),
	}
}

func newLoadedDirInode(st *Storage, data *metadata.DirInodeData) *DirInode {
	d := newDirInode(st, data.ID)
	d.data = data
	d.loaded = true
	d.dentries.SetBuddyMirrored(data.IsBuddyMirrored())
	return d
}

// ID returns the directory ID.
func (d *DirInode) ID() string { return d.id }

// Files returns the store of inlined file inodes of the directory.
func (d *DirInode) Files() *FileStore { return d.files }

// IsLoaded reports whether the inode record was read.
func (d *DirInode) IsLoaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// LoadIfNotLoaded reads the inode record on first use.
func (d *DirInode) LoadIfNotLoaded(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadLocked(ctx)
}

func (d *DirInode) loadLocked(ctx context.Context) error {
	if d.loaded {
		return nil
	}
	data, err := d.st.LoadDirInode(ctx, d.id)
	if err != nil {
		return err
	}
	d.data = data
	d.loaded = true
	d.dentries.SetBuddyMirrored(data.IsBuddyMirrored())
	return nil
}

// Data returns a copy of the inode data.
func (d *DirInode) Data(ctx context.Context) (*metadata.DirInodeData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadLocked(ctx); err != nil {
		return nil, err
	}
	return d.data.Clone(), nil
}

func (d *DirInode) IsBuddyMirrored() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded && d.data.IsBuddyMirrored()
}

func (d *DirInode) numEntriesLocked() uint32 {
	return d.data.NumSubdirs + d.data.NumFiles
}

// Stat returns the stat data of the directory. The link count is two plus
// the number of sub-directories and the size is the number of entries.
func (d *DirInode) Stat(ctx context.Context) (metadata.StatData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadLocked(ctx); err != nil {
		return metadata.StatData{}, err
	}
	return dirStat(d.data), nil
}

func dirStat(data *metadata.DirInodeData) metadata.StatData {
	stat := data.Stat.Clone()
	stat.NumHardlinks = data.NLink()
	stat.Size = int64(data.NumSubdirs) + int64(data.NumFiles)
	return stat
}

func (d *DirInode) storeLocked(ctx context.Context) error {
	return d.st.StoreDirInode(ctx, d.data)
}

func (d *DirInode) touchLocked(now time.Time) {
	d.data.Stat.MTime = now.Unix()
	d.data.Stat.CTime = now.Unix()
}

func (d *DirInode) adjustCountsLocked(t metadata.EntryType, delta int) {
	counter := &d.data.NumFiles
	if t.IsDir() {
		counter = &d.data.NumSubdirs
	}
	if delta < 0 && *counter == 0 {
		logger.Warn("Directory entry counter already zero", logger.DirID(d.id), logger.EntryType(t.String()))
		return
	}
	*counter = uint32(int64(*counter) + int64(delta))
}

// ============================================================================
// Lookup
// ============================================================================

// Lookup reads the dentry called name.
func (d *DirInode) Lookup(ctx context.Context, name string) (*metadata.DirEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dentries.Lookup(ctx, name)
}

// LookupByID reads the by-ID dentry of an inlined file.
func (d *DirInode) LookupByID(ctx context.Context, entryID string) (*metadata.DirEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dentries.LookupByID(ctx, entryID)
}

// List returns up to limit names starting at offset.
func (d *DirInode) List(ctx context.Context, offset, limit int) ([]string, int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dentries.List(ctx, offset, limit)
}

// Entries reads every dentry of the directory.
func (d *DirInode) Entries(ctx context.Context) ([]*metadata.DirEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dentries.Entries(ctx)
}

// ============================================================================
// Entry Mutation
// ============================================================================

// MakeEntry creates a dentry and accounts for it. When persisting the
// directory inode fails the dentry is removed again.
func (d *DirInode) MakeEntry(ctx context.Context, e *metadata.DirEntry, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.loadLocked(ctx); err != nil {
		return err
	}
	if err := d.dentries.Create(ctx, e); err != nil {
		return err
	}

	d.adjustCountsLocked(e.Type, 1)
	d.touchLocked(now)
	if err := d.storeLocked(ctx); err != nil {
		d.adjustCountsLocked(e.Type, -1)
		if _, rmErr := d.dentries.Remove(ctx, e.Name, true); rmErr != nil {
			logger.BugCtx(ctx, "Failed to unwind dentry creation",
				logger.DirID(d.id), logger.Name(e.Name), logger.Err(rmErr))
		}
		return err
	}
	return nil
}

// LinkFilesInDir adds toName as another name of the non-inlined file called
// fromName.
func (d *DirInode) LinkFilesInDir(ctx context.Context, fromName, toName string, now time.Time) (*metadata.DirEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.loadLocked(ctx); err != nil {
		return nil, err
	}
	link, err := d.dentries.CreateHardlink(ctx, fromName, toName)
	if err != nil {
		return nil, err
	}

	d.adjustCountsLocked(link.Type, 1)
	d.touchLocked(now)
	if err := d.storeLocked(ctx); err != nil {
		d.adjustCountsLocked(link.Type, -1)
		if _, rmErr := d.dentries.Remove(ctx, toName, false); rmErr != nil {
			logger.BugCtx(ctx, "Failed to unwind hard link",
				logger.DirID(d.id), logger.Name(toName), logger.Err(rmErr))
		}
		return nil, err
	}
	return link, nil
}

// UnlinkEntry removes the dentry called name and returns it. With
// unlinkByID the by-ID link of an inlined file is removed as well.
func (d *DirInode) UnlinkEntry(ctx context.Context, name string, unlinkByID bool, now time.Time) (*metadata.DirEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unlinkEntryLocked(ctx, name, unlinkByID, now)
}

func (d *DirInode) unlinkEntryLocked(ctx context.Context, name string, unlinkByID bool, now time.Time) (*metadata.DirEntry, error) {
	if err := d.loadLocked(ctx); err != nil {
		return nil, err
	}
	e, err := d.dentries.Remove(ctx, name, unlinkByID)
	if err != nil {
		return e, err
	}

	d.adjustCountsLocked(e.Type, -1)
	d.touchLocked(now)
	if err := d.storeLocked(ctx); err != nil {
		// The dentry is gone; a stale counter is repaired by the next
		// successful store.
		logger.WarnCtx(ctx, "Failed to persist directory after unlink",
			logger.DirID(d.id), logger.Name(name), logger.Err(err))
		return e, err
	}
	return e, nil
}

// RemoveDirEntry removes the dentry of the sub-directory called name.
func (d *DirInode) RemoveDirEntry(ctx context.Context, name string, now time.Time) (*metadata.DirEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.dentries.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if !e.Type.IsDir() {
		return nil, errors.NewNotDirectoryError(name)
	}
	return d.unlinkEntryLocked(ctx, name, false, now)
}

// RemoveByID removes the by-ID link of entryID.
func (d *DirInode) RemoveByID(ctx context.Context, entryID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dentries.RemoveByID(ctx, entryID)
}

// LinkByIDToName recreates the by-ID link of the record called name.
func (d *DirInode) LinkByIDToName(ctx context.Context, entryID, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dentries.LinkByIDToName(ctx, entryID, name)
}

// LinkInodeToDir anchors an arbitrary record under name. Used by the
// disposal directories, where names are entry IDs.
func (d *DirInode) LinkInodeToDir(ctx context.Context, entryID string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.loadLocked(ctx); err != nil {
		return err
	}
	if err := d.dentries.LinkRecord(ctx, d.st.Layout.InodePath(entryID), entryID); err != nil {
		return err
	}
	d.adjustCountsLocked(metadata.EntryTypeRegularFile, 1)
	d.touchLocked(now)
	return d.storeLocked(ctx)
}

// UpdateEntry rewrites the dentry of e in place.
func (d *DirInode) UpdateEntry(ctx context.Context, e *metadata.DirEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dentries.Update(ctx, e)
}

// RenameResult describes a rename inside one directory.
type RenameResult struct {
	// Moved is the renamed entry under its new name.
	Moved *metadata.DirEntry

	// Overwritten is the entry that previously held the target name, if
	// any. Its inode still has to be unlinked by the caller.
	Overwritten *metadata.DirEntry
}

// RenameEntry renames from to to. Renaming onto an entry with the same ID
// succeeds without changes. Overwriting is only allowed between two
// non-directories; a directory target must be removed by the caller first.
func (d *DirInode) RenameEntry(ctx context.Context, from, to string, now time.Time) (RenameResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.loadLocked(ctx); err != nil {
		return RenameResult{}, err
	}

	src, err := d.dentries.Lookup(ctx, from)
	if err != nil {
		return RenameResult{}, err
	}
	if from == to {
		return RenameResult{Moved: src}, nil
	}

	dst, err := d.dentries.Lookup(ctx, to)
	switch {
	case errors.IsPathNotExists(err):
		dst = nil
	case err != nil:
		return RenameResult{}, err
	case dst.EntryID == src.EntryID:
		return RenameResult{Moved: src}, nil
	case src.Type.IsDir() && !dst.Type.IsDir():
		return RenameResult{}, errors.NewNotDirectoryError(to)
	case !src.Type.IsDir() && dst.Type.IsDir():
		return RenameResult{}, errors.NewIsDirectoryError(to)
	case dst.Type.IsDir():
		return RenameResult{}, errors.NewNotEmptyError(to)
	}

	if err := d.dentries.Rename(ctx, from, to); err != nil {
		return RenameResult{}, err
	}

	if dst != nil {
		d.adjustCountsLocked(dst.Type, -1)
	}
	d.touchLocked(now)
	if err := d.storeLocked(ctx); err != nil {
		logger.WarnCtx(ctx, "Failed to persist directory after rename",
			logger.DirID(d.id), logger.Name(from), logger.NewName(to), logger.Err(err))
	}

	src.Name = to
	return RenameResult{Moved: src, Overwritten: dst}, nil
}

// ============================================================================
// Directory Attributes
// ============================================================================

// SetAttr applies req to the directory and persists it.
func (d *DirInode) SetAttr(ctx context.Context, req metadata.SetAttrRequest, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.loadLocked(ctx); err != nil {
		return err
	}
	old := d.data.Stat.Clone()
	if !req.Apply(&d.data.Stat, now) {
		return nil
	}
	d.data.Stat.CTime = now.Unix()
	if err := d.storeLocked(ctx); err != nil {
		d.data.Stat = old
		return err
	}
	return nil
}

// SetParent records that the directory was moved below parentID.
func (d *DirInode) SetParent(ctx context.Context, parentID string, parentNode metadata.NodeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.loadLocked(ctx); err != nil {
		return err
	}
	oldID, oldNode := d.data.ParentDirID, d.data.ParentNodeID
	d.data.ParentDirID, d.data.ParentNodeID = parentID, parentNode
	if err := d.storeLocked(ctx); err != nil {
		d.data.ParentDirID, d.data.ParentNodeID = oldID, oldNode
		return err
	}
	return nil
}

// SetBuddyMirrored changes the mirror flag of the directory inode and its
// dentry store and persists it. Entries are not touched.
func (d *DirInode) SetBuddyMirrored(ctx context.Context, mirrored bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.loadLocked(ctx); err != nil {
		return err
	}
	wasMirrored := d.data.IsBuddyMirrored()
	d.data.SetBuddyMirrored(mirrored)
	d.data.OwnerNodeID = d.st.LocalOwner(mirrored)
	d.dentries.SetBuddyMirrored(mirrored)
	if err := d.storeLocked(ctx); err != nil {
		d.data.SetBuddyMirrored(wasMirrored)
		d.data.OwnerNodeID = d.st.LocalOwner(wasMirrored)
		d.dentries.SetBuddyMirrored(wasMirrored)
		return err
	}
	return nil
}

// DefaultPattern returns a copy of the stripe pattern new files inherit.
func (d *DirInode) DefaultPattern(ctx context.Context) (metadata.StripePattern, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadLocked(ctx); err != nil {
		return nil, err
	}
	return metadata.ClonePattern(d.data.Pattern), nil
}
