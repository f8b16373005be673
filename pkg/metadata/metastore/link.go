package metastore

import (
	"context"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/inode"
	"github.com/marmos91/dittometa/pkg/metrics"
)

// MoveMode selects the placement VerifyAndMoveFileInode establishes.
type MoveMode uint8

const (
	// MoveDeinline moves an inlined inode to its standalone record.
	MoveDeinline MoveMode = iota + 1

	// MoveReinline moves a standalone inode back into its dentry.
	MoveReinline
)

func (mode MoveMode) String() string {
	switch mode {
	case MoveDeinline:
		return "deinline"
	case MoveReinline:
		return "reinline"
	default:
		return "unknown"
	}
}

// ============================================================================
// Hard Links
// ============================================================================

// LinkInSameDir adds toName as another name of the file fromName of dirID.
// Hard linked inodes are always standalone, so an inlined inode is moved
// out of its dentry first.
func (m *MetaStore) LinkInSameDir(ctx context.Context, dirID, fromName, toName string) (_ *metadata.DirEntry, err error) {
	ctx, end := m.begin(ctx, "LinkInSameDir", telemetry.ParentID(dirID),
		telemetry.EntryName(fromName), telemetry.NewName(toName))
	defer end(&err)

	if err := validateName(toName); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return nil, err
	}
	defer m.dirs.Release(ctx, dirID)

	e, err := m.standaloneEntryLocked(ctx, dir, fromName, "")
	if err != nil {
		return nil, err
	}

	info := metadata.NewEntryInfo(dirID, e)
	f, err := m.files.Reference(ctx, info, true)
	if err != nil {
		return nil, err
	}
	defer m.files.Release(ctx, e.EntryID)

	if err := f.IncDecLinkCount(ctx, 1, m.now()); err != nil {
		return nil, err
	}
	link, err := dir.LinkFilesInDir(ctx, fromName, toName, m.now())
	if err != nil {
		if undoErr := f.IncDecLinkCount(ctx, -1, m.now()); undoErr != nil {
			logger.WarnCtx(ctx, "Failed to restore link count after failed hard link",
				logger.EntryID(e.EntryID), logger.Err(undoErr))
		}
		return nil, err
	}
	link.Inode = f.Data()
	return link, nil
}

// MakeNewHardlink increments the link count of the file of info for a name
// created elsewhere, e.g. in a directory owned by another node. The inode
// is moved out of its dentry when necessary.
func (m *MetaStore) MakeNewHardlink(ctx context.Context, info metadata.EntryInfo) (_ *metadata.FileInodeData, err error) {
	ctx, end := m.begin(ctx, "MakeNewHardlink", telemetry.EntryID(info.EntryID))
	defer end(&err)

	m.mu.Lock()
	defer m.mu.Unlock()

	dirID := info.ParentEntryID
	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return nil, err
	}
	defer m.dirs.Release(ctx, dirID)

	e, err := m.standaloneEntryLocked(ctx, dir, info.FileName, info.EntryID)
	if err != nil {
		return nil, err
	}

	standalone := metadata.NewEntryInfo(dirID, e)
	f, err := m.files.Reference(ctx, standalone, true)
	if err != nil {
		return nil, err
	}
	defer m.files.Release(ctx, e.EntryID)

	if f.NumHardlinks() == 0 {
		return nil, errors.NewPathNotExistsError(info.String())
	}
	if err := f.IncDecLinkCount(ctx, 1, m.now()); err != nil {
		return nil, err
	}
	return f.Data(), nil
}

// standaloneEntryLocked looks up the file called name, de-inlining it when
// needed. A non-empty entryID must match the dentry.
func (m *MetaStore) standaloneEntryLocked(ctx context.Context, dir *inode.DirInode, name, entryID string) (*metadata.DirEntry, error) {
	e, err := m.lookupFile(ctx, dir, name, entryID)
	if err != nil {
		return nil, err
	}
	if !e.IsInlined() {
		m.moveToGlobalLocked(ctx, dir.ID(), e.EntryID)
		return e, nil
	}
	if err := m.deinlineLocked(ctx, dir, e); err != nil {
		return nil, err
	}
	return dir.Lookup(ctx, name)
}

// lookupFile reads the dentry of a file. Directories are rejected with
// PermissionDenied and an ID mismatch reads as a missing entry.
func (m *MetaStore) lookupFile(ctx context.Context, dir *inode.DirInode, name, entryID string) (*metadata.DirEntry, error) {
	e, err := dir.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if entryID != "" && e.EntryID != entryID {
		return nil, errors.NewPathNotExistsError(name)
	}
	if e.Type.IsDir() {
		return nil, errors.NewPermissionDeniedError(name)
	}
	return e, nil
}

// ============================================================================
// Inline Placement
// ============================================================================

// deinlineLocked moves the inlined inode of e to a standalone record and
// rewrites the dentry to reference it. The live inode, if any, moves to
// the global store.
func (m *MetaStore) deinlineLocked(ctx context.Context, dir *inode.DirInode, e *metadata.DirEntry) error {
	dirID, id := dir.ID(), e.EntryID

	// Held on behalf of the file reference below.
	if _, err := m.dirs.Reference(ctx, dirID, false); err != nil {
		return err
	}
	f, err := dir.ReferenceFile(ctx, metadata.NewEntryInfo(dirID, e))
	if err != nil {
		m.dirs.Release(ctx, dirID)
		return err
	}

	f.PinOrigParent(dirID)
	standalone := f.Entry()
	standalone.SetInlined(false)

	fail := func(err error, created bool) error {
		if created {
			if rmErr := m.st.RemoveFileInode(ctx, id, standalone.IsBuddyMirrored()); rmErr != nil {
				logger.BugCtx(ctx, "Failed to unwind standalone inode",
					logger.DirID(dirID), logger.EntryID(id), logger.Err(rmErr))
			}
		}
		m.releaseFileLocked(ctx, f)
		return err
	}

	created := true
	if err := m.st.CreateFileInode(ctx, standalone); err != nil {
		if !errors.IsAlreadyExists(err) {
			return fail(err, false)
		}
		// Left behind by an interrupted earlier attempt.
		created = false
		if _, err := m.st.StoreFileInode(ctx, dirID, standalone, false); err != nil {
			return fail(err, false)
		}
	}

	if err := m.st.CopyUserXattrs(ctx, m.st.Layout.ByIDPath(dirID, id), m.st.Layout.InodePath(id)); err != nil {
		return fail(err, created)
	}

	dentry := e.Clone()
	dentry.SetInlined(false)
	dentry.Inode = nil
	if err := dir.UpdateEntry(ctx, dentry); err != nil {
		return fail(err, created)
	}
	if err := dir.RemoveByID(ctx, id); err != nil && !errors.IsPathNotExists(err) {
		logger.WarnCtx(ctx, "Failed to remove by-ID dentry of de-inlined inode",
			logger.DirID(dirID), logger.EntryID(id), logger.Err(err))
	}

	f.SetInlined(false)
	m.moveToGlobalLocked(ctx, dirID, id)
	m.files.Release(ctx, id)

	m.metrics.ObserveInlineChange(metrics.DirectionDeinline)
	logger.DebugCtx(ctx, "De-inlined file inode", logger.DirID(dirID), logger.EntryID(id))
	return nil
}

// reinlineLocked moves the standalone inode of e back into its dentry. A
// live inode keeps its references, sessions and locks and moves from the
// global store to the store of dir.
func (m *MetaStore) reinlineLocked(ctx context.Context, dir *inode.DirInode, e *metadata.DirEntry) error {
	dirID, id := dir.ID(), e.EntryID

	live, refs, held := m.files.TakeReferencer(id)
	putBack := func() {
		if held {
			m.files.InsertReferencer(live, refs)
		}
	}

	var loaded *metadata.DirEntry
	if held {
		loaded = live.Entry()
	} else {
		l, inlined, err := m.st.LoadFileInode(ctx, dirID, id, false)
		if err != nil {
			return err
		}
		if inlined {
			return nil
		}
		loaded = l
	}
	if loaded.Inode.Stat.NumHardlinks > 1 {
		putBack()
		return errors.NewInvalidArgumentError("cannot inline an inode with several links")
	}

	mirrored := dir.IsBuddyMirrored()
	wasMirrored := loaded.IsBuddyMirrored()

	inl := loaded.Clone()
	inl.Name = e.Name
	inl.Type = e.Type
	inl.SetBuddyMirrored(mirrored)
	inl.OwnerNodeID = m.st.LocalOwner(mirrored)
	inl.SetInlined(true)

	if err := dir.UpdateEntry(ctx, inl); err != nil {
		putBack()
		return err
	}
	if err := dir.LinkByIDToName(ctx, id, e.Name); err != nil {
		if rbErr := dir.UpdateEntry(ctx, e); rbErr != nil {
			logger.BugCtx(ctx, "Failed to unwind re-inlined dentry",
				logger.DirID(dirID), logger.EntryID(id), logger.Err(rbErr))
		}
		putBack()
		return err
	}

	if held {
		m.moveToDirLocked(ctx, dir, live, refs, mirrored)
	}
	if err := m.st.RemoveFileInode(ctx, id, wasMirrored); err != nil && !errors.IsPathNotExists(err) {
		// The inlined copy is authoritative; CheckAndRepairDupFileInode
		// removes the leftover.
		return err
	}

	m.metrics.ObserveInlineChange(metrics.DirectionReinline)
	logger.DebugCtx(ctx, "Re-inlined file inode", logger.DirID(dirID), logger.EntryID(id),
		logger.RefCount(refs))
	return nil
}

// moveToDirLocked hands a live inode taken from the global store to the
// store of dir. Each per-directory file reference holds one reference of
// its directory.
func (m *MetaStore) moveToDirLocked(ctx context.Context, dir *inode.DirInode, f *inode.FileInode, refs int, mirrored bool) {
	dirID := dir.ID()

	f.SetInlined(true)
	f.SetBuddyMirrored(mirrored)
	f.SetParent(dirID, m.st.LocalOwner(mirrored))

	if !dir.Files().InsertReferencer(f, refs) {
		logger.BugCtx(ctx, "Inode already present in directory store",
			logger.DirID(dirID), logger.EntryID(f.ID()), logger.RefCount(refs))
		return
	}
	for range refs {
		if _, err := m.dirs.Reference(ctx, dirID, false); err != nil {
			logger.BugCtx(ctx, "Cannot reference directory of re-inlined inode",
				logger.DirID(dirID), logger.EntryID(f.ID()), logger.Err(err))
		}
	}
}

// removeDuplicateLocked drops the standalone record of an inlined inode.
// Both copies exist after a crash during a placement change; the inlined
// one is authoritative.
func (m *MetaStore) removeDuplicateLocked(ctx context.Context, e *metadata.DirEntry) (bool, error) {
	if m.files.IsInStore(e.EntryID) {
		return false, nil
	}
	exists, err := m.st.StandaloneExists(ctx, e.EntryID)
	if err != nil || !exists {
		return false, err
	}
	if err := m.st.RemoveFileInode(ctx, e.EntryID, e.IsBuddyMirrored()); err != nil && !errors.IsPathNotExists(err) {
		return false, err
	}
	logger.InfoCtx(ctx, "Removed duplicate standalone inode", logger.EntryID(e.EntryID))
	return true, nil
}

// VerifyAndMoveFileInode establishes the placement selected by mode for the
// file of info. Leftovers of an interrupted earlier move are cleaned up
// when the inode already has the requested placement.
func (m *MetaStore) VerifyAndMoveFileInode(ctx context.Context, dirID string, info metadata.EntryInfo, mode MoveMode) (err error) {
	ctx, end := m.begin(ctx, "VerifyAndMoveFileInode", telemetry.ParentID(dirID), telemetry.EntryID(info.EntryID))
	defer end(&err)

	m.mu.Lock()
	defer m.mu.Unlock()

	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return err
	}
	defer m.dirs.Release(ctx, dirID)

	e, err := m.lookupFile(ctx, dir, info.FileName, info.EntryID)
	if err != nil {
		return err
	}

	switch mode {
	case MoveDeinline:
		if e.IsInlined() {
			return m.deinlineLocked(ctx, dir, e)
		}
		if err := dir.RemoveByID(ctx, e.EntryID); err != nil && !errors.IsPathNotExists(err) {
			return err
		}
		return nil
	case MoveReinline:
		if !e.IsInlined() {
			return m.reinlineLocked(ctx, dir, e)
		}
		_, err := m.removeDuplicateLocked(ctx, e)
		return err
	default:
		return errors.NewInvalidArgumentError("unknown move mode " + mode.String())
	}
}

// CheckAndRepairDupFileInode removes the standalone copy of an inlined
// inode when both exist. It reports whether a copy was removed.
func (m *MetaStore) CheckAndRepairDupFileInode(ctx context.Context, dirID string, info metadata.EntryInfo) (_ bool, err error) {
	ctx, end := m.begin(ctx, "CheckAndRepairDupFileInode", telemetry.ParentID(dirID), telemetry.EntryID(info.EntryID))
	defer end(&err)

	m.mu.Lock()
	defer m.mu.Unlock()

	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return false, err
	}
	defer m.dirs.Release(ctx, dirID)

	e, err := m.lookupFile(ctx, dir, info.FileName, info.EntryID)
	if err != nil || !e.IsInlined() {
		return false, err
	}
	return m.removeDuplicateLocked(ctx, e)
}
