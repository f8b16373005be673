package metastore

import (
	"context"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metrics"
)

// anchorLocked links the standalone record of entryID into the disposal
// directory matching its mirror state, so the inode survives until its
// last session closes.
func (m *MetaStore) anchorLocked(ctx context.Context, entryID string, mirrored bool) error {
	dirID := metadata.DisposalDirFor(mirrored)
	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return err
	}
	defer m.dirs.Release(ctx, dirID)

	if err := dir.LinkInodeToDir(ctx, entryID, m.now()); err != nil && !errors.IsAlreadyExists(err) {
		return err
	}
	m.metrics.ObserveDisposal(metrics.DisposalAnchored)
	logger.DebugCtx(ctx, "Anchored open inode in disposal directory",
		logger.DirID(dirID), logger.EntryID(entryID))
	return nil
}

// disposeLocked removes an anchored inode together with its disposal
// dentry. Either may already be gone.
func (m *MetaStore) disposeLocked(ctx context.Context, entryID string, mirrored bool) (*metadata.FileInodeData, error) {
	if m.files.IsInStore(entryID) {
		return nil, errors.NewInUseError(entryID)
	}

	dirID := metadata.DisposalDirFor(mirrored)
	info := metadata.EntryInfo{
		OwnerNodeID:   m.st.LocalOwner(mirrored),
		ParentEntryID: dirID,
		EntryID:       entryID,
		FileName:      entryID,
		Type:          metadata.EntryTypeRegularFile,
	}
	info.SetBuddyMirrored(mirrored)

	data, err := m.files.UnlinkInode(ctx, info)
	if err != nil && !errors.IsPathNotExists(err) {
		return nil, err
	}

	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return data, err
	}
	defer m.dirs.Release(ctx, dirID)

	if _, err := dir.UnlinkEntry(ctx, entryID, false, m.now()); err != nil && !errors.IsPathNotExists(err) {
		return data, err
	}

	m.metrics.ObserveDisposal(metrics.DisposalRemoved)
	logger.DebugCtx(ctx, "Disposed unlinked inode", logger.DirID(dirID), logger.EntryID(entryID))
	return data, nil
}

// UnlinkInode removes an inode anchored in the disposal directory of
// info's mirror state. It fails with InUse while the inode is open.
func (m *MetaStore) UnlinkInode(ctx context.Context, info metadata.EntryInfo) (_ *metadata.FileInodeData, err error) {
	ctx, end := m.begin(ctx, "UnlinkInode", telemetry.EntryID(info.EntryID), telemetry.Mirrored(info.IsBuddyMirrored()))
	defer end(&err)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposeLocked(ctx, info.EntryID, info.IsBuddyMirrored())
}

// DisposeUnused removes every anchored inode nobody has open anymore and
// returns their last state. Open inodes are skipped.
func (m *MetaStore) DisposeUnused(ctx context.Context) (_ []*metadata.FileInodeData, err error) {
	ctx, end := m.begin(ctx, "DisposeUnused")
	defer end(&err)

	var disposed []*metadata.FileInodeData
	for _, mirrored := range []bool{false, true} {
		ids, _, err := m.ListDir(ctx, metadata.DisposalDirFor(mirrored), 0, 0)
		if err != nil {
			return disposed, err
		}

		for _, id := range ids {
			m.mu.Lock()
			data, err := m.disposeLocked(ctx, id, mirrored)
			m.mu.Unlock()

			switch {
			case errors.IsInUse(err):
				continue
			case err != nil:
				return disposed, err
			case data != nil:
				disposed = append(disposed, data)
			}
		}
	}

	if len(disposed) > 0 {
		logger.InfoCtx(ctx, "Disposed unused inodes", "count", len(disposed))
	}
	return disposed, nil
}

// InsertDisposableFile writes the inode carried by e as an unlinked
// standalone inode and anchors it in its disposal directory. Used to take
// over open inodes from another node.
func (m *MetaStore) InsertDisposableFile(ctx context.Context, e *metadata.DirEntry) (err error) {
	ctx, end := m.begin(ctx, "InsertDisposableFile", telemetry.EntryID(e.EntryID))
	defer end(&err)

	if e.Inode == nil {
		return errors.NewInvalidArgumentError("disposable entry carries no inode")
	}

	standalone := e.Clone()
	standalone.SetInlined(false)
	standalone.Inode.Stat.NumHardlinks = 0

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.st.CreateFileInode(ctx, standalone); err != nil && !errors.IsAlreadyExists(err) {
		return err
	}
	return m.anchorLocked(ctx, e.EntryID, e.IsBuddyMirrored())
}
