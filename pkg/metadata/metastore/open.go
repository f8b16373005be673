package metastore

import (
	"context"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/inode"
)

// OpenFile references the inode of info and opens a session on it. With
// checkDisposalFirst the inode is first looked up as an unlinked inode
// anchored in the disposal directory of its mirror state.
func (m *MetaStore) OpenFile(ctx context.Context, info metadata.EntryInfo, access inode.AccessFlags, checkDisposalFirst bool) (_ *inode.FileInode, err error) {
	ctx, end := m.begin(ctx, "OpenFile", telemetry.EntryID(info.EntryID), telemetry.Inlined(info.IsInlined()))
	defer end(&err)

	var f *inode.FileInode
	if checkDisposalFirst {
		disposed := info
		disposed.ParentEntryID = metadata.DisposalDirFor(info.IsBuddyMirrored())
		disposed.SetInlined(false)

		m.mu.RLock()
		f, err = m.files.Reference(ctx, disposed, true)
		m.mu.RUnlock()
		if err != nil && !errors.IsPathNotExists(err) {
			return nil, err
		}
	}
	if f == nil {
		if f, err = m.referenceFile(ctx, info); err != nil {
			return nil, err
		}
	}

	f.OpenSession(access)
	return f, nil
}

// CloseFile closes a session opened by OpenFile and drops its reference.
func (m *MetaStore) CloseFile(ctx context.Context, f *inode.FileInode, access inode.AccessFlags) (_ inode.CloseResult, err error) {
	ctx, end := m.begin(ctx, "CloseFile", telemetry.EntryID(f.ID()))
	defer end(&err)

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closeFileLocked(ctx, f, access)
}

func (m *MetaStore) closeFileLocked(ctx context.Context, f *inode.FileInode, access inode.AccessFlags) (inode.CloseResult, error) {
	if m.files.IsInStore(f.ID()) {
		return m.files.CloseFile(ctx, f, access)
	}

	dirID := f.ParentDirID()
	dir, err := m.dirs.Reference(ctx, dirID, false)
	if err != nil {
		return inode.CloseResult{}, err
	}
	res, err := dir.Files().CloseFile(ctx, f, access)
	m.dirs.Release(ctx, dirID)
	m.dirs.Release(ctx, dirID)
	return res, err
}

// CloseAndDispose closes a session and removes the inode when the session
// was the last user of an unlinked file.
func (m *MetaStore) CloseAndDispose(ctx context.Context, f *inode.FileInode, access inode.AccessFlags) (res inode.CloseResult, err error) {
	ctx, end := m.begin(ctx, "CloseAndDispose", telemetry.EntryID(f.ID()))
	defer end(&err)

	m.mu.RLock()
	res, err = m.closeFileLocked(ctx, f, access)
	m.mu.RUnlock()
	if err != nil || res.NumHardlinks > 0 || res.NumRefs > 0 {
		return res, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.files.IsInStore(f.ID()) {
		// Referenced again in the meantime; the next close disposes it.
		return res, nil
	}
	if _, err := m.disposeLocked(ctx, f.ID(), f.IsBuddyMirrored()); err != nil {
		logger.WarnCtx(ctx, "Failed to dispose closed inode",
			logger.EntryID(f.ID()), logger.Err(err))
		return res, err
	}
	return res, nil
}
