package metastore

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/inode"
)

// misplacedError reports a live inode held by a directory store although
// its record was already written standalone.
type misplacedError struct {
	dirID   string
	entryID string
}

func (e *misplacedError) Error() string {
	return fmt.Sprintf("inode %s of directory %s is not inlined anymore", e.entryID, e.dirID)
}

// ============================================================================
// Directories
// ============================================================================

// ReferenceDir returns the directory dirID with its reference count
// incremented. Every successful call must be matched by ReleaseDir.
func (m *MetaStore) ReferenceDir(ctx context.Context, dirID string, forceLoad bool) (*inode.DirInode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs.Reference(ctx, dirID, forceLoad)
}

// ReleaseDir drops a reference taken by ReferenceDir.
func (m *MetaStore) ReleaseDir(ctx context.Context, dirID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.dirs.Release(ctx, dirID)
}

// ============================================================================
// Files
// ============================================================================

// ReferenceFile returns the live inode of info with its reference count
// incremented. Every successful call must be matched by ReleaseFile.
func (m *MetaStore) ReferenceFile(ctx context.Context, info metadata.EntryInfo) (*inode.FileInode, error) {
	return m.referenceFile(ctx, info)
}

// ReleaseFile drops a reference taken by ReferenceFile or OpenFile.
func (m *MetaStore) ReleaseFile(ctx context.Context, f *inode.FileInode) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.releaseFileLocked(ctx, f)
}

func (m *MetaStore) referenceFile(ctx context.Context, info metadata.EntryInfo) (*inode.FileInode, error) {
	m.mu.RLock()
	f, err := m.referenceFileLocked(ctx, info)
	m.mu.RUnlock()

	var misplaced *misplacedError
	if !stderrors.As(err, &misplaced) {
		return f, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.moveToGlobalLocked(ctx, misplaced.dirID, misplaced.entryID)
	f, err = m.referenceFileLocked(ctx, info)
	if stderrors.As(err, &misplaced) {
		return nil, errors.NewAgainError(info.EntryID, "inode placement changed")
	}
	return f, err
}

// referenceFileLocked looks in the store named by the inline hint first and
// falls back to the other one. A per-directory reference also holds one
// reference of its directory.
func (m *MetaStore) referenceFileLocked(ctx context.Context, info metadata.EntryInfo) (*inode.FileInode, error) {
	if !info.IsInlined() || m.files.IsInStore(info.EntryID) {
		f, err := m.files.Reference(ctx, info, true)
		if err == nil || !errors.IsPathNotExists(err) || info.ParentEntryID == "" {
			return f, err
		}
	}
	if info.ParentEntryID == "" {
		return nil, errors.NewPathNotExistsError(info.EntryID)
	}

	dir, err := m.dirs.Reference(ctx, info.ParentEntryID, true)
	if err != nil {
		return nil, err
	}
	f, err := dir.ReferenceFile(ctx, info)
	if err != nil {
		m.dirs.Release(ctx, info.ParentEntryID)
		if errors.HasCode(err, errors.ErrInodeNotInlined) && info.IsInlined() {
			return m.files.Reference(ctx, info, true)
		}
		return nil, err
	}

	if !f.IsInlined() {
		dir.Files().Release(ctx, f.ID())
		m.dirs.Release(ctx, info.ParentEntryID)
		return nil, &misplacedError{dirID: info.ParentEntryID, entryID: info.EntryID}
	}
	return f, nil
}

// releaseFileLocked routes the release to the store holding f.
func (m *MetaStore) releaseFileLocked(ctx context.Context, f *inode.FileInode) {
	if m.files.IsInStore(f.ID()) {
		m.files.Release(ctx, f.ID())
		return
	}

	dirID := f.ParentDirID()
	dir, err := m.dirs.Reference(ctx, dirID, false)
	if err != nil {
		logger.BugCtx(ctx, "Cannot reach directory of released file",
			logger.DirID(dirID), logger.EntryID(f.ID()), logger.Err(err))
		return
	}
	dir.Files().Release(ctx, f.ID())
	m.dirs.Release(ctx, dirID)
	m.dirs.Release(ctx, dirID)
}

// withFile runs fn on the referenced inode of info.
func (m *MetaStore) withFile(ctx context.Context, info metadata.EntryInfo, fn func(*inode.FileInode) error) error {
	f, err := m.referenceFile(ctx, info)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	defer m.releaseFileLocked(ctx, f)
	return fn(f)
}

// moveToGlobalLocked moves the live inode entryID with all its references
// from the store of dirID to the global store. The directory references
// held on behalf of the inode are dropped.
func (m *MetaStore) moveToGlobalLocked(ctx context.Context, dirID, entryID string) {
	if !m.dirs.IsInStore(dirID) {
		return
	}
	dir, err := m.dirs.Reference(ctx, dirID, false)
	if err != nil {
		logger.WarnCtx(ctx, "Cannot reference directory to move inode",
			logger.DirID(dirID), logger.EntryID(entryID), logger.Err(err))
		return
	}
	defer m.dirs.Release(ctx, dirID)

	f, refs, ok := dir.Files().TakeReferencer(entryID)
	if !ok {
		return
	}
	if !m.files.InsertReferencer(f, refs) {
		logger.BugCtx(ctx, "Inode already present in global store",
			logger.DirID(dirID), logger.EntryID(entryID), logger.RefCount(refs))
		dir.Files().InsertReferencer(f, refs)
		return
	}
	for range refs {
		m.dirs.Release(ctx, dirID)
	}
	logger.DebugCtx(ctx, "Moved inode to global store",
		logger.DirID(dirID), logger.EntryID(entryID), logger.RefCount(refs))
}
