package metastore

import (
	"context"

	"github.com/google/uuid"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/inode"
)

// A cross-node move of a file runs in three steps. The source node
// serializes the entry with MoveRemoteFileBegin, the destination inserts it
// with MoveRemoteFileInsert, and the source then drops its copy with
// MoveRemoteFileComplete, or releases it with MoveRemoteFileCancel when the
// insert failed. Between begin and complete an inlined inode is held
// exclusively by the mover: other callers cannot reference it.

// MoveRemoteFileBegin serializes the file of info for a move to another
// node. Inlined inodes are serialized with their data and held for the
// returned token; non-inlined files only carry their dentry and need no
// token.
func (m *MetaStore) MoveRemoteFileBegin(ctx context.Context, dirID string, info metadata.EntryInfo) (_ []byte, _ inode.MoverToken, err error) {
	ctx, end := m.begin(ctx, "MoveRemoteFileBegin", telemetry.ParentID(dirID), telemetry.EntryID(info.EntryID))
	defer end(&err)

	m.mu.Lock()
	defer m.mu.Unlock()

	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return nil, "", err
	}
	defer m.dirs.Release(ctx, dirID)

	e, err := dir.Lookup(ctx, info.FileName)
	if err != nil {
		return nil, "", err
	}
	if e.EntryID != info.EntryID {
		return nil, "", errors.NewPathNotExistsError(info.String())
	}

	if !e.Type.IsFile() || !e.IsInlined() {
		buf, err := m.st.Codec.EncodeDentry(e)
		if err != nil {
			return nil, "", errors.NewInternalError(info.String(), "cannot encode dentry", err)
		}
		return buf, "", nil
	}

	token := inode.MoverToken(uuid.NewString())

	// Held on behalf of the mover's file reference.
	if _, err := m.dirs.Reference(ctx, dirID, false); err != nil {
		return nil, "", err
	}
	buf, err := dir.Files().MoveRemoteBegin(ctx, metadata.NewEntryInfo(dirID, e), token)
	if err != nil {
		m.dirs.Release(ctx, dirID)
		return nil, "", err
	}

	logger.DebugCtx(ctx, "Began cross-node move", logger.DirID(dirID), logger.EntryID(e.EntryID))
	return buf, token, nil
}

// MoveRemoteFileInsert creates the entry serialized by MoveRemoteFileBegin
// under name in toDirID. File inodes carried along are inlined in the new
// dentry. An existing file with that name is unlinked first; a retried
// insert of the same entry succeeds without changes.
func (m *MetaStore) MoveRemoteFileInsert(ctx context.Context, toDirID, name string, buf []byte) (_ *metadata.DirEntry, _ *UnlinkResult, err error) {
	ctx, end := m.begin(ctx, "MoveRemoteFileInsert", telemetry.ParentID(toDirID), telemetry.EntryName(name))
	defer end(&err)

	if err := validateName(name); err != nil {
		return nil, nil, err
	}
	e, err := m.st.Codec.DecodeDentry(buf)
	if err != nil {
		return nil, nil, errors.NewInternalError(name, "cannot decode moved entry", err)
	}
	e.Name = name

	entry, overwritten, pending, err := m.insertMovedLocked(ctx, toDirID, e)
	if err != nil || pending == nil {
		return entry, overwritten, err
	}

	res, err := m.finishUnlink(ctx, *overwritten, pending)
	return entry, &res, err
}

func (m *MetaStore) insertMovedLocked(ctx context.Context, dirID string, e *metadata.DirEntry) (*metadata.DirEntry, *UnlinkResult, *pendingInode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return nil, nil, nil, err
	}
	defer m.dirs.Release(ctx, dirID)

	if e.Type.IsFile() && e.Inode != nil {
		mirrored := dir.IsBuddyMirrored()
		e.SetInlined(true)
		e.SetBuddyMirrored(mirrored)
		e.OwnerNodeID = m.st.LocalOwner(mirrored)
	}

	var overwritten *UnlinkResult
	var pending *pendingInode

	existing, err := dir.Lookup(ctx, e.Name)
	switch {
	case err == nil && existing.EntryID == e.EntryID:
		return existing, nil, nil, nil
	case err == nil && (existing.Type.IsDir() || e.Type.IsDir()):
		return nil, nil, nil, errors.NewAlreadyExistsError(e.Name)
	case err == nil:
		res, p, err := m.unlinkNameLocked(ctx, dirID, e.Name)
		if err != nil {
			return nil, nil, nil, err
		}
		overwritten, pending = &res, p
	case !errors.IsPathNotExists(err):
		return nil, nil, nil, err
	}

	if err := dir.MakeEntry(ctx, e, m.now()); err != nil {
		return nil, overwritten, pending, err
	}
	return e.Clone(), overwritten, pending, nil
}

// MoveRemoteFileComplete removes the source entry of a finished move. The
// inode carried along with token is dropped from memory.
func (m *MetaStore) MoveRemoteFileComplete(ctx context.Context, dirID string, info metadata.EntryInfo, token inode.MoverToken) (err error) {
	ctx, end := m.begin(ctx, "MoveRemoteFileComplete", telemetry.ParentID(dirID), telemetry.EntryID(info.EntryID))
	defer end(&err)

	m.mu.Lock()
	defer m.mu.Unlock()

	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return err
	}
	defer m.dirs.Release(ctx, dirID)

	if token == "" {
		_, err := dir.UnlinkEntry(ctx, info.FileName, false, m.now())
		return err
	}

	if m.files.IsInStore(info.EntryID) {
		if _, err := m.files.MoveRemoteComplete(ctx, info.EntryID, token); err != nil {
			return err
		}
	} else {
		refs := dir.Files().ReferenceCount(info.EntryID)
		if _, err := dir.Files().MoveRemoteComplete(ctx, info.EntryID, token); err != nil {
			return err
		}
		for range refs {
			m.dirs.Release(ctx, dirID)
		}
	}

	_, err = dir.UnlinkEntry(ctx, info.FileName, true, m.now())
	return err
}

// MoveRemoteFileCancel releases the inode held for token after a failed
// move. The source entry is left untouched.
func (m *MetaStore) MoveRemoteFileCancel(ctx context.Context, info metadata.EntryInfo, token inode.MoverToken) (err error) {
	ctx, end := m.begin(ctx, "MoveRemoteFileCancel", telemetry.EntryID(info.EntryID))
	defer end(&err)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.files.IsInStore(info.EntryID) {
		return m.files.MoveRemoteCancel(ctx, info.EntryID, token)
	}

	dirID := info.ParentEntryID
	if !m.dirs.IsInStore(dirID) {
		return errors.NewPathNotExistsError(info.String())
	}
	dir, err := m.dirs.Reference(ctx, dirID, false)
	if err != nil {
		return err
	}
	defer m.dirs.Release(ctx, dirID)

	if err := dir.Files().MoveRemoteCancel(ctx, info.EntryID, token); err != nil {
		return err
	}
	m.dirs.Release(ctx, dirID)
	return nil
}
