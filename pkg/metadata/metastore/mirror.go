package metastore

import (
	"context"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
)

// SetBuddyMirrorFlag sets or clears the buddy mirror flag of dirID and of
// everything below it that this node owns: sub-directories, dentries and
// file inodes. Ownership moves to the buddy group or back to this node
// accordingly.
func (m *MetaStore) SetBuddyMirrorFlag(ctx context.Context, dirID string, mirrored bool) (err error) {
	ctx, end := m.begin(ctx, "SetBuddyMirrorFlag", telemetry.EntryID(dirID), telemetry.Mirrored(mirrored))
	defer end(&err)

	if metadata.IsDisposalDir(dirID) {
		return errors.NewPermissionDeniedError(dirID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	queue := []string{dirID}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		subdirs, err := m.setDirMirroredLocked(ctx, id, mirrored)
		if err != nil {
			return err
		}
		queue = append(queue, subdirs...)
		visited++
	}

	logger.InfoCtx(ctx, "Changed buddy mirror flag",
		logger.DirID(dirID), logger.Mirrored(mirrored), "dirs", visited)
	return nil
}

// setDirMirroredLocked updates one directory and its entries and returns
// the local sub-directories still to visit.
func (m *MetaStore) setDirMirroredLocked(ctx context.Context, dirID string, mirrored bool) ([]string, error) {
	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return nil, err
	}
	defer m.dirs.Release(ctx, dirID)

	if err := dir.SetBuddyMirrored(ctx, mirrored); err != nil {
		return nil, err
	}
	entries, err := dir.Entries(ctx)
	if err != nil {
		return nil, err
	}

	owner := m.st.LocalOwner(mirrored)
	var subdirs []string

	for _, e := range entries {
		info := metadata.NewEntryInfo(dirID, e)

		switch {
		case e.Type.IsDir():
			// Directories owned by other nodes are handled there.
			if e.OwnerNodeID != m.st.LocalOwner(e.IsBuddyMirrored()) {
				continue
			}
			if _, err := m.st.LoadDirInode(ctx, e.EntryID); err != nil {
				if errors.IsPathNotExists(err) {
					continue
				}
				return nil, err
			}
			e.SetBuddyMirrored(mirrored)
			e.OwnerNodeID = owner
			if err := dir.UpdateEntry(ctx, e); err != nil {
				return nil, err
			}
			subdirs = append(subdirs, e.EntryID)

		case e.IsInlined() && dir.Files().IsInStore(e.EntryID):
			// The live inode persists itself through the shared record.
			f, err := dir.Files().Reference(ctx, info, false)
			if err != nil {
				return nil, err
			}
			f.SetBuddyMirrored(mirrored)
			err = f.Store(ctx)
			dir.Files().Release(ctx, e.EntryID)
			if err != nil {
				return nil, err
			}

		case e.IsInlined():
			e.SetBuddyMirrored(mirrored)
			e.OwnerNodeID = owner
			if err := dir.UpdateEntry(ctx, e); err != nil {
				return nil, err
			}

		default:
			e.SetBuddyMirrored(mirrored)
			e.OwnerNodeID = owner
			if err := dir.UpdateEntry(ctx, e); err != nil {
				return nil, err
			}
			if err := m.setStandaloneMirroredLocked(ctx, dirID, info, mirrored); err != nil {
				return nil, err
			}
		}
	}
	return subdirs, nil
}

func (m *MetaStore) setStandaloneMirroredLocked(ctx context.Context, dirID string, info metadata.EntryInfo, mirrored bool) error {
	m.moveToGlobalLocked(ctx, dirID, info.EntryID)

	info.SetInlined(false)
	f, err := m.files.Reference(ctx, info, true)
	if errors.IsPathNotExists(err) {
		// Owned by another node.
		return nil
	}
	if err != nil {
		return err
	}
	defer m.files.Release(ctx, info.EntryID)

	f.SetBuddyMirrored(mirrored)
	return f.Store(ctx)
}
