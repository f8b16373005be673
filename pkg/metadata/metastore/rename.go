package metastore

import (
	"context"

	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/metadata"
)

// RenameResult describes a rename inside one directory.
type RenameResult struct {
	// Moved is the renamed entry under its new name.
	Moved *metadata.DirEntry

	// Overwritten describes the file that held the target name, if any.
	Overwritten *UnlinkResult
}

// Rename renames from to to within dirID. A file previously called to is
// unlinked like UnlinkFile would; removing its inode happens after the
// rename itself is complete.
func (m *MetaStore) Rename(ctx context.Context, dirID, from, to string) (_ RenameResult, err error) {
	ctx, end := m.begin(ctx, "Rename", telemetry.ParentID(dirID),
		telemetry.EntryName(from), telemetry.NewName(to))
	defer end(&err)

	if err := validateName(to); err != nil {
		return RenameResult{}, err
	}

	out, pending, err := m.renameLocked(ctx, dirID, from, to)
	if err != nil || pending == nil {
		return out, err
	}

	res, err := m.finishUnlink(ctx, *out.Overwritten, pending)
	out.Overwritten = &res
	return out, err
}

func (m *MetaStore) renameLocked(ctx context.Context, dirID, from, to string) (RenameResult, *pendingInode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return RenameResult{}, nil, err
	}
	defer m.dirs.Release(ctx, dirID)

	rr, err := dir.RenameEntry(ctx, from, to, m.now())
	if err != nil {
		return RenameResult{}, nil, err
	}
	out := RenameResult{Moved: rr.Moved}
	if rr.Overwritten == nil {
		return out, nil, nil
	}

	un, err := dir.UnlinkOverwritten(ctx, rr.Overwritten, m.now())
	if err != nil {
		return out, nil, err
	}
	res, pending, err := m.settleUnlinkedLocked(ctx, dirID, un)
	out.Overwritten = &res
	return out, pending, err
}
