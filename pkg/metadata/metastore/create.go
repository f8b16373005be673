package metastore

import (
	"context"
	"strings"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
)

// MkFileRequest describes a new file.
type MkFileRequest struct {
	Name string
	Type metadata.EntryType

	// Mode carries the permission bits; the type bits are derived from Type.
	Mode uint32
	UID  uint32
	GID  uint32

	// Pattern overrides the default stripe pattern of the directory.
	Pattern metadata.StripePattern

	// EntryID is generated when empty.
	EntryID string
}

// MkDirRequest describes a new sub-directory.
type MkDirRequest struct {
	Name string

	// Mode carries the permission bits.
	Mode uint32
	UID  uint32
	GID  uint32

	// EntryID is generated when empty.
	EntryID string

	// Pattern overrides the stripe pattern inherited from the parent.
	Pattern metadata.StripePattern
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.NewInvalidArgumentError("invalid entry name " + `"` + name + `"`)
	case strings.ContainsRune(name, '/'):
		return errors.NewInvalidArgumentError("entry name contains a path separator")
	}
	return nil
}

// MkNewMetaFile creates a file with an inlined inode in dirID.
func (m *MetaStore) MkNewMetaFile(ctx context.Context, dirID string, req MkFileRequest) (_ *metadata.DirEntry, err error) {
	ctx, end := m.begin(ctx, "MkNewMetaFile", telemetry.ParentID(dirID), telemetry.EntryName(req.Name))
	defer end(&err)

	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	if req.Type.IsDir() || !req.Type.IsFile() {
		return nil, errors.NewInvalidArgumentError("MkNewMetaFile requires a file type")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return nil, err
	}
	defer m.dirs.Release(ctx, dirID)

	pattern := metadata.ClonePattern(req.Pattern)
	if pattern == nil {
		if pattern, err = dir.DefaultPattern(ctx); err != nil {
			return nil, err
		}
	}

	id := req.EntryID
	if id == "" {
		id = NewEntryID()
	}
	mirrored := dir.IsBuddyMirrored()
	mode := req.Type.ModeTypeBits() | (req.Mode & 0o7777)

	data := metadata.NewFileInodeData(id, dirID, metadata.NewStatData(mode, req.UID, req.GID, m.now()), pattern)
	data.SetBuddyMirrored(mirrored)
	e := metadata.NewFileEntry(req.Name, req.Type, m.st.LocalOwner(mirrored), data)

	if err := dir.MakeEntry(ctx, e, m.now()); err != nil {
		return nil, err
	}
	logger.DebugCtx(ctx, "Created file", logger.DirID(dirID), logger.Name(req.Name), logger.EntryID(id))
	return e.Clone(), nil
}

// MkDir creates the sub-directory req.Name in parentID. The directory inode
// is written first; it is removed again when the dentry cannot be created.
func (m *MetaStore) MkDir(ctx context.Context, parentID string, req MkDirRequest) (_ *metadata.DirEntry, err error) {
	ctx, end := m.begin(ctx, "MkDir", telemetry.ParentID(parentID), telemetry.EntryName(req.Name))
	defer end(&err)

	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	parent, err := m.dirs.Reference(ctx, parentID, true)
	if err != nil {
		return nil, err
	}
	defer m.dirs.Release(ctx, parentID)

	pattern := metadata.ClonePattern(req.Pattern)
	if pattern == nil {
		if pattern, err = parent.DefaultPattern(ctx); err != nil {
			return nil, err
		}
	}

	id := req.EntryID
	if id == "" {
		id = NewEntryID()
	}
	mirrored := parent.IsBuddyMirrored()
	owner := m.st.LocalOwner(mirrored)

	data := metadata.NewDirInodeData(id, parentID, owner, m.st.Codec.Local.NodeID,
		metadata.NewStatData(req.Mode, req.UID, req.GID, m.now()), pattern)
	data.SetBuddyMirrored(mirrored)
	if err := m.dirs.MakeDir(ctx, data); err != nil {
		return nil, err
	}

	e := metadata.NewDirEntry(req.Name, id, owner, mirrored)
	if err := parent.MakeEntry(ctx, e, m.now()); err != nil {
		if rmErr := m.dirs.RemoveDir(ctx, id); rmErr != nil {
			logger.BugCtx(ctx, "Failed to unwind directory creation",
				logger.DirID(id), logger.ParentID(parentID), logger.Err(rmErr))
		}
		return nil, err
	}
	return e.Clone(), nil
}

// RmDir removes the empty sub-directory name of parentID. The directory
// inode is only removed here when this node owns it.
func (m *MetaStore) RmDir(ctx context.Context, parentID, name string) (err error) {
	ctx, end := m.begin(ctx, "RmDir", telemetry.ParentID(parentID), telemetry.EntryName(name))
	defer end(&err)

	m.mu.RLock()
	defer m.mu.RUnlock()

	parent, err := m.dirs.Reference(ctx, parentID, true)
	if err != nil {
		return err
	}
	defer m.dirs.Release(ctx, parentID)

	e, err := parent.Lookup(ctx, name)
	if err != nil {
		return err
	}
	if !e.Type.IsDir() {
		return errors.NewNotDirectoryError(name)
	}
	if e.EntryID == metadata.RootDirID || metadata.IsDisposalDir(e.EntryID) {
		return errors.NewPermissionDeniedError(e.EntryID)
	}

	if e.OwnerNodeID == m.st.LocalOwner(e.IsBuddyMirrored()) {
		if err := m.dirs.RemoveDir(ctx, e.EntryID); err != nil {
			return err
		}
	}
	_, err = parent.RemoveDirEntry(ctx, name, m.now())
	return err
}
