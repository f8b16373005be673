package metastore

import (
	"context"

	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/inode"
)

// ============================================================================
// Stat
// ============================================================================

// Stat returns the attributes of info. Files referenced in memory are
// answered from the live object; others are read from disk without being
// inserted into a store.
func (m *MetaStore) Stat(ctx context.Context, info metadata.EntryInfo) (_ metadata.StatData, err error) {
	ctx, end := m.begin(ctx, "Stat", telemetry.EntryID(info.EntryID), telemetry.Inlined(info.IsInlined()))
	defer end(&err)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if info.Type.IsDir() {
		stat, _, err := m.dirs.Stat(ctx, info.EntryID)
		return stat, err
	}

	if stat, err := m.files.Stat(ctx, info, false); err == nil {
		return stat, nil
	}

	if info.IsInlined() {
		stat, err := m.statInDir(ctx, info)
		if errors.HasCode(err, errors.ErrInodeNotInlined) {
			return m.files.Stat(ctx, info, true)
		}
		return stat, err
	}

	stat, err := m.files.Stat(ctx, info, true)
	if errors.IsPathNotExists(err) && info.ParentEntryID != "" {
		return m.statInDir(ctx, info)
	}
	return stat, err
}

func (m *MetaStore) statInDir(ctx context.Context, info metadata.EntryInfo) (metadata.StatData, error) {
	if info.ParentEntryID == "" {
		return metadata.StatData{}, errors.NewPathNotExistsError(info.EntryID)
	}
	dir, err := m.dirs.Reference(ctx, info.ParentEntryID, true)
	if err != nil {
		return metadata.StatData{}, err
	}
	defer m.dirs.Release(ctx, info.ParentEntryID)
	return dir.Files().Stat(ctx, info, true)
}

// GetEntryData returns the dentry called name together with its inode data.
// For regular files the size and times may lag behind the storage targets;
// the entry is then returned along with a DynamicAttribsOutdated error.
func (m *MetaStore) GetEntryData(ctx context.Context, dirID, name string) (_ *metadata.DirEntry, err error) {
	ctx, end := m.begin(ctx, "GetEntryData", telemetry.ParentID(dirID), telemetry.EntryName(name))
	defer end(&err)

	m.mu.RLock()
	defer m.mu.RUnlock()

	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return nil, err
	}
	defer m.dirs.Release(ctx, dirID)

	e, err := dir.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if e.Type.IsDir() {
		return e, nil
	}

	info := metadata.NewEntryInfo(dirID, e)
	switch {
	case !e.IsInlined() && m.files.IsInStore(e.EntryID):
		if f, err := m.files.Reference(ctx, info, false); err == nil {
			e.Inode = f.Data()
			m.files.Release(ctx, e.EntryID)
		}
	case dir.Files().IsInStore(e.EntryID):
		if f, err := dir.Files().Reference(ctx, info, false); err == nil {
			e.Inode = f.Data()
			dir.Files().Release(ctx, e.EntryID)
		}
	}
	if e.Inode == nil {
		loaded, _, err := m.st.LoadFileInode(ctx, dirID, e.EntryID, e.IsInlined())
		if err != nil {
			return nil, err
		}
		e.Inode = loaded.Inode
	}

	if e.Type.IsRegularFile() {
		return e, errors.NewDynamicAttribsOutdatedError(info.String())
	}
	return e, nil
}

// ListDir returns up to limit names of dirID starting at offset, and the
// offset of the next page. A limit of zero lists everything.
func (m *MetaStore) ListDir(ctx context.Context, dirID string, offset, limit int) (_ []string, _ int, err error) {
	ctx, end := m.begin(ctx, "ListDir", telemetry.EntryID(dirID))
	defer end(&err)

	m.mu.RLock()
	defer m.mu.RUnlock()

	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return nil, offset, err
	}
	defer m.dirs.Release(ctx, dirID)
	return dir.List(ctx, offset, limit)
}

// ============================================================================
// Attribute Updates
// ============================================================================

// SetAttr applies req to the file or directory of info.
func (m *MetaStore) SetAttr(ctx context.Context, info metadata.EntryInfo, req metadata.SetAttrRequest) (err error) {
	if info.Type.IsDir() {
		return m.SetDirAttr(ctx, info.EntryID, req)
	}

	ctx, end := m.begin(ctx, "SetAttr", telemetry.EntryID(info.EntryID))
	defer end(&err)

	return m.withFile(ctx, info, func(f *inode.FileInode) error {
		return f.SetAttr(ctx, req, m.now())
	})
}

// SetDirAttr applies req to the directory dirID.
func (m *MetaStore) SetDirAttr(ctx context.Context, dirID string, req metadata.SetAttrRequest) (err error) {
	ctx, end := m.begin(ctx, "SetDirAttr", telemetry.EntryID(dirID))
	defer end(&err)

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs.SetAttr(ctx, dirID, req, m.now())
}

// SetFileState persists a new data state of the file of info.
func (m *MetaStore) SetFileState(ctx context.Context, info metadata.EntryInfo, state metadata.DataState) (err error) {
	ctx, end := m.begin(ctx, "SetFileState", telemetry.EntryID(info.EntryID))
	defer end(&err)

	return m.withFile(ctx, info, func(f *inode.FileInode) error {
		return f.SetDataState(ctx, state)
	})
}

// SetDirParent records that dirID now lives below parentID on parentNode.
func (m *MetaStore) SetDirParent(ctx context.Context, dirID, parentID string, parentNode metadata.NodeID) (err error) {
	ctx, end := m.begin(ctx, "SetDirParent", telemetry.EntryID(dirID), telemetry.ParentID(parentID))
	defer end(&err)

	m.mu.RLock()
	defer m.mu.RUnlock()

	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return err
	}
	defer m.dirs.Release(ctx, dirID)
	return dir.SetParent(ctx, parentID, parentNode)
}
