package metadata

// DataState is the persisted data state of a file (for example migrated or
// offline). The engine stores it but attaches no semantics to the value.
type DataState uint8

// FileInodeData is the persisted state of a file inode, whether inlined in a
// dentry or stored as a standalone inode record.
type FileInodeData struct {
	EntryID      string        `json:"entry_id"`
	Stat         StatData      `json:"stat"`
	Pattern      StripePattern `json:"pattern"`
	FeatureFlags InodeFlags    `json:"feature_flags"`

	// OrigParentEntryID and OrigParentUID locate the file's chunks on the
	// storage targets. They keep their values after a cross directory move.
	OrigParentEntryID string `json:"orig_parent_entry_id,omitempty"`
	OrigParentUID     uint32 `json:"orig_parent_uid"`

	FileVersion uint32 `json:"file_version"`
	MetaVersion uint32 `json:"meta_version"`

	DataState     DataState `json:"data_state,omitempty"`
	RemoteTargets []uint32  `json:"remote_targets,omitempty"`

	// OrigFeature is false only for inodes loaded from the oldest inlined
	// format, whose chunk path does not depend on the original parent.
	OrigFeature bool `json:"orig_feature"`
}

// NewFileInodeData creates inode data for a new file created in parentID.
func NewFileInodeData(entryID, parentID string, stat StatData, pattern StripePattern) *FileInodeData {
	d := &FileInodeData{
		EntryID:     entryID,
		Stat:        stat,
		Pattern:     pattern,
		OrigFeature: true,
	}
	d.FeatureFlags |= InodeHasVersions
	d.SetOrigParentEntryID(parentID)
	d.OrigParentUID = stat.UID
	return d
}

// IsBuddyMirrored reports whether the inode is buddy mirrored.
func (d *FileInodeData) IsBuddyMirrored() bool {
	return d.FeatureFlags&InodeBuddyMirrored != 0
}

// SetBuddyMirrored sets or clears the buddy mirror flag.
func (d *FileInodeData) SetBuddyMirrored(mirrored bool) {
	if mirrored {
		d.FeatureFlags |= InodeBuddyMirrored
		return
	}
	d.FeatureFlags &^= InodeBuddyMirrored
}

// SetOrigParentEntryID records the chunk-path parent. An empty ID means the
// entry is located in the root and needs no flag.
func (d *FileInodeData) SetOrigParentEntryID(parentID string) {
	d.OrigParentEntryID = parentID
	if parentID == "" {
		d.FeatureFlags &^= InodeHasOrigParentID
		return
	}
	d.FeatureFlags |= InodeHasOrigParentID
}

// SetPersistentOrigParentID is used before the inode leaves its directory. It
// only persists the current parent when none is recorded yet.
func (d *FileInodeData) SetPersistentOrigParentID(parentID string) {
	if d.FeatureFlags&InodeHasOrigParentID != 0 || !d.OrigFeature {
		return
	}
	d.SetOrigParentEntryID(parentID)
}

// SetOrigUID records the chunk-path owner. The flag is only needed when it
// differs from the current owner.
func (d *FileInodeData) SetOrigUID(uid uint32) {
	d.OrigParentUID = uid
	if uid != d.Stat.UID {
		d.FeatureFlags |= InodeHasOrigUID
		return
	}
	d.FeatureFlags &^= InodeHasOrigUID
}

// SetDataState stores a data state and flags it for persistence.
func (d *FileInodeData) SetDataState(state DataState) {
	d.DataState = state
	d.FeatureFlags |= InodeHasDataState
}

// SetRemoteTargets stores the remote target list.
func (d *FileInodeData) SetRemoteTargets(targets []uint32) {
	d.RemoteTargets = append([]uint32(nil), targets...)
	if len(targets) == 0 {
		d.FeatureFlags &^= InodeHasRemoteTargets
		return
	}
	d.FeatureFlags |= InodeHasRemoteTargets
}

// IncVersion bumps the metadata version counter.
func (d *FileInodeData) IncVersion() {
	d.FeatureFlags |= InodeHasVersions
	d.MetaVersion++
}

// Clone returns a deep copy.
func (d *FileInodeData) Clone() *FileInodeData {
	if d == nil {
		return nil
	}
	out := *d
	out.Stat = d.Stat.Clone()
	out.Pattern = ClonePattern(d.Pattern)
	if d.RemoteTargets != nil {
		out.RemoteTargets = append([]uint32(nil), d.RemoteTargets...)
	}
	return &out
}
