package metadata

// DirEntry is a directory entry: a name in a directory mapped to an entry ID.
// For regular files whose inode is inlined, Inode carries the full inode data.
type DirEntry struct {
	EntryID      string      `json:"entry_id"`
	Name         string      `json:"name"`
	Type         EntryType   `json:"type"`
	OwnerNodeID  NodeID      `json:"owner_node_id"`
	FeatureFlags DentryFlags `json:"feature_flags"`

	// Inode is set for file entries. When the inode is not inlined it is
	// only populated after loading the standalone inode record.
	Inode *FileInodeData `json:"inode,omitempty"`
}

// NewFileEntry creates a dentry with an inlined inode.
func NewFileEntry(name string, t EntryType, owner NodeID, inode *FileInodeData) *DirEntry {
	e := &DirEntry{
		EntryID:      inode.EntryID,
		Name:         name,
		Type:         t,
		OwnerNodeID:  owner,
		FeatureFlags: DentryInodeInline | DentryIsFileInode,
		Inode:        inode,
	}
	if inode.IsBuddyMirrored() {
		e.FeatureFlags |= DentryBuddyMirrored
	}
	return e
}

// NewDirEntry creates a dentry for a sub-directory.
func NewDirEntry(name, dirID string, owner NodeID, buddyMirrored bool) *DirEntry {
	e := &DirEntry{
		EntryID:     dirID,
		Name:        name,
		Type:        EntryTypeDirectory,
		OwnerNodeID: owner,
	}
	e.SetBuddyMirrored(buddyMirrored)
	return e
}

// IsInlined reports whether the file inode is embedded in this dentry.
func (e *DirEntry) IsInlined() bool {
	return e.FeatureFlags&DentryInodeInline != 0
}

// HasFileInode reports whether the record carries file inode data.
func (e *DirEntry) HasFileInode() bool {
	return e.FeatureFlags&DentryIsFileInode != 0
}

// IsBuddyMirrored reports whether the entry is buddy mirrored.
func (e *DirEntry) IsBuddyMirrored() bool {
	return e.FeatureFlags&DentryBuddyMirrored != 0
}

// SetBuddyMirrored sets the mirror flag on the dentry and an inlined inode.
func (e *DirEntry) SetBuddyMirrored(mirrored bool) {
	if mirrored {
		e.FeatureFlags |= DentryBuddyMirrored
	} else {
		e.FeatureFlags &^= DentryBuddyMirrored
	}
	if e.Inode != nil {
		e.Inode.SetBuddyMirrored(mirrored)
	}
}

// SetInlined switches the dentry between the inlined and the by-ID form.
func (e *DirEntry) SetInlined(inlined bool) {
	if inlined {
		e.FeatureFlags |= DentryInodeInline | DentryIsFileInode
		return
	}
	e.FeatureFlags &^= DentryInodeInline | DentryIsFileInode
}

// Clone returns a deep copy.
func (e *DirEntry) Clone() *DirEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Inode = e.Inode.Clone()
	return &out
}
