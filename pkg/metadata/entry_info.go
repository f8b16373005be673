package metadata

import "path"

// EntryInfoFlags are hints carried with an EntryInfo.
type EntryInfoFlags uint8

const (
	// EntryInfoInlined hints that the file inode is inlined in its dentry.
	// The hint may be stale.
	EntryInfoInlined EntryInfoFlags = 1

	// EntryInfoBuddyMirrored marks an entry owned by a buddy group.
	EntryInfoBuddyMirrored EntryInfoFlags = 2
)

// EntryInfo is the opaque entry identity passed between the request layer and
// the coordinator.
type EntryInfo struct {
	OwnerNodeID   NodeID         `json:"owner_node_id"`
	ParentEntryID string         `json:"parent_entry_id"`
	EntryID       string         `json:"entry_id"`
	FileName      string         `json:"file_name"`
	Type          EntryType      `json:"type"`
	Flags         EntryInfoFlags `json:"flags"`
}

// NewEntryInfo builds an EntryInfo from a dentry located in parentID.
func NewEntryInfo(parentID string, e *DirEntry) EntryInfo {
	info := EntryInfo{
		OwnerNodeID:   e.OwnerNodeID,
		ParentEntryID: parentID,
		EntryID:       e.EntryID,
		FileName:      e.Name,
		Type:          e.Type,
	}
	if e.IsInlined() {
		info.Flags |= EntryInfoInlined
	}
	if e.IsBuddyMirrored() {
		info.Flags |= EntryInfoBuddyMirrored
	}
	return info
}

// IsInlined returns the inline hint.
func (i EntryInfo) IsInlined() bool { return i.Flags&EntryInfoInlined != 0 }

// IsBuddyMirrored reports whether the entry is buddy mirrored.
func (i EntryInfo) IsBuddyMirrored() bool { return i.Flags&EntryInfoBuddyMirrored != 0 }

// SetInlined updates the inline hint.
func (i *EntryInfo) SetInlined(inlined bool) {
	if inlined {
		i.Flags |= EntryInfoInlined
		return
	}
	i.Flags &^= EntryInfoInlined
}

// SetBuddyMirrored updates the mirror flag.
func (i *EntryInfo) SetBuddyMirrored(mirrored bool) {
	if mirrored {
		i.Flags |= EntryInfoBuddyMirrored
		return
	}
	i.Flags &^= EntryInfoBuddyMirrored
}

// String returns "<parent>/<name>" for logging.
func (i EntryInfo) String() string {
	return path.Join(i.ParentEntryID, i.FileName)
}
