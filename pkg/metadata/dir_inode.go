package metadata

// DirInodeData is the persisted state of a directory inode.
type DirInodeData struct {
	ID           string        `json:"id"`
	OwnerNodeID  NodeID        `json:"owner_node_id"`
	ParentDirID  string        `json:"parent_dir_id"`
	ParentNodeID NodeID        `json:"parent_node_id"`
	Pattern      StripePattern `json:"pattern"`
	Stat         StatData      `json:"stat"`
	NumSubdirs   uint32        `json:"num_subdirs"`
	NumFiles     uint32        `json:"num_files"`
	FeatureFlags DirFlags      `json:"feature_flags"`
}

// NewDirInodeData creates the inode of a new directory.
func NewDirInodeData(id, parentID string, owner, parentNode NodeID, stat StatData, pattern StripePattern) *DirInodeData {
	d := &DirInodeData{
		ID:           id,
		OwnerNodeID:  owner,
		ParentDirID:  parentID,
		ParentNodeID: parentNode,
		Pattern:      pattern,
		Stat:         stat,
		FeatureFlags: DirEarlySubdirs | DirStatFlags,
	}
	d.Stat.Mode = EntryTypeDirectory.ModeTypeBits() | (stat.Mode & 0o7777)
	return d
}

// NLink returns the POSIX link count of the directory.
func (d *DirInodeData) NLink() uint32 {
	return 2 + d.NumSubdirs
}

// IsBuddyMirrored reports whether the directory is buddy mirrored.
func (d *DirInodeData) IsBuddyMirrored() bool {
	return d.FeatureFlags&DirBuddyMirrored != 0
}

// SetBuddyMirrored sets or clears the buddy mirror flag.
func (d *DirInodeData) SetBuddyMirrored(mirrored bool) {
	if mirrored {
		d.FeatureFlags |= DirBuddyMirrored
		return
	}
	d.FeatureFlags &^= DirBuddyMirrored
}

// Clone returns a deep copy.
func (d *DirInodeData) Clone() *DirInodeData {
	if d == nil {
		return nil
	}
	out := *d
	out.Stat = d.Stat.Clone()
	out.Pattern = ClonePattern(d.Pattern)
	return &out
}
