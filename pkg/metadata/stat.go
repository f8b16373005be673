package metadata

import "time"

// StatFlags are per-stat-data feature bits.
type StatFlags uint32

// StatSparseFile marks a file whose per-target chunk block counts are tracked.
const StatSparseFile StatFlags = 1

// StatBlockSize is the unit of NumBlocks.
const StatBlockSize = 512

// StatData holds the POSIX attributes of an inode. Times are seconds since the
// Unix epoch, matching the persisted representation.
type StatData struct {
	Flags           StatFlags `json:"flags,omitempty"`
	Mode            uint32    `json:"mode"`
	UID             uint32    `json:"uid"`
	GID             uint32    `json:"gid"`
	Size            int64     `json:"size"`
	CreationTime    int64     `json:"crtime"`
	ATime           int64     `json:"atime"`
	MTime           int64     `json:"mtime"`
	CTime           int64     `json:"ctime"`
	NumHardlinks    uint32    `json:"nlink"`
	ContentsVersion uint32    `json:"contents_version"`

	// ChunkBlocks holds 512-byte block counts per stripe target. Only
	// persisted for sparse files.
	ChunkBlocks []uint64 `json:"chunk_blocks,omitempty"`
}

// NewStatData returns stat data for a freshly created inode.
func NewStatData(mode, uid, gid uint32, now time.Time) StatData {
	ts := now.Unix()
	return StatData{
		Mode:         mode,
		UID:          uid,
		GID:          gid,
		CreationTime: ts,
		ATime:        ts,
		MTime:        ts,
		CTime:        ts,
		NumHardlinks: 1,
	}
}

// IsSparse reports whether per-target block counts are tracked.
func (s *StatData) IsSparse() bool {
	return s.Flags&StatSparseFile != 0
}

// SetSparse enables or disables per-target block accounting.
func (s *StatData) SetSparse(sparse bool) {
	if sparse {
		s.Flags |= StatSparseFile
		return
	}
	s.Flags &^= StatSparseFile
	s.ChunkBlocks = nil
}

// SetTargetChunkBlocks records the block count of one stripe target.
func (s *StatData) SetTargetChunkBlocks(target int, blocks uint64, numTargets int) {
	if len(s.ChunkBlocks) < numTargets {
		grown := make([]uint64, numTargets)
		copy(grown, s.ChunkBlocks)
		s.ChunkBlocks = grown
	}
	s.ChunkBlocks[target] = blocks
}

// NumBlocks returns the number of 512-byte blocks used by the file.
func (s *StatData) NumBlocks() uint64 {
	if s.IsSparse() {
		var total uint64
		for _, b := range s.ChunkBlocks {
			total += b
		}
		return total
	}
	if s.Size <= 0 {
		return 0
	}
	return uint64(s.Size+StatBlockSize-1) / StatBlockSize
}

// Clone returns a deep copy.
func (s StatData) Clone() StatData {
	out := s
	if s.ChunkBlocks != nil {
		out.ChunkBlocks = append([]uint64(nil), s.ChunkBlocks...)
	}
	return out
}

// ============================================================================
// Attribute Updates
// ============================================================================

// SetAttrMask selects which fields of a SetAttrRequest apply.
type SetAttrMask uint32

const (
	SetAttrMode SetAttrMask = 1 << iota
	SetAttrUID
	SetAttrGID
	SetAttrATime
	SetAttrMTime
	SetAttrSize
)

// SetAttrRequest carries a partial attribute update.
type SetAttrRequest struct {
	Mask  SetAttrMask
	Mode  uint32
	UID   uint32
	GID   uint32
	ATime int64
	MTime int64
	Size  int64
}

// Apply writes the selected fields into s and bumps ctime. It returns false
// when the mask is empty.
func (r SetAttrRequest) Apply(s *StatData, now time.Time) bool {
	if r.Mask == 0 {
		return false
	}
	if r.Mask&SetAttrMode != 0 {
		s.Mode = (s.Mode &^ 0o7777) | (r.Mode & 0o7777)
	}
	if r.Mask&SetAttrUID != 0 {
		s.UID = r.UID
	}
	if r.Mask&SetAttrGID != 0 {
		s.GID = r.GID
	}
	if r.Mask&SetAttrATime != 0 {
		s.ATime = r.ATime
	}
	if r.Mask&SetAttrMTime != 0 {
		s.MTime = r.MTime
	}
	if r.Mask&SetAttrSize != 0 {
		s.Size = r.Size
	}
	s.CTime = now.Unix()
	return true
}
