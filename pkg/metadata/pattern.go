package metadata

import "fmt"

// PatternType identifies the striping scheme of a file.
type PatternType uint32

const (
	PatternInvalid PatternType = iota
	PatternRaid0
	PatternRaid10
	PatternBuddyMirror
)

// String returns a human-readable name for the pattern type.
func (t PatternType) String() string {
	switch t {
	case PatternRaid0:
		return "raid0"
	case PatternRaid10:
		return "raid10"
	case PatternBuddyMirror:
		return "buddymirror"
	default:
		return fmt.Sprintf("invalid(%d)", uint32(t))
	}
}

const (
	// DefaultChunkSize is used when a pattern is created with chunk size 0.
	DefaultChunkSize = 512 * 1024

	// MinChunkSize is the smallest allowed chunk size.
	MinChunkSize = 64 * 1024

	// DefaultPoolID is assigned to patterns loaded from formats without pools.
	DefaultPoolID uint16 = 1
)

// PatternHeader holds the fields common to every stripe pattern.
type PatternHeader struct {
	ChunkSize uint32 `json:"chunk_size"`
	PoolID    uint16 `json:"pool_id"`

	// HasPoolID is false for patterns loaded from pool-less formats that were
	// never rewritten.
	HasPoolID bool `json:"has_pool_id"`
}

// StripePattern is the polymorphic striping description stored with every
// file inode and, as the default for new children, with every directory inode.
// This package only stores and clones patterns; target selection is done by
// the caller.
type StripePattern interface {
	Type() PatternType
	Header() *PatternHeader
	DefaultNumTargets() uint32
	// StripeTargets returns the IDs that chunks are distributed over
	// (targets for raid0/raid10, buddy groups for buddymirror).
	StripeTargets() []uint16
	Clone() StripePattern
}

// ChunkSizeOrDefault normalizes a requested chunk size.
func ChunkSizeOrDefault(chunkSize uint32) uint32 {
	if chunkSize == 0 {
		return DefaultChunkSize
	}
	return chunkSize
}

// ValidChunkSize reports whether size is a power of two and at least MinChunkSize.
func ValidChunkSize(size uint32) bool {
	return size >= MinChunkSize && size&(size-1) == 0
}

// SetDefaultPool assigns DefaultPoolID and marks the pool as present.
func SetDefaultPool(p StripePattern) {
	if p == nil {
		return
	}
	h := p.Header()
	h.PoolID = DefaultPoolID
	h.HasPoolID = true
}

// Raid0Pattern stripes chunks over a list of storage targets.
type Raid0Pattern struct {
	PatternHeader
	NumTargets uint32   `json:"default_num_targets"`
	TargetIDs  []uint16 `json:"target_ids"`
}

// NewRaid0Pattern creates a raid0 pattern.
func NewRaid0Pattern(chunkSize, numTargets uint32, targets []uint16) *Raid0Pattern {
	return &Raid0Pattern{
		PatternHeader: PatternHeader{ChunkSize: ChunkSizeOrDefault(chunkSize), PoolID: DefaultPoolID, HasPoolID: true},
		NumTargets:    numTargets,
		TargetIDs:     append([]uint16(nil), targets...),
	}
}

func (p *Raid0Pattern) Type() PatternType { return PatternRaid0 }
func (p *Raid0Pattern) Header() *PatternHeader { return &p.PatternHeader }
func (p *Raid0Pattern) DefaultNumTargets() uint32 { return p.NumTargets }
func (p *Raid0Pattern) StripeTargets() []uint16 { return p.TargetIDs }

// Clone returns a deep copy.
func (p *Raid0Pattern) Clone() StripePattern {
	out := *p
	out.TargetIDs = append([]uint16(nil), p.TargetIDs...)
	return &out
}

// Raid10Pattern stripes chunks over targets and mirrors them to a second set.
type Raid10Pattern struct {
	PatternHeader
	NumTargets      uint32   `json:"default_num_targets"`
	TargetIDs       []uint16 `json:"target_ids"`
	MirrorTargetIDs []uint16 `json:"mirror_target_ids"`
}

// NewRaid10Pattern creates a raid10 pattern.
func NewRaid10Pattern(chunkSize, numTargets uint32, targets, mirrors []uint16) *Raid10Pattern {
	return &Raid10Pattern{
		PatternHeader:   PatternHeader{ChunkSize: ChunkSizeOrDefault(chunkSize), PoolID: DefaultPoolID, HasPoolID: true},
		NumTargets:      numTargets,
		TargetIDs:       append([]uint16(nil), targets...),
		MirrorTargetIDs: append([]uint16(nil), mirrors...),
	}
}

func (p *Raid10Pattern) Type() PatternType { return PatternRaid10 }
func (p *Raid10Pattern) Header() *PatternHeader { return &p.PatternHeader }
func (p *Raid10Pattern) DefaultNumTargets() uint32 { return p.NumTargets }
func (p *Raid10Pattern) StripeTargets() []uint16 { return p.TargetIDs }

// Clone returns a deep copy.
func (p *Raid10Pattern) Clone() StripePattern {
	out := *p
	out.TargetIDs = append([]uint16(nil), p.TargetIDs...)
	out.MirrorTargetIDs = append([]uint16(nil), p.MirrorTargetIDs...)
	return &out
}

// BuddyMirrorPattern stripes chunks over buddy mirror groups.
type BuddyMirrorPattern struct {
	PatternHeader
	NumTargets uint32   `json:"default_num_targets"`
	GroupIDs   []uint16 `json:"group_ids"`
}

// NewBuddyMirrorPattern creates a buddy mirror pattern.
func NewBuddyMirrorPattern(chunkSize, numTargets uint32, groups []uint16) *BuddyMirrorPattern {
	return &BuddyMirrorPattern{
		PatternHeader: PatternHeader{ChunkSize: ChunkSizeOrDefault(chunkSize), PoolID: DefaultPoolID, HasPoolID: true},
		NumTargets:    numTargets,
		GroupIDs:      append([]uint16(nil), groups...),
	}
}

func (p *BuddyMirrorPattern) Type() PatternType { return PatternBuddyMirror }
func (p *BuddyMirrorPattern) Header() *PatternHeader { return &p.PatternHeader }
func (p *BuddyMirrorPattern) DefaultNumTargets() uint32 { return p.NumTargets }
func (p *BuddyMirrorPattern) StripeTargets() []uint16 { return p.GroupIDs }

// Clone returns a deep copy.
func (p *BuddyMirrorPattern) Clone() StripePattern {
	out := *p
	out.GroupIDs = append([]uint16(nil), p.GroupIDs...)
	return &out
}

// ClonePattern clones p, tolerating nil.
func ClonePattern(p StripePattern) StripePattern {
	if p == nil {
		return nil
	}
	return p.Clone()
}
