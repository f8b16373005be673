package codec

import (
	"fmt"

	"github.com/marmos91/dittometa/pkg/metadata"
)

// patternNoPoolFlag is stored in the high bits of the pattern type when the
// pattern carries no storage pool ID.
const patternNoPoolFlag uint32 = 1 << 24

// writePattern writes length | type | chunkSize | [pool] | content.
// poolCapable is false for formats that predate storage pools.
func writePattern(w *writer, p metadata.StripePattern, poolCapable bool) {
	if p == nil {
		w.err = fmt.Errorf("%w: missing stripe pattern", ErrCorrupt)
		return
	}

	start := len(w.buf)
	w.u32(0) // length, patched below

	h := p.Header()
	withPool := poolCapable && h.HasPoolID
	typ := uint32(p.Type())
	if poolCapable && !withPool {
		typ |= patternNoPoolFlag
	}
	w.u32(typ)
	w.u32(h.ChunkSize)
	if withPool {
		w.u16(h.PoolID)
		w.skip(2)
	}

	switch v := p.(type) {
	case *metadata.Raid0Pattern:
		w.u32(v.NumTargets)
		w.u16s(v.TargetIDs)
	case *metadata.Raid10Pattern:
		w.u32(v.NumTargets)
		w.u16s(v.TargetIDs)
		w.u16s(v.MirrorTargetIDs)
	case *metadata.BuddyMirrorPattern:
		w.u32(v.NumTargets)
		w.u16s(v.GroupIDs)
	default:
		w.err = fmt.Errorf("%w: unknown stripe pattern %T", ErrCorrupt, p)
		return
	}

	w.putU32At(start, uint32(len(w.buf)-start))
}

func readPattern(r *reader, poolCapable bool) metadata.StripePattern {
	start := r.off
	length := int(r.u32())
	typ := r.u32()
	chunkSize := r.u32()
	if r.err != nil {
		return nil
	}

	h := metadata.PatternHeader{ChunkSize: chunkSize}
	if poolCapable && typ&patternNoPoolFlag == 0 {
		h.PoolID = r.u16()
		r.skip(2)
		h.HasPoolID = true
	}
	typ &^= patternNoPoolFlag

	var p metadata.StripePattern
	switch metadata.PatternType(typ) {
	case metadata.PatternRaid0:
		v := &metadata.Raid0Pattern{PatternHeader: h}
		v.NumTargets = r.u32()
		v.TargetIDs = r.u16s()
		p = v
	case metadata.PatternRaid10:
		v := &metadata.Raid10Pattern{PatternHeader: h}
		v.NumTargets = r.u32()
		v.TargetIDs = r.u16s()
		v.MirrorTargetIDs = r.u16s()
		p = v
	case metadata.PatternBuddyMirror:
		v := &metadata.BuddyMirrorPattern{PatternHeader: h}
		v.NumTargets = r.u32()
		v.GroupIDs = r.u16s()
		p = v
	default:
		r.err = fmt.Errorf("%w: stripe pattern type %d", ErrCorrupt, typ)
		return nil
	}

	if r.err == nil && r.off-start != length {
		r.err = fmt.Errorf("%w: stripe pattern length %d, consumed %d", ErrCorrupt, length, r.off-start)
		return nil
	}
	return p
}
