package codec

import (
	"fmt"

	"github.com/marmos91/dittometa/pkg/metadata"
)

// dirInodeTail decodes the version specific node IDs of a directory inode and
// reports whether the stripe pattern that follows carries a pool ID.
type dirInodeTail func(r *reader, d *metadata.DirInodeData) (poolCapable bool)

var dirInodeDecoders = map[uint8]dirInodeTail{
	DirInodeV1: func(r *reader, d *metadata.DirInodeData) bool {
		d.OwnerNodeID = metadata.NodeID(r.u16())
		d.ParentNodeID = metadata.NodeID(r.u16())
		return false
	},
	DirInodeV2: func(r *reader, d *metadata.DirInodeData) bool {
		d.OwnerNodeID = metadata.NodeID(r.u32())
		d.ParentNodeID = metadata.NodeID(r.u32())
		return false
	},
	DirInodeV3: func(r *reader, d *metadata.DirInodeData) bool {
		d.OwnerNodeID = metadata.NodeID(r.u32())
		d.ParentNodeID = metadata.NodeID(r.u32())
		return true
	},
}

func dirCommon(flags metadata.DirFlags) (early bool, sf statFormat) {
	sf = statFormatDirInodeNoFlag
	if flags&metadata.DirStatFlags != 0 {
		sf = statFormatDirInode
	}
	return flags&metadata.DirEarlySubdirs != 0, sf
}

// EncodeDirInode serializes a directory inode in the newest format.
func (c *Codec) EncodeDirInode(d *metadata.DirInodeData) ([]byte, error) {
	flags := (d.FeatureFlags | metadata.DirEarlySubdirs | metadata.DirStatFlags) &^ metadata.DirLegacyMirrored

	w := newWriter(c.InodeLimit)
	w.u8(uint8(KindDirInode))
	w.u8(DirInodeV3)
	w.u16(uint16(flags))

	w.u32(d.NumSubdirs)
	writeStat(w, &d.Stat, statFormatDirInode)
	w.u32(d.NumFiles)
	w.str(d.ID)
	w.str(d.ParentDirID)

	w.u32(uint32(d.OwnerNodeID))
	w.u32(uint32(d.ParentNodeID))
	writePattern(w, d.Pattern, true)

	return w.bytes()
}

// DecodeDirInode parses a directory inode record of any supported version.
func (c *Codec) DecodeDirInode(b []byte) (*metadata.DirInodeData, error) {
	r := newReader(b)
	kind := RecordKind(r.u8())
	version := r.u8()
	flags := metadata.DirFlags(r.u16())
	if r.err != nil {
		return nil, &FormatError{Kind: kind, Version: version, Err: r.err}
	}
	if kind != KindDirInode {
		return nil, &FormatError{Kind: kind, Version: version, Err: fmt.Errorf("%w: expected dir-inode record", ErrCorrupt)}
	}
	if err := checkFlags(uint32(flags), uint32(SupportedDirFlags)); err != nil {
		return nil, &FormatError{Kind: kind, Version: version, Err: err}
	}
	tail, ok := dirInodeDecoders[version]
	if !ok {
		return nil, &FormatError{Kind: kind, Version: version, Err: ErrUnsupportedVersion}
	}

	d := &metadata.DirInodeData{FeatureFlags: flags}
	early, sf := dirCommon(flags)
	if early {
		d.NumSubdirs = r.u32()
	}
	readStat(r, &d.Stat, sf)
	if !early {
		d.NumSubdirs = r.u32()
	}
	d.NumFiles = r.u32()
	d.ID = r.str()
	d.ParentDirID = r.str()

	poolCapable := tail(r, d)

	if flags&metadata.DirLegacyMirrored != 0 {
		d.FeatureFlags &^= metadata.DirLegacyMirrored
		r.u16()
	}

	d.Pattern = readPattern(r, poolCapable)
	if r.err != nil {
		return nil, &FormatError{Kind: kind, Version: version, Err: r.err}
	}
	if !poolCapable {
		metadata.SetDefaultPool(d.Pattern)
	}

	d.FeatureFlags |= metadata.DirEarlySubdirs | metadata.DirStatFlags
	return d, nil
}
