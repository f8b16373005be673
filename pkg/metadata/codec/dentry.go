package codec

import (
	"fmt"

	"github.com/marmos91/dittometa/pkg/metadata"
)

// dentryDecoder decodes the version specific body of a dentry record into e.
// The header has already been consumed and validated.
type dentryDecoder func(c *Codec, r *reader, e *metadata.DirEntry)

// dentryDecoders maps format versions to body decoders. Adding a format is a
// matter of adding an entry here and a case in dentryVersionFor.
var dentryDecoders = map[uint8]dentryDecoder{
	DentryV3: decodeDentryV3,
	DentryV4: decodeDentryV4,
	DentryV5: func(c *Codec, r *reader, e *metadata.DirEntry) { decodeDentryV5V6(c, r, e, false) },
	DentryV6: func(c *Codec, r *reader, e *metadata.DirEntry) { decodeDentryV5V6(c, r, e, true) },
}

// dentryVersionFor picks the format written for a record. V4 and V5 are
// never written: loading them upgrades the inode to V6 semantics, and V6
// keeps the legacy chunk path of a V4 inode in InodeLegacyChunkPath.
func dentryVersionFor(kind RecordKind, e *metadata.DirEntry) uint8 {
	switch {
	case e.Type.IsDir():
		return DentryV3
	case kind == KindFileInode:
		return DentryV6
	case !e.IsInlined():
		return DentryV3
	default:
		return DentryV6
	}
}

// EncodeDentry serializes a dentry as stored under its parent directory.
func (c *Codec) EncodeDentry(e *metadata.DirEntry) ([]byte, error) {
	kind := KindFileDentry
	if e.Type.IsDir() {
		kind = KindDirDentry
	}
	return c.encodeDentryFormat(e, kind, c.DentryLimit)
}

// EncodeFileInode serializes the inode of a file. Inlined inodes keep the
// dentry layout and budget, since the same record is rewritten through
// EncodeDentry; standalone inodes are written as KindFileInode records.
func (c *Codec) EncodeFileInode(e *metadata.DirEntry) ([]byte, error) {
	if e.IsInlined() {
		return c.encodeDentryFormat(e, KindFileDentry, c.DentryLimit)
	}
	return c.encodeDentryFormat(e, KindFileInode, c.InodeLimit)
}

func (c *Codec) encodeDentryFormat(e *metadata.DirEntry, kind RecordKind, limit int) ([]byte, error) {
	t := e.Type
	if !t.IsValid() && e.Inode != nil {
		t = metadata.EntryTypeFromMode(e.Inode.Stat.Mode)
	}
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: entry %q has no valid type", ErrCorrupt, e.EntryID)
	}

	probe := *e
	probe.Type = t
	version := dentryVersionFor(kind, &probe)
	if version != DentryV3 && e.Inode == nil {
		return nil, fmt.Errorf("%w: entry %q carries no inode data", ErrCorrupt, e.EntryID)
	}

	// New records always use wide node IDs; legacy mirroring is never written.
	flags := (e.FeatureFlags | metadata.DentryWideNodeIDs) &^ metadata.DentryLegacyMirrored

	w := newWriter(limit)
	w.u8(uint8(kind))
	w.u8(version)
	w.u16(uint16(flags))
	w.u8(uint8(t))
	w.skip(3)

	switch version {
	case DentryV3:
		w.str(e.EntryID)
		w.u32(uint32(e.OwnerNodeID))
	case DentryV6:
		encodeDentryV6(w, e)
	}

	return w.bytes()
}

func encodeDentryV6(w *writer, e *metadata.DirEntry) {
	in := e.Inode
	flags := in.FeatureFlags &^ (metadata.InodeLegacyMirrored | metadata.InodeLegacyChunkPath)
	if in.Stat.Flags != 0 {
		flags |= metadata.InodeHasStatFlags
	}
	if !in.OrigFeature {
		flags |= metadata.InodeLegacyChunkPath
	}

	w.u32(uint32(flags))
	w.skip(4)
	writeStat(w, &in.Stat, statFormatFileInode)

	if flags&metadata.InodeHasOrigUID != 0 {
		w.u32(in.OrigParentUID)
	}
	if flags&metadata.InodeHasOrigParentID != 0 {
		w.str(in.OrigParentEntryID)
	}

	w.str(e.EntryID)
	writePattern(w, in.Pattern, true)

	if flags&metadata.InodeHasVersions != 0 {
		w.u32(in.FileVersion)
		w.u32(in.MetaVersion)
	}
	if flags&metadata.InodeHasDataState != 0 {
		w.u8(uint8(in.DataState))
		w.skip(3)
	}
	if flags&metadata.InodeHasRemoteTargets != 0 {
		w.u32s(in.RemoteTargets)
	}
}

// DecodeDentry parses a dentry or file inode record. The returned entry has
// no name: names are not part of the record.
func (c *Codec) DecodeDentry(b []byte) (*metadata.DirEntry, error) {
	r := newReader(b)
	kind := RecordKind(r.u8())
	version := r.u8()
	flags := metadata.DentryFlags(r.u16())
	if r.err != nil {
		return nil, &FormatError{Kind: kind, Version: version, Err: r.err}
	}

	if kind != KindFileInode && kind != KindFileDentry && kind != KindDirDentry {
		return nil, &FormatError{Kind: kind, Version: version, Err: fmt.Errorf("%w: not a dentry record", ErrCorrupt)}
	}
	if err := checkFlags(uint32(flags), uint32(SupportedDentryFlags)); err != nil {
		return nil, &FormatError{Kind: kind, Version: version, Err: err}
	}

	e := &metadata.DirEntry{FeatureFlags: flags}
	e.Type = metadata.EntryType(r.u8())

	if flags&metadata.DentryLegacyMirrored != 0 {
		// Pre buddy-mirror records: the mirror node is dropped and the flag
		// stripped so it is never written back.
		e.FeatureFlags &^= metadata.DentryLegacyMirrored
		r.u16()
		r.skip(1)
	} else {
		r.skip(3)
	}

	decode, ok := dentryDecoders[version]
	if !ok {
		return nil, &FormatError{Kind: kind, Version: version, Err: ErrUnsupportedVersion}
	}
	decode(c, r, e)
	if r.err != nil {
		return nil, &FormatError{Kind: kind, Version: version, Err: r.err}
	}

	if e.Inode != nil && !e.Type.IsValid() {
		e.Type = metadata.EntryTypeFromMode(e.Inode.Stat.Mode)
	}
	e.FeatureFlags |= metadata.DentryWideNodeIDs
	return e, nil
}

func decodeDentryV3(_ *Codec, r *reader, e *metadata.DirEntry) {
	e.EntryID = r.str()
	if e.FeatureFlags&metadata.DentryWideNodeIDs != 0 {
		e.OwnerNodeID = metadata.NodeID(r.u32())
	} else {
		e.OwnerNodeID = metadata.NodeID(r.u16())
	}
}

func decodeDentryV4(c *Codec, r *reader, e *metadata.DirEntry) {
	flags := metadata.InodeFlags(r.u32())
	if r.err != nil {
		return
	}
	if err := checkFlags(uint32(flags), uint32(SupportedInodeFlagsV4)); err != nil {
		r.err = err
		return
	}

	in := &metadata.FileInodeData{FeatureFlags: flags}
	r.skip(4)
	readStat(r, &in.Stat, statFormatDentryV4)
	e.EntryID = r.str()
	in.EntryID = e.EntryID

	if flags&metadata.InodeLegacyMirrored != 0 {
		in.FeatureFlags &^= metadata.InodeLegacyMirrored
		r.u16()
	}

	in.Pattern = readPattern(r, false)
	if flags&metadata.InodeHasVersions != 0 {
		in.FileVersion = r.u32()
		in.MetaVersion = r.u32()
	}
	metadata.SetDefaultPool(in.Pattern)

	in.FeatureFlags |= metadata.InodeHasVersions
	in.OrigParentUID = in.Stat.UID
	in.OrigFeature = false

	e.Inode = in
	e.OwnerNodeID = c.Local.owner(in.IsBuddyMirrored())
}

func decodeDentryV5V6(c *Codec, r *reader, e *metadata.DirEntry, poolCapable bool) {
	flags := metadata.InodeFlags(r.u32())
	if r.err != nil {
		return
	}
	supported := SupportedInodeFlagsV5
	if poolCapable {
		supported = SupportedInodeFlagsV6
	}
	if err := checkFlags(uint32(flags), uint32(supported)); err != nil {
		r.err = err
		return
	}

	in := &metadata.FileInodeData{FeatureFlags: flags}
	r.skip(4)
	readStat(r, &in.Stat, statFormatFileInode)

	if flags&metadata.InodeHasOrigUID != 0 {
		in.OrigParentUID = r.u32()
	} else {
		in.OrigParentUID = in.Stat.UID
	}
	if flags&metadata.InodeHasOrigParentID != 0 {
		in.OrigParentEntryID = r.str()
	}

	e.EntryID = r.str()
	in.EntryID = e.EntryID

	if flags&metadata.InodeLegacyMirrored != 0 {
		in.FeatureFlags &^= metadata.InodeLegacyMirrored
		r.u16()
	}

	in.Pattern = readPattern(r, poolCapable)

	if flags&metadata.InodeHasVersions != 0 {
		in.FileVersion = r.u32()
		in.MetaVersion = r.u32()
	}
	if poolCapable {
		if flags&metadata.InodeHasDataState != 0 {
			in.DataState = metadata.DataState(r.u8())
			r.skip(3)
		}
		if flags&metadata.InodeHasRemoteTargets != 0 {
			in.RemoteTargets = r.u32s()
		}
	} else if in.Pattern != nil {
		metadata.SetDefaultPool(in.Pattern)
	}

	in.FeatureFlags |= metadata.InodeHasVersions
	in.OrigFeature = flags&metadata.InodeLegacyChunkPath == 0
	in.FeatureFlags &^= metadata.InodeLegacyChunkPath

	e.Inode = in
	e.OwnerNodeID = c.Local.owner(in.IsBuddyMirrored())
}
