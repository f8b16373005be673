package codec

import "github.com/marmos91/dittometa/pkg/metadata"

// statFormat selects one of the persisted stat data layouts.
type statFormat uint8

const (
	statHasFlags statFormat = 1 << iota
	statDirInode
)

const (
	statFormatFileInode      = statHasFlags
	statFormatDentryV4       = statFormat(0)
	statFormatDirInode       = statDirInode | statHasFlags
	statFormatDirInodeNoFlag = statDirInode
)

func writeStat(w *writer, s *metadata.StatData, f statFormat) {
	if f&statHasFlags != 0 {
		w.u32(uint32(s.Flags))
		w.u32(s.Mode)
		if s.IsSparse() {
			w.u64s(s.ChunkBlocks)
		}
	}

	w.i64(s.CreationTime)
	w.i64(s.ATime)
	w.i64(s.MTime)
	w.i64(s.CTime)

	if f&statDirInode == 0 {
		w.i64(s.Size)
		w.u32(s.NumHardlinks)
		w.u32(s.ContentsVersion)
	}

	w.u32(s.UID)
	w.u32(s.GID)

	if f&statHasFlags == 0 {
		w.u32(s.Mode)
	}
}

func readStat(r *reader, s *metadata.StatData, f statFormat) {
	if f&statHasFlags != 0 {
		s.Flags = metadata.StatFlags(r.u32())
		s.Mode = r.u32()
		if s.IsSparse() {
			s.ChunkBlocks = r.u64s()
		}
	}

	s.CreationTime = r.i64()
	s.ATime = r.i64()
	s.MTime = r.i64()
	s.CTime = r.i64()

	if f&statDirInode == 0 {
		s.Size = r.i64()
		s.NumHardlinks = r.u32()
		s.ContentsVersion = r.u32()
	}

	s.UID = r.u32()
	s.GID = r.u32()

	if f&statHasFlags == 0 {
		s.Mode = r.u32()
	}
}
