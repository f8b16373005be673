package inode

import (
	"encoding/binary"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/codec"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
)

func newStoredFile(t *testing.T, env *testEnv, dirID, name string) (*metadata.DirEntry, metadata.EntryInfo) {
	t.Helper()
	e := newInlinedEntry(name, dirID, false)
	require.NoError(t, NewDentryStore(env.st, dirID, false).Create(env.ctx, e))
	return e, fileInfo(dirID, e)
}

// ============================================================================
// Reference Counting
// ============================================================================

func TestFileStore_ReferenceRelease(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mkDirOnDisk(t, "D", metadata.RootDirID, false)
	_, info := newStoredFile(t, env, "D", "foo")
	fs := newDirFileStore(env.st)

	_, err := fs.Reference(env.ctx, info, false)
	assert.True(t, errors.IsPathNotExists(err), "absent inode is not loaded without loadFromDisk")

	a, err := fs.Reference(env.ctx, info, true)
	require.NoError(t, err)
	b, err := fs.Reference(env.ctx, info, false)
	require.NoError(t, err)
	assert.Same(t, a, b, "one live object per inode")
	assert.Equal(t, 2, fs.ReferenceCount(info.EntryID))
	assert.True(t, a.IsInlined())

	assert.False(t, fs.Release(env.ctx, info.EntryID))
	assert.True(t, fs.Release(env.ctx, info.EntryID))
	assert.False(t, fs.IsInStore(info.EntryID))
	assert.Equal(t, 0, fs.Size())
}

func TestFileStore_ReleaseUnknownIsIgnored(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	fs := NewFileStore(env.st)

	assert.False(t, fs.Release(env.ctx, "nope"))
	assert.Equal(t, 0, fs.Size())
}

func TestFileStore_RefcountMatchesCalls(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mkDirOnDisk(t, "D", metadata.RootDirID, false)
	_, info := newStoredFile(t, env, "D", "foo")
	fs := newDirFileStore(env.st)

	rng := rand.New(rand.NewPCG(1, 2))
	expected := 0
	for i := 0; i < 500; i++ {
		if expected == 0 || rng.IntN(2) == 0 {
			_, err := fs.Reference(env.ctx, info, true)
			require.NoError(t, err)
			expected++
		} else {
			fs.Release(env.ctx, info.EntryID)
			expected--
		}

		assert.Equal(t, expected, fs.ReferenceCount(info.EntryID))
		assert.Equal(t, expected > 0, fs.IsInStore(info.EntryID))
	}
}

func TestFileStore_TakeAndInsertReferencer(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mkDirOnDisk(t, "D", metadata.RootDirID, false)
	_, info := newStoredFile(t, env, "D", "foo")

	dirFiles := newDirFileStore(env.st)
	global := NewFileStore(env.st)

	inode, err := dirFiles.Reference(env.ctx, info, true)
	require.NoError(t, err)
	_, err = dirFiles.Reference(env.ctx, info, true)
	require.NoError(t, err)

	taken, refs, ok := dirFiles.TakeReferencer(info.EntryID)
	require.True(t, ok)
	assert.Same(t, inode, taken)
	assert.Equal(t, 2, refs)
	assert.False(t, dirFiles.IsInStore(info.EntryID))

	require.True(t, global.InsertReferencer(taken, refs))
	assert.False(t, global.InsertReferencer(taken, 1))
	assert.Equal(t, 2, global.ReferenceCount(info.EntryID))
	assert.Equal(t, []string{info.EntryID}, global.List())
}

// ============================================================================
// Sessions and Unlink
// ============================================================================

func TestFileStore_OpenClose(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mkDirOnDisk(t, "D", metadata.RootDirID, false)
	_, info := newStoredFile(t, env, "D", "foo")
	fs := newDirFileStore(env.st)

	r, err := fs.OpenFile(env.ctx, info, AccessRead, true)
	require.NoError(t, err)
	w, err := fs.OpenFile(env.ctx, info, AccessReadWrite, true)
	require.NoError(t, err)

	read, write := r.Sessions()
	assert.Equal(t, uint32(1), read)
	assert.Equal(t, uint32(1), write)
	assert.True(t, errors.IsInUse(fs.IsUnlinkable(env.ctx, info.EntryID)))

	res, err := fs.CloseFile(env.ctx, w, AccessReadWrite)
	require.NoError(t, err)
	assert.Equal(t, CloseResult{NumHardlinks: 1, NumRefs: 1}, res)

	res, err = fs.CloseFile(env.ctx, r, AccessRead)
	require.NoError(t, err)
	assert.Equal(t, CloseResult{NumHardlinks: 1, NumRefs: 0}, res)
	assert.NoError(t, fs.IsUnlinkable(env.ctx, info.EntryID))
}

func TestFileStore_GetUnreferencedInode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mkDirOnDisk(t, "D", metadata.RootDirID, false)
	_, info := newStoredFile(t, env, "D", "foo")
	fs := newDirFileStore(env.st)

	inode, err := fs.GetUnreferencedInode(env.ctx, info)
	require.NoError(t, err)
	assert.Equal(t, info.EntryID, inode.ID())
	assert.False(t, fs.IsInStore(info.EntryID))

	_, err = fs.Reference(env.ctx, info, true)
	require.NoError(t, err)
	_, err = fs.GetUnreferencedInode(env.ctx, info)
	assert.True(t, errors.IsInUse(err))
}

func TestFileStore_UnlinkInodeRemovesStandalone(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	e := newInlinedEntry("", "D", false)
	e.SetInlined(false)
	require.NoError(t, env.st.CreateFileInode(env.ctx, e))
	info := metadata.EntryInfo{ParentEntryID: "D", EntryID: e.EntryID, Type: metadata.EntryTypeRegularFile}

	global := NewFileStore(env.st)
	_, err := global.Reference(env.ctx, info, true)
	require.NoError(t, err)

	_, err = global.UnlinkInode(env.ctx, info)
	assert.True(t, errors.IsInUse(err))

	global.Release(env.ctx, info.EntryID)
	data, err := global.UnlinkInode(env.ctx, info)
	require.NoError(t, err)
	assert.Equal(t, e.EntryID, data.EntryID)
	assert.False(t, env.exists(t, env.st.Layout.InodePath(e.EntryID)))
}

// ============================================================================
// Attributes
// ============================================================================

func TestFileStore_SetAttrAndStat(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mkDirOnDisk(t, "D", metadata.RootDirID, false)
	_, info := newStoredFile(t, env, "D", "foo")
	fs := newDirFileStore(env.st)

	req := metadata.SetAttrRequest{Mask: metadata.SetAttrMode | metadata.SetAttrUID, Mode: 0o600, UID: 42}
	require.NoError(t, fs.SetAttr(env.ctx, info, req, testNow.Add(10)))
	assert.False(t, fs.IsInStore(info.EntryID))

	stat, err := fs.Stat(env.ctx, info, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), stat.UID)
	assert.Equal(t, uint32(0o600), stat.Mode&0o777)

	_, err = fs.Stat(env.ctx, info, false)
	assert.True(t, errors.IsPathNotExists(err))
}

func TestFileInode_IncDecLinkCount(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mkDirOnDisk(t, "D", metadata.RootDirID, false)
	_, info := newStoredFile(t, env, "D", "foo")
	fs := newDirFileStore(env.st)

	inode, err := fs.Reference(env.ctx, info, true)
	require.NoError(t, err)
	defer fs.Release(env.ctx, info.EntryID)

	require.NoError(t, inode.IncDecLinkCount(env.ctx, 1, testNow))
	assert.Equal(t, uint32(2), inode.NumHardlinks())

	require.NoError(t, inode.IncDecLinkCount(env.ctx, -2, testNow))
	assert.Equal(t, uint32(0), inode.NumHardlinks())

	err = inode.IncDecLinkCount(env.ctx, -1, testNow)
	assert.True(t, errors.IsInternal(err))

	e, err := NewDentryStore(env.st, "D", false).Lookup(env.ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), e.Inode.Stat.NumHardlinks, "link count persisted through the by-ID link")
}

// ============================================================================
// Cross-node Move
// ============================================================================

func TestFileStore_MoveRemoteExclusive(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mkDirOnDisk(t, "D", metadata.RootDirID, false)
	_, info := newStoredFile(t, env, "D", "foo")
	fs := newDirFileStore(env.st)

	const token MoverToken = "mover-1"
	buf, err := fs.MoveRemoteBegin(env.ctx, info, token)
	require.NoError(t, err)
	require.NotEmpty(t, buf)

	decoded, err := env.st.Codec.DecodeDentry(buf)
	require.NoError(t, err)
	assert.Equal(t, info.EntryID, decoded.EntryID)
	assert.Equal(t, "D", decoded.Inode.OrigParentEntryID)

	_, err = fs.Reference(env.ctx, info, true)
	assert.True(t, errors.IsInUse(err), "others cannot reference a moving inode")
	assert.True(t, errors.IsPathNotExists(fs.IsUnlinkable(env.ctx, info.EntryID)))

	moverCtx := WithMover(env.ctx, token)
	_, err = fs.Reference(moverCtx, info, true)
	require.NoError(t, err)
	fs.Release(moverCtx, info.EntryID)

	_, err = fs.MoveRemoteBegin(env.ctx, info, "mover-2")
	assert.True(t, errors.IsInUse(err))

	require.NoError(t, fs.MoveRemoteCancel(env.ctx, info.EntryID, token))
	assert.False(t, fs.IsInStore(info.EntryID))

	_, err = fs.Reference(env.ctx, info, true)
	require.NoError(t, err, "cancel makes the inode accessible again")
	fs.Release(env.ctx, info.EntryID)

	_, err = fs.MoveRemoteBegin(env.ctx, info, token)
	require.NoError(t, err)
	moved, err := fs.MoveRemoteComplete(env.ctx, info.EntryID, token)
	require.NoError(t, err)
	assert.Equal(t, info.EntryID, moved.ID())
	assert.False(t, fs.IsInStore(info.EntryID))

	err = fs.MoveRemoteCancel(env.ctx, info.EntryID, token)
	assert.True(t, errors.IsPathNotExists(err))
}

// ============================================================================
// Legacy Records
// ============================================================================

// legacyV4Record builds an inlined dentry in the oldest inlined format, as
// left behind by old metadata servers.
func legacyV4Record(id string, stat metadata.StatData) []byte {
	le := binary.LittleEndian
	str := func(b []byte, v string) []byte {
		b = le.AppendUint32(b, uint32(len(v)))
		b = append(b, v...)
		b = append(b, 0)
		for len(b)%4 != 0 {
			b = append(b, 0)
		}
		return b
	}

	b := []byte{byte(codec.KindFileDentry), codec.DentryV4}
	b = le.AppendUint16(b, uint16(metadata.DentryInodeInline|metadata.DentryIsFileInode))
	b = append(b, byte(metadata.EntryTypeRegularFile), 0, 0, 0)

	b = le.AppendUint32(b, 0) // inode flags
	b = append(b, 0, 0, 0, 0)
	for _, v := range []int64{stat.CreationTime, stat.ATime, stat.MTime, stat.CTime, stat.Size} {
		b = le.AppendUint64(b, uint64(v))
	}
	for _, v := range []uint32{stat.NumHardlinks, stat.ContentsVersion, stat.UID, stat.GID, stat.Mode} {
		b = le.AppendUint32(b, v)
	}
	b = str(b, id)

	start := len(b)
	b = le.AppendUint32(b, 0) // pattern length
	b = le.AppendUint32(b, uint32(metadata.PatternRaid0))
	b = le.AppendUint32(b, 512<<10)
	b = le.AppendUint32(b, 2) // num targets
	b = le.AppendUint32(b, 2)
	b = le.AppendUint16(b, 11)
	b = le.AppendUint16(b, 12)
	le.PutUint32(b[start:], uint32(len(b)-start))
	return b
}

func TestFileStore_LegacyInodeKeepsDataState(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mkDirOnDisk(t, "D", metadata.RootDirID, false)
	ds := NewDentryStore(env.st, "D", false)
	e, info := newStoredFile(t, env, "D", "old")

	stat := e.Inode.Stat
	require.NoError(t, env.records.WriteRecord(env.ctx, ds.NamePath("old"), legacyV4Record(e.EntryID, stat)))

	fs := newDirFileStore(env.st)
	f, err := fs.Reference(env.ctx, info, true)
	require.NoError(t, err)
	assert.False(t, f.Data().OrigFeature)

	require.NoError(t, f.SetDataState(env.ctx, 5))
	assert.True(t, fs.Release(env.ctx, info.EntryID))
	require.False(t, fs.IsInStore(info.EntryID))

	raw, err := env.records.ReadRecord(env.ctx, ds.ByIDPath(e.EntryID))
	require.NoError(t, err)
	h, err := codec.PeekHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, codec.DentryV6, h.Version, "the next write upgrades the record")

	f, err = fs.Reference(env.ctx, info, true)
	require.NoError(t, err)
	defer fs.Release(env.ctx, info.EntryID)

	in := f.Data()
	assert.Equal(t, metadata.DataState(5), in.DataState)
	assert.False(t, in.OrigFeature, "chunk path generation survives the upgrade")
	assert.Equal(t, stat.Size, in.Stat.Size)
	assert.Equal(t, metadata.DefaultPoolID, in.Pattern.Header().PoolID)
}

func TestFileStore_MoveRemoteCancelUndoesOrigParent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mkDirOnDisk(t, "D", metadata.RootDirID, false)
	ds := NewDentryStore(env.st, "D", false)

	e := newInlinedEntry("foo", "D", false)
	e.Inode.SetOrigParentEntryID("") // created in the root, moved here later
	require.NoError(t, ds.Create(env.ctx, e))
	info := fileInfo("D", e)
	fs := newDirFileStore(env.st)

	const token MoverToken = "mover-1"
	buf, err := fs.MoveRemoteBegin(env.ctx, info, token)
	require.NoError(t, err)
	sent, err := env.st.Codec.DecodeDentry(buf)
	require.NoError(t, err)
	assert.Equal(t, "D", sent.Inode.OrigParentEntryID, "the receiver gets the pinned parent")

	f, err := fs.Reference(WithMover(env.ctx, token), info, true)
	require.NoError(t, err)
	require.NoError(t, fs.MoveRemoteCancel(env.ctx, info.EntryID, token))

	assert.Zero(t, f.Data().FeatureFlags&metadata.InodeHasOrigParentID)
	assert.Empty(t, f.Data().OrigParentEntryID)

	// A later store must not persist the pin either.
	require.NoError(t, f.SetDataState(env.ctx, 1))
	fs.Release(env.ctx, info.EntryID)

	got, err := ds.Lookup(env.ctx, "foo")
	require.NoError(t, err)
	assert.Zero(t, got.Inode.FeatureFlags&metadata.InodeHasOrigParentID)
}
