package metastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/inode"
)

// ============================================================================
// LinkInSameDir
// ============================================================================

func TestLinkInSameDir_DeinlinesFirst(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	e := env.mkFile(t, metadata.RootDirID, "f")

	link, err := env.m.LinkInSameDir(env.ctx, metadata.RootDirID, "f", "g")
	require.NoError(t, err)
	assert.Equal(t, "g", link.Name)
	assert.Equal(t, e.EntryID, link.EntryID)
	assert.False(t, link.IsInlined())
	require.NotNil(t, link.Inode)
	assert.Equal(t, uint32(2), link.Inode.Stat.NumHardlinks)

	for _, name := range []string{"f", "g"} {
		got := env.lookup(t, metadata.RootDirID, name)
		assert.False(t, got.IsInlined(), name)
		assert.Equal(t, e.EntryID, got.EntryID, name)
	}
	assert.False(t, env.exists(t, env.layout().ByIDPath(metadata.RootDirID, e.EntryID)))

	loaded, inlined, err := env.m.Storage().LoadFileInode(env.ctx, metadata.RootDirID, e.EntryID, false)
	require.NoError(t, err)
	assert.False(t, inlined)
	assert.Equal(t, uint32(2), loaded.Inode.Stat.NumHardlinks)
	assert.Equal(t, metadata.RootDirID, loaded.Inode.OrigParentEntryID)
	env.requireIdle(t)
}

func TestLinkInSameDir_MovesOpenInodeToGlobal(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	e := env.mkFile(t, metadata.RootDirID, "f")

	f, err := env.m.OpenFile(env.ctx, infoOf(metadata.RootDirID, e), inode.AccessRead, false)
	require.NoError(t, err)
	require.Equal(t, 1, env.m.Stats().InlinedFiles)

	_, err = env.m.LinkInSameDir(env.ctx, metadata.RootDirID, "f", "g")
	require.NoError(t, err)

	assert.Zero(t, env.m.Stats().InlinedFiles)
	assert.Equal(t, 1, env.m.files.ReferenceCount(e.EntryID))
	assert.False(t, f.IsInlined())
	assert.Equal(t, uint32(2), f.NumHardlinks(), "the live object sees the new link")

	_, err = env.m.CloseFile(env.ctx, f, inode.AccessRead)
	require.NoError(t, err)
	env.requireIdle(t)
}

func TestLinkInSameDir_Errors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mkFile(t, metadata.RootDirID, "f")
	env.mkFile(t, metadata.RootDirID, "taken")
	env.mkDir(t, metadata.RootDirID, "d")

	_, err := env.m.LinkInSameDir(env.ctx, metadata.RootDirID, "d", "d2")
	assert.True(t, errors.HasCode(err, errors.ErrPermissionDenied))

	_, err = env.m.LinkInSameDir(env.ctx, metadata.RootDirID, "missing", "x")
	assert.True(t, errors.IsPathNotExists(err))

	_, err = env.m.LinkInSameDir(env.ctx, metadata.RootDirID, "f", "taken")
	require.True(t, errors.IsAlreadyExists(err))

	loaded, _, err := env.m.Storage().LoadFileInode(env.ctx, metadata.RootDirID, env.lookup(t, metadata.RootDirID, "f").EntryID, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), loaded.Inode.Stat.NumHardlinks, "failed link is rolled back")
	env.requireIdle(t)
}

// ============================================================================
// MakeNewHardlink
// ============================================================================

func TestMakeNewHardlink(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	e := env.mkFile(t, metadata.RootDirID, "f")

	data, err := env.m.MakeNewHardlink(env.ctx, infoOf(metadata.RootDirID, e))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), data.Stat.NumHardlinks)
	assert.False(t, env.lookup(t, metadata.RootDirID, "f").IsInlined())

	data, err = env.m.MakeNewHardlink(env.ctx, infoOf(metadata.RootDirID, e))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), data.Stat.NumHardlinks)

	wrong := infoOf(metadata.RootDirID, e)
	wrong.EntryID = "other"
	_, err = env.m.MakeNewHardlink(env.ctx, wrong)
	assert.True(t, errors.IsPathNotExists(err))
	env.requireIdle(t)
}

// ============================================================================
// VerifyAndMoveFileInode
// ============================================================================

func TestVerifyAndMoveFileInode_RoundTrip(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	e := env.mkFile(t, metadata.RootDirID, "f")
	info := infoOf(metadata.RootDirID, e)

	require.NoError(t, env.m.VerifyAndMoveFileInode(env.ctx, metadata.RootDirID, info, MoveDeinline))
	assert.False(t, env.lookup(t, metadata.RootDirID, "f").IsInlined())
	assert.True(t, env.exists(t, env.layout().InodePath(e.EntryID)))
	assert.False(t, env.exists(t, env.layout().ByIDPath(metadata.RootDirID, e.EntryID)))

	// Repeating a finished move is a no-op.
	require.NoError(t, env.m.VerifyAndMoveFileInode(env.ctx, metadata.RootDirID, info, MoveDeinline))

	require.NoError(t, env.m.VerifyAndMoveFileInode(env.ctx, metadata.RootDirID, info, MoveReinline))
	got := env.lookup(t, metadata.RootDirID, "f")
	assert.True(t, got.IsInlined())
	require.NotNil(t, got.Inode)
	assert.Equal(t, uint32(1000), got.Inode.Stat.UID)
	assert.False(t, env.exists(t, env.layout().InodePath(e.EntryID)))
	assert.True(t, env.exists(t, env.layout().ByIDPath(metadata.RootDirID, e.EntryID)))

	require.NoError(t, env.m.VerifyAndMoveFileInode(env.ctx, metadata.RootDirID, info, MoveReinline))
	env.requireIdle(t)
}

func TestVerifyAndMoveFileInode_ReinlineRefused(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	e := env.mkFile(t, metadata.RootDirID, "f")
	_, err := env.m.LinkInSameDir(env.ctx, metadata.RootDirID, "f", "g")
	require.NoError(t, err)

	err = env.m.VerifyAndMoveFileInode(env.ctx, metadata.RootDirID, infoOf(metadata.RootDirID, e), MoveReinline)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument), "hard linked inodes stay standalone")

	_, err = env.m.UnlinkFile(env.ctx, metadata.RootDirID, "g")
	require.NoError(t, err)

	require.NoError(t, env.m.VerifyAndMoveFileInode(env.ctx, metadata.RootDirID, infoOf(metadata.RootDirID, e), MoveReinline))
	assert.True(t, env.lookup(t, metadata.RootDirID, "f").IsInlined())
	env.requireIdle(t)
}

func TestVerifyAndMoveFileInode_ReinlineOpenFile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	e := env.mkFile(t, metadata.RootDirID, "f")
	require.NoError(t, env.m.VerifyAndMoveFileInode(env.ctx, metadata.RootDirID, infoOf(metadata.RootDirID, e), MoveDeinline))

	f, err := env.m.OpenFile(env.ctx, infoOf(metadata.RootDirID, env.lookup(t, metadata.RootDirID, "f")), inode.AccessRead, false)
	require.NoError(t, err)
	require.False(t, f.IsInlined())

	require.NoError(t, env.m.VerifyAndMoveFileInode(env.ctx, metadata.RootDirID, infoOf(metadata.RootDirID, e), MoveReinline))

	got := env.lookup(t, metadata.RootDirID, "f")
	assert.True(t, got.IsInlined(), "open inodes are re-inlined with their live object")
	assert.True(t, f.IsInlined())
	assert.Equal(t, metadata.RootDirID, f.ParentDirID())
	assert.False(t, env.exists(t, env.layout().InodePath(e.EntryID)))
	assert.True(t, env.exists(t, env.layout().ByIDPath(metadata.RootDirID, e.EntryID)))
	assert.Zero(t, env.m.Stats().GlobalFiles, "the live inode left the global store")

	again, err := env.m.ReferenceFile(env.ctx, infoOf(metadata.RootDirID, got))
	require.NoError(t, err)
	assert.Same(t, f, again, "the session keeps the same live object")
	env.m.ReleaseFile(env.ctx, again)

	res, err := env.m.CloseFile(env.ctx, f, inode.AccessRead)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), res.NumHardlinks)
	env.requireIdle(t)
}

func TestVerifyAndMoveFileInode_UnknownMode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	e := env.mkFile(t, metadata.RootDirID, "f")

	err := env.m.VerifyAndMoveFileInode(env.ctx, metadata.RootDirID, infoOf(metadata.RootDirID, e), MoveMode(9))
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
	assert.Equal(t, "unknown", MoveMode(9).String())
	assert.Equal(t, "deinline", MoveDeinline.String())
}

// ============================================================================
// CheckAndRepairDupFileInode
// ============================================================================

func TestCheckAndRepairDupFileInode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	e := env.mkFile(t, metadata.RootDirID, "f")
	info := infoOf(metadata.RootDirID, e)

	removed, err := env.m.CheckAndRepairDupFileInode(env.ctx, metadata.RootDirID, info)
	require.NoError(t, err)
	assert.False(t, removed)

	// Leftover of an interrupted de-inline.
	dup := e.Clone()
	dup.SetInlined(false)
	require.NoError(t, env.m.Storage().CreateFileInode(env.ctx, dup))

	removed, err = env.m.CheckAndRepairDupFileInode(env.ctx, metadata.RootDirID, info)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, env.exists(t, env.layout().InodePath(e.EntryID)))
	assert.True(t, env.exists(t, env.layout().ByIDPath(metadata.RootDirID, e.EntryID)))
	env.requireIdle(t)
}

// ============================================================================
// Reference routing
// ============================================================================

func TestReferenceFile_FollowsPlacement(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	e := env.mkFile(t, metadata.RootDirID, "f")
	info := infoOf(metadata.RootDirID, e)

	f, err := env.m.ReferenceFile(env.ctx, info)
	require.NoError(t, err)
	assert.True(t, f.IsInlined())
	assert.Equal(t, 1, env.m.Stats().InlinedFiles)
	env.m.ReleaseFile(env.ctx, f)

	require.NoError(t, env.m.VerifyAndMoveFileInode(env.ctx, metadata.RootDirID, info, MoveDeinline))

	// The stale inlined hint is corrected by the fallback.
	f, err = env.m.ReferenceFile(env.ctx, info)
	require.NoError(t, err)
	assert.False(t, f.IsInlined())
	assert.Equal(t, 1, env.m.files.ReferenceCount(e.EntryID))
	env.m.ReleaseFile(env.ctx, f)
	env.requireIdle(t)
}

func TestReferenceFile_OneStorePerInode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	e := env.mkFile(t, metadata.RootDirID, "f")
	info := infoOf(metadata.RootDirID, e)

	a, err := env.m.ReferenceFile(env.ctx, info)
	require.NoError(t, err)
	require.NoError(t, env.m.VerifyAndMoveFileInode(env.ctx, metadata.RootDirID, info, MoveDeinline))

	standalone := info
	standalone.SetInlined(false)
	b, err := env.m.ReferenceFile(env.ctx, standalone)
	require.NoError(t, err)
	require.Same(t, a, b)
	assert.Equal(t, 2, env.m.files.ReferenceCount(e.EntryID))
	assert.Zero(t, env.m.Stats().InlinedFiles)

	env.m.ReleaseFile(env.ctx, a)
	env.m.ReleaseFile(env.ctx, b)
	env.requireIdle(t)
}
