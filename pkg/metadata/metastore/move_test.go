package metastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/inode"
)

const otherNodeID metadata.NodeID = 4

func newPeer(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnv(t, func(o *Options) { o.NodeID = otherNodeID })
}

func TestMoveRemoteFile_Inlined(t *testing.T) {
	t.Parallel()
	src, dst := newTestEnv(t), newPeer(t)
	e := src.mkFile(t, metadata.RootDirID, "f")
	info := infoOf(metadata.RootDirID, e)

	buf, token, err := src.m.MoveRemoteFileBegin(src.ctx, metadata.RootDirID, info)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotEmpty(t, buf)

	// The inode is held by the mover until the move ends.
	_, err = src.m.ReferenceFile(src.ctx, info)
	assert.True(t, errors.IsInUse(err), "got %v", err)
	_, _, err = src.m.MoveRemoteFileBegin(src.ctx, metadata.RootDirID, info)
	assert.True(t, errors.IsInUse(err), "got %v", err)

	moved, overwritten, err := dst.m.MoveRemoteFileInsert(dst.ctx, metadata.RootDirID, "g", buf)
	require.NoError(t, err)
	assert.Nil(t, overwritten)
	assert.Equal(t, e.EntryID, moved.EntryID)
	assert.Equal(t, "g", moved.Name)
	assert.True(t, moved.IsInlined())
	assert.Equal(t, otherNodeID, moved.OwnerNodeID)
	require.NotNil(t, moved.Inode)
	assert.Equal(t, metadata.RootDirID, moved.Inode.OrigParentEntryID)

	// A retried insert finds its own entry.
	again, _, err := dst.m.MoveRemoteFileInsert(dst.ctx, metadata.RootDirID, "g", buf)
	require.NoError(t, err)
	assert.Equal(t, moved.EntryID, again.EntryID)

	require.NoError(t, src.m.MoveRemoteFileComplete(src.ctx, metadata.RootDirID, info, token))
	assert.False(t, src.exists(t, src.layout().DentryPath(metadata.RootDirID, "f")))
	assert.False(t, src.exists(t, src.layout().ByIDPath(metadata.RootDirID, e.EntryID)))
	src.requireIdle(t)

	stat, err := dst.m.Stat(dst.ctx, infoOf(metadata.RootDirID, dst.lookup(t, metadata.RootDirID, "g")))
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), stat.UID)
	dst.requireIdle(t)
}

func TestMoveRemoteFile_Cancel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	e := env.mkFile(t, metadata.RootDirID, "f")
	info := infoOf(metadata.RootDirID, e)

	_, token, err := env.m.MoveRemoteFileBegin(env.ctx, metadata.RootDirID, info)
	require.NoError(t, err)

	err = env.m.MoveRemoteFileCancel(env.ctx, info, "not-the-token")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))

	require.NoError(t, env.m.MoveRemoteFileCancel(env.ctx, info, token))
	env.requireIdle(t)

	f, err := env.m.ReferenceFile(env.ctx, info)
	require.NoError(t, err)
	env.m.ReleaseFile(env.ctx, f)
	assert.True(t, env.exists(t, env.layout().DentryPath(metadata.RootDirID, "f")))
	env.requireIdle(t)
}

func TestMoveRemoteFile_UnlinkWhileHeld(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	e := env.mkFile(t, metadata.RootDirID, "f")
	info := infoOf(metadata.RootDirID, e)

	_, token, err := env.m.MoveRemoteFileBegin(env.ctx, metadata.RootDirID, info)
	require.NoError(t, err)

	_, err = env.m.UnlinkFile(env.ctx, metadata.RootDirID, "f")
	require.Error(t, err)
	assert.True(t, env.exists(t, env.layout().DentryPath(metadata.RootDirID, "f")))

	require.NoError(t, env.m.MoveRemoteFileCancel(env.ctx, info, token))
	_, err = env.m.UnlinkFile(env.ctx, metadata.RootDirID, "f")
	require.NoError(t, err)
	env.requireIdle(t)
}

func TestMoveRemoteFile_Standalone(t *testing.T) {
	t.Parallel()
	src, dst := newTestEnv(t), newPeer(t)
	src.mkFile(t, metadata.RootDirID, "f")
	_, err := src.m.LinkInSameDir(src.ctx, metadata.RootDirID, "f", "g")
	require.NoError(t, err)
	e := src.lookup(t, metadata.RootDirID, "g")

	buf, token, err := src.m.MoveRemoteFileBegin(src.ctx, metadata.RootDirID, infoOf(metadata.RootDirID, e))
	require.NoError(t, err)
	assert.Empty(t, token, "standalone inodes stay where they are")

	moved, _, err := dst.m.MoveRemoteFileInsert(dst.ctx, metadata.RootDirID, "h", buf)
	require.NoError(t, err)
	assert.False(t, moved.IsInlined())
	assert.Nil(t, moved.Inode)
	assert.Equal(t, testNodeID, moved.OwnerNodeID, "the inode owner is unchanged")

	require.NoError(t, src.m.MoveRemoteFileComplete(src.ctx, metadata.RootDirID, infoOf(metadata.RootDirID, e), token))
	assert.False(t, src.exists(t, src.layout().DentryPath(metadata.RootDirID, "g")))
	assert.True(t, src.exists(t, src.layout().InodePath(e.EntryID)))
	src.requireIdle(t)
}

func TestMoveRemoteFile_InsertOverwrites(t *testing.T) {
	t.Parallel()
	src, dst := newTestEnv(t), newPeer(t)
	e := src.mkFile(t, metadata.RootDirID, "f")
	old := dst.mkFile(t, metadata.RootDirID, "f")
	dst.mkDir(t, metadata.RootDirID, "d")

	buf, token, err := src.m.MoveRemoteFileBegin(src.ctx, metadata.RootDirID, infoOf(metadata.RootDirID, e))
	require.NoError(t, err)

	_, _, err = dst.m.MoveRemoteFileInsert(dst.ctx, metadata.RootDirID, "d", buf)
	assert.True(t, errors.IsAlreadyExists(err), "directories are never replaced")

	_, overwritten, err := dst.m.MoveRemoteFileInsert(dst.ctx, metadata.RootDirID, "f", buf)
	require.NoError(t, err)
	require.NotNil(t, overwritten)
	assert.Equal(t, old.EntryID, overwritten.Entry.EntryID)
	require.NotNil(t, overwritten.Inode)
	assert.Equal(t, e.EntryID, dst.lookup(t, metadata.RootDirID, "f").EntryID)

	require.NoError(t, src.m.MoveRemoteFileComplete(src.ctx, metadata.RootDirID, infoOf(metadata.RootDirID, e), token))
	src.requireIdle(t)
	dst.requireIdle(t)
}

func TestMoveRemoteFile_Directory(t *testing.T) {
	t.Parallel()
	src, dst := newTestEnv(t), newPeer(t)
	d := src.mkDir(t, metadata.RootDirID, "d")

	buf, token, err := src.m.MoveRemoteFileBegin(src.ctx, metadata.RootDirID, infoOf(metadata.RootDirID, d))
	require.NoError(t, err)
	assert.Empty(t, token)

	moved, _, err := dst.m.MoveRemoteFileInsert(dst.ctx, metadata.RootDirID, "d", buf)
	require.NoError(t, err)
	assert.Equal(t, metadata.EntryTypeDirectory, moved.Type)
	assert.Equal(t, d.EntryID, moved.EntryID)
}

func TestMoveRemoteFile_OpenFileStaysReferenced(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	e := env.mkFile(t, metadata.RootDirID, "f")
	info := infoOf(metadata.RootDirID, e)

	f, err := env.m.OpenFile(env.ctx, info, inode.AccessRead, false)
	require.NoError(t, err)

	_, token, err := env.m.MoveRemoteFileBegin(env.ctx, metadata.RootDirID, info)
	require.NoError(t, err)
	require.NoError(t, env.m.MoveRemoteFileCancel(env.ctx, info, token))

	_, err = env.m.CloseFile(env.ctx, f, inode.AccessRead)
	require.NoError(t, err)
	env.requireIdle(t)
}
