package metastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/store/memory"
)

// ============================================================================
// New
// ============================================================================

func TestNew_CreatesReservedDirs(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for _, tc := range []struct {
		id       string
		mirrored bool
		owner    metadata.NodeID
		perm     uint32
	}{
		{metadata.RootDirID, false, testNodeID, 0o755},
		{metadata.DisposalDirID, false, testNodeID, 0o700},
		{metadata.MirrorDisposalDirID, true, testGroupID, 0o700},
	} {
		data, err := env.m.Storage().LoadDirInode(env.ctx, tc.id)
		require.NoError(t, err, tc.id)
		assert.Equal(t, tc.mirrored, data.IsBuddyMirrored(), tc.id)
		assert.Equal(t, tc.owner, data.OwnerNodeID, tc.id)
		assert.Equal(t, tc.perm, data.Stat.Mode&0o7777, tc.id)
		assert.Equal(t, metadata.EntryTypeDirectory.ModeTypeBits(), data.Stat.Mode&^0o7777, tc.id)
	}
}

func TestNew_ReopenKeepsContents(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	f := env.mkFile(t, metadata.RootDirID, "kept")
	require.NoError(t, env.m.Close(env.ctx))

	again, err := New(env.ctx, Options{Records: env.records, Layout: env.layout(), NodeID: testNodeID, GroupID: testGroupID})
	require.NoError(t, err)

	names, _, err := again.ListDir(env.ctx, metadata.RootDirID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, names)

	stat, err := again.Stat(env.ctx, infoOf(metadata.RootDirID, f))
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), stat.UID)
}

func TestNew_InvalidOptions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := New(ctx, Options{NodeID: testNodeID})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))

	_, err = New(ctx, Options{Records: memory.NewMemoryRecordStore()})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}

func TestNew_ClampsAgainAttempts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(o *Options) { o.AgainAttempts = 100 })
	assert.Equal(t, uint(MaxAgainAttempts), env.m.againAttempts)

	env = newTestEnv(t)
	assert.Equal(t, uint(DefaultAgainAttempts), env.m.againAttempts)
}

// ============================================================================
// Stats / Cache
// ============================================================================

func TestStats_CountsReferences(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	a := env.mkFile(t, metadata.RootDirID, "a")

	f, err := env.m.ReferenceFile(env.ctx, infoOf(metadata.RootDirID, a))
	require.NoError(t, err)

	stats := env.m.Stats()
	assert.Equal(t, 1, stats.InlinedFiles)
	assert.Zero(t, stats.GlobalFiles)
	assert.GreaterOrEqual(t, stats.CachedDirs, 1)

	env.m.ReleaseFile(env.ctx, f)
	env.requireIdle(t)
}

func TestCacheSweepAsync_ShrinksCache(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(o *Options) { o.DirCacheLimit = 4 })

	for _, name := range []string{"d1", "d2", "d3", "d4", "d5", "d6"} {
		d := env.mkDir(t, metadata.RootDirID, name)
		_, _, err := env.m.ListDir(env.ctx, d.EntryID, 0, 0)
		require.NoError(t, err)
	}
	require.LessOrEqual(t, env.m.Stats().DirCache, 5, "sync sweeps run before each insert")

	env.m.CacheSweepAsync(env.ctx)
	assert.LessOrEqual(t, env.m.Stats().DirCache, 2)
	env.requireIdle(t)
}

func TestClose_DropsCache(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mkDir(t, metadata.RootDirID, "d")

	require.NoError(t, env.m.Close(env.ctx))
	assert.Zero(t, env.m.Stats().DirCache)
	assert.Zero(t, env.m.Stats().CachedDirs)
}

func TestNewEntryID_Unique(t *testing.T) {
	t.Parallel()
	seen := make(map[string]bool)
	for range 100 {
		id := NewEntryID()
		require.False(t, seen[id])
		seen[id] = true
	}
}
