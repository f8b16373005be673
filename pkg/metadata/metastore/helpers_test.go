package metastore

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/replication"
	"github.com/marmos91/dittometa/pkg/metadata/store"
	"github.com/marmos91/dittometa/pkg/metadata/store/memory"
)

const (
	testNodeID  metadata.NodeID = 3
	testGroupID metadata.NodeID = 300
)

var testNow = time.Unix(1_700_000_000, 0)

type testEnv struct {
	ctx     context.Context
	records *memory.MemoryRecordStore
	hook    *replication.Recorder
	m       *MetaStore
}

func newTestEnv(t *testing.T, tweak ...func(*Options)) *testEnv {
	t.Helper()

	records := memory.NewMemoryRecordStore()
	hook := replication.NewRecorder()
	opts := Options{
		Records:        records,
		Layout:         store.NewLayout(8),
		NodeID:         testNodeID,
		GroupID:        testGroupID,
		Hook:           hook,
		DefaultPattern: metadata.NewRaid0Pattern(512<<10, 4, []uint16{11, 12, 13, 14}),
		Rand:           rand.NewPCG(1, 2),
		Clock:          func() time.Time { return testNow },
		AgainDelay:     time.Microsecond,
	}
	for _, fn := range tweak {
		fn(&opts)
	}

	ctx := context.Background()
	m, err := New(ctx, opts)
	require.NoError(t, err)
	return &testEnv{ctx: ctx, records: records, hook: hook, m: m}
}

func (e *testEnv) layout() store.Layout { return e.m.Storage().Layout }

func (e *testEnv) exists(t *testing.T, p store.RecordPath) bool {
	t.Helper()
	ok, err := e.records.Exists(e.ctx, p)
	require.NoError(t, err)
	return ok
}

// mkFile creates a regular file in dirID.
func (e *testEnv) mkFile(t *testing.T, dirID, name string) *metadata.DirEntry {
	t.Helper()
	entry, err := e.m.MkNewMetaFile(e.ctx, dirID, MkFileRequest{
		Name: name,
		Type: metadata.EntryTypeRegularFile,
		Mode: 0o644,
		UID:  1000,
		GID:  100,
	})
	require.NoError(t, err)
	return entry
}

// mkDir creates a sub-directory of parentID.
func (e *testEnv) mkDir(t *testing.T, parentID, name string) *metadata.DirEntry {
	t.Helper()
	entry, err := e.m.MkDir(e.ctx, parentID, MkDirRequest{Name: name, Mode: 0o755})
	require.NoError(t, err)
	return entry
}

func (e *testEnv) lookup(t *testing.T, dirID, name string) *metadata.DirEntry {
	t.Helper()
	dir, err := e.m.ReferenceDir(e.ctx, dirID, true)
	require.NoError(t, err)
	defer e.m.ReleaseDir(e.ctx, dirID)

	entry, err := dir.Lookup(e.ctx, name)
	require.NoError(t, err)
	return entry
}

// requireIdle asserts that no file reference is left behind and that the
// only directory references are those of the cache.
func (e *testEnv) requireIdle(t *testing.T) {
	t.Helper()
	stats := e.m.Stats()
	require.Zero(t, stats.GlobalFiles, "global file references left")
	require.Zero(t, stats.InlinedFiles, "inlined file references left")
	for _, id := range e.m.dirs.List() {
		require.LessOrEqual(t, e.m.dirs.ReferenceCount(id), 1, "directory %s still referenced", id)
	}
}

func infoOf(dirID string, e *metadata.DirEntry) metadata.EntryInfo {
	return metadata.NewEntryInfo(dirID, e)
}
