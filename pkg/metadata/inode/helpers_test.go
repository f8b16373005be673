package inode

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/codec"
	"github.com/marmos91/dittometa/pkg/metadata/replication"
	"github.com/marmos91/dittometa/pkg/metadata/store"
	"github.com/marmos91/dittometa/pkg/metadata/store/memory"
)

const (
	testNodeID  metadata.NodeID = 3
	testGroupID metadata.NodeID = 300

	dirMode  = 0o040755
	fileMode = 0o100644
)

var testNow = time.Unix(1_700_000_000, 0)

var idSeq atomic.Uint64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d-%X", prefix, testNodeID, idSeq.Add(1))
}

type testEnv struct {
	ctx     context.Context
	records *memory.MemoryRecordStore
	hook    *replication.Recorder
	st      *Storage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	records := memory.NewMemoryRecordStore()
	hook := replication.NewRecorder()
	return &testEnv{
		ctx:     context.Background(),
		records: records,
		hook:    hook,
		st: &Storage{
			Records: records,
			Codec:   codec.New(codec.LocalContext{NodeID: testNodeID, GroupID: testGroupID}),
			Layout:  store.NewLayout(8),
			Hook:    hook,
		},
	}
}

func testPattern() metadata.StripePattern {
	return metadata.NewRaid0Pattern(512<<10, 4, []uint16{11, 12, 13, 14})
}

// mkDirOnDisk writes a directory inode and its dentry store.
func (e *testEnv) mkDirOnDisk(t *testing.T, id, parentID string, mirrored bool) *metadata.DirInodeData {
	t.Helper()

	data := metadata.NewDirInodeData(id, parentID, e.st.LocalOwner(mirrored), testNodeID,
		metadata.NewStatData(dirMode, 0, 0, testNow), testPattern())
	data.SetBuddyMirrored(mirrored)
	data.OwnerNodeID = e.st.LocalOwner(mirrored)

	require.NoError(t, NewDentryStore(e.st, id, mirrored).MkStore(e.ctx))
	require.NoError(t, e.st.CreateDirInode(e.ctx, data))
	return data
}

func newInlinedEntry(name, parentID string, mirrored bool) *metadata.DirEntry {
	id := nextID("F")
	in := metadata.NewFileInodeData(id, parentID, metadata.NewStatData(fileMode, 1000, 100, testNow), testPattern())
	in.SetBuddyMirrored(mirrored)
	owner := testNodeID
	if mirrored {
		owner = testGroupID
	}
	return metadata.NewFileEntry(name, metadata.EntryTypeRegularFile, owner, in)
}

func fileInfo(parentID string, e *metadata.DirEntry) metadata.EntryInfo {
	return metadata.NewEntryInfo(parentID, e)
}

func (e *testEnv) exists(t *testing.T, p store.RecordPath) bool {
	t.Helper()
	ok, err := e.records.Exists(e.ctx, p)
	require.NoError(t, err)
	return ok
}
