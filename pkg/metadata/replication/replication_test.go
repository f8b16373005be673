package replication

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "dentry", KindDentry.String())
	assert.Equal(t, "inode", KindInode.String())
	assert.Equal(t, "directory", KindDirectory.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestRecorder_KeepsOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := NewRecorder()

	r.OnModify(ctx, "dentries/a", KindDentry)
	r.OnDelete(ctx, "inodes/b", KindInode)
	r.OnModify(ctx, "dentries/a", KindDentry)

	events := r.Events()
	require.Len(t, events, 3)
	assert.Equal(t, Event{Path: "dentries/a", Kind: KindDentry}, events[0])
	assert.Equal(t, Event{Deleted: true, Path: "inodes/b", Kind: KindInode}, events[1])

	assert.Equal(t, 2, r.Count("dentries/a", false))
	assert.Equal(t, 0, r.Count("dentries/a", true))
	assert.Equal(t, 1, r.Count("inodes/b", true))

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestRecorder_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := NewRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.OnModify(ctx, "p", KindDirectory)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, r.Count("p", false))
}

func TestNopAndLogging(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for _, h := range []Hook{Nop{}, Logging{}} {
		h.OnModify(ctx, "x", KindDentry)
		h.OnDelete(ctx, "x", KindDentry)
	}
}
