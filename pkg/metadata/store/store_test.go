package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLayout_Paths(t *testing.T) {
	t.Parallel()

	l := NewLayout(0)
	assert.Equal(t, uint32(DefaultBuckets), l.Buckets)

	inode := string(l.InodePath("1-ABC-7"))
	assert.True(t, strings.HasPrefix(inode, "inodes/"))
	assert.True(t, strings.HasSuffix(inode, "/1-ABC-7"))
	assert.Len(t, strings.Split(inode, "/"), 4)

	dentry := string(l.DentryPath("dir-1", "file.txt"))
	assert.True(t, strings.HasPrefix(dentry, "dentries/"))
	assert.True(t, strings.HasSuffix(dentry, "/dir-1/file.txt"))

	byID := string(l.ByIDPath("dir-1", "2-F-7"))
	assert.Equal(t, string(l.DentryDir("dir-1"))+"/#fSiDs#/2-F-7", byID)
	assert.Equal(t, l.DentryDir("dir-1"), l.DentryPath("dir-1", "x").Dir())
}

func TestLayout_StableBuckets(t *testing.T) {
	t.Parallel()

	a := NewLayout(16)
	b := NewLayout(16)
	for _, id := range []string{"root", "disposal", "mdisposal", "0-5F1A-1"} {
		assert.Equal(t, a.InodePath(id), b.InodePath(id))
		parts := strings.Split(string(a.InodeBucket(id)), "/")
		assert.Len(t, parts, 3)
		for _, p := range parts[1:] {
			assert.LessOrEqual(t, len(p), 1, "16 buckets fit one hex digit")
		}
	}
}

func TestPage(t *testing.T) {
	t.Parallel()

	names := []string{"a", "b", "c", "d", "e"}

	tests := []struct {
		name     string
		offset   int
		limit    int
		want     []string
		wantNext int
	}{
		{"all", 0, 0, names, 5},
		{"first page", 0, 2, []string{"a", "b"}, 2},
		{"middle page", 2, 2, []string{"c", "d"}, 4},
		{"last partial", 4, 2, []string{"e"}, 5},
		{"past end", 9, 2, nil, 5},
		{"negative offset", -1, 1, []string{"a"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, next := Page(names, tt.offset, tt.limit)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantNext, next)
		})
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a/b", Clean("/a//b/"))
	assert.Equal(t, "b", Clean("../../b"))
	assert.Equal(t, "", Clean("/"))
}
