package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// ============================================================================
// StoreError Tests
// ============================================================================

func TestStoreError_Error(t *testing.T) {
	t.Parallel()

	t.Run("with path", func(t *testing.T) {
		t.Parallel()
		err := NewPathNotExistsError("dir1/foo")
		assert.Equal(t, "PathNotExists: no such entry (path: dir1/foo)", err.Error())
	})

	t.Run("without path", func(t *testing.T) {
		t.Parallel()
		err := NewInvalidArgumentError("empty name")
		assert.Equal(t, "InvalidArgument: empty name", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		t.Parallel()
		err := NewInternalError("inodes/1A/2B/X", "write failed", fs.ErrClosed)
		assert.Contains(t, err.Error(), "Internal: write failed")
		assert.Contains(t, err.Error(), fs.ErrClosed.Error())
		assert.True(t, stderrors.Is(err, fs.ErrClosed))
	})
}

func TestErrorCode_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Again", ErrAgain.String())
	assert.Equal(t, "InUse", ErrInUse.String())
	assert.Equal(t, "Unknown(999)", ErrorCode(999).String())
}

func TestCodeOf_Wrapped(t *testing.T) {
	t.Parallel()

	base := NewInUseError("x")
	wrapped := fmt.Errorf("unlink: %w", base)

	assert.Equal(t, ErrInUse, CodeOf(wrapped))
	assert.True(t, IsInUse(wrapped))
	assert.False(t, IsAgain(wrapped))
	assert.True(t, stderrors.Is(wrapped, &StoreError{Code: ErrInUse}))
	assert.Equal(t, ErrorCode(0), CodeOf(stderrors.New("plain")))
	assert.False(t, IsInUse(nil))
}

func TestIsAdvisory(t *testing.T) {
	t.Parallel()

	assert.True(t, IsAdvisory(NewInodeNotInlinedError("x")))
	assert.True(t, IsAdvisory(NewDynamicAttribsOutdatedError("x")))
	assert.False(t, IsAdvisory(NewAgainError("x", "race")))
}

// ============================================================================
// FromOS Tests
// ============================================================================

func TestFromOS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   error
		want ErrorCode
	}{
		{"not exist", fs.ErrNotExist, ErrPathNotExists},
		{"enoent", unix.ENOENT, ErrPathNotExists},
		{"exist", fs.ErrExist, ErrAlreadyExists},
		{"enotempty", unix.ENOTEMPTY, ErrNotEmpty},
		{"eacces", unix.EACCES, ErrPermissionDenied},
		{"enotdir", unix.ENOTDIR, ErrNotDirectory},
		{"eio", unix.EIO, ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := FromOS(&fs.PathError{Op: "open", Path: "p", Err: tt.in}, "p")
			require.Error(t, err)
			assert.Equal(t, tt.want, CodeOf(err))
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, FromOS(nil, "p"))
	})

	t.Run("store error passes through", func(t *testing.T) {
		t.Parallel()
		in := NewAgainError("p", "race")
		assert.Same(t, in, FromOS(in, "other"))
	})
}
