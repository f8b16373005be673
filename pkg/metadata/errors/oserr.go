package errors

import (
	stderrors "errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

// FromOS maps an error returned by a record store or the operating system to
// the taxonomy. Errors that are already a *StoreError are returned unchanged.
// Anything that cannot be classified becomes ErrInternal with err as cause.
func FromOS(err error, path string) error {
	if err == nil {
		return nil
	}

	var storeErr *StoreError
	if stderrors.As(err, &storeErr) {
		return err
	}

	switch {
	case stderrors.Is(err, fs.ErrNotExist), stderrors.Is(err, unix.ENOENT):
		return &StoreError{Code: ErrPathNotExists, Message: "no such entry", Path: path, Cause: err}
	case stderrors.Is(err, fs.ErrExist), stderrors.Is(err, unix.EEXIST):
		return &StoreError{Code: ErrAlreadyExists, Message: "already exists", Path: path, Cause: err}
	case stderrors.Is(err, unix.ENOTEMPTY):
		return &StoreError{Code: ErrNotEmpty, Message: "directory not empty", Path: path, Cause: err}
	case stderrors.Is(err, fs.ErrPermission), stderrors.Is(err, unix.EACCES), stderrors.Is(err, unix.EPERM):
		return &StoreError{Code: ErrPermissionDenied, Message: "permission denied", Path: path, Cause: err}
	case stderrors.Is(err, unix.ENOTDIR):
		return &StoreError{Code: ErrNotDirectory, Message: "not a directory", Path: path, Cause: err}
	default:
		return &StoreError{Code: ErrInternal, Message: "storage failure", Path: path, Cause: err}
	}
}
