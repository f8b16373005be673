// Package errors provides the error taxonomy of the metadata engine.
// This is a leaf package with no internal dependencies so that the codec, the
// record stores, the lock manager and the coordinator can all share it.
//
// Import graph: errors <- codec <- store <- inode <- metastore
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the kind of error that occurred.
type ErrorCode int

const (
	// ErrPathNotExists indicates the entry, inode or directory does not exist.
	ErrPathNotExists ErrorCode = iota + 1

	// ErrAlreadyExists indicates an entry with the same name or ID already exists.
	ErrAlreadyExists

	// ErrInUse indicates the object is referenced or exclusively held (mid move).
	ErrInUse

	// ErrNotEmpty indicates a directory still has sub-entries.
	ErrNotEmpty

	// ErrPermissionDenied indicates operation not permitted (POSIX EPERM/EACCES).
	ErrPermissionDenied

	// ErrNotOwner indicates the request reached the wrong owning node.
	ErrNotOwner

	// ErrInodeNotInlined is advisory: the inode lives in the global store.
	ErrInodeNotInlined

	// ErrDynamicAttribsOutdated is advisory: size/times must be refreshed from
	// the storage targets by the caller.
	ErrDynamicAttribsOutdated

	// ErrAgain indicates a transient race; the caller should retry once.
	ErrAgain

	// ErrInternal indicates disk I/O failure, serialization overflow or an
	// invariant violation.
	ErrInternal

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument

	// ErrNotDirectory indicates operation requires a directory.
	ErrNotDirectory

	// ErrIsDirectory indicates operation not valid on directory.
	ErrIsDirectory

	// ErrWouldBlock indicates a lock request conflicted and waiting was not allowed.
	ErrWouldBlock
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrPathNotExists:
		return "PathNotExists"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrInUse:
		return "InUse"
	case ErrNotEmpty:
		return "NotEmpty"
	case ErrPermissionDenied:
		return "PermissionDenied"
	case ErrNotOwner:
		return "NotOwner"
	case ErrInodeNotInlined:
		return "InodeNotInlined"
	case ErrDynamicAttribsOutdated:
		return "DynamicAttribsOutdated"
	case ErrAgain:
		return "Again"
	case ErrInternal:
		return "Internal"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrNotDirectory:
		return "NotDirectory"
	case ErrIsDirectory:
		return "IsDirectory"
	case ErrWouldBlock:
		return "WouldBlock"
	default:
		return fmt.Sprintf("Unknown(%d)", e)
	}
}

// IsAdvisory reports whether the code is a hint rather than a failure.
func (e ErrorCode) IsAdvisory() bool {
	return e == ErrInodeNotInlined || e == ErrDynamicAttribsOutdated
}

// StoreError represents a metadata error with an error code.
type StoreError struct {
	Code    ErrorCode
	Message string
	Path    string

	// Cause is the underlying error (disk errno, codec failure), if any.
	Cause error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path: %s)", msg, e.Path)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is matches another *StoreError with the same code, so that
// errors.Is(err, &StoreError{Code: ErrInUse}) works on wrapped errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	return ok && t.Code == e.Code
}

// ============================================================================
// Factory Functions
// ============================================================================

// New creates a StoreError with an arbitrary code.
func New(code ErrorCode, message, path string) *StoreError {
	return &StoreError{Code: code, Message: message, Path: path}
}

// NewPathNotExistsError creates a PathNotExists error.
func NewPathNotExistsError(path string) *StoreError {
	return &StoreError{
		Code:    ErrPathNotExists,
		Message: "no such entry",
		Path:    path,
	}
}

// NewAlreadyExistsError creates an AlreadyExists error.
func NewAlreadyExistsError(path string) *StoreError {
	return &StoreError{
		Code:    ErrAlreadyExists,
		Message: "already exists",
		Path:    path,
	}
}

// NewInUseError creates an InUse error.
func NewInUseError(path string) *StoreError {
	return &StoreError{
		Code:    ErrInUse,
		Message: "in use",
		Path:    path,
	}
}

// NewNotEmptyError creates a NotEmpty error.
func NewNotEmptyError(path string) *StoreError {
	return &StoreError{
		Code:    ErrNotEmpty,
		Message: "directory not empty",
		Path:    path,
	}
}

// NewPermissionDeniedError creates a PermissionDenied error.
func NewPermissionDeniedError(path string) *StoreError {
	return &StoreError{
		Code:    ErrPermissionDenied,
		Message: "permission denied",
		Path:    path,
	}
}

// NewNotOwnerError creates a NotOwner error.
func NewNotOwnerError(path string, owner uint32) *StoreError {
	return &StoreError{
		Code:    ErrNotOwner,
		Message: fmt.Sprintf("entry is owned by node %d", owner),
		Path:    path,
	}
}

// NewInodeNotInlinedError creates the InodeNotInlined advisory.
func NewInodeNotInlinedError(path string) *StoreError {
	return &StoreError{
		Code:    ErrInodeNotInlined,
		Message: "inode is not inlined",
		Path:    path,
	}
}

// NewDynamicAttribsOutdatedError creates the DynamicAttribsOutdated advisory.
func NewDynamicAttribsOutdatedError(path string) *StoreError {
	return &StoreError{
		Code:    ErrDynamicAttribsOutdated,
		Message: "dynamic attributes must be refreshed",
		Path:    path,
	}
}

// NewAgainError creates an Again error.
func NewAgainError(path, reason string) *StoreError {
	return &StoreError{
		Code:    ErrAgain,
		Message: reason,
		Path:    path,
	}
}

// NewInternalError creates an Internal error wrapping cause.
func NewInternalError(path, message string, cause error) *StoreError {
	return &StoreError{
		Code:    ErrInternal,
		Message: message,
		Path:    path,
		Cause:   cause,
	}
}

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(message string) *StoreError {
	return &StoreError{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

// NewNotDirectoryError creates a NotDirectory error.
func NewNotDirectoryError(path string) *StoreError {
	return &StoreError{
		Code:    ErrNotDirectory,
		Message: "not a directory",
		Path:    path,
	}
}

// NewIsDirectoryError creates an IsDirectory error.
func NewIsDirectoryError(path string) *StoreError {
	return &StoreError{
		Code:    ErrIsDirectory,
		Message: "is a directory",
		Path:    path,
	}
}

// NewWouldBlockError creates a WouldBlock error.
func NewWouldBlockError(path string) *StoreError {
	return &StoreError{
		Code:    ErrWouldBlock,
		Message: "lock conflict",
		Path:    path,
	}
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

// CodeOf returns the code of the first *StoreError in err's chain, or 0.
func CodeOf(err error) ErrorCode {
	var storeErr *StoreError
	if stderrors.As(err, &storeErr) {
		return storeErr.Code
	}
	return 0
}

// HasCode returns true if err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsPathNotExists returns true if the error is a PathNotExists error.
func IsPathNotExists(err error) bool { return HasCode(err, ErrPathNotExists) }

// IsAlreadyExists returns true if the error is an AlreadyExists error.
func IsAlreadyExists(err error) bool { return HasCode(err, ErrAlreadyExists) }

// IsInUse returns true if the error is an InUse error.
func IsInUse(err error) bool { return HasCode(err, ErrInUse) }

// IsNotEmpty returns true if the error is a NotEmpty error.
func IsNotEmpty(err error) bool { return HasCode(err, ErrNotEmpty) }

// IsAgain returns true if the error is an Again error.
func IsAgain(err error) bool { return HasCode(err, ErrAgain) }

// IsInternal returns true if the error is an Internal error.
func IsInternal(err error) bool { return HasCode(err, ErrInternal) }

// IsAdvisory returns true for InodeNotInlined and DynamicAttribsOutdated.
func IsAdvisory(err error) bool {
	return err != nil && CodeOf(err).IsAdvisory()
}
