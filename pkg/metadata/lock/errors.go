package lock

import (
	"github.com/marmos91/dittometa/pkg/metadata/errors"
)

// ============================================================================
// Lock Error Factory Functions
//
// These functions translate lock outcomes into the generic errors package
// for callers that report a single error per request.
// ============================================================================

// NewWouldBlockError creates the error for a conflicting request that did
// not allow waiting.
func NewWouldBlockError(path string, req Request) *errors.StoreError {
	err := errors.NewWouldBlockError(path)
	err.Message = req.Kind.String() + " lock conflicts with a held lock"
	return err
}

// ResultError returns nil for granted and queued requests and a WouldBlock
// error for conflicts.
func ResultError(path string, req Request, res Result) error {
	if res.Conflict {
		return NewWouldBlockError(path, req)
	}
	return nil
}

// ValidateRequest checks the fields required by every lock family.
func ValidateRequest(req Request) error {
	if req.ClientNumID == 0 {
		return errors.NewInvalidArgumentError("lock request without client")
	}
	switch req.Kind {
	case KindShared, KindExclusive:
		if req.AckID == "" {
			return errors.NewInvalidArgumentError("lock request without ack id")
		}
	case KindUnlock, KindCancel:
	default:
		return errors.NewInvalidArgumentError("unknown lock request kind")
	}
	if req.End < req.Start {
		return errors.NewInvalidArgumentError("lock range ends before it starts")
	}
	return nil
}
