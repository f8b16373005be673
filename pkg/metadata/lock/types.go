// Package lock implements POSIX advisory locking for file inodes without a
// kernel: whole-file entry locks (flock semantics), byte-range locks (fcntl
// semantics) and append locks that serialize append-mode writers.
//
// Each file inode owns one State. Every state machine keeps at most one
// granted exclusive lock (entry/append) or a set of non-overlapping exclusive
// ranges, a set of shared grants, and FIFO queues of waiting exclusive and
// shared requests. Waiting exclusive requests block new shared requests
// (writer preference).
//
// Requests never block inside this package. A request that has to wait is
// queued and later reported in the Notification list returned by the call
// that made it grantable; the caller delivers the grant to the client.
package lock

import (
	"fmt"
	"math"
)

// Kind is the operation carried by a Request.
type Kind uint8

const (
	// KindShared requests a shared (read) lock.
	KindShared Kind = iota + 1

	// KindExclusive requests an exclusive (write) lock.
	KindExclusive

	// KindUnlock releases a lock held by the requester.
	KindUnlock

	// KindCancel removes every granted and waiting lock of the requester's
	// handle (entry locks) or owner (range locks). Sent on file close.
	KindCancel
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindShared:
		return "shared"
	case KindExclusive:
		return "exclusive"
	case KindUnlock:
		return "unlock"
	case KindCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// flag returns the one-letter code used in status dumps.
func (k Kind) flag() string {
	switch k {
	case KindShared:
		return "s"
	case KindExclusive:
		return "x"
	case KindUnlock:
		return "u"
	case KindCancel:
		return "c"
	default:
		return "?"
	}
}

// ToEOF is the End of a range that extends to the end of the file.
const ToEOF uint64 = math.MaxUint64

// Request is a lock, unlock or cancel request of a client.
//
// Entry and append locks are owned by a client handle (ClientNumID, Handle).
// Range locks are owned by a client process (ClientNumID, OwnerPID) and cover
// the inclusive byte range [Start, End].
type Request struct {
	ClientNumID uint32 `json:"client_num_id"`
	ClientID    string `json:"client_id,omitempty"`
	OwnerPID    int32  `json:"owner_pid"`
	Handle      int64  `json:"handle"`

	// AckID is the globally unique ID of the request. It identifies
	// retransmissions of a waiting request and the grant notification.
	AckID string `json:"ack_id"`

	Kind  Kind   `json:"kind"`
	Start uint64 `json:"start,omitempty"`
	End   uint64 `json:"end,omitempty"`

	// Wait queues the request when it conflicts instead of failing it.
	Wait bool `json:"wait"`
}

// IsShared reports whether r requests a shared lock.
func (r Request) IsShared() bool { return r.Kind == KindShared }

// IsExclusive reports whether r requests an exclusive lock.
func (r Request) IsExclusive() bool { return r.Kind == KindExclusive }

func (r Request) isSet() bool { return r.ClientNumID != 0 }

// sameHandle reports whether r and o come from the same client file handle.
func (r Request) sameHandle(o Request) bool {
	return r.ClientNumID == o.ClientNumID && r.Handle == o.Handle
}

// sameOwner reports whether r and o come from the same client process.
func (r Request) sameOwner(o Request) bool {
	return r.ClientNumID == o.ClientNumID && r.OwnerPID == o.OwnerPID
}

// String formats the request for status dumps.
func (r Request) String() string {
	flags := r.Kind.flag()
	if r.Wait {
		flags += "w"
	}
	return fmt.Sprintf("client: %d; handle: %d; pid: %d; ack: %s; flags: %s",
		r.ClientNumID, r.Handle, r.OwnerPID, r.AckID, flags)
}

func (r Request) rangeString() string {
	end := fmt.Sprintf("%d", r.End)
	if r.End == ToEOF {
		end = "EOF"
	}
	return fmt.Sprintf("%s; range: %d-%s", r, r.Start, end)
}

// Result is the immediate outcome of a request.
type Result struct {
	// Granted is true when the lock is held by the requester when the call
	// returns. Unlock and cancel requests are always granted.
	Granted bool `json:"granted"`

	// Waiting is true when the request is queued (or was already queued).
	Waiting bool `json:"waiting"`

	// Conflict is true when the request conflicted and was not queued.
	Conflict bool `json:"conflict"`
}

var (
	granted  = Result{Granted: true}
	waiting  = Result{Waiting: true}
	conflict = Result{Conflict: true}
)

// Family identifies the state machine a notification comes from.
type Family uint8

const (
	FamilyEntry Family = iota + 1
	FamilyRange
	FamilyAppend
)

// String returns the metric label of the family.
func (f Family) String() string {
	switch f {
	case FamilyEntry:
		return "entry"
	case FamilyRange:
		return "range"
	case FamilyAppend:
		return "append"
	default:
		return "unknown"
	}
}

// Notification reports a queued request that has been granted. The caller
// acknowledges it to the client identified by Request.AckID.
type Notification struct {
	Family  Family  `json:"family"`
	Request Request `json:"request"`
}

// ============================================================================
// Range Geometry
// ============================================================================

// overlapType classifies how a range b relates to a range a.
type overlapType uint8

const (
	overlapNone overlapType = iota
	overlapEquals
	overlapContains    // a wraps around b
	overlapIsContained // a lies within b
	overlapStart       // b overlaps the start of a
	overlapEnd         // b overlaps the end of a
)

func overlaps(a, b Request) bool {
	return !(b.End < a.Start || b.Start > a.End)
}

// mergeable reports whether b overlaps or directly extends a.
func mergeable(a, b Request) bool {
	if b.End != ToEOF && b.End+1 < a.Start {
		return false
	}
	if a.End != ToEOF && b.Start > a.End+1 {
		return false
	}
	return true
}

func overlapOf(a, b Request) overlapType {
	switch {
	case !overlaps(a, b):
		return overlapNone
	case a.Start == b.Start && a.End == b.End:
		return overlapEquals
	case a.Start <= b.Start && a.End >= b.End:
		return overlapContains
	case a.Start >= b.Start && a.End <= b.End:
		return overlapIsContained
	case a.Start < b.Start:
		return overlapEnd
	default:
		return overlapStart
	}
}

// merge extends a to cover b.
func merge(a, b Request) Request {
	a.Start = min(a.Start, b.Start)
	a.End = max(a.End, b.End)
	return a
}

// trim removes the part of a that is covered by a one-sided overlap with t.
func trim(a, t Request) Request {
	if t.End < a.End {
		a.Start = t.End + 1
	} else {
		a.End = t.Start - 1
	}
	return a
}

// split cuts the hole h out of a, returning the lower and upper remainders.
func split(a, h Request) (lower, upper Request) {
	lower, upper = a, a
	lower.End = h.Start - 1
	upper.Start = h.End + 1
	return lower, upper
}
