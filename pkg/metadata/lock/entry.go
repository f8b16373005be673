package lock

import (
	"fmt"
	"slices"
	"strings"
)

// queueLocks is the whole-file lock state machine shared by entry (flock)
// locks and append locks. Locks are owned by a client handle. Append locks
// only ever see exclusive requests, so their shared structures stay empty.
//
// Not safe for concurrent use; State serializes access.
type queueLocks struct {
	family Family

	excl          Request // granted exclusive lock, zero if none
	shared        []Request
	waitersExcl   []Request
	waitersShared []Request
	waiterIDs     map[string]struct{}
}

func newQueueLocks(family Family) *queueLocks {
	return &queueLocks{
		family:    family,
		waiterIDs: make(map[string]struct{}),
	}
}

// apply handles one request and returns its outcome plus the waiters that
// became granted as a consequence.
func (q *queueLocks) apply(req Request, maxWaiters int) (Result, []Notification) {
	switch req.Kind {
	case KindCancel:
		if q.cancel(func(r Request) bool { return r.sameHandle(req) }) {
			return granted, q.tryNextWaiters()
		}
		return granted, nil

	case KindUnlock:
		if q.unlock(req) {
			return granted, q.tryNextWaiters()
		}
		return granted, nil
	}

	if _, ok := q.waiterIDs[req.AckID]; ok {
		// Retransmission of a request that is still queued.
		return waiting, nil
	}
	if q.isGranted(req) {
		return granted, nil
	}

	hasConflicts := q.conflicts(req)
	if hasConflicts && (!req.Wait || q.queueFull(maxWaiters)) {
		return conflict, nil
	}

	// Drop a lock the handle already holds so that up- and downgrades
	// replace it.
	released := q.unlock(req)

	res := granted
	switch {
	case !hasConflicts && req.IsShared():
		q.shared = append(q.shared, req)
	case !hasConflicts:
		q.excl = req
	case req.IsShared():
		q.waitersShared = append(q.waitersShared, req)
		q.waiterIDs[req.AckID] = struct{}{}
		res = waiting
	default:
		q.waitersExcl = append(q.waitersExcl, req)
		q.waiterIDs[req.AckID] = struct{}{}
		res = waiting
	}

	if released {
		return res, q.tryNextWaiters()
	}
	return res, nil
}

func (q *queueLocks) queueFull(maxWaiters int) bool {
	return maxWaiters > 0 && len(q.waiterIDs) >= maxWaiters
}

// conflicts reports whether req conflicts with a lock of another handle.
// Shared requests also conflict with queued exclusive requests.
func (q *queueLocks) conflicts(req Request) bool {
	if q.excl.isSet() && !q.excl.sameHandle(req) {
		return true
	}
	if req.IsExclusive() {
		for _, s := range q.shared {
			if !s.sameHandle(req) {
				return true
			}
		}
		return false
	}
	return len(q.waitersExcl) > 0
}

func (q *queueLocks) isGranted(req Request) bool {
	if req.IsExclusive() {
		return q.excl.isSet() && q.excl.sameHandle(req)
	}
	return slices.ContainsFunc(q.shared, req.sameHandle)
}

// unlock releases the lock held by req's handle and reports whether one was held.
func (q *queueLocks) unlock(req Request) bool {
	if q.excl.isSet() && q.excl.sameHandle(req) {
		q.excl = Request{}
		return true
	}
	if i := slices.IndexFunc(q.shared, req.sameHandle); i >= 0 {
		q.shared = slices.Delete(q.shared, i, i+1)
		return true
	}
	return false
}

// cancel removes every granted and waiting lock matching the predicate.
func (q *queueLocks) cancel(match func(Request) bool) bool {
	removed := false

	if q.excl.isSet() && match(q.excl) {
		q.excl = Request{}
		removed = true
	}

	n := len(q.shared)
	q.shared = slices.DeleteFunc(q.shared, match)
	removed = removed || len(q.shared) != n

	dropWaiter := func(r Request) bool {
		if match(r) {
			delete(q.waiterIDs, r.AckID)
			removed = true
			return true
		}
		return false
	}
	q.waitersExcl = slices.DeleteFunc(q.waitersExcl, dropWaiter)
	q.waitersShared = slices.DeleteFunc(q.waitersShared, dropWaiter)

	return removed
}

// tryNextWaiters grants queued requests after locks were released. Queued
// shared requests are granted together, but only while no exclusive request
// waits. The first queued exclusive request is granted once no lock of
// another handle remains.
func (q *queueLocks) tryNextWaiters() []Notification {
	if q.excl.isSet() {
		return nil
	}

	if len(q.waitersExcl) == 0 {
		if len(q.waitersShared) == 0 {
			return nil
		}
		notify := make([]Notification, 0, len(q.waitersShared))
		for _, w := range q.waitersShared {
			q.shared = append(q.shared, w)
			delete(q.waiterIDs, w.AckID)
			notify = append(notify, Notification{Family: q.family, Request: w})
		}
		q.waitersShared = nil
		return notify
	}

	next := q.waitersExcl[0]
	for _, s := range q.shared {
		if !s.sameHandle(next) {
			return nil
		}
	}

	q.waitersExcl = q.waitersExcl[1:]
	delete(q.waiterIDs, next.AckID)
	q.excl = next
	return []Notification{{Family: q.family, Request: next}}
}

func (q *queueLocks) numWaiters() int {
	return len(q.waitersExcl) + len(q.waitersShared)
}

func (q *queueLocks) empty() bool {
	return !q.excl.isSet() && len(q.shared) == 0 && q.numWaiters() == 0
}

func (q *queueLocks) snapshot() QueueSnapshot {
	s := QueueSnapshot{
		Shared:        slices.Clone(q.shared),
		WaitersExcl:   slices.Clone(q.waitersExcl),
		WaitersShared: slices.Clone(q.waitersShared),
	}
	if q.excl.isSet() {
		excl := q.excl
		s.Exclusive = &excl
	}
	return s
}

func (q *queueLocks) writeStatus(b *strings.Builder) {
	fmt.Fprintf(b, "%s locks:\n", q.family)

	b.WriteString("  exclusive: ")
	if q.excl.isSet() {
		b.WriteString(q.excl.String())
	} else {
		b.WriteString("none")
	}
	b.WriteString("\n")

	writeList(b, "shared", q.shared, Request.String)
	writeList(b, "waiting exclusive", q.waitersExcl, Request.String)
	writeList(b, "waiting shared", q.waitersShared, Request.String)
}

func writeList(b *strings.Builder, title string, reqs []Request, format func(Request) string) {
	fmt.Fprintf(b, "  %s (%d):\n", title, len(reqs))
	for _, r := range reqs {
		fmt.Fprintf(b, "    %s\n", format(r))
	}
}
