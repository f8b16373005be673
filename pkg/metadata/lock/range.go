package lock

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/btree"
)

// rangeLocks is the byte-range (fcntl) lock state machine. Locks are owned
// by a client process. Granted exclusive ranges never overlap each other and
// are kept ordered by start offset; adjacent or overlapping ranges of one
// owner are merged on grant.
//
// Not safe for concurrent use; State serializes access.
type rangeLocks struct {
	excl          *btree.BTreeG[Request]
	shared        []Request
	waitersExcl   []Request
	waitersShared []Request
	waiterIDs     map[string]struct{}
}

func byStart(a, b Request) bool { return a.Start < b.Start }

func newRangeLocks() *rangeLocks {
	return &rangeLocks{
		excl:      btree.NewG[Request](8, byStart),
		waiterIDs: make(map[string]struct{}),
	}
}

// exclUpTo returns the granted exclusive ranges starting at or before end.
func (l *rangeLocks) exclUpTo(end uint64) []Request {
	var out []Request
	l.excl.Ascend(func(r Request) bool {
		if r.Start > end {
			return false
		}
		out = append(out, r)
		return true
	})
	return out
}

func (l *rangeLocks) apply(req Request, maxWaiters int) (Result, []Notification) {
	switch req.Kind {
	case KindCancel:
		if l.cancel(func(r Request) bool { return r.sameOwner(req) }) {
			return granted, l.tryNextWaiters()
		}
		return granted, nil

	case KindUnlock:
		if l.unlock(req) {
			return granted, l.tryNextWaiters()
		}
		return granted, nil
	}

	if req.End < req.Start {
		return conflict, nil
	}
	if _, ok := l.waiterIDs[req.AckID]; ok {
		return waiting, nil
	}
	if l.isGranted(req) {
		return granted, nil
	}

	hasConflicts := l.conflicts(req, -1)
	if hasConflicts && (!req.Wait || (maxWaiters > 0 && len(l.waiterIDs) >= maxWaiters)) {
		return conflict, nil
	}

	// Release what the owner holds in the range so that up- and downgrades
	// replace it.
	released := l.unlock(req)

	res := granted
	switch {
	case !hasConflicts && req.IsShared():
		l.grantShared(req)
	case !hasConflicts:
		l.grantExclusive(req)
	case req.IsShared():
		l.waitersShared = append(l.waitersShared, req)
		l.waiterIDs[req.AckID] = struct{}{}
		res = waiting
	default:
		l.waitersExcl = append(l.waitersExcl, req)
		l.waiterIDs[req.AckID] = struct{}{}
		res = waiting
	}

	if released {
		return res, l.tryNextWaiters()
	}
	return res, nil
}

// conflicts reports whether req overlaps a lock of another owner that it
// cannot share with. Queued exclusive requests count as conflicts for both
// kinds of request; maxExclWaiters limits how many of them are checked
// (negative means all), which lets a queued request ignore those behind it.
func (l *rangeLocks) conflicts(req Request, maxExclWaiters int) bool {
	for _, e := range l.exclUpTo(req.End) {
		if overlaps(req, e) && !req.sameOwner(e) {
			return true
		}
	}

	if req.IsExclusive() {
		for _, s := range l.shared {
			if overlaps(req, s) && !req.sameOwner(s) {
				return true
			}
		}
	}

	for i, w := range l.waitersExcl {
		if maxExclWaiters >= 0 && i >= maxExclWaiters {
			break
		}
		if overlaps(req, w) && !req.sameOwner(w) {
			return true
		}
	}
	return false
}

// isGranted reports whether the owner already holds req's whole range with
// the requested kind. Because grants of one owner are merged, a partial
// overlap means the range is not fully held.
func (l *rangeLocks) isGranted(req Request) bool {
	var held []Request
	if req.IsExclusive() {
		held = l.exclUpTo(req.End)
	} else {
		held = l.shared
	}

	for _, h := range held {
		if !h.sameOwner(req) {
			continue
		}
		switch overlapOf(req, h) {
		case overlapEquals, overlapIsContained:
			return true
		case overlapContains, overlapStart, overlapEnd:
			return false
		}
	}
	return false
}

func (l *rangeLocks) grantShared(req Request) {
	l.shared = slices.DeleteFunc(l.shared, func(s Request) bool {
		if s.sameOwner(req) && mergeable(req, s) {
			req = merge(req, s)
			return true
		}
		return false
	})
	l.shared = append(l.shared, req)
}

func (l *rangeLocks) grantExclusive(req Request) {
	limit := req.End
	if limit != ToEOF {
		limit++
	}
	for _, e := range l.exclUpTo(limit) {
		if e.sameOwner(req) && mergeable(req, e) {
			req = merge(req, e)
			l.excl.Delete(e)
		}
	}
	l.excl.ReplaceOrInsert(req)
}

// unlock removes the owner's locks inside req's range, trimming or splitting
// partially covered grants. It reports whether anything was released.
func (l *rangeLocks) unlock(req Request) bool {
	removed := false

	for _, e := range l.exclUpTo(req.End) {
		if !e.sameOwner(req) {
			continue
		}
		switch overlapOf(req, e) {
		case overlapEquals:
			l.excl.Delete(e)
			return true
		case overlapIsContained:
			l.excl.Delete(e)
			if req.Start == e.Start || req.End == e.End {
				l.excl.ReplaceOrInsert(trim(e, req))
			} else {
				lower, upper := split(e, req)
				l.excl.ReplaceOrInsert(lower)
				l.excl.ReplaceOrInsert(upper)
			}
			return true
		case overlapContains:
			l.excl.Delete(e)
			removed = true
		case overlapStart, overlapEnd:
			l.excl.Delete(e)
			l.excl.ReplaceOrInsert(trim(e, req))
			removed = true
		}
	}

	kept := l.shared[:0]
	done := false
	for _, s := range l.shared {
		if done || !s.sameOwner(req) {
			kept = append(kept, s)
			continue
		}
		switch overlapOf(req, s) {
		case overlapEquals:
			removed, done = true, true
		case overlapIsContained:
			if req.Start == s.Start || req.End == s.End {
				kept = append(kept, trim(s, req))
			} else {
				lower, upper := split(s, req)
				kept = append(kept, lower, upper)
			}
			removed, done = true, true
		case overlapContains:
			removed = true
		case overlapStart, overlapEnd:
			kept = append(kept, trim(s, req))
			removed = true
		default:
			kept = append(kept, s)
		}
	}
	clear(l.shared[len(kept):])
	l.shared = kept

	return removed
}

func (l *rangeLocks) cancel(match func(Request) bool) bool {
	removed := false

	for _, e := range l.exclUpTo(ToEOF) {
		if match(e) {
			l.excl.Delete(e)
			removed = true
		}
	}

	n := len(l.shared)
	l.shared = slices.DeleteFunc(l.shared, match)
	removed = removed || len(l.shared) != n

	dropWaiter := func(r Request) bool {
		if match(r) {
			delete(l.waiterIDs, r.AckID)
			removed = true
			return true
		}
		return false
	}
	l.waitersExcl = slices.DeleteFunc(l.waitersExcl, dropWaiter)
	l.waitersShared = slices.DeleteFunc(l.waitersShared, dropWaiter)

	return removed
}

// tryNextWaiters grants every queued request that no longer conflicts.
// Exclusive waiters are only checked against waiters queued ahead of them,
// so a waiter never overtakes an overlapping earlier one.
func (l *rangeLocks) tryNextWaiters() []Notification {
	var notify []Notification

	ahead := 0
	for i := 0; i < len(l.waitersExcl); {
		w := l.waitersExcl[i]
		if l.conflicts(w, ahead) {
			i++
			ahead++
			continue
		}
		l.waitersExcl = slices.Delete(l.waitersExcl, i, i+1)
		delete(l.waiterIDs, w.AckID)
		l.grantExclusive(w)
		notify = append(notify, Notification{Family: FamilyRange, Request: w})
	}

	for i := 0; i < len(l.waitersShared); {
		w := l.waitersShared[i]
		if l.conflicts(w, -1) {
			i++
			continue
		}
		l.waitersShared = slices.Delete(l.waitersShared, i, i+1)
		delete(l.waiterIDs, w.AckID)
		l.grantShared(w)
		notify = append(notify, Notification{Family: FamilyRange, Request: w})
	}

	return notify
}

func (l *rangeLocks) numWaiters() int {
	return len(l.waitersExcl) + len(l.waitersShared)
}

func (l *rangeLocks) empty() bool {
	return l.excl.Len() == 0 && len(l.shared) == 0 && l.numWaiters() == 0
}

func (l *rangeLocks) snapshot() RangeSnapshot {
	return RangeSnapshot{
		Exclusive:     l.exclUpTo(ToEOF),
		Shared:        slices.Clone(l.shared),
		WaitersExcl:   slices.Clone(l.waitersExcl),
		WaitersShared: slices.Clone(l.waitersShared),
	}
}

func (l *rangeLocks) writeStatus(b *strings.Builder) {
	fmt.Fprintf(b, "%s locks:\n", FamilyRange)
	writeList(b, "exclusive", l.exclUpTo(ToEOF), Request.rangeString)
	writeList(b, "shared", l.shared, Request.rangeString)
	writeList(b, "waiting exclusive", l.waitersExcl, Request.rangeString)
	writeList(b, "waiting shared", l.waitersShared, Request.rangeString)
}
