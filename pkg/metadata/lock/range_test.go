package lock

import (
	"fmt"
	"testing"
)

func rangeReq(client uint32, pid int32, kind Kind, start, end uint64, wait bool) Request {
	return Request{
		ClientNumID: client,
		OwnerPID:    pid,
		AckID:       fmt.Sprintf("ack-%d-%d-%s-%d-%d", client, pid, kind, start, end),
		Kind:        kind,
		Start:       start,
		End:         end,
		Wait:        wait,
	}
}

func exclRanges(l *rangeLocks) [][2]uint64 {
	var out [][2]uint64
	for _, r := range l.exclUpTo(ToEOF) {
		out = append(out, [2]uint64{r.Start, r.End})
	}
	return out
}

func sameRanges(got, want [][2]uint64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// ============================================================================
// Waiting and Notification
// ============================================================================

func TestRangeLocks_SharedWaiterGrantedOnUnlock(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()

	res, _ := l.apply(rangeReq(1, 10, KindExclusive, 0, 99, false), 0)
	if !res.Granted {
		t.Fatalf("Expected exclusive lock to be granted, got %+v", res)
	}

	waiter := rangeReq(2, 20, KindShared, 50, 149, true)
	res, _ = l.apply(waiter, 0)
	if !res.Waiting {
		t.Fatalf("Expected overlapping shared lock to wait, got %+v", res)
	}
	if len(l.shared) != 0 {
		t.Fatalf("Waiting request must not be granted")
	}

	res, notify := l.apply(rangeReq(1, 10, KindUnlock, 0, 99, false), 0)
	if !res.Granted {
		t.Fatalf("Unlock must always be granted, got %+v", res)
	}
	if len(notify) != 1 || notify[0].Request.AckID != waiter.AckID {
		t.Fatalf("Expected waiter notification, got %+v", notify)
	}
	if notify[0].Family != FamilyRange {
		t.Errorf("Expected range family, got %s", notify[0].Family)
	}
	if len(l.shared) != 1 || l.shared[0].Start != 50 || l.shared[0].End != 149 {
		t.Errorf("Expected shared grant [50,149], got %+v", l.shared)
	}
}

func TestRangeLocks_NonOverlappingDoNotConflict(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()
	l.apply(rangeReq(1, 10, KindExclusive, 0, 99, false), 0)

	res, _ := l.apply(rangeReq(2, 20, KindExclusive, 100, 199, false), 0)
	if !res.Granted {
		t.Fatalf("Expected adjacent range of other owner to be granted, got %+v", res)
	}
	if got := exclRanges(l); !sameRanges(got, [][2]uint64{{0, 99}, {100, 199}}) {
		t.Errorf("Adjacent ranges of different owners must not merge, got %v", got)
	}
}

func TestRangeLocks_ConflictWithoutWait(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()
	l.apply(rangeReq(1, 10, KindShared, 0, 99, false), 0)

	res, _ := l.apply(rangeReq(2, 20, KindExclusive, 99, 99, false), 0)
	if !res.Conflict {
		t.Fatalf("Expected conflict, got %+v", res)
	}
	if l.numWaiters() != 0 {
		t.Errorf("Conflicting request without wait must not be queued")
	}
}

func TestRangeLocks_InvalidRange(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()

	res, _ := l.apply(rangeReq(1, 10, KindExclusive, 100, 10, false), 0)
	if !res.Conflict {
		t.Fatalf("Expected reversed range to fail, got %+v", res)
	}
}

func TestRangeLocks_WaitingExclusiveBlocksShared(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()
	l.apply(rangeReq(1, 10, KindShared, 0, 99, false), 0)
	l.apply(rangeReq(2, 20, KindExclusive, 0, 99, true), 0)

	res, _ := l.apply(rangeReq(3, 30, KindShared, 0, 9, false), 0)
	if !res.Conflict {
		t.Fatalf("Expected shared request to yield to waiting writer, got %+v", res)
	}

	res, _ = l.apply(rangeReq(3, 30, KindShared, 200, 299, false), 0)
	if !res.Granted {
		t.Fatalf("Expected non-overlapping shared request to be granted, got %+v", res)
	}
}

func TestRangeLocks_ExclusiveWaitersKeepOrder(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()
	l.apply(rangeReq(1, 10, KindExclusive, 0, 99, false), 0)

	first := rangeReq(2, 20, KindExclusive, 0, 49, true)
	blocked := rangeReq(3, 30, KindExclusive, 40, 59, true)
	independent := rangeReq(4, 40, KindExclusive, 60, 99, true)
	for _, r := range []Request{first, blocked, independent} {
		if res, _ := l.apply(r, 0); !res.Waiting {
			t.Fatalf("Expected %s to wait, got %+v", r.AckID, res)
		}
	}

	_, notify := l.apply(rangeReq(1, 10, KindUnlock, 0, 99, false), 0)
	if len(notify) != 2 {
		t.Fatalf("Expected 2 notifications, got %d", len(notify))
	}
	if notify[0].Request.AckID != first.AckID || notify[1].Request.AckID != independent.AckID {
		t.Errorf("Unexpected grant order: %s, %s", notify[0].Request.AckID, notify[1].Request.AckID)
	}
	if len(l.waitersExcl) != 1 || l.waitersExcl[0].AckID != blocked.AckID {
		t.Errorf("Expected overlapping waiter to stay queued, got %+v", l.waitersExcl)
	}

	_, notify = l.apply(rangeReq(4, 40, KindUnlock, 60, 99, false), 0)
	if len(notify) != 0 {
		t.Errorf("Waiter still overlaps [0,49] of client 2, got %+v", notify)
	}

	_, notify = l.apply(rangeReq(2, 20, KindUnlock, 0, 49, false), 0)
	if len(notify) != 1 || notify[0].Request.AckID != blocked.AckID {
		t.Errorf("Expected last waiter to be granted, got %+v", notify)
	}
}

func TestRangeLocks_RetransmittedWaiter(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()
	l.apply(rangeReq(1, 10, KindExclusive, 0, 99, false), 0)

	w := rangeReq(2, 20, KindExclusive, 0, 10, true)
	l.apply(w, 0)
	res, _ := l.apply(w, 0)
	if !res.Waiting {
		t.Fatalf("Expected waiting, got %+v", res)
	}
	if len(l.waitersExcl) != 1 {
		t.Errorf("Expected a single queued request, got %d", len(l.waitersExcl))
	}
}

// ============================================================================
// Merge, Trim and Split
// ============================================================================

func TestRangeLocks_MergeAdjacentOwnRanges(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()
	l.apply(rangeReq(1, 10, KindExclusive, 0, 9, false), 0)
	l.apply(rangeReq(1, 10, KindExclusive, 20, 29, false), 0)
	l.apply(rangeReq(1, 10, KindExclusive, 10, 19, false), 0)

	if got := exclRanges(l); !sameRanges(got, [][2]uint64{{0, 29}}) {
		t.Errorf("Expected merged range [0,29], got %v", got)
	}
}

func TestRangeLocks_MergeShared(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()
	l.apply(rangeReq(1, 10, KindShared, 0, 49, false), 0)
	l.apply(rangeReq(1, 10, KindShared, 40, ToEOF, false), 0)

	if len(l.shared) != 1 || l.shared[0].Start != 0 || l.shared[0].End != ToEOF {
		t.Errorf("Expected single shared range [0,EOF], got %+v", l.shared)
	}
}

func TestRangeLocks_AlreadyGrantedSubrange(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()
	l.apply(rangeReq(1, 10, KindExclusive, 0, 99, false), 0)

	res, notify := l.apply(rangeReq(1, 10, KindExclusive, 10, 20, false), 0)
	if !res.Granted || len(notify) != 0 {
		t.Fatalf("Expected covered subrange to be granted unchanged, got %+v %+v", res, notify)
	}
	if got := exclRanges(l); !sameRanges(got, [][2]uint64{{0, 99}}) {
		t.Errorf("Grant must not change, got %v", got)
	}
}

func TestRangeLocks_UnlockTrimsAndSplits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		held   [][2]uint64
		unlock [2]uint64
		want   [][2]uint64
	}{
		{"exact", [][2]uint64{{0, 99}}, [2]uint64{0, 99}, nil},
		{"head", [][2]uint64{{0, 99}}, [2]uint64{0, 49}, [][2]uint64{{50, 99}}},
		{"tail", [][2]uint64{{0, 99}}, [2]uint64{50, 99}, [][2]uint64{{0, 49}}},
		{"hole", [][2]uint64{{0, 99}}, [2]uint64{40, 59}, [][2]uint64{{0, 39}, {60, 99}}},
		{"covering", [][2]uint64{{10, 19}, {40, 49}}, [2]uint64{0, ToEOF}, nil},
		{"spanning", [][2]uint64{{0, 9}, {20, 29}}, [2]uint64{5, 25}, [][2]uint64{{0, 4}, {26, 29}}},
		{"to eof", [][2]uint64{{0, ToEOF}}, [2]uint64{100, ToEOF}, [][2]uint64{{0, 99}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l := newRangeLocks()
			for _, h := range tt.held {
				l.apply(rangeReq(1, 10, KindExclusive, h[0], h[1], false), 0)
			}
			l.apply(rangeReq(1, 10, KindUnlock, tt.unlock[0], tt.unlock[1], false), 0)

			if got := exclRanges(l); !sameRanges(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRangeLocks_UnlockSplitsShared(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()
	l.apply(rangeReq(1, 10, KindShared, 0, 99, false), 0)
	l.apply(rangeReq(1, 10, KindUnlock, 40, 59, false), 0)

	if len(l.shared) != 2 {
		t.Fatalf("Expected 2 shared ranges, got %+v", l.shared)
	}
	if l.shared[0].End != 39 || l.shared[1].Start != 60 {
		t.Errorf("Unexpected split result: %+v", l.shared)
	}
}

func TestRangeLocks_UnlockOnlyTouchesOwner(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()
	l.apply(rangeReq(1, 10, KindShared, 0, 99, false), 0)
	l.apply(rangeReq(2, 20, KindShared, 0, 99, false), 0)

	l.apply(rangeReq(1, 10, KindUnlock, 0, 99, false), 0)

	if len(l.shared) != 1 || l.shared[0].ClientNumID != 2 {
		t.Errorf("Expected only client 2 to keep its lock, got %+v", l.shared)
	}
}

// ============================================================================
// Up- and Downgrades
// ============================================================================

func TestRangeLocks_UpgradeSharedToExclusive(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()
	l.apply(rangeReq(1, 10, KindShared, 0, 99, false), 0)

	res, _ := l.apply(rangeReq(1, 10, KindExclusive, 0, 99, false), 0)
	if !res.Granted {
		t.Fatalf("Expected upgrade to be granted, got %+v", res)
	}
	if len(l.shared) != 0 {
		t.Errorf("Shared lock must be replaced, got %+v", l.shared)
	}
	if got := exclRanges(l); !sameRanges(got, [][2]uint64{{0, 99}}) {
		t.Errorf("Expected exclusive [0,99], got %v", got)
	}
}

func TestRangeLocks_DowngradeWakesReaders(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()
	l.apply(rangeReq(1, 10, KindExclusive, 0, 99, false), 0)
	l.apply(rangeReq(2, 20, KindShared, 0, 99, true), 0)

	res, notify := l.apply(rangeReq(1, 10, KindShared, 0, 99, false), 0)
	if !res.Granted {
		t.Fatalf("Expected downgrade to be granted, got %+v", res)
	}
	if len(notify) != 1 || notify[0].Request.ClientNumID != 2 {
		t.Errorf("Expected reader to be woken, got %+v", notify)
	}
	if l.excl.Len() != 0 || len(l.shared) != 2 {
		t.Errorf("Expected two shared grants, got excl=%d shared=%d", l.excl.Len(), len(l.shared))
	}
}

// ============================================================================
// Cancel
// ============================================================================

func TestRangeLocks_CancelOwner(t *testing.T) {
	t.Parallel()

	l := newRangeLocks()
	l.apply(rangeReq(1, 10, KindExclusive, 0, 9, false), 0)
	l.apply(rangeReq(1, 10, KindExclusive, 50, 59, false), 0)
	l.apply(rangeReq(1, 11, KindShared, 100, 109, false), 0)
	l.apply(rangeReq(2, 20, KindExclusive, 0, 59, true), 0)

	_, notify := l.apply(Request{ClientNumID: 1, OwnerPID: 10, Kind: KindCancel}, 0)
	if len(notify) != 1 || notify[0].Request.ClientNumID != 2 {
		t.Fatalf("Expected waiter to be granted after cancel, got %+v", notify)
	}
	if len(l.shared) != 1 || l.shared[0].OwnerPID != 11 {
		t.Errorf("Other process of the same client must keep its lock, got %+v", l.shared)
	}
	if l.empty() {
		t.Errorf("Expected locks to remain")
	}
}
