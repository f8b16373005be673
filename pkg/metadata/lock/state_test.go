package lock

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Families
// ============================================================================

func TestState_FamiliesAreIndependent(t *testing.T) {
	t.Parallel()

	s := NewState(Options{})

	res, _ := s.Entry(entryReq(1, 1, KindExclusive, false))
	require.True(t, res.Granted)

	res, _ = s.Append(entryReq(2, 1, KindExclusive, false))
	assert.True(t, res.Granted, "append lock must not see entry locks")

	res, _ = s.Range(rangeReq(3, 30, KindExclusive, 0, ToEOF, false))
	assert.True(t, res.Granted, "range lock must not see entry locks")
}

func TestState_AppendIsAlwaysExclusive(t *testing.T) {
	t.Parallel()

	s := NewState(Options{})

	res, _ := s.Append(entryReq(1, 1, KindShared, false))
	require.True(t, res.Granted)

	res, _ = s.Append(entryReq(2, 1, KindShared, false))
	assert.True(t, res.Conflict)

	snap := s.Snapshot()
	require.NotNil(t, snap.Append.Exclusive)
	assert.Equal(t, KindExclusive, snap.Append.Exclusive.Kind)
	assert.Empty(t, snap.Append.Shared)
}

func TestState_MaxWaiters(t *testing.T) {
	t.Parallel()

	s := NewState(Options{MaxWaiters: 1})
	s.Range(rangeReq(1, 10, KindExclusive, 0, 99, false))

	res, _ := s.Range(rangeReq(2, 20, KindExclusive, 0, 9, true))
	require.True(t, res.Waiting)

	res, _ = s.Range(rangeReq(3, 30, KindExclusive, 10, 19, true))
	assert.True(t, res.Conflict)
}

// ============================================================================
// Cancellation
// ============================================================================

func TestState_CancelByHandle(t *testing.T) {
	t.Parallel()

	s := NewState(Options{})
	s.Entry(Request{ClientNumID: 1, Handle: 5, OwnerPID: 10, AckID: "e1", Kind: KindExclusive})
	s.Append(Request{ClientNumID: 1, Handle: 5, OwnerPID: 10, AckID: "a1", Kind: KindExclusive})
	s.Range(Request{ClientNumID: 1, Handle: 5, OwnerPID: 10, AckID: "r1", Kind: KindExclusive, End: 99})

	waiter := Request{ClientNumID: 2, Handle: 1, OwnerPID: 20, AckID: "e2", Kind: KindShared, Wait: true}
	res, _ := s.Entry(waiter)
	require.True(t, res.Waiting)

	notify := s.CancelByHandle(1, 5, 10)
	require.Len(t, notify, 1)
	assert.Equal(t, FamilyEntry, notify[0].Family)
	assert.Equal(t, "e2", notify[0].Request.AckID)

	snap := s.Snapshot()
	assert.Nil(t, snap.Entry.Exclusive)
	assert.Nil(t, snap.Append.Exclusive)
	assert.Empty(t, snap.Range.Exclusive)
}

func TestState_CancelByClient(t *testing.T) {
	t.Parallel()

	s := NewState(Options{})
	s.Entry(Request{ClientNumID: 1, Handle: 1, AckID: "e1", Kind: KindShared})
	s.Entry(Request{ClientNumID: 1, Handle: 2, AckID: "e2", Kind: KindShared})
	s.Range(Request{ClientNumID: 1, OwnerPID: 7, AckID: "r1", Kind: KindExclusive, End: 9})
	s.Range(Request{ClientNumID: 1, OwnerPID: 8, AckID: "r2", Kind: KindExclusive, Start: 10, End: 19})

	s.Entry(Request{ClientNumID: 2, Handle: 1, AckID: "w1", Kind: KindExclusive, Wait: true})
	s.Range(Request{ClientNumID: 2, OwnerPID: 1, AckID: "w2", Kind: KindShared, End: ToEOF, Wait: true})

	notify := s.CancelByClient(1)
	require.Len(t, notify, 2)

	acks := []string{notify[0].Request.AckID, notify[1].Request.AckID}
	assert.ElementsMatch(t, []string{"w1", "w2"}, acks)
	assert.False(t, s.Empty())

	s.CancelByClient(2)
	assert.True(t, s.Empty())
}

func TestState_CancelAllWaiters(t *testing.T) {
	t.Parallel()

	s := NewState(Options{})
	s.Entry(entryReq(1, 1, KindExclusive, false))
	s.Entry(entryReq(2, 1, KindExclusive, true))
	s.Range(rangeReq(1, 1, KindExclusive, 0, 9, false))
	s.Range(rangeReq(2, 1, KindShared, 0, 9, true))

	s.CancelAllWaiters()

	snap := s.Snapshot()
	assert.Empty(t, snap.Entry.WaitersExcl)
	assert.Empty(t, snap.Range.WaitersShared)
	assert.NotNil(t, snap.Entry.Exclusive, "grants are kept")
	assert.Len(t, snap.Range.Exclusive, 1)

	// A retransmission of a dropped waiter is queued again.
	res, _ := s.Entry(entryReq(2, 1, KindExclusive, true))
	assert.True(t, res.Waiting)
}

// ============================================================================
// Status
// ============================================================================

func TestState_Status(t *testing.T) {
	t.Parallel()

	s := NewState(Options{})
	s.Entry(Request{ClientNumID: 1, Handle: 3, AckID: "flock", Kind: KindExclusive})
	s.Range(Request{ClientNumID: 2, OwnerPID: 4, AckID: "fcntl", Kind: KindShared, Start: 5, End: ToEOF})
	s.Range(Request{ClientNumID: 3, OwnerPID: 4, AckID: "queued", Kind: KindExclusive, End: 10, Wait: true})

	status := s.Status()
	assert.Contains(t, status, "entry locks:")
	assert.Contains(t, status, "append locks:")
	assert.Contains(t, status, "range locks:")
	assert.Contains(t, status, "ack: flock; flags: x")
	assert.Contains(t, status, "range: 5-EOF")
	assert.Contains(t, status, "waiting exclusive (1):")
	assert.Contains(t, status, "ack: queued; flags: xw")
}

func TestState_SnapshotIsCopy(t *testing.T) {
	t.Parallel()

	s := NewState(Options{})
	s.Entry(entryReq(1, 1, KindShared, false))

	snap := s.Snapshot()
	require.Len(t, snap.Entry.Shared, 1)
	snap.Entry.Shared[0].ClientNumID = 99

	assert.Equal(t, uint32(1), s.Snapshot().Entry.Shared[0].ClientNumID)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"entry"`)
	assert.Contains(t, string(data), `"waiters_exclusive"`)
}

func TestState_Empty(t *testing.T) {
	t.Parallel()

	s := NewState(Options{})
	assert.True(t, s.Empty())

	s.Range(rangeReq(1, 1, KindShared, 0, 0, false))
	assert.False(t, s.Empty())

	s.Range(rangeReq(1, 1, KindUnlock, 0, ToEOF, false))
	assert.True(t, s.Empty())
}
