package lock

import (
	"strings"
	"sync"

	"github.com/marmos91/dittometa/internal/logger"
)

// Options configures a State.
type Options struct {
	// MaxWaiters bounds the queue length of each state machine. A request
	// that would exceed it fails with a conflict. Zero means unlimited.
	MaxWaiters int

	// Metrics receives lock metrics. May be nil.
	Metrics *Metrics
}

// State holds the entry, range and append lock state of one file inode.
// All methods are safe for concurrent use.
type State struct {
	mu     sync.Mutex
	opts   Options
	entry  *queueLocks
	append *queueLocks
	ranges *rangeLocks
}

// NewState creates an empty lock state.
func NewState(opts Options) *State {
	return &State{
		opts:   opts,
		entry:  newQueueLocks(FamilyEntry),
		append: newQueueLocks(FamilyAppend),
		ranges: newRangeLocks(),
	}
}

// Entry handles a whole-file (flock) request.
func (s *State) Entry(req Request) (Result, []Notification) {
	return s.applyQueue(s.entry, req)
}

// Append handles an append lock request. Append locks are exclusive only;
// shared requests are treated as exclusive.
func (s *State) Append(req Request) (Result, []Notification) {
	if req.Kind == KindShared {
		req.Kind = KindExclusive
	}
	return s.applyQueue(s.append, req)
}

// Range handles a byte-range (fcntl) request.
func (s *State) Range(req Request) (Result, []Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, notify := s.ranges.apply(req, s.opts.MaxWaiters)
	s.observe(FamilyRange, req, res, notify, s.ranges.numWaiters())
	return res, notify
}

func (s *State) applyQueue(q *queueLocks, req Request) (Result, []Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, notify := q.apply(req, s.opts.MaxWaiters)
	s.observe(q.family, req, res, notify, q.numWaiters())
	return res, notify
}

func (s *State) observe(family Family, req Request, res Result, notify []Notification, waiters int) {
	m := s.opts.Metrics
	m.ObserveRequest(family, req.Kind, res)
	m.SetWaiters(family, waiters)
	if len(notify) > 0 {
		m.ObserveGrantedFromQueue(family, len(notify))
	}

	logger.Debug("Lock request handled",
		logger.LockKind(family.String()+"/"+req.Kind.String()),
		logger.LockAckID(req.AckID),
		"granted", res.Granted,
		"waiting", res.Waiting,
		"notified", len(notify))
}

// CancelByHandle removes every entry and append lock of a client handle and
// every range lock of the owner process. It is used when a file is closed.
func (s *State) CancelByHandle(clientNumID uint32, handle int64, ownerPID int32) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := Request{ClientNumID: clientNumID, Handle: handle, OwnerPID: ownerPID, Kind: KindCancel}

	var notify []Notification
	for _, q := range []*queueLocks{s.entry, s.append} {
		_, n := q.apply(req, 0)
		notify = append(notify, n...)
	}
	_, n := s.ranges.apply(req, 0)
	notify = append(notify, n...)

	s.opts.Metrics.ObserveCancel(ReasonHandle)
	return notify
}

// CancelByClient removes every lock and waiter of a client, for example when
// the client is evicted.
func (s *State) CancelByClient(clientNumID uint32) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	match := func(r Request) bool { return r.ClientNumID == clientNumID }

	var notify []Notification
	for _, q := range []*queueLocks{s.entry, s.append} {
		if q.cancel(match) {
			notify = append(notify, q.tryNextWaiters()...)
		}
	}
	if s.ranges.cancel(match) {
		notify = append(notify, s.ranges.tryNextWaiters()...)
	}

	s.opts.Metrics.ObserveCancel(ReasonClient)
	return notify
}

// CancelAllWaiters drops every queued request without touching grants.
func (s *State) CancelAllWaiters() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range []*queueLocks{s.entry, s.append} {
		q.waitersExcl, q.waitersShared = nil, nil
		clear(q.waiterIDs)
	}
	s.ranges.waitersExcl, s.ranges.waitersShared = nil, nil
	clear(s.ranges.waiterIDs)
}

// Empty reports whether no lock is granted or queued.
func (s *State) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry.empty() && s.append.empty() && s.ranges.empty()
}

// QueueSnapshot is the state of an entry or append lock machine.
type QueueSnapshot struct {
	Exclusive     *Request  `json:"exclusive,omitempty"`
	Shared        []Request `json:"shared"`
	WaitersExcl   []Request `json:"waiters_exclusive"`
	WaitersShared []Request `json:"waiters_shared"`
}

// RangeSnapshot is the state of the range lock machine.
type RangeSnapshot struct {
	Exclusive     []Request `json:"exclusive"`
	Shared        []Request `json:"shared"`
	WaitersExcl   []Request `json:"waiters_exclusive"`
	WaitersShared []Request `json:"waiters_shared"`
}

// StatusSnapshot is a copy of all lock state of an inode.
type StatusSnapshot struct {
	Entry  QueueSnapshot `json:"entry"`
	Append QueueSnapshot `json:"append"`
	Range  RangeSnapshot `json:"range"`
}

// Snapshot returns a copy of the current lock state.
func (s *State) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StatusSnapshot{
		Entry:  s.entry.snapshot(),
		Append: s.append.snapshot(),
		Range:  s.ranges.snapshot(),
	}
}

// Status renders all granted and waiting locks as human-readable text.
func (s *State) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	s.entry.writeStatus(&b)
	s.append.writeStatus(&b)
	s.ranges.writeStatus(&b)
	return b.String()
}
