package metastore

import (
	"context"
	"strconv"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/inode"
	"github.com/marmos91/dittometa/pkg/metadata/lock"
)

// Lock state lives in the live file inode. Callers keep the file open
// while they hold locks; when the inode leaves memory its locks are gone.

type lockApply func(*lock.State, lock.Request) (lock.Result, []lock.Notification)

func (m *MetaStore) flock(ctx context.Context, op string, family lock.Family, apply lockApply, info metadata.EntryInfo, req lock.Request) (res lock.Result, notify []lock.Notification, err error) {
	ctx, end := m.begin(ctx, op, telemetry.EntryID(info.EntryID),
		telemetry.LockFamily(family.String()), telemetry.LockKind(req.Kind.String()))
	defer end(&err)

	if err := lock.ValidateRequest(req); err != nil {
		return lock.Result{}, nil, err
	}
	err = m.withFile(ctx, info, func(f *inode.FileInode) error {
		res, notify = apply(f.Locks(), req)
		return nil
	})
	if err != nil {
		return lock.Result{}, nil, err
	}
	return res, notify, lock.ResultError(info.String(), req, res)
}

// FlockEntry handles a whole-file lock request on the file of info. The
// returned notifications list queued requests granted by this call.
func (m *MetaStore) FlockEntry(ctx context.Context, info metadata.EntryInfo, req lock.Request) (lock.Result, []lock.Notification, error) {
	return m.flock(ctx, "FlockEntry", lock.FamilyEntry, (*lock.State).Entry, info, req)
}

// FlockRange handles a byte-range lock request.
func (m *MetaStore) FlockRange(ctx context.Context, info metadata.EntryInfo, req lock.Request) (lock.Result, []lock.Notification, error) {
	return m.flock(ctx, "FlockRange", lock.FamilyRange, (*lock.State).Range, info, req)
}

// FlockAppend handles an append lock request.
func (m *MetaStore) FlockAppend(ctx context.Context, info metadata.EntryInfo, req lock.Request) (lock.Result, []lock.Notification, error) {
	return m.flock(ctx, "FlockAppend", lock.FamilyAppend, (*lock.State).Append, info, req)
}

// CancelLocksByHandle drops every lock a client file handle holds on the
// file of info, as done when the handle is closed.
func (m *MetaStore) CancelLocksByHandle(ctx context.Context, info metadata.EntryInfo, clientNumID uint32, handle int64, ownerPID int32) (notify []lock.Notification, err error) {
	ctx, end := m.begin(ctx, "CancelLocksByHandle", telemetry.EntryID(info.EntryID))
	defer end(&err)

	err = m.withFile(ctx, info, func(f *inode.FileInode) error {
		notify = f.Locks().CancelByHandle(clientNumID, handle, ownerPID)
		return nil
	})
	return notify, err
}

// CancelLocksByClient drops every lock and waiter of a client on all files
// in memory, e.g. after the client was evicted.
func (m *MetaStore) CancelLocksByClient(ctx context.Context, clientNumID uint32) (notify []lock.Notification, err error) {
	ctx, end := m.begin(ctx, "CancelLocksByClient",
		telemetry.ClientID(strconv.FormatUint(uint64(clientNumID), 10)))
	defer end(&err)

	m.mu.RLock()
	defer m.mu.RUnlock()

	cancel := func(f *inode.FileInode) {
		notify = append(notify, f.Locks().CancelByClient(clientNumID)...)
	}
	m.files.ForEach(cancel)

	var dirs []*inode.DirInode
	m.dirs.ForEach(func(d *inode.DirInode) { dirs = append(dirs, d) })
	for _, d := range dirs {
		d.Files().ForEach(cancel)
	}

	logger.DebugCtx(ctx, "Cancelled locks of client",
		logger.ClientID(strconv.FormatUint(uint64(clientNumID), 10)), "notified", len(notify))
	return notify, nil
}

// LockStatus returns a copy of the lock state of the file of info.
func (m *MetaStore) LockStatus(ctx context.Context, info metadata.EntryInfo) (snap lock.StatusSnapshot, err error) {
	ctx, end := m.begin(ctx, "LockStatus", telemetry.EntryID(info.EntryID))
	defer end(&err)

	err = m.withFile(ctx, info, func(f *inode.FileInode) error {
		snap = f.Locks().Snapshot()
		return nil
	})
	return snap, err
}
