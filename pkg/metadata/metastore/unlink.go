package metastore

import (
	"context"

	"github.com/avast/retry-go/v4"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/inode"
	"github.com/marmos91/dittometa/pkg/metrics"
)

// UnlinkResult describes a removed file name.
type UnlinkResult struct {
	// Entry is the removed dentry.
	Entry *metadata.DirEntry

	// Inode is the last state of the inode when it was removed with the
	// name. The caller deletes its chunks. Nil when other names remain or
	// when the inode is still open.
	Inode *metadata.FileInodeData

	// Disposed is set when the inode was still open and got anchored in a
	// disposal directory. It is removed when its last session closes.
	Disposed bool
}

// pendingInode is an inode whose last name is gone and that still has to
// be removed or anchored.
type pendingInode struct {
	info metadata.EntryInfo
}

func newPendingInode(dirID string, e *metadata.DirEntry) *pendingInode {
	info := metadata.NewEntryInfo(dirID, e)
	info.SetInlined(false)
	return &pendingInode{info: info}
}

// UnlinkFile removes the file called name from dirID. Names in a disposal
// directory are entry IDs; unlinking one removes the anchored inode.
func (m *MetaStore) UnlinkFile(ctx context.Context, dirID, name string) (res UnlinkResult, err error) {
	ctx, end := m.begin(ctx, "UnlinkFile", telemetry.ParentID(dirID), telemetry.EntryName(name))
	defer end(&err)

	if metadata.IsDisposalDir(dirID) {
		m.mu.Lock()
		defer m.mu.Unlock()
		data, err := m.disposeLocked(ctx, name, dirID == metadata.MirrorDisposalDirID)
		return UnlinkResult{Inode: data}, err
	}

	m.mu.Lock()
	res, pending, err := m.unlinkNameLocked(ctx, dirID, name)
	m.mu.Unlock()
	if err != nil || pending == nil {
		return res, err
	}
	return m.finishUnlink(ctx, res, pending)
}

func (m *MetaStore) unlinkNameLocked(ctx context.Context, dirID, name string) (UnlinkResult, *pendingInode, error) {
	dir, err := m.dirs.Reference(ctx, dirID, true)
	if err != nil {
		return UnlinkResult{}, nil, err
	}
	defer m.dirs.Release(ctx, dirID)

	un, err := dir.UnlinkFile(ctx, name, m.now())
	if err != nil {
		return UnlinkResult{}, nil, err
	}
	return m.settleUnlinkedLocked(ctx, dirID, un)
}

// settleUnlinkedLocked accounts for a removed name. Inlined inodes are
// already gone with their dentry unless they are open; standalone inodes
// lose one link here.
func (m *MetaStore) settleUnlinkedLocked(ctx context.Context, dirID string, un inode.FileUnlink) (UnlinkResult, *pendingInode, error) {
	e := un.Entry
	res := UnlinkResult{Entry: e}

	switch {
	case un.LinksLeft:
		return res, nil, nil
	case un.Busy != nil:
		m.moveToGlobalLocked(ctx, dirID, e.EntryID)
		return res, newPendingInode(dirID, e), nil
	case e.IsInlined():
		res.Inode = e.Inode
		return res, nil, nil
	}

	m.moveToGlobalLocked(ctx, dirID, e.EntryID)

	p := newPendingInode(dirID, e)
	f, err := m.files.Reference(ctx, p.info, true)
	if errors.IsPathNotExists(err) {
		logger.WarnCtx(ctx, "Removed dentry had no inode",
			logger.DirID(dirID), logger.Name(e.Name), logger.EntryID(e.EntryID))
		return res, nil, nil
	}
	if err != nil {
		return res, nil, err
	}
	defer m.files.Release(ctx, e.EntryID)

	if err := f.IncDecLinkCount(ctx, -1, m.now()); err != nil {
		return res, nil, err
	}
	if n := f.NumHardlinks(); n > 0 {
		logger.DebugCtx(ctx, "Unlinked one name of hard linked file",
			logger.EntryID(e.EntryID), logger.LinkCount(n))
		return res, nil, nil
	}
	return res, p, nil
}

type disposal struct {
	inode    *metadata.FileInodeData
	anchored bool
}

// finishUnlink removes an inode that lost its last name, or anchors it in
// its disposal directory while it is still open. A mover holding the inode
// makes the attempt fail with Again; it is retried a bounded number of
// times.
func (m *MetaStore) finishUnlink(ctx context.Context, res UnlinkResult, p *pendingInode) (UnlinkResult, error) {
	d, err := withAgainRetry(ctx, m, "unlink", func() (disposal, error) {
		return m.disposeOrAnchor(ctx, p.info)
	})
	if err != nil {
		return res, err
	}
	res.Inode = d.inode
	res.Disposed = d.anchored
	return res, nil
}

func (m *MetaStore) disposeOrAnchor(ctx context.Context, info metadata.EntryInfo) (disposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.files.UnlinkInode(ctx, info)
	switch {
	case err == nil:
		m.metrics.ObserveDisposal(metrics.DisposalRemoved)
		return disposal{inode: data}, nil

	case errors.IsInUse(err):
		if err := m.anchorLocked(ctx, info.EntryID, info.IsBuddyMirrored()); err != nil {
			if errors.IsPathNotExists(err) {
				return disposal{}, errors.NewAgainError(info.EntryID, "inode vanished while anchoring")
			}
			return disposal{}, err
		}
		return disposal{anchored: true}, nil

	case errors.IsPathNotExists(err):
		if m.files.IsInStore(info.EntryID) {
			return disposal{}, errors.NewAgainError(info.EntryID, "inode is held by a mover")
		}
		// Disposed by its last close in the meantime.
		return disposal{}, nil
	}
	return disposal{}, err
}

// withAgainRetry runs fn until it succeeds, fails with an error other than
// Again, or the configured attempts are used up.
func withAgainRetry[T any](ctx context.Context, m *MetaStore, op string, fn func() (T, error)) (T, error) {
	return retry.DoWithData(fn,
		retry.Attempts(m.againAttempts),
		retry.Delay(m.againDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(errors.IsAgain),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			m.metrics.ObserveDisposal(metrics.DisposalRetried)
			logger.DebugCtx(ctx, "Retrying metadata operation",
				logger.Operation(op), logger.Attempt(n+1), logger.Err(err))
		}),
	)
}
