package inode

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/lock"
)

// AccessFlags describe how a file was opened.
type AccessFlags uint8

const (
	AccessRead AccessFlags = 1 << iota
	AccessWrite

	AccessReadWrite = AccessRead | AccessWrite
)

// MoverToken identifies the goroutine chain performing a cross-node move.
type MoverToken string

type moverKey struct{}

// WithMover marks ctx as belonging to the mover identified by token. Only
// such contexts can reference objects the mover holds exclusively.
func WithMover(ctx context.Context, token MoverToken) context.Context {
	return context.WithValue(ctx, moverKey{}, token)
}

func moverFrom(ctx context.Context) MoverToken {
	token, _ := ctx.Value(moverKey{}).(MoverToken)
	return token
}

// FileInode is the live object of one file inode.
type FileInode struct {
	mu sync.RWMutex

	st    *Storage
	entry *metadata.DirEntry

	parentDirID  string
	parentNodeID metadata.NodeID
	inlined      bool

	numSessionsRead  uint32
	numSessionsWrite uint32

	// exclusive and pinnedForMove are guarded by the mutex of the store
	// holding the inode. pinnedForMove is set when MoveRemoteBegin had to
	// record the original parent, so that a cancelled move can undo it.
	exclusive     MoverToken
	pinnedForMove bool
	locks     *lock.State
}

func newFileInode(st *Storage, e *metadata.DirEntry, parentDirID string, parentNode metadata.NodeID, inlined bool) *FileInode {
	e.SetInlined(inlined)
	return &FileInode{
		st:           st,
		entry:        e,
		parentDirID:  parentDirID,
		parentNodeID: parentNode,
		inlined:      inlined,
		locks:        lock.NewState(st.Locks),
	}
}

// NewDetachedFileInode wraps inode data that is not backed by any store,
// e.g. an inode received from another node.
func NewDetachedFileInode(st *Storage, e *metadata.DirEntry, parentDirID string, inlined bool) *FileInode {
	return newFileInode(st, e, parentDirID, st.LocalOwner(e.IsBuddyMirrored()), inlined)
}

// ID returns the entry ID.
func (f *FileInode) ID() string { return f.entry.EntryID }

// Locks returns the lock state of the inode.
func (f *FileInode) Locks() *lock.State { return f.locks }

func (f *FileInode) ParentDirID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.parentDirID
}

func (f *FileInode) ParentNodeID() metadata.NodeID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.parentNodeID
}

// IsInlined reports whether the inode is stored in its dentry.
func (f *FileInode) IsInlined() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.inlined
}

func (f *FileInode) IsBuddyMirrored() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.entry.IsBuddyMirrored()
}

// Data returns a copy of the inode data.
func (f *FileInode) Data() *metadata.FileInodeData {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.entry.Inode.Clone()
}

// Entry returns a copy of the dentry carrying the inode.
func (f *FileInode) Entry() *metadata.DirEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.entry.Clone()
}

// NumHardlinks returns the link count.
func (f *FileInode) NumHardlinks() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.entry.Inode.Stat.NumHardlinks
}

// Sessions returns the number of open read and write sessions.
func (f *FileInode) Sessions() (read, write uint32) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.numSessionsRead, f.numSessionsWrite
}

// Snapshot returns the current stat data.
func (f *FileInode) Snapshot() metadata.StatData {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.entry.Inode.Stat.Clone()
}

// Store persists the inode.
func (f *FileInode) Store(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storeLocked(ctx)
}

func (f *FileInode) storeLocked(ctx context.Context) error {
	inlined, err := f.st.StoreFileInode(ctx, f.parentDirID, f.entry, f.inlined)
	if err != nil {
		return err
	}
	f.inlined = inlined
	return nil
}

// SetAttr applies req and persists the result. On failure the previous
// attributes are restored.
func (f *FileInode) SetAttr(ctx context.Context, req metadata.SetAttrRequest, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	old := f.entry.Inode.Stat.Clone()
	if !req.Apply(&f.entry.Inode.Stat, now) {
		return nil
	}
	f.entry.Inode.Stat.CTime = now.Unix()

	if err := f.storeLocked(ctx); err != nil {
		f.entry.Inode.Stat = old
		return err
	}
	return nil
}

// IncDecLinkCount changes the link count by delta and persists it. On
// failure the previous count is restored.
func (f *FileInode) IncDecLinkCount(ctx context.Context, delta int, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stat := &f.entry.Inode.Stat
	if delta < 0 && uint32(-delta) > stat.NumHardlinks {
		logger.BugCtx(ctx, "Link count would drop below zero",
			logger.EntryID(f.entry.EntryID), logger.LinkCount(stat.NumHardlinks))
		return errors.NewInternalError(f.entry.EntryID, "link count underflow", nil)
	}

	oldLinks, oldCTime := stat.NumHardlinks, stat.CTime
	stat.NumHardlinks = uint32(int64(stat.NumHardlinks) + int64(delta))
	stat.CTime = now.Unix()

	if err := f.storeLocked(ctx); err != nil {
		stat.NumHardlinks, stat.CTime = oldLinks, oldCTime
		return err
	}
	return nil
}

// SetDataState changes the data state and persists it.
func (f *FileInode) SetDataState(ctx context.Context, state metadata.DataState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	old := f.entry.Inode.Clone()
	f.entry.Inode.SetDataState(state)
	if err := f.storeLocked(ctx); err != nil {
		f.entry.Inode = old
		return err
	}
	return nil
}

// SetBuddyMirrored changes the mirror flag of the inode and hands its
// ownership to the matching local owner. The caller persists the change.
func (f *FileInode) SetBuddyMirrored(mirrored bool) {
	f.mu.Lock()
	f.entry.SetBuddyMirrored(mirrored)
	f.entry.OwnerNodeID = f.st.LocalOwner(mirrored)
	f.mu.Unlock()
}

// PinOrigParent records parentID as the chunk-path parent of the inode
// unless one is recorded already. Used before the inode leaves its
// directory.
func (f *FileInode) PinOrigParent(parentID string) {
	f.mu.Lock()
	f.entry.Inode.SetPersistentOrigParentID(parentID)
	f.mu.Unlock()
}

// pinForMove pins the original parent and reports whether the inode data
// changed.
func (f *FileInode) pinForMove(parentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := f.entry.Inode
	had := in.FeatureFlags&metadata.InodeHasOrigParentID != 0
	in.SetPersistentOrigParentID(parentID)
	return !had && in.FeatureFlags&metadata.InodeHasOrigParentID != 0
}

func (f *FileInode) unpinForMove() {
	f.mu.Lock()
	f.entry.Inode.SetOrigParentEntryID("")
	f.mu.Unlock()
}

// SetParent records a new parent directory.
func (f *FileInode) SetParent(parentDirID string, parentNode metadata.NodeID) {
	f.mu.Lock()
	f.parentDirID = parentDirID
	f.parentNodeID = parentNode
	f.mu.Unlock()
}

// SetInlined records a new placement of the inode after the coordinator
// moved it on disk.
func (f *FileInode) SetInlined(inlined bool) {
	f.mu.Lock()
	f.inlined = inlined
	f.entry.SetInlined(inlined)
	f.mu.Unlock()
}

// Serialize encodes the inode in its standalone form, as sent to another
// node during a cross-node move.
func (f *FileInode) Serialize() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	e := f.entry.Clone()
	e.SetInlined(false)
	data, err := f.st.Codec.EncodeFileInode(e)
	if err != nil {
		return nil, errors.NewInternalError(e.EntryID, "cannot encode inode", err)
	}
	return data, nil
}

// OpenSession counts a new open session of the inode.
func (f *FileInode) OpenSession(access AccessFlags) {
	f.mu.Lock()
	if access&AccessWrite != 0 {
		f.numSessionsWrite++
	} else {
		f.numSessionsRead++
	}
	f.mu.Unlock()
}

func (f *FileInode) closeSession(ctx context.Context, access AccessFlags) {
	f.mu.Lock()
	defer f.mu.Unlock()

	counter := &f.numSessionsRead
	if access&AccessWrite != 0 {
		counter = &f.numSessionsWrite
	}
	if *counter == 0 {
		logger.BugCtx(ctx, "Closing file without open session", logger.EntryID(f.entry.EntryID))
		return
	}
	*counter--
}
