package inode

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
)

type fileRef struct {
	inode *FileInode
	refs  int
}

// FileStore holds the referenced file inodes of one scope: either the
// inlined inodes of a single directory, or the node-wide store of
// non-inlined inodes.
//
// An inode is present in the map iff its reference count is positive. The
// decrement that reaches zero removes it in the same critical section.
type FileStore struct {
	mu     sync.Mutex
	st     *Storage
	global bool
	inodes map[string]*fileRef
}

// NewFileStore creates the node-wide store of non-inlined inodes.
func NewFileStore(st *Storage) *FileStore {
	return &FileStore{st: st, global: true, inodes: make(map[string]*fileRef)}
}

func newDirFileStore(st *Storage) *FileStore {
	return &FileStore{st: st, inodes: make(map[string]*fileRef)}
}

func (s *FileStore) updateGauge() {
	if s.global {
		s.st.Metrics.SetCachedInodes("files", len(s.inodes))
	}
}

func (s *FileStore) load(ctx context.Context, info metadata.EntryInfo) (*FileInode, error) {
	e, inlined, err := s.st.LoadFileInode(ctx, info.ParentEntryID, info.EntryID, info.IsInlined())
	if err != nil {
		return nil, err
	}

	// Each store only loads inodes of its own placement: the global store
	// never holds inlined inodes and a directory never holds standalone ones.
	if inlined == s.global {
		if s.global {
			return nil, errors.NewPathNotExistsError(info.EntryID)
		}
		return nil, errors.NewInodeNotInlinedError(info.EntryID)
	}
	return newFileInode(s.st, e, info.ParentEntryID, info.OwnerNodeID, inlined), nil
}

// ============================================================================
// Referencing
// ============================================================================

// Reference returns the inode of info with its reference count incremented.
// An absent inode is loaded from disk when loadFromDisk is set. An inode
// held exclusively by a mover can only be referenced from the mover's
// context.
func (s *FileStore) Reference(ctx context.Context, info metadata.EntryInfo, loadFromDisk bool) (*FileInode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.referenceLocked(ctx, info, loadFromDisk)
}

func (s *FileStore) referenceLocked(ctx context.Context, info metadata.EntryInfo, loadFromDisk bool) (*FileInode, error) {
	if ref, ok := s.inodes[info.EntryID]; ok {
		if ref.inode.exclusive != "" && ref.inode.exclusive != moverFrom(ctx) {
			return nil, errors.NewInUseError(info.EntryID)
		}
		ref.refs++
		return ref.inode, nil
	}

	if !loadFromDisk {
		return nil, errors.NewPathNotExistsError(info.EntryID)
	}

	inode, err := s.load(ctx, info)
	if err != nil {
		return nil, err
	}
	s.inodes[info.EntryID] = &fileRef{inode: inode, refs: 1}
	s.updateGauge()
	return inode, nil
}

// Release drops one reference of entryID and reports whether the inode left
// the store.
func (s *FileStore) Release(ctx context.Context, entryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(ctx, entryID)
}

func (s *FileStore) releaseLocked(ctx context.Context, entryID string) bool {
	ref, ok := s.inodes[entryID]
	if !ok {
		logger.BugCtx(ctx, "Release of unknown file inode", logger.EntryID(entryID))
		return false
	}

	ref.refs--
	if ref.refs > 0 {
		return false
	}
	if ref.refs < 0 {
		logger.BugCtx(ctx, "File inode reference count below zero",
			logger.EntryID(entryID), logger.RefCount(ref.refs))
	}
	delete(s.inodes, entryID)
	s.updateGauge()
	return true
}

// TakeReferencer removes entryID from the map without dropping the object
// and returns it with its reference count.
func (s *FileStore) TakeReferencer(entryID string) (*FileInode, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.inodes[entryID]
	if !ok {
		return nil, 0, false
	}
	delete(s.inodes, entryID)
	s.updateGauge()
	return ref.inode, ref.refs, true
}

// InsertReferencer adds an object taken from another store. It fails when
// the store already holds the ID.
func (s *FileStore) InsertReferencer(inode *FileInode, refs int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inodes[inode.ID()]; ok {
		return false
	}
	s.inodes[inode.ID()] = &fileRef{inode: inode, refs: refs}
	s.updateGauge()
	return true
}

// ReferenceCount returns the reference count of entryID, or zero.
func (s *FileStore) ReferenceCount(entryID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref, ok := s.inodes[entryID]; ok {
		return ref.refs
	}
	return 0
}

// IsInStore reports whether entryID is referenced.
func (s *FileStore) IsInStore(entryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inodes[entryID]
	return ok
}

// Size returns the number of referenced inodes.
func (s *FileStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inodes)
}

// List returns the referenced entry IDs in lexical order.
func (s *FileStore) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.inodes))
	for id := range s.inodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ForEach calls fn for every referenced inode while holding the store lock.
func (s *FileStore) ForEach(fn func(*FileInode)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range s.inodes {
		fn(ref.inode)
	}
}

// ============================================================================
// Sessions
// ============================================================================

// OpenFile references the inode and opens a session.
func (s *FileStore) OpenFile(ctx context.Context, info metadata.EntryInfo, access AccessFlags, loadFromDisk bool) (*FileInode, error) {
	inode, err := s.Reference(ctx, info, loadFromDisk)
	if err != nil {
		return nil, err
	}
	inode.OpenSession(access)
	return inode, nil
}

// CloseResult is the state of an inode after a session was closed.
type CloseResult struct {
	NumHardlinks uint32
	NumRefs      int
}

// CloseFile closes a session, persists attributes changed by writers and
// drops the session's reference.
func (s *FileStore) CloseFile(ctx context.Context, inode *FileInode, access AccessFlags) (CloseResult, error) {
	inode.closeSession(ctx, access)

	var storeErr error
	if access&AccessWrite != 0 {
		storeErr = inode.Store(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked(ctx, inode.ID())

	res := CloseResult{NumHardlinks: inode.NumHardlinks()}
	if ref, ok := s.inodes[inode.ID()]; ok {
		res.NumRefs = ref.refs
	}
	return res, storeErr
}

// ============================================================================
// Unlink
// ============================================================================

// IsUnlinkable fails with InUse while the inode is referenced and with
// PathNotExists while another mover holds it.
func (s *FileStore) IsUnlinkable(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isUnlinkableLocked(ctx, entryID)
}

func (s *FileStore) isUnlinkableLocked(ctx context.Context, entryID string) error {
	ref, ok := s.inodes[entryID]
	if !ok {
		return nil
	}
	if ref.inode.exclusive != "" && ref.inode.exclusive != moverFrom(ctx) {
		return errors.NewPathNotExistsError(entryID)
	}
	if ref.refs > 0 {
		return errors.NewInUseError(entryID)
	}
	return nil
}

// GetUnreferencedInode loads the inode of info if nobody references it.
// Inodes with more than one link are reported as InUse: they cannot be
// removed with this name.
func (s *FileStore) GetUnreferencedInode(ctx context.Context, info metadata.EntryInfo) (*FileInode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.isUnlinkableLocked(ctx, info.EntryID); err != nil {
		return nil, err
	}

	inode, err := s.load(ctx, info)
	if err != nil {
		return nil, err
	}
	if inode.NumHardlinks() > 1 {
		return nil, errors.NewInUseError(info.EntryID)
	}
	return inode, nil
}

// UnlinkInode removes the standalone inode record of an unreferenced inode
// and returns its last state.
func (s *FileStore) UnlinkInode(ctx context.Context, info metadata.EntryInfo) (*metadata.FileInodeData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.isUnlinkableLocked(ctx, info.EntryID); err != nil {
		return nil, err
	}

	info.SetInlined(false)
	inode, err := s.load(ctx, info)
	if err != nil {
		return nil, err
	}
	if inode.IsInlined() {
		return nil, errors.NewInvalidArgumentError("inode is inlined")
	}
	if err := s.st.RemoveFileInode(ctx, info.EntryID, inode.IsBuddyMirrored()); err != nil {
		return nil, err
	}
	return inode.Data(), nil
}

// ============================================================================
// Attributes
// ============================================================================

// Stat returns the stat data of info. An unreferenced inode is read from
// disk without inserting it when loadFromDisk is set.
func (s *FileStore) Stat(ctx context.Context, info metadata.EntryInfo, loadFromDisk bool) (metadata.StatData, error) {
	s.mu.Lock()
	if ref, ok := s.inodes[info.EntryID]; ok {
		inode := ref.inode
		s.mu.Unlock()
		return inode.Snapshot(), nil
	}
	s.mu.Unlock()

	if !loadFromDisk {
		return metadata.StatData{}, errors.NewPathNotExistsError(info.EntryID)
	}
	inode, err := s.load(ctx, info)
	if err != nil {
		return metadata.StatData{}, err
	}
	return inode.Snapshot(), nil
}

// SetAttr applies req to the inode of info.
func (s *FileStore) SetAttr(ctx context.Context, info metadata.EntryInfo, req metadata.SetAttrRequest, now time.Time) error {
	inode, err := s.Reference(ctx, info, true)
	if err != nil {
		return err
	}
	defer s.Release(ctx, info.EntryID)
	return inode.SetAttr(ctx, req, now)
}

// ============================================================================
// Cross-node Move
// ============================================================================

// MoveRemoteBegin marks the inode exclusive for the mover identified by
// token and returns its serialized form. The mover keeps one reference
// until MoveRemoteComplete or MoveRemoteCancel.
func (s *FileStore) MoveRemoteBegin(ctx context.Context, info metadata.EntryInfo, token MoverToken) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inode, err := s.referenceLocked(ctx, info, true)
	if err != nil {
		return nil, err
	}

	if inode.exclusive != "" {
		s.releaseLocked(ctx, info.EntryID)
		return nil, errors.NewInUseError(info.EntryID)
	}
	inode.exclusive = token
	inode.pinnedForMove = inode.pinForMove(info.ParentEntryID)

	buf, err := inode.Serialize()
	if err != nil {
		s.endMoveLocked(inode)
		s.releaseLocked(ctx, info.EntryID)
		return nil, err
	}
	return buf, nil
}

// endMoveLocked clears the exclusive mark of a move that did not complete
// and undoes the original parent pinned for it.
func (s *FileStore) endMoveLocked(inode *FileInode) {
	if inode.pinnedForMove {
		inode.unpinForMove()
	}
	inode.exclusive = ""
	inode.pinnedForMove = false
}

func (s *FileStore) moverRefLocked(entryID string, token MoverToken) (*fileRef, error) {
	ref, ok := s.inodes[entryID]
	if !ok {
		return nil, errors.NewPathNotExistsError(entryID)
	}
	if ref.inode.exclusive != token {
		return nil, errors.NewInvalidArgumentError("inode is not held by this mover")
	}
	return ref, nil
}

// MoveRemoteComplete drops the moved inode from the store. The caller
// removes its on-disk records.
func (s *FileStore) MoveRemoteComplete(ctx context.Context, entryID string, token MoverToken) (*FileInode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, err := s.moverRefLocked(entryID, token)
	if err != nil {
		return nil, err
	}
	if ref.refs > 1 {
		logger.WarnCtx(ctx, "Dropping moved inode that is still referenced",
			logger.EntryID(entryID), logger.RefCount(ref.refs))
	}
	delete(s.inodes, entryID)
	s.updateGauge()
	return ref.inode, nil
}

// MoveRemoteCancel clears the exclusive mark and drops the mover's
// reference.
func (s *FileStore) MoveRemoteCancel(ctx context.Context, entryID string, token MoverToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, err := s.moverRefLocked(entryID, token)
	if err != nil {
		return err
	}
	s.endMoveLocked(ref.inode)

	s.releaseLocked(ctx, entryID)
	return nil
}
