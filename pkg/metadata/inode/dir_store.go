package inode

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metrics"
)

const (
	// Every n-th cached directory is released by a sweep.
	syncSweepSkip  = 4
	asyncSweepSkip = 3
)

// DirStoreOptions configures a DirStore.
type DirStoreOptions struct {
	// CacheLimit is the number of directories kept referenced by the soft
	// cache. Zero disables the cache.
	CacheLimit int

	// Rand picks the start offset of sweeps. Defaults to a time seeded PCG.
	Rand rand.Source
}

type dirRef struct {
	dir  *DirInode
	refs int
}

// DirStore holds the referenced directory inodes of the node.
//
// On first reference a directory is also inserted into refCache, which
// holds one extra reference per entry. When the cache grows beyond its
// limit a sweep releases every n-th entry starting at a random offset, so
// directories still referenced elsewhere stay in the map.
type DirStore struct {
	mu sync.Mutex

	st       *Storage
	dirs     map[string]*dirRef
	refCache *btree.BTreeG[string]

	syncLimit  int
	asyncLimit int
	rng        *rand.Rand
}

// NewDirStore creates an empty directory store.
func NewDirStore(st *Storage, opts DirStoreOptions) *DirStore {
	src := opts.Rand
	if src == nil {
		src = rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)
	}
	limit := max(opts.CacheLimit, 0)
	return &DirStore{
		st:         st,
		dirs:       make(map[string]*dirRef),
		refCache:   btree.NewOrderedG[string](16),
		syncLimit:  limit,
		asyncLimit: limit - limit/2,
		rng:        rand.New(src),
	}
}

func (s *DirStore) updateGauges() {
	s.st.Metrics.SetCachedInodes("dirs", len(s.dirs))
	s.st.Metrics.SetCachedInodes("dir_cache", s.refCache.Len())
}

// ============================================================================
// Referencing
// ============================================================================

// Reference returns the directory dirID with its reference count
// incremented. With forceLoad the inode record is read before returning;
// otherwise it is read on first use. A directory held exclusively by a
// mover can only be referenced from the mover's context.
func (s *DirStore) Reference(ctx context.Context, dirID string, forceLoad bool) (*DirInode, error) {
	s.mu.Lock()
	dir, err := s.referenceLocked(ctx, dirID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if !forceLoad {
		return dir, nil
	}
	if err := dir.LoadIfNotLoaded(ctx); err != nil {
		s.mu.Lock()
		s.cacheRemoveLocked(ctx, dirID)
		s.releaseLocked(ctx, dirID)
		s.mu.Unlock()
		return nil, err
	}
	return dir, nil
}

func (s *DirStore) referenceLocked(ctx context.Context, dirID string) (*DirInode, error) {
	if ref, ok := s.dirs[dirID]; ok {
		if ref.dir.exclusive != "" && ref.dir.exclusive != moverFrom(ctx) {
			return nil, errors.NewInUseError(dirID)
		}
		ref.refs++
		return ref.dir, nil
	}

	ref := &dirRef{dir: newDirInode(s.st, dirID), refs: 1}
	s.dirs[dirID] = ref
	if s.syncLimit > 0 {
		s.cacheAddLocked(ctx, dirID, ref)
	}
	s.updateGauges()
	return ref.dir, nil
}

// Release drops one reference of dirID.
func (s *DirStore) Release(ctx context.Context, dirID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(ctx, dirID)
}

func (s *DirStore) releaseLocked(ctx context.Context, dirID string) {
	ref, ok := s.dirs[dirID]
	if !ok {
		logger.BugCtx(ctx, "Release of unknown directory", logger.DirID(dirID))
		return
	}

	if ref.refs <= 0 {
		logger.BugCtx(ctx, "Directory reference count already zero",
			logger.DirID(dirID), logger.RefCount(ref.refs))
		delete(s.dirs, dirID)
		s.updateGauges()
		return
	}

	ref.refs--
	if ref.refs > 0 {
		return
	}

	if n := ref.dir.files.Size(); n > 0 {
		// Inlined file inodes still reference the directory.
		logger.BugCtx(ctx, "Releasing directory with referenced file inodes",
			logger.DirID(dirID), logger.RefCount(n))
		ref.refs++
		return
	}

	delete(s.dirs, dirID)
	s.updateGauges()
}

// ReferenceCount returns the reference count of dirID, including the
// cache's reference, or zero.
func (s *DirStore) ReferenceCount(dirID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.dirs[dirID]; ok {
		return ref.refs
	}
	return 0
}

// IsInStore reports whether dirID is referenced.
func (s *DirStore) IsInStore(dirID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dirs[dirID]
	return ok
}

// Size returns the number of referenced directories.
func (s *DirStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirs)
}

// CacheSize returns the number of directories in the soft cache.
func (s *DirStore) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refCache.Len()
}

// List returns the referenced directory IDs in lexical order.
func (s *DirStore) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.dirs))
	for id := range s.dirs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ============================================================================
// Cache
// ============================================================================

func (s *DirStore) cacheAddLocked(ctx context.Context, dirID string, ref *dirRef) {
	s.sweepLocked(ctx, false)

	if _, found := s.refCache.ReplaceOrInsert(dirID); !found {
		ref.refs++
	}
	s.updateGauges()
}

func (s *DirStore) cacheRemoveLocked(ctx context.Context, dirID string) {
	if _, found := s.refCache.Delete(dirID); found {
		s.releaseLocked(ctx, dirID)
		s.updateGauges()
	}
}

// sweepLocked releases every n-th cached directory, starting at a random
// position, until the cache is within its limit. Positions before the start
// are not visited in a pass.
func (s *DirStore) sweepLocked(ctx context.Context, async bool) {
	limit, skip, mode := s.syncLimit, syncSweepSkip, metrics.SweepSync
	if async {
		limit, skip, mode = s.asyncLimit, asyncSweepSkip, metrics.SweepAsync
	}

	if s.refCache.Len() <= limit {
		return
	}
	s.st.Metrics.ObserveSweep(mode)

	evicted := 0
	for s.refCache.Len() > limit {
		size := s.refCache.Len()
		start := s.rng.IntN(size)

		var victims []string
		pos := 0
		s.refCache.Ascend(func(id string) bool {
			if pos >= start && (pos-start)%skip == 0 {
				victims = append(victims, id)
			}
			pos++
			return true
		})

		for _, id := range victims {
			if s.refCache.Len() <= limit {
				break
			}
			s.refCache.Delete(id)
			s.releaseLocked(ctx, id)
			evicted++
		}
	}

	logger.DebugCtx(ctx, "Swept directory cache",
		logger.CacheSize(s.refCache.Len()), logger.CacheLimit(limit), logger.Evicted(evicted))
	s.updateGauges()
}

// CacheSweep runs a sweep. An async sweep is skipped when the store is busy.
func (s *DirStore) CacheSweep(ctx context.Context, async bool) {
	if async {
		if !s.mu.TryLock() {
			return
		}
	} else {
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	s.sweepLocked(ctx, async)
}

// Clear drops every cache reference. Directories referenced elsewhere stay
// in the store.
func (s *DirStore) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	s.refCache.Ascend(func(id string) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		s.cacheRemoveLocked(ctx, id)
	}
}

// ============================================================================
// Create / Remove
// ============================================================================

// MakeDir persists a new directory inode together with its dentry store.
func (s *DirStore) MakeDir(ctx context.Context, data *metadata.DirInodeData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dirs[data.ID]; ok {
		return errors.NewAlreadyExistsError(data.ID)
	}

	dentries := NewDentryStore(s.st, data.ID, data.IsBuddyMirrored())
	if err := dentries.MkStore(ctx); err != nil {
		return err
	}
	if err := s.st.CreateDirInode(ctx, data); err != nil {
		if rmErr := dentries.RemoveStore(ctx); rmErr != nil {
			logger.BugCtx(ctx, "Failed to unwind dentry store", logger.DirID(data.ID), logger.Err(rmErr))
		}
		return err
	}
	return nil
}

// IsRemovable fails with NotEmpty for a directory with entries, with InUse
// for a referenced one and with PathNotExists for an unknown one.
func (s *DirStore) IsRemovable(ctx context.Context, dirID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.isRemovableLocked(ctx, dirID)
	return err
}

func (s *DirStore) isRemovableLocked(ctx context.Context, dirID string) (*metadata.DirInodeData, error) {
	if ref, ok := s.dirs[dirID]; ok {
		dir := ref.dir
		dir.mu.RLock()
		defer dir.mu.RUnlock()
		if dir.loaded && dir.numEntriesLocked() > 0 {
			return nil, errors.NewNotEmptyError(dirID)
		}
		return nil, errors.NewInUseError(dirID)
	}

	data, err := s.st.LoadDirInode(ctx, dirID)
	if err != nil {
		return nil, err
	}
	if data.NumSubdirs+data.NumFiles > 0 {
		return nil, errors.NewNotEmptyError(dirID)
	}
	return data, nil
}

// RemoveDir removes an empty, unreferenced directory from disk. The cache
// reference is dropped first.
func (s *DirStore) RemoveDir(ctx context.Context, dirID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cacheRemoveLocked(ctx, dirID)

	data, err := s.isRemovableLocked(ctx, dirID)
	if err != nil {
		return err
	}

	dentries := NewDentryStore(s.st, dirID, data.IsBuddyMirrored())
	if empty, err := dentries.IsEmpty(ctx); err != nil {
		return err
	} else if !empty {
		return errors.NewNotEmptyError(dirID)
	}

	if err := s.st.RemoveDirInode(ctx, dirID, data.IsBuddyMirrored()); err != nil {
		return err
	}
	if err := dentries.RemoveStore(ctx); err != nil {
		logger.WarnCtx(ctx, "Failed to remove dentry store of removed directory",
			logger.DirID(dirID), logger.Err(err))
	}
	return nil
}

// ============================================================================
// Attributes
// ============================================================================

// Stat returns the stat data of dirID. An unreferenced directory is read
// from disk without inserting it. A directory owned by another node fails
// with NotOwner.
func (s *DirStore) Stat(ctx context.Context, dirID string) (metadata.StatData, *metadata.DirInodeData, error) {
	s.mu.Lock()
	ref, ok := s.dirs[dirID]
	s.mu.Unlock()

	var data *metadata.DirInodeData
	if ok {
		d, err := ref.dir.Data(ctx)
		if err != nil {
			return metadata.StatData{}, nil, err
		}
		data = d
	} else {
		d, err := s.st.LoadDirInode(ctx, dirID)
		if err != nil {
			return metadata.StatData{}, nil, err
		}
		data = d
	}

	if owner := s.st.LocalOwner(data.IsBuddyMirrored()); data.OwnerNodeID != owner {
		return metadata.StatData{}, nil, errors.NewNotOwnerError(dirID, uint32(data.OwnerNodeID))
	}
	return dirStat(data), data, nil
}

// SetAttr applies req to dirID.
func (s *DirStore) SetAttr(ctx context.Context, dirID string, req metadata.SetAttrRequest, now time.Time) error {
	dir, err := s.Reference(ctx, dirID, true)
	if err != nil {
		return err
	}
	defer s.Release(ctx, dirID)
	return dir.SetAttr(ctx, req, now)
}

// SetExclusive marks dirID as held by the mover identified by token. An
// empty token clears the mark.
func (s *DirStore) SetExclusive(dirID string, token MoverToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.dirs[dirID]
	if !ok {
		return errors.NewPathNotExistsError(dirID)
	}
	if token != "" && ref.dir.exclusive != "" && ref.dir.exclusive != token {
		return errors.NewInUseError(dirID)
	}
	ref.dir.exclusive = token
	return nil
}
