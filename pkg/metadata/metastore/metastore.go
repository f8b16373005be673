// Package metastore implements the coordinator of the metadata engine.
//
// The MetaStore owns the directory store and the global store of
// non-inlined file inodes and routes every operation to the store holding
// the affected objects. File inodes live in the store of their parent
// directory while inlined and move to the global store when they are
// de-inlined, hard linked or unlinked while still referenced.
//
// Locking: every operation holds the coordinator lock shared for its whole
// duration. Operations that move objects between stores or change the
// placement of an inode on disk hold it exclusively, so readers never
// observe an object in two stores.
package metastore

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/codec"
	"github.com/marmos91/dittometa/pkg/metadata/errors"
	"github.com/marmos91/dittometa/pkg/metadata/inode"
	"github.com/marmos91/dittometa/pkg/metadata/lock"
	"github.com/marmos91/dittometa/pkg/metadata/replication"
	"github.com/marmos91/dittometa/pkg/metadata/store"
	"github.com/marmos91/dittometa/pkg/metrics"
)

const (
	// DefaultAgainAttempts is the number of tries of an operation step that
	// failed with Again.
	DefaultAgainAttempts = 3

	// MaxAgainAttempts bounds AgainAttempts.
	MaxAgainAttempts = 10

	// DefaultAgainDelay is the pause between two tries.
	DefaultAgainDelay = time.Millisecond

	// DefaultDirCacheLimit is the default size of the directory soft cache.
	DefaultDirCacheLimit = 1024
)

// Options configures a MetaStore.
type Options struct {
	// Records is the record namespace. Required. The MetaStore does not
	// close it.
	Records store.RecordStore

	// Layout computes record paths. The zero value uses the default number
	// of hash buckets.
	Layout store.Layout

	// NodeID is the ID of this metadata node. Required.
	NodeID metadata.NodeID

	// GroupID is the buddy group this node belongs to, or zero.
	GroupID metadata.NodeID

	// DentryBufferSize and InodeBufferSize override the codec budgets.
	DentryBufferSize int
	InodeBufferSize  int

	// DirCacheLimit bounds the directory soft cache. Negative disables it,
	// zero selects DefaultDirCacheLimit.
	DirCacheLimit int

	AgainAttempts uint
	AgainDelay    time.Duration

	// DefaultPattern is the stripe pattern of the root directory.
	DefaultPattern metadata.StripePattern

	Hook    replication.Hook
	Metrics *metrics.StoreMetrics
	Locks   lock.Options

	// Rand drives the directory cache sweeps.
	Rand rand.Source

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// MetaStore is the metadata coordinator of one node.
type MetaStore struct {
	mu sync.RWMutex

	st    *inode.Storage
	dirs  *inode.DirStore
	files *inode.FileStore

	againAttempts uint
	againDelay    time.Duration

	now     func() time.Time
	metrics *metrics.StoreMetrics
}

// New creates the coordinator and the reserved directories (root and both
// disposal directories) when they do not exist yet.
func New(ctx context.Context, opts Options) (*MetaStore, error) {
	if opts.Records == nil {
		return nil, errors.NewInvalidArgumentError("record store is required")
	}
	if opts.NodeID == 0 {
		return nil, errors.NewInvalidArgumentError("node ID must not be zero")
	}

	c := codec.New(codec.LocalContext{NodeID: opts.NodeID, GroupID: opts.GroupID})
	if opts.DentryBufferSize > 0 {
		c.DentryLimit = opts.DentryBufferSize
	}
	if opts.InodeBufferSize > 0 {
		c.InodeLimit = opts.InodeBufferSize
	}

	layout := opts.Layout
	if layout.Buckets == 0 {
		layout = store.NewLayout(0)
	}
	hook := opts.Hook
	if hook == nil {
		hook = replication.Nop{}
	}

	st := &inode.Storage{
		Records: opts.Records,
		Codec:   c,
		Layout:  layout,
		Hook:    hook,
		Locks:   opts.Locks,
		Metrics: opts.Metrics,
	}

	cacheLimit := opts.DirCacheLimit
	switch {
	case cacheLimit == 0:
		cacheLimit = DefaultDirCacheLimit
	case cacheLimit < 0:
		cacheLimit = 0
	}

	attempts := opts.AgainAttempts
	if attempts == 0 {
		attempts = DefaultAgainAttempts
	}
	attempts = min(attempts, MaxAgainAttempts)
	delay := opts.AgainDelay
	if delay <= 0 {
		delay = DefaultAgainDelay
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	m := &MetaStore{
		st:            st,
		dirs:          inode.NewDirStore(st, inode.DirStoreOptions{CacheLimit: cacheLimit, Rand: opts.Rand}),
		files:         inode.NewFileStore(st),
		againAttempts: attempts,
		againDelay:    delay,
		now:           clock,
		metrics:       opts.Metrics,
	}

	pattern := opts.DefaultPattern
	if pattern == nil {
		pattern = metadata.NewRaid0Pattern(metadata.DefaultChunkSize, 4, nil)
	}
	reserved := []struct {
		id       string
		mode     uint32
		mirrored bool
	}{
		{metadata.RootDirID, 0o755, false},
		{metadata.DisposalDirID, 0o700, false},
		{metadata.MirrorDisposalDirID, 0o700, true},
	}
	for _, r := range reserved {
		if err := m.ensureDir(ctx, r.id, r.mode, r.mirrored, pattern); err != nil {
			return nil, err
		}
	}

	logger.InfoCtx(ctx, "Metadata store ready",
		logger.OwnerNode(uint32(opts.NodeID)), logger.CacheLimit(cacheLimit))
	return m, nil
}

func (m *MetaStore) ensureDir(ctx context.Context, id string, mode uint32, mirrored bool, pattern metadata.StripePattern) error {
	_, err := m.st.LoadDirInode(ctx, id)
	if err == nil || !errors.IsPathNotExists(err) {
		return err
	}

	data := metadata.NewDirInodeData(id, "", m.st.LocalOwner(mirrored), m.st.Codec.Local.NodeID,
		metadata.NewStatData(mode, 0, 0, m.now()), metadata.ClonePattern(pattern))
	data.SetBuddyMirrored(mirrored)
	if err := m.dirs.MakeDir(ctx, data); err != nil && !errors.IsAlreadyExists(err) {
		return err
	}
	logger.InfoCtx(ctx, "Created reserved directory", logger.DirID(id), logger.Mirrored(mirrored))
	return nil
}

// NewEntryID returns a new globally unique entry ID.
func NewEntryID() string {
	return uuid.NewString()
}

// Storage returns the persistence layer shared by the stores.
func (m *MetaStore) Storage() *inode.Storage { return m.st }

// begin opens the span of an operation. The returned function records the
// outcome; call it with a pointer to the operation's error.
func (m *MetaStore) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := telemetry.StartMetaStoreSpan(ctx, op, attrs...)
	start := time.Now()
	return ctx, func(errp *error) {
		err := *errp
		m.metrics.ObserveOperation(op, err, time.Since(start))
		if err != nil && errors.IsInternal(err) {
			logger.WarnCtx(ctx, "Metadata operation failed", logger.Operation(op), logger.Err(err))
		}
		telemetry.EndSpan(span, err, errors.IsAdvisory)
	}
}

// ============================================================================
// Cache Management
// ============================================================================

// Stats is a snapshot of the objects held in memory.
type Stats struct {
	CachedDirs   int `json:"cached_dirs"`
	DirCache     int `json:"dir_cache"`
	GlobalFiles  int `json:"global_files"`
	InlinedFiles int `json:"inlined_files"`
}

// Stats returns the number of referenced objects per store.
func (m *MetaStore) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		CachedDirs:  m.dirs.Size(),
		DirCache:    m.dirs.CacheSize(),
		GlobalFiles: m.files.Size(),
	}
	m.dirs.ForEach(func(d *inode.DirInode) {
		s.InlinedFiles += d.Files().Size()
	})
	return s
}

// CacheSweepAsync shrinks the directory cache to its lower watermark. It is
// meant to run periodically in the background.
func (m *MetaStore) CacheSweepAsync(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.dirs.CacheSweep(ctx, true)
}

// Close drops the directory cache. Objects still referenced by callers are
// reported and stay in memory.
func (m *MetaStore) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dirs.Clear(ctx)
	if dirs, files := m.dirs.Size(), m.files.Size(); dirs > 0 || files > 0 {
		logger.WarnCtx(ctx, "Closing metadata store with referenced objects",
			"dirs", dirs, "files", files)
	}
	return nil
}
