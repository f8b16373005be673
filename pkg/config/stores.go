package config

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/lock"
	"github.com/marmos91/dittometa/pkg/metadata/metastore"
	"github.com/marmos91/dittometa/pkg/metadata/replication"
	"github.com/marmos91/dittometa/pkg/metadata/store"
	"github.com/marmos91/dittometa/pkg/metadata/store/badger"
	fsstore "github.com/marmos91/dittometa/pkg/metadata/store/fs"
	"github.com/marmos91/dittometa/pkg/metadata/store/memory"
	"github.com/marmos91/dittometa/pkg/metrics"
)

// OpenRecordStore creates the record store selected by cfg.Backend. The
// caller closes it.
func OpenRecordStore(ctx context.Context, cfg MetadataConfig) (store.RecordStore, error) {
	switch cfg.Backend {
	case BackendFS, "":
		return fsstore.NewFSRecordStore(fsstore.Config{
			Root:     cfg.Root,
			Mode:     fsstore.RecordMode(cfg.RecordMode),
			UseFsync: cfg.UseFsync,
		})
	case BackendBadger:
		return badger.NewBadgerRecordStore(ctx, badger.Config{
			Path:       cfg.Badger.Path,
			SyncWrites: cfg.Badger.SyncWrites,
			InMemory:   cfg.Badger.InMemory,
		})
	case BackendMemory:
		return memory.NewMemoryRecordStore(), nil
	default:
		return nil, fmt.Errorf("unknown metadata backend: %q", cfg.Backend)
	}
}

// MetaStoreOptions translates the configuration into coordinator options.
// Metrics are registered with reg when metrics are enabled and reg is set.
func MetaStoreOptions(cfg *Config, records store.RecordStore, reg prometheus.Registerer) metastore.Options {
	md := cfg.Metadata

	var hook replication.Hook = replication.Nop{}
	if md.BuddyGroupID != 0 {
		hook = replication.Logging{}
	}

	cacheLimit := cfg.Cache.DirCacheLimit
	if cacheLimit == 0 {
		cacheLimit = -1
	}

	opts := metastore.Options{
		Records:          records,
		Layout:           store.NewLayout(md.HashDirs),
		NodeID:           metadata.NodeID(md.NodeID),
		GroupID:          metadata.NodeID(md.BuddyGroupID),
		DentryBufferSize: int(md.DentryBufferSize),
		InodeBufferSize:  int(md.InodeBufferSize),
		DirCacheLimit:    cacheLimit,
		AgainAttempts:    cfg.Retry.AgainAttempts,
		AgainDelay:       cfg.Retry.AgainDelay,
		DefaultPattern:   metadata.NewRaid0Pattern(uint32(md.DefaultChunkSize), md.DefaultNumTargets, nil),
		Hook:             hook,
		Locks:            lock.Options{MaxWaiters: cfg.Locks.MaxWaitersPerInode},
	}

	if cfg.Metrics.Enabled && reg != nil {
		opts.Metrics = metrics.NewStoreMetrics(reg)
		opts.Locks.Metrics = lock.NewMetrics(reg)
	}
	return opts
}
