package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittometa/internal/logger"
	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/adminapi"
	"github.com/marmos91/dittometa/pkg/config"
	"github.com/marmos91/dittometa/pkg/metadata/metastore"
)

var (
	disposeOnStart bool
	watchConfig    bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the metadata node",
	Long: `Start the metadata node in the foreground.

The node opens the record store, prepares the root and disposal
directories, and serves the admin API until it receives SIGINT or SIGTERM.
Run it under a process supervisor for background operation.

Examples:
  # Start with default config location
  dittometa start

  # Start with custom config file
  dittometa start --config /etc/dittometa/config.yaml

  # Start with environment variable overrides
  DITTOMETA_LOGGING_LEVEL=DEBUG dittometa start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&disposeOnStart, "dispose-unused", false, "Remove unreferenced inodes from the disposal directories at startup")
	startCmd.Flags().BoolVar(&watchConfig, "watch", true, "Reload the log level when the configuration file changes")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node := telemetry.Node{NodeID: cfg.Metadata.NodeID, GroupID: cfg.Metadata.BuddyGroupID}
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dittometa",
		ServiceVersion: Version,
		Node:           node,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "dittometa",
		ServiceVersion: Version,
		Node:           node,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	source := configSource(GetConfigFile())
	logger.Info("Configuration loaded", "source", source,
		"node_id", cfg.Metadata.NodeID, "backend", cfg.Metadata.Backend)

	reg := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	records, err := config.OpenRecordStore(ctx, cfg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer func() {
		if err := records.Close(); err != nil {
			logger.Error("record store close error", logger.Err(err))
		}
	}()

	ms, err := metastore.New(ctx, config.MetaStoreOptions(cfg, records, reg))
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := ms.Close(closeCtx); err != nil {
			logger.Error("metadata store close error", logger.Err(err))
		}
	}()

	if disposeOnStart {
		disposed, err := ms.DisposeUnused(ctx)
		if err != nil {
			return fmt.Errorf("failed to dispose unused inodes: %w", err)
		}
		for _, inode := range disposed {
			logger.Info("Disposed unused inode", logger.EntryID(inode.EntryID))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runCacheSweeper(gctx, ms, cfg.Cache.AsyncSweepInterval)
		return nil
	})

	if watchConfig && source != "" {
		g.Go(func() error {
			err := config.Watch(gctx, source, func(next *config.Config) {
				logger.SetLevel(next.Logging.Level)
			})
			if err != nil {
				logger.Warn("Configuration watcher stopped", logger.Err(err))
			}
			return nil
		})
	}

	if cfg.Admin.Enabled {
		deps := adminapi.Deps{Engine: ms, Store: records, Backend: cfg.Metadata.Backend}
		if cfg.Metrics.Enabled {
			deps.Gatherer = reg
		}
		admin := adminapi.NewServer(cfg.Admin, deps)
		g.Go(func() error { return admin.Start(gctx) })
	} else {
		logger.Info("Admin server disabled")
	}

	logger.Info("Metadata node is running. Press Ctrl+C to stop.")

	// The group ends when a signal cancels ctx or the admin server fails.
	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	}
	return err
}

// runCacheSweeper trims the directory cache periodically until ctx is done.
func runCacheSweeper(ctx context.Context, ms *metastore.MetaStore, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ms.CacheSweepAsync(ctx)
		}
	}
}
