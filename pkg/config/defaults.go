package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittometa/internal/bytesize"
)

// Default values.
const (
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultChunkSize          = 512 * bytesize.KiB
	DefaultNumTargets         = 4
	DefaultDentryBufferSize   = 4 * bytesize.KiB
	DefaultInodeBufferSize    = 8 * bytesize.KiB
	DefaultHashDirs           = 128
	DefaultDirCacheLimit      = 1024
	DefaultAsyncSweepInterval = 10 * time.Second
	DefaultAgainAttempts      = 3
	DefaultAgainDelay         = time.Millisecond
	DefaultAdminListen        = "127.0.0.1:8480"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
// Cache.DirCacheLimit is the exception: zero disables the cache, so it is
// only defaulted by GetDefaultConfig.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	applyMetadataDefaults(&cfg.Metadata)
	applyCacheDefaults(&cfg.Cache)
	applyRetryDefaults(&cfg.Retry)
	applyAdminDefaults(&cfg.Admin)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.Backend == "" {
		cfg.Backend = BackendFS
	}
	if cfg.RecordMode == "" {
		cfg.RecordMode = "contents"
	}
	if cfg.DefaultChunkSize == 0 {
		cfg.DefaultChunkSize = DefaultChunkSize
	}
	if cfg.DefaultNumTargets == 0 {
		cfg.DefaultNumTargets = DefaultNumTargets
	}
	if cfg.DentryBufferSize == 0 {
		cfg.DentryBufferSize = DefaultDentryBufferSize
	}
	if cfg.InodeBufferSize == 0 {
		cfg.InodeBufferSize = DefaultInodeBufferSize
	}
	if cfg.HashDirs == 0 {
		cfg.HashDirs = DefaultHashDirs
	}
	if cfg.Backend == BackendBadger && cfg.Badger.Path == "" && !cfg.Badger.InMemory && cfg.Root != "" {
		cfg.Badger.Path = cfg.Root
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.AsyncSweepInterval == 0 {
		cfg.AsyncSweepInterval = DefaultAsyncSweepInterval
	}
}

func applyRetryDefaults(cfg *RetryConfig) {
	if cfg.AgainAttempts == 0 {
		cfg.AgainAttempts = DefaultAgainAttempts
	}
	if cfg.AgainDelay == 0 {
		cfg.AgainDelay = DefaultAgainDelay
	}
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultAdminListen
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Metadata: MetadataConfig{
			Root:    "/var/lib/dittometa",
			Backend: BackendFS,
			NodeID:  1,
		},
		Cache: CacheConfig{
			DirCacheLimit: DefaultDirCacheLimit,
		},
		Metrics: MetricsConfig{Enabled: true},
		Admin:   AdminConfig{Enabled: true},
	}

	ApplyDefaults(cfg)
	return cfg
}
