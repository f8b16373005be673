package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittometa/internal/bytesize"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "DITTOMETA"

// Config represents the dittometa node configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOMETA_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metadata configures the record store and the node identity
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// Cache configures the directory soft cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Locks configures the per-inode lock state machines
	Locks LockConfig `mapstructure:"locks" yaml:"locks"`

	// Retry bounds the retries of operations failing with Again
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// Metrics enables Prometheus collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Admin configures the admin HTTP server
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// Backend names.
const (
	BackendFS     = "fs"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// MetadataConfig configures where records live and who this node is.
type MetadataConfig struct {
	// Root is the metadata directory of the fs backend
	Root string `mapstructure:"root" validate:"required_if=Backend fs" yaml:"root"`

	// Backend selects the record store: fs, badger or memory
	Backend string `mapstructure:"backend" validate:"required,oneof=fs badger memory" yaml:"backend"`

	// RecordMode selects where the fs backend keeps record bytes:
	// contents (file data) or xattr (one extended attribute)
	RecordMode string `mapstructure:"record_mode" validate:"omitempty,oneof=contents xattr" yaml:"record_mode"`

	// NodeID is the numeric ID of this metadata node
	NodeID uint32 `mapstructure:"node_id" validate:"required,gte=1" yaml:"node_id"`

	// BuddyGroupID is the mirror buddy group of this node (0 = none)
	BuddyGroupID uint32 `mapstructure:"buddy_group_id" yaml:"buddy_group_id,omitempty"`

	// UseFsync flushes records and directories after every change
	UseFsync bool `mapstructure:"use_fsync" yaml:"use_fsync"`

	// DefaultChunkSize is the chunk size of the root stripe pattern
	// Must be a power of two of at least 64KiB
	DefaultChunkSize bytesize.ByteSize `mapstructure:"default_chunk_size" yaml:"default_chunk_size"`

	// DefaultNumTargets is the stripe width of the root stripe pattern
	DefaultNumTargets uint32 `mapstructure:"default_num_targets" validate:"gte=1" yaml:"default_num_targets"`

	// DentryBufferSize and InodeBufferSize bound serialized records
	DentryBufferSize bytesize.ByteSize `mapstructure:"dentry_buffer_size" yaml:"dentry_buffer_size"`
	InodeBufferSize  bytesize.ByteSize `mapstructure:"inode_buffer_size" yaml:"inode_buffer_size"`

	// HashDirs is the number of buckets per level of the inode hash tree
	HashDirs uint32 `mapstructure:"hash_dirs" validate:"gte=1,lte=65536" yaml:"hash_dirs"`

	// Badger configures the badger backend
	Badger BadgerConfig `mapstructure:"badger" yaml:"badger"`
}

// BadgerConfig configures the BadgerDB record store.
type BadgerConfig struct {
	Path       string `mapstructure:"path" yaml:"path"`
	SyncWrites bool   `mapstructure:"sync_writes" yaml:"sync_writes"`
	InMemory   bool   `mapstructure:"in_memory" yaml:"in_memory"`
}

// CacheConfig configures the directory soft cache.
type CacheConfig struct {
	// DirCacheLimit is the number of directories kept loaded without users
	// Zero disables the cache
	DirCacheLimit int `mapstructure:"dir_cache_limit" validate:"gte=0" yaml:"dir_cache_limit"`

	// AsyncSweepInterval is the period of the background cache sweep
	AsyncSweepInterval time.Duration `mapstructure:"async_sweep_interval" validate:"gt=0" yaml:"async_sweep_interval"`
}

// LockConfig configures the lock state machines.
type LockConfig struct {
	// MaxWaitersPerInode bounds the queue of each state machine (0 = unlimited)
	MaxWaitersPerInode int `mapstructure:"max_waiters_per_inode" validate:"gte=0" yaml:"max_waiters_per_inode"`
}

// RetryConfig bounds retries of steps failing with Again.
type RetryConfig struct {
	AgainAttempts uint          `mapstructure:"again_attempts" validate:"gte=1,lte=10" yaml:"again_attempts"`
	AgainDelay    time.Duration `mapstructure:"again_delay" validate:"gt=0" yaml:"again_delay"`
}

// MetricsConfig enables Prometheus collection. Metrics are served by the
// admin server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the address of the admin server
	Listen string `mapstructure:"listen" validate:"required_if=Enabled true" yaml:"listen"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOMETA_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when no
// configuration file exists.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  dittometa init\n\n"+
				"Or specify a custom config file:\n"+
				"  dittometa <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  dittometa init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// InitConfig writes the default configuration to the default location and
// returns its path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append([]byte(configHeader), data...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

const configHeader = `# dittometa configuration file
#
# Every key can be overridden with an environment variable, e.g.
# DITTOMETA_METADATA_NODE_ID=2 or DITTOMETA_LOGGING_LEVEL=debug.

`

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOMETA_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings like "64KiB" and plain numbers to
// bytesize.ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/dittometa, ~/.config/dittometa or ".".
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittometa")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dittometa")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
