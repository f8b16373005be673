package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Empty(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Metadata.RecordMode != "contents" {
		t.Errorf("Expected default record mode 'contents', got %q", cfg.Metadata.RecordMode)
	}
	if cfg.Metadata.DentryBufferSize != DefaultDentryBufferSize || cfg.Metadata.InodeBufferSize != DefaultInodeBufferSize {
		t.Errorf("Unexpected buffer sizes %v/%v", cfg.Metadata.DentryBufferSize, cfg.Metadata.InodeBufferSize)
	}
	if cfg.Admin.Listen != DefaultAdminListen {
		t.Errorf("Expected admin listen %q, got %q", DefaultAdminListen, cfg.Admin.Listen)
	}
	if cfg.Cache.DirCacheLimit != 0 {
		t.Errorf("Zero dir cache limit must stay disabled, got %d", cfg.Cache.DirCacheLimit)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging:  LoggingConfig{Level: "warn", Format: "json", Output: "stderr"},
		Metadata: MetadataConfig{HashDirs: 16, DefaultNumTargets: 8},
		Retry:    RetryConfig{AgainAttempts: 7},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" || cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Explicit logging values changed: %+v", cfg.Logging)
	}
	if cfg.Metadata.HashDirs != 16 || cfg.Metadata.DefaultNumTargets != 8 {
		t.Errorf("Explicit metadata values changed: %+v", cfg.Metadata)
	}
	if cfg.Retry.AgainAttempts != 7 {
		t.Errorf("Expected Again attempts 7, got %d", cfg.Retry.AgainAttempts)
	}
}

func TestApplyDefaults_BadgerPathFromRoot(t *testing.T) {
	cfg := &Config{Metadata: MetadataConfig{Backend: BackendBadger, Root: "/srv/meta"}}
	ApplyDefaults(cfg)

	if cfg.Metadata.Badger.Path != "/srv/meta" {
		t.Errorf("Expected badger path from root, got %q", cfg.Metadata.Badger.Path)
	}
}
