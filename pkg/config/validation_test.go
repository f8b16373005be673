package config

import (
	"strings"
	"testing"
)

func TestValidate_DefaultConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected default config to pass validation, got error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"invalid log level", func(c *Config) { c.Logging.Level = "INVALID" }, "oneof"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "Logging.Format"},
		{"zero node id", func(c *Config) { c.Metadata.NodeID = 0 }, "Metadata.NodeID"},
		{"unknown backend", func(c *Config) { c.Metadata.Backend = "postgres" }, "Metadata.Backend"},
		{"fs without root", func(c *Config) { c.Metadata.Root = "" }, "Metadata.Root"},
		{"bad record mode", func(c *Config) { c.Metadata.RecordMode = "sqlite" }, "Metadata.RecordMode"},
		{"too many retries", func(c *Config) { c.Retry.AgainAttempts = 11 }, "Retry.AgainAttempts"},
		{"small chunk", func(c *Config) { c.Metadata.DefaultChunkSize = 4096 }, "default_chunk_size"},
		{"badger without path", func(c *Config) {
			c.Metadata.Backend = BackendBadger
			c.Metadata.Badger.Path = ""
		}, "badger.path"},
		{"group equals node", func(c *Config) { c.Metadata.BuddyGroupID = c.Metadata.NodeID }, "buddy_group_id"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "SampleRate"},
		{"unknown profile type", func(c *Config) {
			c.Telemetry.Profiling.Enabled = true
			c.Telemetry.Profiling.ProfileTypes = []string{"cpu", "heap"}
		}, `unknown type "heap"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.wantMsg, err)
			}
		})
	}
}
