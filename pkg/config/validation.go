package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittometa/internal/telemetry"
	"github.com/marmos91/dittometa/pkg/metadata"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the constraints tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if !metadata.ValidChunkSize(uint32(cfg.Metadata.DefaultChunkSize)) {
		return fmt.Errorf("metadata.default_chunk_size: %s is not a power of two of at least %d bytes",
			cfg.Metadata.DefaultChunkSize, metadata.MinChunkSize)
	}
	if cfg.Metadata.Backend == BackendBadger && cfg.Metadata.Badger.Path == "" && !cfg.Metadata.Badger.InMemory {
		return errors.New("metadata.badger.path is required unless metadata.badger.in_memory is set")
	}
	if cfg.Metadata.BuddyGroupID != 0 && cfg.Metadata.BuddyGroupID == cfg.Metadata.NodeID {
		return errors.New("metadata.buddy_group_id must differ from metadata.node_id")
	}
	if cfg.Telemetry.Profiling.Enabled {
		known := telemetry.ProfileTypeNames()
		for _, pt := range cfg.Telemetry.Profiling.ProfileTypes {
			if !slices.Contains(known, pt) {
				return fmt.Errorf("telemetry.profiling.profile_types: unknown type %q (valid: %s)",
					pt, strings.Join(known, ", "))
			}
		}
	}
	return nil
}

// formatValidationErrors renders validator errors with config key names.
func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s (got %v)", field, fe.Tag(), fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
