package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittometa/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Load the configuration file and report every validation error.

Examples:
  dittometa config validate --config /etc/dittometa/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
	fmt.Fprintf(cmd.OutOrStdout(), "  node id:  %d\n", cfg.Metadata.NodeID)
	fmt.Fprintf(cmd.OutOrStdout(), "  backend:  %s\n", cfg.Metadata.Backend)
	if cfg.Metadata.Backend != config.BackendMemory {
		fmt.Fprintf(cmd.OutOrStdout(), "  root:     %s\n", cfg.Metadata.Root)
	}
	if cfg.Admin.Enabled {
		fmt.Fprintf(cmd.OutOrStdout(), "  admin:    %s\n", cfg.Admin.Listen)
	}
	return nil
}
