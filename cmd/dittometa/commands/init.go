package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittometa/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample dittometa configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/dittometa/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  dittometa init

  # Initialize with custom path
  dittometa init --config /etc/dittometa/config.yaml

  # Force overwrite existing config
  dittometa init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Set metadata.root and metadata.node_id for this node")
	fmt.Fprintln(out, "  2. Start the node with: dittometa start")
	fmt.Fprintf(out, "  3. Or specify custom config: dittometa start --config %s\n", configPath)
	return nil
}
