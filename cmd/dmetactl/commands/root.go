// Package commands implements the CLI commands of dmetactl.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittometa/cmd/dmetactl/cmdutil"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dmetactl",
	Short: "dmetactl - Inspect dittometa metadata",
	Long: `dmetactl inspects the metadata of a dittometa node.

Offline commands (ls, stat, decode) read the record store directly and are
meant for stopped nodes. Online commands (stats, locks, health) query the
admin API of a running node.

Use "dmetactl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cmdutil.Flags.Config, "config", "", "config file (default: $XDG_CONFIG_HOME/dittometa/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&cmdutil.Flags.Server, "server", "", "admin API address of a running node (default: admin.listen)")
	rootCmd.PersistentFlags().StringVarP(&cmdutil.Flags.Output, "output", "o", "table", "Output format (table|json|yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(locksCmd)
	rootCmd.AddCommand(healthCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("dmetactl %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}
