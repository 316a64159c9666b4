package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/preservd-dev/preservd/internal/cli/commands"
)

var version = "dev" // Will be set during build

var rootCmd = &cobra.Command{
	Use:   "preservd",
	Short: "Preservd - Staged backup orchestration and self-healing restores",
	Long: `Preservd CLI - Protect a ZFS host and put its data back.

Preservd drives the host's backup units in dependency order (snapshots,
replication, database backup, file backup) and restores empty service
datasets from the best available source before first start.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("preservd version %s\n", version)
		},
	})

	// Add all subcommands
	rootCmd.AddCommand(commands.NewRunCmd())
	rootCmd.AddCommand(commands.NewPreseedCmd())
	rootCmd.AddCommand(commands.NewHistoryCmd())
	rootCmd.AddCommand(commands.NewBackupsCmd())
	rootCmd.AddCommand(commands.NewReplicationCmd())
}

// Execute runs the root command and returns the process exit code. Run
// outcomes map to dedicated codes so schedulers can distinguish a partial
// run from a critical one.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *commands.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintf(os.Stderr, "Error: %s\n", exitErr.Message)
			}
			return exitErr.Code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
