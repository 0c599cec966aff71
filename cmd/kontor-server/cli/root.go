package cli

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command all subcommands attach to
var rootCmd = &cobra.Command{
	Use:   "kontor-server",
	Short: "Kontor backend server",
	Long: `The Kontor backend API server.
It tracks file uploads, serializes bulk processing per file and dispatches
processing jobs to the background workers.`,
	SilenceUsage: true,
}

// Execute runs the CLI entrypoint
func Execute() error {
	return rootCmd.Execute()
}
