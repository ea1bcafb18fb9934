package cmd

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sharedoc",
	Short: "Shared document service with advisory edit locks",
	Long: `sharedoc stores collaborative documents, coordinates a single advisory
edit lock per room, collects images that documents no longer reference and
pushes room events to connected clients.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the command tree. It is called by main.main().
func Execute() error {
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd, sweepLocksCmd, migrateCmd)
}
