package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sharedoc/config/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the document and lock tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := database.Migrate(cmd.Context(), a.db); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
		return nil
	},
}
