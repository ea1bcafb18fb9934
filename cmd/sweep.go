package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sharedoc/internal/document/service"
	"sharedoc/internal/notify"
)

var sweepLocksCmd = &cobra.Command{
	Use:   "sweep-locks",
	Short: "Delete expired document locks once and exit",
	Long: `Runs a single janitor pass: every lock whose expiry has passed is removed
and an unlock event is published for its room. Useful from cron when the
server's own janitor is not running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		// There is no hub outside serve, so websocket delivery is skipped.
		notifier := notify.NewBroadcaster(a.bus(nil))
		janitor := service.NewJanitor(a.lockRepository(), notifier, a.cfg.SweepInterval)

		n, err := janitor.Sweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep locks: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d expired lock(s).\n", n)
		return nil
	},
}
