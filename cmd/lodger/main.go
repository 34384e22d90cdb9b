/*
main.go - lodger command-line entry point

PURPOSE:
  Single binary for the lodger tenancy engine:
    lodger serve      HTTP API plus the daily scheduler
    lodger sweep      Run the daily jobs once and exit (cron-friendly)
    lodger schedule   Preview the payment schedule for an agreement file

CONFIGURATION:
  lodger.yaml (., ./config or --config), .env, then LODGER_* variables.
  See config/config.go for keys and defaults.

EXAMPLES:
  # Run with file database
  lodger serve

  # Run in memory on a different port
  LODGER_DATABASE_DRIVER=memory LODGER_SERVER_PORT=3000 lodger serve

  # Preview a schedule
  lodger schedule agreement.json

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Daily jobs
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "lodger",
		Short:         "UK lodger tenancy engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default lodger.yaml in . or ./config)")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		sweepCmd(&configPath),
		scheduleCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
