package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/warp/lodger-engine/api"
)

func sweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run terminations, schedule top-up and reminders once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.shutdown()

			report := api.NewDailyScheduler(a.engine, a.sweeper, a.log).RunOnce(cmd.Context())

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "as of:              %s\n", report.AsOf)
			fmt.Fprintf(out, "terminated:         %d\n", len(report.Terminated))
			fmt.Fprintf(out, "obligations added:  %d\n", report.Added)
			fmt.Fprintf(out, "reminders raised:   %d\n", report.Reminders)
			if len(report.Errors) > 0 {
				return errors.Join(report.Errors...)
			}
			return nil
		},
	}
}
