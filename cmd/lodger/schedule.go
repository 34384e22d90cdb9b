package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/warp/lodger-engine/config"
	"github.com/warp/lodger-engine/factory"
	"github.com/warp/lodger-engine/logger"
	"github.com/warp/lodger-engine/store/memory"
	"github.com/warp/lodger-engine/tenancy"
)

// scheduleCmd prints the obligations an agreement would generate. Nothing
// is stored; the engine runs against a throwaway memory store.
func scheduleCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <agreement.json>",
		Short: "Preview the payment schedule for an agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "failed to read %s", args[0])
			}
			in, err := factory.NewAgreementFactory().ParseAgreement(data)
			if err != nil {
				return err
			}

			engine := tenancy.NewEngine(memory.New(), nil, logger.NewNop(), cfg.Tenancy())
			obligations, err := engine.GenerateSchedule(tenancy.Terms{
				StartDate:   in.StartDate,
				EndDate:     in.EndDate,
				Rent:        in.Rent,
				Frequency:   in.Frequency,
				PaymentType: in.PaymentType,
				PaymentDay:  in.PaymentDay,
			})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tDUE\tAMOUNT")
			for _, o := range obligations {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", o.PaymentNumber, o.DueDate, o.RentDue.Round2())
			}
			return tw.Flush()
		},
	}
}
