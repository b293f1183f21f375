package cli

import (
	"github.com/spf13/cobra"
)

func NewIngestCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Process all pending files",
		Long:  "Claims every pending file in the catalog, parses its rows into transactions and marks it processed or failed. Matching runs afterwards when a gateway is configured.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			runner, err := svc.runner(false, false)
			if err != nil {
				return err
			}

			sum, err := runner.ProcessPending(ctx, force)
			if err != nil {
				return err
			}

			printSummary(sum)
			return summaryErr(sum)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "re-attempt matching for already matched transactions")

	return cmd
}
