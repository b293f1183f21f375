package cli

import (
	"github.com/spf13/cobra"
)

func NewRunCommand() *cobra.Command {
	var fromFlag, toFlag string
	var force bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline for a date range",
		Long:  "Locates, downloads, ingests and matches report files for every date in the range. A single file's failure never aborts the batch; the exit code reflects whether all files succeeded.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			from, to, err := parseRange(fromFlag, toFlag)
			if err != nil {
				return err
			}

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			runner, err := svc.runner(true, false)
			if err != nil {
				return err
			}

			sum, err := runner.Run(ctx, from, to, force)
			if err != nil {
				return err
			}

			printSummary(sum)
			return summaryErr(sum)
		},
	}

	cmd.Flags().StringVar(&fromFlag, "from", "", "start date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&toFlag, "to", "", "end date (YYYY-MM-DD, default --from)")
	cmd.Flags().BoolVar(&force, "force", false, "reprocess files that are already processed")

	return cmd
}
