package cli

import (
	"github.com/merchantops/reconcile/internal/pipeline"
	"github.com/spf13/cobra"
)

func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the pipeline continuously",
		Long:  "Starts a long-running process that periodically repairs inconsistent state and runs a batch for the current business date until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			runner, err := svc.runner(true, false)
			if err != nil {
				return err
			}

			daemon := pipeline.NewDaemon(svc.cfg, runner, svc.recovery, svc.log)
			return daemon.Serve(ctx)
		},
	}

	return cmd
}
